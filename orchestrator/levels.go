package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/approval"
	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/executor"
	"github.com/AgentsPilot/neuronforge-sub000/planner"
	"github.com/AgentsPilot/neuronforge-sub000/resilience"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// executeLevels walks plan.Levels in order (spec.md §4.1 "levels are
// executed strictly in order; within a level, parallel groups run
// concurrently"). Same-level, non-grouped steps run sequentially in the
// order the planner listed them — correctness doesn't depend on that
// order, since same-level steps are mutually independent by construction.
func (p *Pilot) executeLevels(ctx context.Context, ec *execctx.ExecutionContext, plan *planner.ExecutionPlan) error {
	for _, level := range plan.Levels {
		if err := ctx.Err(); err != nil {
			return err
		}

		groups := map[string][]*schema.WorkflowStep{}
		var groupOrder []string
		var singles []*schema.WorkflowStep
		for _, ps := range level {
			if ps.ParallelGroup == "" {
				singles = append(singles, ps.Step)
				continue
			}
			if _, seen := groups[ps.ParallelGroup]; !seen {
				groupOrder = append(groupOrder, ps.ParallelGroup)
			}
			groups[ps.ParallelGroup] = append(groups[ps.ParallelGroup], ps.Step)
		}

		for _, step := range singles {
			if err := p.executeStep(ctx, ec, step); err != nil {
				return err
			}
		}
		for _, groupID := range groupOrder {
			if err := p.executeParallelGroup(ctx, ec, groups[groupID]); err != nil {
				return err
			}
		}
	}
	return nil
}

// executeStep runs one sequentially-dispatched step, honoring
// continueOnError and checkpointing on success (spec.md §4.8 "checkpoint
// the context after every step").
func (p *Pilot) executeStep(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) error {
	_, err := p.Execute(ctx, ec, step)
	if err != nil {
		if step.ContinueOnError || p.configuration().ContinueOnError {
			p.logger.Warn("orchestrator: step failed, continuing", map[string]interface{}{
				"step_id": step.ID, "error": err.Error(),
			})
			return nil
		}
		return err
	}
	if cerr := p.stateMgr.Checkpoint(ctx, ec); cerr != nil {
		p.logger.Warn("orchestrator: checkpoint failed", map[string]interface{}{"step_id": step.ID, "error": cerr.Error()})
	}
	return nil
}

// executeParallelGroup runs an independent same-level group through the
// ParallelExecutor, then checkpoints once for the whole group (spec.md §4.9
// "checkpoint... in a batch after parallel groups").
func (p *Pilot) executeParallelGroup(ctx context.Context, ec *execctx.ExecutionContext, steps []*schema.WorkflowStep) error {
	if _, err := p.parallel.RunParallelGroup(ctx, ec, steps); err != nil {
		return err
	}
	if err := p.stateMgr.Checkpoint(ctx, ec); err != nil {
		p.logger.Warn("orchestrator: checkpoint after parallel group failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// Execute implements parallelexec.StepRunner: it is the single step-dispatch
// entry point, whether reached sequentially, as a parallel_group member, or
// as a scatter_gather/loop branch step. executeIf, orchestrator-owned kinds
// (loop/sub_workflow/human_approval), and retry all apply uniformly
// regardless of which path reached the step.
func (p *Pilot) Execute(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if step.ExecuteIf != nil {
		matched, err := p.evaluator.Evaluate(step.ExecuteIf, ec)
		if err != nil {
			p.logger.Warn("orchestrator: executeIf evaluation failed, running step anyway", map[string]interface{}{
				"step_id": step.ID, "error": err.Error(),
			})
		} else if !matched {
			ec.MarkSkipped(step.ID)
			p.logger.Info("orchestrator: step skipped", map[string]interface{}{"step_id": step.ID})
			return &schema.StepOutput{StepID: step.ID, Data: map[string]interface{}{}, Metadata: schema.StepMetadata{Success: true}}, nil
		}
	}

	var out *schema.StepOutput
	var err error
	switch step.Kind {
	case schema.KindLoop:
		out, err = p.runLoopStep(ctx, ec, step)
	case schema.KindSubWorkflow:
		out, err = p.runSubWorkflowStep(ctx, ec, step)
	case schema.KindHumanApproval:
		out, err = p.runHumanApprovalStep(ctx, ec, step)
	default:
		out, err = p.executeWithRetry(ctx, ec, step)
	}

	if err != nil {
		ec.MarkFailed(step.ID)
		return out, err
	}
	ec.MarkCompleted(step.ID)
	return out, nil
}

// executeWithRetry dispatches an ordinary (executor-handled) step through
// resilience.Retry using the step's own retry policy or, when the step has
// none, resilience.DefaultRetryPolicy(); Configuration carries no retry
// policy of its own (spec.md §4.8 "Retries"). It preserves the last concrete error
// (typically *executor.ExecutionError) rather than Retry's wrapped
// "max attempts exceeded" summary, so callers can still switch on Code.
func (p *Pilot) executeWithRetry(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error) {
	policy := retryPolicyFor(step, p.configuration())

	var out *schema.StepOutput
	var lastErr error
	retryErr := resilience.Retry(ctx, policy, func(attempt int) error {
		var execErr error
		out, execErr = p.exec.Execute(ctx, ec, step)
		lastErr = execErr
		return execErr
	})
	if retryErr != nil {
		if lastErr != nil {
			return out, lastErr
		}
		return out, retryErr
	}
	return out, nil
}

func retryPolicyFor(step *schema.WorkflowStep, cfg *core.Configuration) *resilience.RetryPolicy {
	if step.Retry != nil {
		return &resilience.RetryPolicy{
			MaxAttempts:   step.Retry.MaxAttempts,
			InitialDelay:  step.Retry.InitialDelay,
			MaxDelay:      step.Retry.MaxDelay,
			BackoffFactor: step.Retry.BackoffFactor,
			JitterEnabled: true,
		}
	}
	_ = cfg
	return resilience.DefaultRetryPolicy()
}

// parameterErrorCodes is the subset of executor error codes that represent
// an authoring mistake a human can fix (missing/invalid step fields), as
// opposed to a transient or environmental failure. spec.md §7: "In
// calibration mode, parameter errors pause the execution rather than fail
// it."
var parameterErrorCodes = map[string]bool{
	executor.CodeMissingPluginAction: true,
	executor.CodeInvalidInputType:    true,
	executor.CodeMissingCondition:    true,
	executor.CodeMissingOperation:    true,
	executor.CodeMissingInputData:    true,
	executor.CodeInvalidStepType:     true,
	executor.CodeUnknownTransformOp:  true,
	executor.CodeUnknownComparisonOp: true,
}

func isParameterError(err error) bool {
	var ee *executor.ExecutionError
	if errors.As(err, &ee) {
		return parameterErrorCodes[ee.Code]
	}
	return false
}

// buildStepOutput wraps a raw orchestrator-owned dispatch result (loop,
// sub_workflow, human_approval) through the same normalizer the executor
// uses for ordinary steps, so all three step families produce StepOutputs
// with the same shape.
func buildStepOutput(step *schema.WorkflowStep, raw interface{}, start time.Time, elapsed time.Duration, tokens core.TokenUsage) *schema.StepOutput {
	data, rawOut, meta := executor.Normalize(raw, step)
	action := step.Action
	if action == "" {
		action = string(step.Kind)
	}
	return &schema.StepOutput{
		StepID: step.ID,
		Plugin: step.Plugin,
		Action: action,
		Data:   data,
		Raw:    rawOut,
		Meta:   meta,
		Metadata: schema.StepMetadata{
			Success:       true,
			ExecutedAt:    start,
			ExecutionTime: elapsed,
			TokensUsed:    schema.TokenUsage{Total: tokens.Total, Prompt: tokens.Prompt, Completion: tokens.Completion},
		},
	}
}

// runLoopStep delegates to the ParallelExecutor's loop runner (spec.md §3
// "loop" is orchestrator-owned; it is not in the Executor's dispatch
// switch).
func (p *Pilot) runLoopStep(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error) {
	if p.parallel == nil {
		return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeMissingParallelExecutor, Message: "loop requires a ParallelExecutor"}
	}
	start := time.Now()
	raw, err := p.parallel.RunLoop(ctx, ec, step)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeStepExecutionFailed, Message: err.Error(), Err: err}
	}
	return buildStepOutput(step, raw, start, elapsed, core.TokenUsage{}), nil
}

// runSubWorkflowStep resolves the nested agent (inline workflowSteps or an
// externally loaded workflowId), maps inputs in, runs it to completion via
// RunNested, and maps outputs back (spec.md §4.8 "Sub-workflows").
func (p *Pilot) runSubWorkflowStep(ctx context.Context, parentEC *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error) {
	start := time.Now()

	var subAgent *schema.Agent
	switch {
	case len(step.WorkflowSteps) > 0:
		subAgent = &schema.Agent{ID: step.ID, Name: step.Name, Steps: step.WorkflowSteps}
	case step.WorkflowID != "":
		if p.agents == nil {
			return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeWorkflowNotFound, Message: "no AgentProvider configured to load workflowId " + step.WorkflowID}
		}
		loaded, err := p.agents.Load(ctx, step.WorkflowID)
		if err != nil {
			return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeWorkflowNotFound, Message: err.Error(), Err: err}
		}
		subAgent = loaded
	default:
		return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeStepExecutionFailed, Message: "sub_workflow requires workflowId or workflowSteps"}
	}

	inputs := map[string]interface{}{}
	for destKey, ref := range step.InputMapping {
		inputs[destKey] = executor.ResolveValue(parentEC, "{{"+ref+"}}")
	}
	if step.InheritParent {
		for k, v := range parentEC.Inputs() {
			if _, exists := inputs[k]; !exists {
				inputs[k] = v
			}
		}
	}

	subCtx := ctx
	if step.SubTimeout != "" {
		if d, perr := time.ParseDuration(step.SubTimeout); perr == nil {
			var cancel context.CancelFunc
			subCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	result, err := p.RunNested(subCtx, subAgent, parentEC.UserID, parentEC.SessionID, inputs, parentEC.RunMode)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeSubWorkflowFailed, Message: err.Error(), Err: err}
	}
	if !result.Success {
		code := executor.CodeSubWorkflowFailed
		if errors.Is(subCtx.Err(), context.DeadlineExceeded) {
			code = executor.CodeSubWorkflowTimeout
		}
		return nil, &executor.ExecutionError{StepID: step.ID, Code: code, Message: result.Error}
	}

	if len(step.OutputMapping) > 0 {
		for parentKey, subKey := range step.OutputMapping {
			if v, ok := result.Output[subKey]; ok {
				parentEC.SetVariable(parentKey, v)
			}
		}
	} else {
		for k, v := range result.Output {
			parentEC.SetVariable(k, v)
		}
	}
	parentEC.AddTokens(result.TokensUsed)

	return buildStepOutput(step, result.Output, start, elapsed, result.TokensUsed), nil
}

// runHumanApprovalStep opens an approval request, pauses the execution,
// polls until it resolves, and either continues or fails with
// CodeApprovalRejected (spec.md §4.8 "Human approval"). Escalation leaves
// the request pending again (approval.Tracker.resolveTimeout), so Wait is
// called in a loop until a terminal status is reached.
func (p *Pilot) runHumanApprovalStep(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error) {
	start := time.Now()
	if p.approvals == nil {
		return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeStepExecutionFailed, Message: "human_approval requires an ApprovalTracker"}
	}

	timeout := 24 * time.Hour
	if step.ApprovalTimeout != "" {
		if d, err := time.ParseDuration(step.ApprovalTimeout); err == nil {
			timeout = d
		}
	}

	req, err := p.approvals.Create(ctx, approval.CreateOptions{
		ExecutionID:   ec.ExecutionID,
		StepID:        step.ID,
		Approvers:     step.Approvers,
		Policy:        approval.Policy(step.ApprovalType),
		Title:         step.Title,
		Message:       step.Message,
		Context:       map[string]interface{}{"stepId": step.ID, "stepName": step.Name},
		Timeout:       timeout,
		TimeoutAction: approval.TimeoutAction(step.TimeoutAction),
		EscalateTo:    step.EscalateTo,
	})
	if err != nil {
		return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeStepExecutionFailed, Message: err.Error(), Err: err}
	}

	if err := p.stateMgr.PauseExecution(ctx, ec, fmt.Sprintf("awaiting approval %s", req.ID)); err != nil {
		p.logger.Warn("orchestrator: failed to persist pause for approval", map[string]interface{}{
			"execution_id": ec.ExecutionID, "error": err.Error(),
		})
	}

	for {
		req, err = p.approvals.Wait(ctx, req.ID, p.approvalPollInterval)
		if err != nil {
			return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeStepExecutionFailed, Message: err.Error(), Err: err}
		}
		if req.Status == approval.StatusPending || req.Status == approval.StatusEscalated {
			continue
		}
		break
	}

	if err := p.stateMgr.MarkRunning(ctx, ec.ExecutionID); err != nil {
		p.logger.Warn("orchestrator: failed to resume running status after approval", map[string]interface{}{
			"execution_id": ec.ExecutionID, "error": err.Error(),
		})
	}

	elapsed := time.Since(start)
	if req.Status != approval.StatusApproved {
		return nil, &executor.ExecutionError{StepID: step.ID, Code: executor.CodeApprovalRejected, Message: fmt.Sprintf("approval %s: %s", req.Status, req.ID)}
	}
	return buildStepOutput(step, map[string]interface{}{"status": string(req.Status), "responses": req.Responses}, start, elapsed, core.TokenUsage{}), nil
}

// filterPlanToRemaining drops the steps marked in done from each level
// while preserving level structure (spec.md §4.8 "Pause and resume"); Resume
// marks only completed steps, so failed steps stay in the plan and are
// re-run. Since a step's dependencies only ever sit at strictly
// lower levels, any already-done dependency is simply absent from the
// replay — its recorded output is still present on the restored context.
func filterPlanToRemaining(plan *planner.ExecutionPlan, done map[string]bool) *planner.ExecutionPlan {
	filtered := make([][]*planner.PlannedStep, len(plan.Levels))
	for i, level := range plan.Levels {
		var kept []*planner.PlannedStep
		for _, ps := range level {
			if !done[ps.Step.ID] {
				kept = append(kept, ps)
			}
		}
		filtered[i] = kept
	}
	return &planner.ExecutionPlan{Levels: filtered}
}
