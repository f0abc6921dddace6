package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AgentsPilot/neuronforge-sub000/condition"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
	"github.com/AgentsPilot/neuronforge-sub000/transform"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

// sharedValidator lazily builds the single go-playground/validator instance
// the validation step kind runs field rules through, grounded on Streamy's
// validatorInstance() singleton pattern (internal/config/validator_instance.go).
func sharedValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// dispatchTransform runs the transform/enrichment engine (spec.md §4.5).
// enrichment is treated as a transform whose operation defaults to "set"
// when unspecified — the spec names it as a distinct kind but never gives it
// a distinct contract beyond "delegate to the respective engine", and
// "enriched" is itself one of OutputNormalizer's known LLM/transform runtime
// keys (spec.md §4.6), so folding it into the same engine keeps one place
// that understands DataOperations.
func (e *Executor) dispatchTransform(ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	op := step.Operation
	if op == "" && step.Kind == schema.KindEnrichment {
		op = "set"
	}
	if op == "" {
		return nil, newExecErr(step.ID, CodeMissingOperation, "transform step requires an operation")
	}
	if step.Input == nil {
		return nil, newExecErr(step.ID, CodeMissingInputData, "transform step requires input")
	}

	resolvedInput := ResolveValue(ec, step.Input)
	resolvedConfig := map[string]interface{}{}
	if step.Config != nil {
		resolvedConfig = ResolveValue(ec, step.Config).(map[string]interface{})
	}

	declaredKey := ""
	if len(step.Outputs) == 1 {
		for k := range step.Outputs {
			declaredKey = k
		}
	}

	out, err := e.transformEngine.Execute(ec, transform.Request{
		Operation:         op,
		Input:             resolvedInput,
		Config:            resolvedConfig,
		DeclaredOutputKey: declaredKey,
	})
	if err != nil {
		return nil, wrapExecErr(step.ID, CodeUnknownTransformOp, err)
	}
	return out, nil
}

// dispatchDelay sleeps for step.DurationMs, honoring ctx cancellation
// (spec.md §5 "Suspension points": "(f) delay steps").
func (e *Executor) dispatchDelay(ctx context.Context, step *schema.WorkflowStep) (interface{}, error) {
	d := time.Duration(step.DurationMs) * time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]interface{}{"delayedMs": step.DurationMs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatchComparison resolves Left/Right and applies CompareOperation via
// the condition package's operator table, so "comparison" steps and
// ConditionalEvaluator's simple conditions share one closed operator set.
func (e *Executor) dispatchComparison(ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	if step.CompareOperation == "" {
		return nil, newExecErr(step.ID, CodeUnknownComparisonOp, "comparison step requires compareOperation")
	}
	left := ResolveValue(ec, step.Left)
	right := ResolveValue(ec, step.Right)
	result, err := condition.Compare(step.CompareOperation, left, right)
	if err != nil {
		return nil, wrapExecErr(step.ID, CodeUnknownComparisonOp, err)
	}
	return map[string]interface{}{"result": result, "left": left, "right": right}, nil
}

// dispatchValidation checks step.Rules (field-path + validator tag pairs)
// and, when step.Input/ValidationSchema are present, a required-keys check
// against the resolved input object.
func (e *Executor) dispatchValidation(ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	if step.ValidationSchema == nil && len(step.Rules) == 0 {
		return nil, newExecErr(step.ID, CodeMissingCondition, "validation step requires schema or rules")
	}

	var errs []string

	for _, rule := range step.Rules {
		field, _ := rule["field"].(string)
		tag, _ := rule["rule"].(string)
		if field == "" || tag == "" {
			continue
		}
		value, _ := ec.Resolve(field)
		if err := sharedValidator().Var(value, tag); err != nil {
			msg, _ := rule["message"].(string)
			if msg == "" {
				msg = fmt.Sprintf("%s failed rule %q", field, tag)
			}
			errs = append(errs, msg)
		}
	}

	if spec, ok := step.ValidationSchema.(map[string]interface{}); ok && step.Input != nil {
		resolved := ResolveValue(ec, step.Input)
		obj, _ := resolved.(map[string]interface{})
		if required, ok := spec["required"].([]interface{}); ok {
			for _, r := range required {
				key, ok := r.(string)
				if !ok {
					continue
				}
				if _, has := obj[key]; !has {
					errs = append(errs, fmt.Sprintf("missing required field %q", key))
				}
			}
		}
	}

	return map[string]interface{}{"valid": len(errs) == 0, "errors": errs}, nil
}

// dispatchConditional evaluates step.Condition/ExecuteIf and, in v4 form,
// runs the matching branch's steps sequentially, honoring each branch
// step's continueOnError and recording the last branch step's output as
// lastBranchOutput for convenient chaining (spec.md §4.5 "conditional
// dispatch").
func (e *Executor) dispatchConditional(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	cond := step.Condition
	if cond == nil {
		cond = step.ExecuteIf
	}
	if cond == nil {
		return nil, newExecErr(step.ID, CodeMissingCondition, "conditional step requires a condition")
	}
	matched, err := e.evaluator.Evaluate(cond, ec)
	if err != nil {
		return nil, wrapExecErr(step.ID, CodeMissingCondition, err)
	}

	branch := step.ElseSteps
	branchName := "else"
	if matched {
		branch = step.ThenSteps
		branchName = "then"
	}

	var lastOutput *schema.StepOutput
	for _, sub := range branch {
		out, err := e.Execute(ctx, ec, sub)
		if err != nil && !sub.ContinueOnError {
			return nil, err
		}
		lastOutput = out
	}

	result := map[string]interface{}{"matched": matched, "branch": branchName}
	if lastOutput != nil {
		result["lastBranchOutput"] = lastOutput.Data
	}
	return result, nil
}

// dispatchSwitch resolves step.Evaluate to a string, looks up the matching
// case (falling back to default), and stashes the matched step id list in a
// `<stepId>_branch` context variable. The switch step itself does not
// execute the branch, and the Orchestrator does not read that variable
// either (spec.md §4.5 "switch dispatch").
func (e *Executor) dispatchSwitch(ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	value := ec.RenderSimple(step.Evaluate)
	branchSteps, matched := step.Cases[value]
	caseName := value
	if !matched {
		branchSteps = step.Default
		caseName = "default"
	}
	ec.SetVariable(step.ID+"_branch", branchSteps)
	return map[string]interface{}{"matchedCase": caseName, "stepIds": branchSteps}, nil
}

// dispatchScatterGather requires an injected ParallelHandle (spec.md §4.5
// "scatter_gather requires the ParallelExecutor to have been injected
// (explicit error otherwise)").
func (e *Executor) dispatchScatterGather(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	if e.parallel == nil {
		return nil, newExecErr(step.ID, CodeMissingParallelExecutor, "scatter_gather requires a ParallelExecutor")
	}
	return e.parallel.RunScatterGather(ctx, ec, step)
}
