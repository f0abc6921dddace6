package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/approval"
	"github.com/AgentsPilot/neuronforge-sub000/condition"
	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/eventbus"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/executor"
	"github.com/AgentsPilot/neuronforge-sub000/parallelexec"
	"github.com/AgentsPilot/neuronforge-sub000/planner"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
	"github.com/AgentsPilot/neuronforge-sub000/state"
	"github.com/AgentsPilot/neuronforge-sub000/store"
	"github.com/AgentsPilot/neuronforge-sub000/telemetry"
)

// CodeExecutionCancelled is the distinct cancellation code spec.md §5
// "Cancellation semantics"/§7 call for, alongside the error codes already
// enumerated on executor.ExecutionError.
const CodeExecutionCancelled = "EXECUTION_CANCELLED"

// AgentProvider loads an externally-stored agent by id, for sub_workflow
// steps that reference a `workflowId` rather than carrying inline
// `workflowSteps` (spec.md §4.8 "Sub-workflows"). The durable store that
// actually owns agent definitions is out of scope (spec.md §1 Non-goals);
// this is the narrow seam a hosting application plugs its own agent
// repository into.
type AgentProvider interface {
	Load(ctx context.Context, workflowID string) (*schema.Agent, error)
}

// Handle is the interface execctx.ExecutionContext.Orchestrator is declared
// against (execctx/context.go) so anything holding only an ExecutionContext
// can trigger a nested run without importing this package concretely. The
// Orchestrator itself always has a live *Pilot in hand, so sub_workflow
// dispatch (levels.go) calls Pilot.RunNested directly rather than through
// this indirection — it exists for parity with execctx's documented
// contract and for any future caller that only has the context.
type Handle interface {
	RunNested(ctx context.Context, agent *schema.Agent, userID, sessionID string, inputs map[string]interface{}, mode execctx.RunMode) (*RunResult, error)
}

// RunResult is the Orchestrator's structured, never-thrown outcome (spec.md
// §7 "User-visible failure": success, counts of completed/failed/skipped
// steps, total time, total tokens, and on failure error/errorCode/
// failedStep/errorStack).
type RunResult struct {
	Success     bool
	ExecutionID string
	Output      map[string]interface{}
	Completed   []string
	Failed      []string
	Skipped     []string
	TotalTime   time.Duration
	TokensUsed  core.TokenUsage

	Paused      bool
	PauseReason string

	Error      string
	ErrorCode  string
	FailedStep string
	ErrorStack string
}

// ExecutionSummary is one entry of the bounded execution history ring
// buffer (SPEC_FULL.md §4.10 "Execution history & metrics", ground:
// gomind's orchestration.Orchestrator interface / OrchestratorMetrics).
type ExecutionSummary struct {
	ExecutionID string
	AgentID     string
	Success     bool
	Duration    time.Duration
	RecordedAt  time.Time
}

// Pilot is the Orchestrator (spec.md §4.8): top-level run coordination over
// the Planner, StepExecutor, ParallelExecutor, StateManager, and
// ApprovalTracker. All collaborators are explicit constructor arguments —
// no package-level singletons (spec.md §9 "Global mutable state →
// dependency injection").
type Pilot struct {
	cfgMu        sync.Mutex
	cfg          *core.Configuration
	cfgLoadedAt  time.Time
	configLoader func() *core.Configuration

	exec      *executor.Executor
	parallel  *parallelexec.Executor
	stateMgr  *state.Manager
	approvals *approval.Tracker
	bus       eventbus.Bus
	memory    MemoryProvider
	agents    AgentProvider
	evaluator *condition.Evaluator
	logger    core.Logger
	metrics   *telemetry.Metrics

	approvalPollInterval time.Duration

	histMu  sync.Mutex
	history []ExecutionSummary
	histCap int
}

// Option configures a Pilot at construction time.
type Option func(*Pilot)

func WithExecutor(e *executor.Executor) Option          { return func(p *Pilot) { p.exec = e } }
func WithParallelExecutor(pe *parallelexec.Executor) Option { return func(p *Pilot) { p.parallel = pe } }
func WithStateManager(m *state.Manager) Option          { return func(p *Pilot) { p.stateMgr = m } }
func WithApprovalTracker(t *approval.Tracker) Option    { return func(p *Pilot) { p.approvals = t } }
func WithEventBus(b eventbus.Bus) Option                { return func(p *Pilot) { p.bus = b } }
func WithMemoryProvider(m MemoryProvider) Option        { return func(p *Pilot) { p.memory = m } }
func WithAgentProvider(a AgentProvider) Option          { return func(p *Pilot) { p.agents = a } }
func WithLogger(l core.Logger) Option                   { return func(p *Pilot) { p.logger = l } }
func WithMetrics(m *telemetry.Metrics) Option            { return func(p *Pilot) { p.metrics = m } }
func WithConfigLoader(f func() *core.Configuration) Option {
	return func(p *Pilot) { p.configLoader = f }
}
func WithApprovalPollInterval(d time.Duration) Option { return func(p *Pilot) { p.approvalPollInterval = d } }
func WithHistoryCapacity(n int) Option                { return func(p *Pilot) { p.histCap = n } }

// New builds a Pilot. Any collaborator not supplied via options gets a safe
// default — matching the teacher's "options + safe defaults" constructor
// shape (executor.New, parallelexec.New already follow the same pattern).
// The Executor/ParallelExecutor construction-order cycle is broken the same
// way executor.SetParallelHandle's doc describes, except the ParallelExecutor
// here runs every branch/group member back through the Pilot itself
// (Pilot.Execute, see levels.go) rather than the bare Executor, so
// executeIf/retry/bookkeeping apply uniformly whether a step runs
// sequentially, inside a parallel group, or inside a scatter/loop branch.
func New(opts ...Option) *Pilot {
	p := &Pilot{
		configLoader:         core.DefaultConfig,
		bus:                  eventbus.MultiBus(nil),
		memory:               NoOpMemoryProvider{},
		evaluator:            condition.NewEvaluator(),
		logger:               &core.NoOpLogger{},
		metrics:              telemetry.NewMetrics(),
		approvalPollInterval: time.Second,
		histCap:              100,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.stateMgr == nil {
		mem := store.NewInMemoryProvider()
		execStore := store.NewProviderExecutionStore(mem, 24*time.Hour, "exec")
		p.stateMgr = state.New(execStore, execStore, execStore, state.NewCheckpointer(mem, 24*time.Hour, "ckpt"),
			state.WithEventBus(p.bus), state.WithLogger(p.logger))
	}
	if p.exec == nil {
		p.exec = executor.New(executor.WithLogger(p.logger), executor.WithMetrics(p.metrics), executor.WithAuditLogger(p.stateMgr))
	}
	if p.parallel == nil {
		maxParallel := p.configuration().MaxParallelSteps
		p.parallel = parallelexec.New(p, maxParallel, parallelexec.WithLogger(p.logger))
		p.exec.SetParallelHandle(p.parallel)
	}
	if p.approvals == nil {
		mem := store.NewInMemoryProvider()
		p.approvals = approval.NewTracker(approval.NewStore(mem, 7*24*time.Hour, "appr"), approval.LoggingNotifier{Logger: p.logger}, p.logger)
	}
	return p
}

// configuration returns the cached Configuration, reloading it once
// ConfigCacheTTL has elapsed (spec.md §4.8 step (1) "load configuration
// (bounded cache, e.g. 5 min)").
func (p *Pilot) configuration() *core.Configuration {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	if p.cfg != nil && time.Since(p.cfgLoadedAt) < p.cfg.ConfigCacheTTL {
		return p.cfg
	}
	p.cfg = p.configLoader()
	p.cfgLoadedAt = time.Now()
	return p.cfg
}

// Run drives one end-to-end execution of agent's workflow (spec.md §4.8
// "Top-level control"). It never returns a non-nil error for a workflow
// failure — every outcome, including validation failures and timeouts, is
// reported through the returned RunResult (spec.md §7 "returns a structured
// result, never throws to the caller"); a non-nil error return means agent
// itself was nil, a programming error rather than a run outcome.
func (p *Pilot) Run(ctx context.Context, agent *schema.Agent, userID, sessionID string, inputValues map[string]interface{}, mode execctx.RunMode) (*RunResult, error) {
	if agent == nil {
		return nil, fmt.Errorf("orchestrator: agent is required")
	}
	cfg := p.configuration()
	executionID := core.NewID("exec")

	if !cfg.PilotEnabled {
		return &RunResult{ExecutionID: executionID, Error: "pilot disabled", ErrorCode: "PILOT_DISABLED"}, nil
	}

	steps := agent.PreferredSteps()
	plan, _, err := planner.Plan(steps)
	if err != nil {
		return &RunResult{ExecutionID: executionID, Error: err.Error(), ErrorCode: "VALIDATION_ERROR"}, nil
	}

	ec := execctx.New(executionID, agent.ID, userID, sessionID, inputValues, mode)
	ec.Orchestrator = p

	if err := p.stateMgr.StartExecution(ctx, executionID, agent.ID, userID, sessionID); err != nil {
		p.logger.Warn("orchestrator: failed to persist execution start", map[string]interface{}{
			"execution_id": executionID, "error": err.Error(),
		})
	}

	// Memory load is the run's only startup suspension point (spec.md §5);
	// "initialize orchestration" (spec.md §4.8 step (6)) has nothing left to
	// do at run time in this implementation — the optional LLM orchestration
	// policy engine, if any, is wired onto the Executor at construction time
	// via executor.WithOrchestration, not per-run.
	memTimeout := time.Duration(cfg.MemoryLoadTimeoutMs) * time.Millisecond
	mem := loadMemoryWithTimeout(ctx, p.memory, userID, sessionID, memTimeout, p.logger)
	for k, v := range mem {
		ec.SetMemory(k, v)
	}

	runCtx := ctx
	if cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
		defer cancel()
	}

	start := time.Now()
	runErr := p.executeLevels(runCtx, ec, plan)
	elapsed := time.Since(start)

	return p.finalizeRun(ctx, agent, ec, runErr, elapsed), nil
}

// Resume continues a paused or partially-failed execution from its last
// checkpoint (spec.md §4.8 "Pause and resume"): steps already recorded as
// completed are not re-run, but a previously failed step is retried — that
// is what distinguishes resume from a fresh Run. The filtered plan retains
// original levels, so any already-satisfied (completed) dependency is simply
// absent from the replay.
func (p *Pilot) Resume(ctx context.Context, agent *schema.Agent, executionID string) (*RunResult, error) {
	if agent == nil {
		return nil, fmt.Errorf("orchestrator: agent is required")
	}
	ec, err := p.stateMgr.Resume(ctx, executionID)
	if err != nil {
		return nil, err
	}
	cfg := p.configuration()

	plan, _, err := planner.Plan(agent.PreferredSteps())
	if err != nil {
		return &RunResult{ExecutionID: executionID, Error: err.Error(), ErrorCode: "VALIDATION_ERROR"}, nil
	}

	// Only steps already completed are excluded from the replay — a
	// previously failed step is exactly what resume exists to retry
	// (spec.md §8 scenario "resume after failure": A succeeds, B fails
	// retryable, resume re-runs B then C).
	done := map[string]bool{}
	for _, id := range ec.Completed() {
		done[id] = true
	}
	remainingPlan := filterPlanToRemaining(plan, done)

	runCtx := ctx
	if cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
		defer cancel()
	}

	start := time.Now()
	runErr := p.executeLevels(runCtx, ec, remainingPlan)
	elapsed := time.Since(start)

	return p.finalizeRun(ctx, agent, ec, runErr, elapsed), nil
}

// RunNested implements Handle: sub_workflow dispatch (levels.go) invokes
// this to execute a nested agent/step-list to completion.
func (p *Pilot) RunNested(ctx context.Context, agent *schema.Agent, userID, sessionID string, inputs map[string]interface{}, mode execctx.RunMode) (*RunResult, error) {
	return p.Run(ctx, agent, userID, sessionID, inputs, mode)
}

var _ Handle = (*Pilot)(nil)

// finalizeRun is the shared tail of Run/Resume (spec.md §4.8 steps 8-12):
// build and validate the final output, persist completion/failure/pause,
// record history, and kick off async token reconciliation.
func (p *Pilot) finalizeRun(ctx context.Context, agent *schema.Agent, ec *execctx.ExecutionContext, runErr error, elapsed time.Duration) *RunResult {
	executionID := ec.ExecutionID

	if runErr != nil {
		if ec.RunMode.IsCalibration() && isParameterError(runErr) {
			reason := fmt.Sprintf("parameter error: %v", runErr)
			if err := p.stateMgr.PauseExecution(ctx, ec, reason); err != nil {
				p.logger.Warn("orchestrator: failed to persist pause", map[string]interface{}{
					"execution_id": executionID, "error": err.Error(),
				})
			}
			p.recordHistory(executionID, agent.ID, false, elapsed)
			return &RunResult{
				ExecutionID: executionID, Paused: true, PauseReason: reason,
				Completed: ec.Completed(), Failed: ec.Failed(), Skipped: ec.Skipped(),
				TotalTime: elapsed, TokensUsed: ec.Tokens(),
			}
		}

		execErr := toOrchestratorError(runErr)
		if err := p.stateMgr.FailExecution(ctx, executionID, execErr.StepID, execErr); err != nil {
			p.logger.Warn("orchestrator: failed to persist failure", map[string]interface{}{
				"execution_id": executionID, "error": err.Error(),
			})
		}
		p.recordHistory(executionID, agent.ID, false, elapsed)
		return &RunResult{
			ExecutionID: executionID,
			Completed:   ec.Completed(), Failed: ec.Failed(), Skipped: ec.Skipped(),
			TotalTime: elapsed, TokensUsed: ec.Tokens(),
			Error: execErr.Message, ErrorCode: execErr.Code, FailedStep: execErr.StepID,
			ErrorStack: execErr.Error(),
		}
	}

	finalOutput := buildFinalOutput(agent, ec)
	p.validateFinalOutput(agent, finalOutput)

	if err := p.stateMgr.CompleteExecution(ctx, executionID, finalOutput, elapsed); err != nil {
		p.logger.Warn("orchestrator: failed to persist completion", map[string]interface{}{
			"execution_id": executionID, "error": err.Error(),
		})
	}
	p.recordHistory(executionID, agent.ID, true, elapsed)
	p.reconcileTokensAsync(executionID, ec.Tokens())

	return &RunResult{
		Success: true, ExecutionID: executionID, Output: finalOutput,
		Completed: ec.Completed(), Failed: ec.Failed(), Skipped: ec.Skipped(),
		TotalTime: elapsed, TokensUsed: ec.Tokens(),
	}
}

// buildFinalOutput implements spec.md §4.8 step (8): when the agent
// declares an output schema, each key is resolved from the most recently
// committed step output carrying it (later steps win); otherwise the final
// output falls back to the last step's output in its entirety (spec.md §4.2
// "last-step fallback semantics").
func buildFinalOutput(agent *schema.Agent, ec *execctx.ExecutionContext) map[string]interface{} {
	outputs := ec.GetAllStepOutputs()
	if len(agent.OutputSchema) == 0 {
		if len(outputs) == 0 {
			return map[string]interface{}{}
		}
		last := outputs[len(outputs)-1]
		if last == nil {
			return map[string]interface{}{}
		}
		return last.Data
	}

	final := map[string]interface{}{}
	for key := range agent.OutputSchema {
		for i := len(outputs) - 1; i >= 0; i-- {
			if outputs[i] == nil {
				continue
			}
			if v, ok := outputs[i].Data[key]; ok {
				final[key] = v
				break
			}
		}
	}
	return final
}

// validateFinalOutput warns (never fails) when a declared-required output
// key is missing from the final output (spec.md §4.8 step (9) "validate the
// final output (warn on failure, do not fail)").
func (p *Pilot) validateFinalOutput(agent *schema.Agent, final map[string]interface{}) {
	for key, desc := range agent.OutputSchema {
		if !desc.Required {
			continue
		}
		if _, ok := final[key]; !ok {
			p.logger.Warn("orchestrator: final output missing required declared key", map[string]interface{}{
				"key": key,
			})
		}
	}
}

// reconcileTokensAsync compares the in-memory token tally against the
// durable ledger after a short delay (spec.md §4.8 step (12), SPEC_FULL.md
// §4.11 "logged as a Warn event with both counts, never fails the
// execution"). Detached from the run that already returned its RunResult —
// a discrepancy is observability, not a run outcome.
func (p *Pilot) reconcileTokensAsync(executionID string, inMemory core.TokenUsage) {
	go func() {
		time.Sleep(2 * time.Second)
		stored, err := p.stateMgr.TokensTotal(context.Background(), executionID)
		if err != nil {
			return
		}
		if stored.Total != inMemory.Total {
			p.logger.Warn("orchestrator: token reconciliation discrepancy", map[string]interface{}{
				"execution_id": executionID, "in_memory_total": inMemory.Total, "ledger_total": stored.Total,
			})
		}
	}()
}

func (p *Pilot) recordHistory(executionID, agentID string, success bool, dur time.Duration) {
	p.histMu.Lock()
	p.history = append(p.history, ExecutionSummary{
		ExecutionID: executionID, AgentID: agentID, Success: success, Duration: dur, RecordedAt: time.Now(),
	})
	if cap := p.histCap; cap > 0 && len(p.history) > cap {
		p.history = p.history[len(p.history)-cap:]
	}
	p.histMu.Unlock()

	p.metrics.Inc("orchestrator.executions", 1)
	if success {
		p.metrics.Inc("orchestrator.success", 1)
	} else {
		p.metrics.Inc("orchestrator.failure", 1)
	}
	p.metrics.Observe("orchestrator.duration", dur)
}

// GetExecutionHistory returns up to limit of the most recent execution
// summaries (SPEC_FULL.md §4.10 "Execution history & metrics"). limit<=0
// returns everything retained.
func (p *Pilot) GetExecutionHistory(limit int) []ExecutionSummary {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	if limit <= 0 || limit > len(p.history) {
		limit = len(p.history)
	}
	out := make([]ExecutionSummary, limit)
	copy(out, p.history[len(p.history)-limit:])
	return out
}

// GetMetrics returns a point-in-time snapshot of the Pilot's counters and
// duration percentiles (SPEC_FULL.md §4.10).
func (p *Pilot) GetMetrics() telemetry.MetricsSnapshot {
	return p.metrics.Snapshot()
}

// toOrchestratorError normalizes any error the execution loop returns into
// an *executor.ExecutionError carrying a stable code (spec.md §7), so
// FailExecution and RunResult always expose ErrorCode consistently whether
// the failure originated in a step dispatch, a context timeout, or
// cancellation.
func toOrchestratorError(err error) *executor.ExecutionError {
	var ee *executor.ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &executor.ExecutionError{Code: executor.CodeExecutionTimeout, Message: "execution exceeded its configured timeout", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &executor.ExecutionError{Code: CodeExecutionCancelled, Message: "execution was cancelled", Err: err}
	}
	return &executor.ExecutionError{Code: executor.CodeStepExecutionFailed, Message: err.Error(), Err: err}
}
