package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AgentsPilot/neuronforge-sub000/condition"
	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/normalize"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
	"github.com/AgentsPilot/neuronforge-sub000/telemetry"
	"github.com/AgentsPilot/neuronforge-sub000/transform"
)

// Executor is the StepExecutor (spec.md §4.5): the single place that knows
// how to turn one WorkflowStep into a schema.StepOutput. Collaborators are
// all explicit constructor arguments — no package-level singletons (spec.md
// §9 "Global mutable state → dependency injection").
type Executor struct {
	cache           StepCache
	cacheTTL        time.Duration
	enableCaching   bool
	pluginRuntime   PluginRuntime
	llmClient       LLMClient
	orchestration   OrchestrationHandler
	orchestrationOn bool
	errorAnalyzer   ErrorAnalyzer
	audit           AuditLogger
	parallel        ParallelHandle
	logger          core.Logger
	metrics         *telemetry.Metrics
	evaluator       *condition.Evaluator
	transformEngine *transform.Engine
	tokensPerPlugin int
}

// Option configures an Executor at construction time.
type Option func(*Executor)

func WithCache(c StepCache, ttl time.Duration) Option {
	return func(e *Executor) { e.cache = c; e.cacheTTL = ttl }
}
func WithCachingEnabled(enabled bool) Option { return func(e *Executor) { e.enableCaching = enabled } }
func WithPluginRuntime(p PluginRuntime) Option { return func(e *Executor) { e.pluginRuntime = p } }
func WithLLMClient(c LLMClient) Option          { return func(e *Executor) { e.llmClient = c } }
func WithOrchestration(h OrchestrationHandler, enabled bool) Option {
	return func(e *Executor) { e.orchestration = h; e.orchestrationOn = enabled }
}
func WithErrorAnalyzer(a ErrorAnalyzer) Option { return func(e *Executor) { e.errorAnalyzer = a } }
func WithAuditLogger(a AuditLogger) Option     { return func(e *Executor) { e.audit = a } }
func WithParallelHandle(p ParallelHandle) Option { return func(e *Executor) { e.parallel = p } }
func WithLogger(l core.Logger) Option          { return func(e *Executor) { e.logger = l } }
func WithMetrics(m *telemetry.Metrics) Option   { return func(e *Executor) { e.metrics = m } }
func WithTokensPerPlugin(n int) Option         { return func(e *Executor) { e.tokensPerPlugin = n } }

// New builds an Executor with safe no-op defaults for every collaborator
// not supplied via options — matching the teacher's "options + safe
// defaults" constructor shape (e.g. RuleBasedPolicy's core.NoOpLogger
// default in orchestration/hitl_policy.go).
func New(opts ...Option) *Executor {
	e := &Executor{
		cache:           NewMemoryStepCache(1000, 5*time.Minute),
		cacheTTL:        5 * time.Minute,
		enableCaching:   true,
		pluginRuntime:   noOpPluginRuntime{},
		llmClient:       noOpLLMClient{},
		errorAnalyzer:   NoOpErrorAnalyzer{},
		audit:           NoOpAuditLogger{},
		logger:          &core.NoOpLogger{},
		metrics:         telemetry.NewMetrics(),
		evaluator:       condition.NewEvaluator(),
		transformEngine: transform.NewEngine(),
		tokensPerPlugin: 400,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetParallelHandle wires a ParallelHandle after construction — scatter_gather
// support has a construction-order cycle (the ParallelExecutor needs this
// Executor as its StepRunner, so it can't be built before the Executor
// exists, yet the Executor needs a ParallelHandle at construction to satisfy
// WithParallelHandle). The Orchestrator breaks the cycle by building the
// Executor first and calling SetParallelHandle once the ParallelExecutor is
// ready.
func (e *Executor) SetParallelHandle(p ParallelHandle) { e.parallel = p }

// Execute runs one step end-to-end, following spec.md §4.5's order of
// operations. Parameter resolution for fingerprinting purposes is pulled
// ahead of the cache probe (rather than strictly after it, as step numbers
// (1) and (4) would imply in isolation) since a useful cache key requires
// the resolved parameters it fingerprints — the two are necessarily
// entangled in any implementation of this contract.
func (e *Executor) Execute(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error) {
	start := time.Now()
	ec.SetCurrentStep(step.ID)
	telemetry.AddSpanEvent(ctx, "executor.step.dispatch", attribute.String("step_id", step.ID), attribute.String("kind", string(step.Kind)))

	resolved := e.resolveForFingerprint(ec, step)

	cacheable := schema.IsCacheable(step.Kind) && e.enableCaching && e.cache != nil
	var cacheKey string
	if cacheable {
		cacheKey = FingerprintKey(step.ID, step.Kind, resolved)
		if cached, hit := e.cache.Get(cacheKey); hit {
			e.metrics.Inc("executor.cache_hit", 1)
			ec.SetStepOutput(step.ID, cached)
			return cached, nil
		}
		e.metrics.Inc("executor.cache_miss", 1)
	}

	if e.orchestrationOn && e.orchestration != nil && schema.IsLLMBearing(step.Kind) {
		return e.executeOrchestrated(ctx, ec, step, start, cacheable, cacheKey)
	}

	e.audit.StepStarted(ctx, ec.ExecutionID, step)

	raw, dispatchErr := e.dispatchByKind(ctx, ec, step, resolved)
	elapsed := time.Since(start)
	ec.AddExecutionTime(elapsed)

	if dispatchErr != nil {
		execErr := toExecutionError(step.ID, dispatchErr)
		out := failureOutput(step, start, elapsed, execErr)
		ec.SetStepOutput(step.ID, out)
		e.audit.StepFailed(ctx, ec.ExecutionID, step, execErr)
		telemetry.RecordSpanError(ctx, execErr)
		return out, execErr
	}

	out := e.buildSuccessOutput(ec, step, raw, start, elapsed, core.TokenUsage{})
	ec.SetStepOutput(step.ID, out)
	e.audit.StepCompleted(ctx, ec.ExecutionID, step, out)
	if cacheable {
		e.cache.Set(cacheKey, out, e.cacheTTL)
	}
	return out, nil
}

// executeOrchestrated is the spec.md §4.5 step (2) path: LLM-bearing steps
// are routed through the injected policy engine instead of runLLMStep when
// orchestration is active.
func (e *Executor) executeOrchestrated(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep, start time.Time, cacheable bool, cacheKey string) (*schema.StepOutput, error) {
	e.audit.StepStarted(ctx, ec.ExecutionID, step)
	resolvedFields := ResolveFields(ec, presentLLMFields(step))

	req := LLMRequest{
		UserID:      ec.UserID,
		AgentRef:    ec.AgentRef,
		SessionID:   ec.SessionID,
		Prompt:      e.buildLLMPrompt(ec, step, resolvedFields),
		HidePlugins: step.Kind == schema.KindAIProcessing || step.HidePlugins,
	}
	result, err := e.orchestration.Run(ctx, req, step)
	elapsed := time.Since(start)
	ec.AddExecutionTime(elapsed)

	if err != nil {
		execErr := wrapExecErr(step.ID, CodeLLMDecisionFailed, err)
		out := failureOutput(step, start, elapsed, execErr)
		ec.SetStepOutput(step.ID, out)
		e.audit.StepFailed(ctx, ec.ExecutionID, step, execErr)
		return out, execErr
	}

	ec.AddTokens(result.TokensUsed)
	out := e.buildSuccessOutput(ec, step, result.Data, start, elapsed, result.TokensUsed)
	out.Metadata.TokensUsed = result.TokensUsed
	ec.SetStepOutput(step.ID, out)
	e.audit.StepCompleted(ctx, ec.ExecutionID, step, out)
	if cacheable {
		e.cache.Set(cacheKey, out, e.cacheTTL)
	}
	return out, nil
}

func (e *Executor) dispatchByKind(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep, resolved map[string]interface{}) (interface{}, error) {
	switch step.Kind {
	case schema.KindAction:
		return e.dispatchAction(ctx, ec, step, resolved)
	case schema.KindAIProcessing, schema.KindLLMDecision:
		return e.runLLMStep(ctx, ec, step, resolved)
	case schema.KindConditional:
		return e.dispatchConditional(ctx, ec, step)
	case schema.KindSwitch:
		return e.dispatchSwitch(ec, step)
	case schema.KindTransform, schema.KindEnrichment:
		return e.dispatchTransform(ec, step)
	case schema.KindDelay:
		return e.dispatchDelay(ctx, step)
	case schema.KindValidation:
		return e.dispatchValidation(ec, step)
	case schema.KindComparison:
		return e.dispatchComparison(ec, step)
	case schema.KindScatterGather:
		return e.dispatchScatterGather(ctx, ec, step)
	default:
		return nil, newExecErr(step.ID, CodeUnknownStepType, "unknown or orchestrator-owned step kind %q", step.Kind)
	}
}

// resolveForFingerprint resolves the fields relevant to a cacheable step's
// fingerprint (and, for action steps, for the actual dispatch — see
// dispatchAction's resolved parameter). Non-cacheable kinds resolve their
// own fields internally inside their dispatch* function and never consult
// this map.
func (e *Executor) resolveForFingerprint(ec *execctx.ExecutionContext, step *schema.WorkflowStep) map[string]interface{} {
	switch step.Kind {
	case schema.KindAction:
		return ResolveFields(ec, step.Params)
	case schema.KindTransform, schema.KindEnrichment:
		return ResolveFields(ec, map[string]interface{}{"operation": step.Operation, "input": step.Input, "config": step.Config})
	case schema.KindValidation:
		return map[string]interface{}{"rules": step.Rules, "schema": step.ValidationSchema}
	case schema.KindComparison:
		return ResolveFields(ec, map[string]interface{}{"left": step.Left, "right": step.Right, "op": step.CompareOperation})
	default:
		return map[string]interface{}{}
	}
}

func presentLLMFields(step *schema.WorkflowStep) map[string]interface{} {
	fields := map[string]interface{}{}
	if step.Prompt != "" {
		fields["prompt"] = step.Prompt
	}
	if step.Description != "" {
		fields["description"] = step.Description
	}
	return fields
}

func failureOutput(step *schema.WorkflowStep, start time.Time, elapsed time.Duration, execErr *ExecutionError) *schema.StepOutput {
	return &schema.StepOutput{
		StepID: step.ID,
		Plugin: step.Plugin,
		Action: string(step.Kind),
		Data:   map[string]interface{}{},
		Metadata: schema.StepMetadata{
			Success:       false,
			ExecutedAt:    start,
			ExecutionTime: elapsed,
			Error:         execErr.Message,
			ErrorCode:     execErr.Code,
		},
	}
}

func (e *Executor) buildSuccessOutput(ec *execctx.ExecutionContext, step *schema.WorkflowStep, raw interface{}, start time.Time, elapsed time.Duration, tokens core.TokenUsage) *schema.StepOutput {
	data, rawOut, meta := Normalize(raw, step)
	if step.OutputVariable != "" {
		ec.SetVariable(step.OutputVariable, data)
	}
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
			ItemCount:     itemCount(raw),
			TokensUsed:    schema.TokenUsage{Total: tokens.Total, Prompt: tokens.Prompt, Completion: tokens.Completion},
		},
	}
}

func itemCount(raw interface{}) int {
	switch t := raw.(type) {
	case []interface{}:
		return len(t)
	case map[string]interface{}:
		for _, key := range []string{"items", "filtered", "rows", "records"} {
			if arr, ok := t[key].([]interface{}); ok {
				return len(arr)
			}
		}
	}
	return 0
}

func toExecutionError(stepID string, err error) *ExecutionError {
	if ee, ok := err.(*ExecutionError); ok {
		return ee
	}
	return wrapExecErr(stepID, CodeStepExecutionFailed, err)
}

// noOpPluginRuntime/noOpLLMClient are the Executor's safe defaults so a bare
// New() is usable in tests without wiring real collaborators.
type noOpPluginRuntime struct{}

func (noOpPluginRuntime) Execute(context.Context, string, string, string, map[string]interface{}) (PluginResult, error) {
	return PluginResult{}, fmt.Errorf("executor: no PluginRuntime configured")
}
func (noOpPluginRuntime) GetPluginDefinition(context.Context, string) (*PluginDefinition, error) {
	return nil, fmt.Errorf("executor: no PluginRuntime configured")
}

type noOpLLMClient struct{}

func (noOpLLMClient) Run(context.Context, LLMRequest) (LLMResponse, error) {
	return LLMResponse{}, fmt.Errorf("executor: no LLMClient configured")
}
