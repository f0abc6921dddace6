package executor

import (
	"context"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// PluginRuntime is the consumed plugin execution surface (spec.md §6
// "Plugin runtime"). Synchronous from the executor's viewpoint.
type PluginRuntime interface {
	Execute(ctx context.Context, userID, plugin, action string, params map[string]interface{}) (PluginResult, error)
	GetPluginDefinition(ctx context.Context, plugin string) (*PluginDefinition, error)
}

// PluginResult is one plugin action's response envelope.
type PluginResult struct {
	Success bool
	Data    interface{}
	Error   string
	Message string
}

// PluginDefinition describes a plugin's actions and their JSON-schema
// parameters, used by the parameter-coercion pass (spec.md §4.5 "action
// dispatch").
type PluginDefinition struct {
	Actions map[string]PluginActionSchema
}

// PluginActionSchema is one action's parameter schema.
type PluginActionSchema struct {
	Parameters map[string]ParamSchema
}

// ParamSchema is one parameter's declared shape: type ("string", "array",
// "object", ...), dimensionality for arrays (2 means a 2-D array/table),
// and whether it's required.
type ParamSchema struct {
	Type       string
	ArrayDims  int
	Required   bool
	IsMessage  bool // messaging-style field gets a human-readable string rendering, not raw JSON
}

// LLMClient is the consumed LLM execution surface (spec.md §6 "LLM
// client"). Model selection is the client's concern; the Pilot only
// chooses whether to hide plugins.
type LLMClient interface {
	Run(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// LLMRequest carries everything the ai_processing/llm_decision dispatch
// needs to ask the LLM client for a completion.
type LLMRequest struct {
	UserID      string
	AgentRef    string
	SessionID   string
	Prompt      string
	HidePlugins bool
	Extras      map[string]interface{}
}

// LLMResponse is the LLM client's structured reply.
type LLMResponse struct {
	Success    bool
	Response   string
	ToolCalls  []map[string]interface{}
	TokensUsed core.TokenUsage
	Error      string
}

// AuditLogger is the consumed durable-store write path for per-step status
// (spec.md §6 "Durable store", table workflow_step_executions) and the
// produced event bus (spec.md §6 "Event bus"). Both are folded into one
// small interface here since the StepExecutor only ever needs "tell someone
// what just happened" — the concrete implementation (state/eventbus
// packages) fans this out to Redis rows and websocket frames.
type AuditLogger interface {
	StepStarted(ctx context.Context, executionID string, step *schema.WorkflowStep)
	StepCompleted(ctx context.Context, executionID string, step *schema.WorkflowStep, out *schema.StepOutput)
	StepFailed(ctx context.Context, executionID string, step *schema.WorkflowStep, execErr *ExecutionError)
}

// NoOpAuditLogger discards everything — the safe default, matching
// core.NoOpLogger's role for the plain Logger interface.
type NoOpAuditLogger struct{}

func (NoOpAuditLogger) StepStarted(context.Context, string, *schema.WorkflowStep)                       {}
func (NoOpAuditLogger) StepCompleted(context.Context, string, *schema.WorkflowStep, *schema.StepOutput) {}
func (NoOpAuditLogger) StepFailed(context.Context, string, *schema.WorkflowStep, *ExecutionError)        {}

// ParallelHandle is the scatter_gather/loop delegate the Orchestrator
// injects into the StepExecutor (spec.md §4.5 "scatter_gather requires the
// ParallelExecutor to have been injected"). Declared here, implemented by
// package parallelexec, to avoid an import cycle (parallelexec itself calls
// back into the StepExecutor per item/iteration).
type ParallelHandle interface {
	RunScatterGather(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error)
}

// ErrorAnalyzer decides whether a plugin/LLM failure is worth retrying with
// different parameters (spec.md's gomind grounding: orchestration's
// LLM-first error analysis, routing by HTTP-status-like category). The
// StepExecutor stores the one passed via WithErrorAnalyzer but never calls
// it; retry looping is resilience.Retry, driven by the step's retry policy.
type ErrorAnalyzer interface {
	Analyze(ctx context.Context, stepErr error, originalParams map[string]interface{}) (retryable bool, reason string)
}

// NoOpErrorAnalyzer always defers to the caller's own retry policy.
type NoOpErrorAnalyzer struct{}

func (NoOpErrorAnalyzer) Analyze(context.Context, error, map[string]interface{}) (bool, string) {
	return false, ""
}

// OrchestrationResult is what the optional policy engine returns for an
// LLM-bearing step when orchestration is active (spec.md §4.5 step (2) and
// Glossary "Orchestration").
type OrchestrationResult struct {
	Data            map[string]interface{}
	TokensUsed      core.TokenUsage
	TokensSaved     int
	Compressed      bool
	RoutedModel     string
}

// OrchestrationHandler is the optional policy-engine delegate for
// LLM-bearing steps: model selection, prompt compression, and accounting.
// The StepExecutor only decides *whether* to route through it (and whether
// to hide plugins); selecting a model is the handler's concern.
type OrchestrationHandler interface {
	Run(ctx context.Context, req LLMRequest, step *schema.WorkflowStep) (OrchestrationResult, error)
}
