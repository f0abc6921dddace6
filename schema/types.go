// Package schema defines the closed set of step kinds and the tagged
// shapes the rest of the engine dispatches on: declared output schemas,
// condition shapes, and step execution results. Dynamic-structure outputs are
// modeled as tagged variants rather than untyped maps wherever the shape is
// known ahead of time (spec.md §9 "Dynamic-structure outputs → tagged
// variants").
package schema

import "time"

// StepKind is the closed set of workflow step kinds (spec.md §3).
type StepKind string

const (
	KindAction         StepKind = "action"
	KindAIProcessing   StepKind = "ai_processing"
	KindLLMDecision    StepKind = "llm_decision"
	KindConditional    StepKind = "conditional"
	KindSwitch         StepKind = "switch"
	KindLoop           StepKind = "loop"
	KindParallelGroup  StepKind = "parallel_group"
	KindScatterGather  StepKind = "scatter_gather"
	KindSubWorkflow    StepKind = "sub_workflow"
	KindHumanApproval  StepKind = "human_approval"
	KindTransform      StepKind = "transform"
	KindDelay          StepKind = "delay"
	KindEnrichment     StepKind = "enrichment"
	KindValidation     StepKind = "validation"
	KindComparison     StepKind = "comparison"
)

// llmBearingKinds are dispatched through the orchestration LLM handler when
// orchestration is active (spec.md §4.5 step (2)).
var llmBearingKinds = map[StepKind]bool{
	KindAIProcessing: true,
	KindLLMDecision:  true,
	"summarize":      true,
	"extract":        true,
	"generate":       true,
}

// IsLLMBearing reports whether a step kind is dispatched through the LLM
// handler rather than executed locally.
func IsLLMBearing(k StepKind) bool { return llmBearingKinds[k] }

// cacheableKinds may be served from the step cache (spec.md §4.5 step (1)).
var cacheableKinds = map[StepKind]bool{
	KindAction:     true,
	KindTransform:  true,
	KindValidation: true,
	KindComparison: true,
}

// IsCacheable reports whether a step kind's output may be cached.
func IsCacheable(k StepKind) bool { return cacheableKinds[k] }

// parallelEligibleKinds may share a parallel group at the same DAG level
// (spec.md §4.1 "canRunInParallel").
var parallelEligibleKinds = map[StepKind]bool{
	KindAction:    true,
	KindTransform: true,
}

// CanRunInParallel reports the default parallel-eligibility of a step kind.
// A loop step may override this to true via an explicit "parallel" flag
// carried on WorkflowStep.Parallel.
func CanRunInParallel(k StepKind, explicitParallel bool) bool {
	if k == KindLoop {
		return explicitParallel
	}
	return parallelEligibleKinds[k]
}

// routingKeys are excluded from a step's declared outputs map — they steer
// orchestrator control flow rather than carrying step data (spec.md §4.6).
var routingKeys = map[string]bool{
	"next_step":            true,
	"is_last_step":         true,
	"iteration_next_step":  true,
	"after_loop_next_step": true,
}

// IsRoutingKey reports whether key is a control-flow routing key rather than
// declared output data.
func IsRoutingKey(key string) bool { return routingKeys[key] }

// OutputDescriptor is one entry of a step's declared `outputs` schema: a
// declared key name mapped to a type descriptor.
type OutputDescriptor struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// RetryPolicy is the optional per-step retry configuration (spec.md §3).
type RetryPolicy struct {
	MaxAttempts   int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	InitialDelay  time.Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay      time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	BackoffFactor float64       `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
}

// StepMetadata captures the per-execution metrics attached to a StepOutput
// (spec.md §3 "StepOutput").
type StepMetadata struct {
	Success       bool       `json:"success"`
	ExecutedAt    time.Time  `json:"executedAt"`
	ExecutionTime time.Duration `json:"executionTime"`
	ItemCount     int        `json:"itemCount,omitempty"`
	TokensUsed    TokenUsage `json:"tokensUsed,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorCode     string     `json:"errorCode,omitempty"`
}

// TokenUsage mirrors core.TokenUsage for schema documents that shouldn't
// import the core package (kept structurally identical, see core.TokenUsage
// and StepMetadata.TokensUsed for the single source of truth used at
// runtime).
type TokenUsage struct {
	Total      int `json:"total"`
	Prompt     int `json:"prompt,omitempty"`
	Completion int `json:"completion,omitempty"`
}

// NormalizationMeta records what OutputNormalizer did to a raw step result
// (spec.md §4.6 "_meta").
type NormalizationMeta struct {
	Normalized     bool              `json:"normalized"`
	KeyMappings    map[string]string `json:"keyMappings,omitempty"`
	WrappedKeys    []string          `json:"wrappedKeys,omitempty"`
	JSONParsedKeys []string          `json:"jsonParsedKeys,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
}

// StepOutput is the recorded result of one step (spec.md §3).
type StepOutput struct {
	StepID   string                 `json:"stepId"`
	Plugin   string                 `json:"plugin"`
	Action   string                 `json:"action"`
	Data     map[string]interface{} `json:"data"`
	Raw      interface{}            `json:"_raw,omitempty"`
	Meta     *NormalizationMeta     `json:"_meta,omitempty"`
	Metadata StepMetadata           `json:"metadata"`
}
