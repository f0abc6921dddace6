// Package execctx implements the ExecutionContext (spec.md §4.2): per-run
// state plus the `{{...}}` variable resolver the rest of the engine
// evaluates conditions, templates, and transforms against. Grounded on
// gomind's orchestration.ExecutionContext / workflow run-state struct
// (orchestration/workflow_dag.go, orchestration/task_worker.go), adapted
// to this spec's reference grammar and per-step output shape.
package execctx

import (
	"sync"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// RunMode is the execution mode carried on ExecutionContext (spec.md §3).
// Calibration mode relaxes certain failures (parameter errors) into a pause
// rather than a hard failure so an operator can repair and resume (spec.md
// §4.8 "Pause and resume"). BatchCalibration is the same relaxed behavior
// applied across a scheduled batch of executions rather than one ad-hoc run.
type RunMode string

const (
	RunModeCalibration      RunMode = "calibration"
	RunModeProduction       RunMode = "production"
	RunModeBatchCalibration RunMode = "batch_calibration"
)

// IsCalibration reports whether parameter errors should pause rather than
// fail the execution (spec.md §4.8, §7 "In calibration mode, parameter
// errors pause the execution rather than fail it").
func (m RunMode) IsCalibration() bool {
	return m == RunModeCalibration || m == RunModeBatchCalibration
}

// ExecutionContext holds all state for a single workflow run. Safe for
// concurrent use: parallel steps within a level read/write it through
// guarded accessors.
type ExecutionContext struct {
	ExecutionID string
	AgentRef    string
	UserID      string
	SessionID   string
	RunMode     RunMode

	// Orchestrator is an opaque handle back to the owning orchestrator, used
	// by sub_workflow steps to invoke a nested run. Declared as interface{}
	// (rather than an orchestrator.Pilot import) to avoid an import cycle —
	// the orchestrator package type-asserts it back via orchestrator.Handle.
	Orchestrator interface{}

	mu           sync.RWMutex
	inputs       map[string]interface{}
	variables    map[string]interface{}
	memory       map[string]interface{}
	stepOutputs  map[string]*schema.StepOutput
	stepOrder    []string
	completed    []string
	failed       []string
	skipped      []string
	currentStep  string
	cumulativeMS time.Duration
	tokens       core.TokenUsage
}

// New creates an ExecutionContext for a single run of agentRef.
func New(executionID, agentRef, userID, sessionID string, inputs map[string]interface{}, mode RunMode) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		AgentRef:    agentRef,
		UserID:      userID,
		SessionID:   sessionID,
		RunMode:     mode,
		inputs:      inputs,
		variables:   map[string]interface{}{},
		memory:      map[string]interface{}{},
		stepOutputs: map[string]*schema.StepOutput{},
	}
}

// SetStepOutput records (or overwrites, on retry) a step's output. Idempotent
// — a later call for the same stepID replaces the earlier one in place
// without duplicating its position in insertion order.
func (c *ExecutionContext) SetStepOutput(stepID string, out *schema.StepOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.stepOutputs[stepID]; !exists {
		c.stepOrder = append(c.stepOrder, stepID)
	}
	c.stepOutputs[stepID] = out
}

// GetStepOutput returns a previously recorded step output.
func (c *ExecutionContext) GetStepOutput(stepID string) (*schema.StepOutput, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.stepOutputs[stepID]
	return out, ok
}

// GetAllStepOutputs returns every recorded step output in insertion order,
// used for last-step fallback semantics (spec.md §4.2).
func (c *ExecutionContext) GetAllStepOutputs() []*schema.StepOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*schema.StepOutput, 0, len(c.stepOrder))
	for _, id := range c.stepOrder {
		out = append(out, c.stepOutputs[id])
	}
	return out
}

func (c *ExecutionContext) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

func (c *ExecutionContext) GetVariable(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

func (c *ExecutionContext) Input(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.inputs[name]
	return v, ok
}

func (c *ExecutionContext) Inputs() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.inputs))
	for k, v := range c.inputs {
		out[k] = v
	}
	return out
}

func (c *ExecutionContext) SetMemory(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[key] = value
}

func (c *ExecutionContext) Memory(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.memory[key]
	return v, ok
}

func (c *ExecutionContext) MarkCompleted(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, stepID)
}

func (c *ExecutionContext) MarkFailed(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, stepID)
}

func (c *ExecutionContext) MarkSkipped(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipped = append(c.skipped, stepID)
}

func (c *ExecutionContext) Completed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.completed...)
}

func (c *ExecutionContext) Failed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.failed...)
}

func (c *ExecutionContext) Skipped() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.skipped...)
}

func (c *ExecutionContext) SetCurrentStep(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentStep = stepID
}

func (c *ExecutionContext) CurrentStep() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentStep
}

func (c *ExecutionContext) AddExecutionTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cumulativeMS += d
}

func (c *ExecutionContext) CumulativeTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cumulativeMS
}

func (c *ExecutionContext) AddTokens(u core.TokenUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = c.tokens.Add(u)
}

func (c *ExecutionContext) Tokens() core.TokenUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// Snapshot is a serializable capture of an ExecutionContext's state, used by
// package state to checkpoint a paused run and restore it later (spec.md
// §4.9 "Checkpointing", §4.8 "Pause and resume").
type Snapshot struct {
	ExecutionID  string                          `json:"executionId"`
	AgentRef     string                           `json:"agentRef"`
	UserID       string                           `json:"userId"`
	SessionID    string                           `json:"sessionId"`
	RunMode      RunMode                          `json:"runMode"`
	Inputs       map[string]interface{}           `json:"inputs"`
	Variables    map[string]interface{}           `json:"variables"`
	Memory       map[string]interface{}           `json:"memory"`
	StepOutputs  map[string]*schema.StepOutput    `json:"stepOutputs"`
	StepOrder    []string                         `json:"stepOrder"`
	Completed    []string                         `json:"completed"`
	Failed       []string                         `json:"failed"`
	Skipped      []string                         `json:"skipped"`
	CurrentStep  string                           `json:"currentStep"`
	CumulativeMS time.Duration                    `json:"cumulativeMs"`
	Tokens       core.TokenUsage                  `json:"tokens"`
}

// Snapshot captures the context's full state for durable checkpointing.
func (c *ExecutionContext) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outputs := make(map[string]*schema.StepOutput, len(c.stepOutputs))
	for k, v := range c.stepOutputs {
		outputs[k] = v
	}
	vars := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	mem := make(map[string]interface{}, len(c.memory))
	for k, v := range c.memory {
		mem[k] = v
	}
	inputs := make(map[string]interface{}, len(c.inputs))
	for k, v := range c.inputs {
		inputs[k] = v
	}

	return Snapshot{
		ExecutionID:  c.ExecutionID,
		AgentRef:     c.AgentRef,
		UserID:       c.UserID,
		SessionID:    c.SessionID,
		RunMode:      c.RunMode,
		Inputs:       inputs,
		Variables:    vars,
		Memory:       mem,
		StepOutputs:  outputs,
		StepOrder:    append([]string(nil), c.stepOrder...),
		Completed:    append([]string(nil), c.completed...),
		Failed:       append([]string(nil), c.failed...),
		Skipped:      append([]string(nil), c.skipped...),
		CurrentStep:  c.currentStep,
		CumulativeMS: c.cumulativeMS,
		Tokens:       c.tokens,
	}
}

// FromSnapshot rebuilds an ExecutionContext from a prior Snapshot — the
// "resume(executionId)" path (spec.md §4.8) reloads the last checkpoint this
// way instead of replaying completed steps.
func FromSnapshot(s Snapshot) *ExecutionContext {
	c := New(s.ExecutionID, s.AgentRef, s.UserID, s.SessionID, s.Inputs, s.RunMode)
	for k, v := range s.Variables {
		c.variables[k] = v
	}
	for k, v := range s.Memory {
		c.memory[k] = v
	}
	for k, v := range s.StepOutputs {
		c.stepOutputs[k] = v
	}
	c.stepOrder = append([]string(nil), s.StepOrder...)
	c.completed = append([]string(nil), s.Completed...)
	c.failed = append([]string(nil), s.Failed...)
	c.skipped = append([]string(nil), s.Skipped...)
	c.currentStep = s.CurrentStep
	c.cumulativeMS = s.CumulativeMS
	c.tokens = s.Tokens
	return c
}

// Clone returns a shallow copy sharing the same step-output/variable maps by
// value snapshot but with an independent mutex — used by scatter-gather to
// give each branch its own bound iteration variable without branches
// clobbering each other's "item" binding (spec.md §4.7 "cloned, shallow-
// copied context").
func (c *ExecutionContext) Clone() *ExecutionContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &ExecutionContext{
		ExecutionID:  c.ExecutionID,
		AgentRef:     c.AgentRef,
		UserID:       c.UserID,
		SessionID:    c.SessionID,
		RunMode:      c.RunMode,
		Orchestrator: c.Orchestrator,
		inputs:       c.inputs,
		stepOutputs:  make(map[string]*schema.StepOutput, len(c.stepOutputs)),
		stepOrder:    append([]string(nil), c.stepOrder...),
		variables:    make(map[string]interface{}, len(c.variables)+2),
		memory:       c.memory,
	}
	for k, v := range c.stepOutputs {
		clone.stepOutputs[k] = v
	}
	for k, v := range c.variables {
		clone.variables[k] = v
	}
	return clone
}
