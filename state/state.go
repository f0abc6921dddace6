// Package state implements the StateManager and Checkpointer (spec.md §4.9
// "State management and checkpointing"): durable persistence of execution
// and step status, plus resumable context snapshots for the pause/resume
// path (spec.md §4.8). Grounded on gomind's orchestration/execution_store.go
// (the StoredExecution/ExecutionSummary write path) and
// orchestration/hitl_checkpoint_store.go (periodic, TTL-bearing snapshot
// persistence), both adapted from a single routing decision to a full
// multi-step workflow run.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/eventbus"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/executor"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
	"github.com/AgentsPilot/neuronforge-sub000/store"
)

// Status is the closed set of workflow_executions.status values (spec.md §6).
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Manager owns the durable execution/step/token stores and the event bus,
// and implements executor.AuditLogger so the StepExecutor can report step
// lifecycle events without knowing how they're persisted or broadcast.
type Manager struct {
	executions store.ExecutionStore
	steps      store.StepExecutionStore
	tokens     store.TokenUsageStore
	checkpoint *Checkpointer
	bus        eventbus.Bus
	logger     core.Logger

	stepStartedAt map[string]time.Time // executionID:stepID -> start time, for duration calc
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventBus attaches a produced event bus (spec.md §6 "Event bus").
func WithEventBus(b eventbus.Bus) Option { return func(m *Manager) { m.bus = b } }

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(m *Manager) { m.logger = l } }

// New creates a Manager over the given stores and a checkpoint provider.
func New(executions store.ExecutionStore, steps store.StepExecutionStore, tokens store.TokenUsageStore, checkpoint *Checkpointer, opts ...Option) *Manager {
	m := &Manager{
		executions:    executions,
		steps:         steps,
		tokens:        tokens,
		checkpoint:    checkpoint,
		bus:           eventbus.MultiBus(nil),
		logger:        &core.NoOpLogger{},
		stepStartedAt: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func stepKey(executionID, stepID string) string { return executionID + ":" + stepID }

// StartExecution creates the workflow_executions row for a new run.
func (m *Manager) StartExecution(ctx context.Context, executionID, agentID, userID, sessionID string) error {
	rec := &store.ExecutionRecord{
		ExecutionID: executionID,
		AgentID:     agentID,
		UserID:      userID,
		SessionID:   sessionID,
		Status:      string(StatusRunning),
		StartedAt:   time.Now(),
	}
	return m.executions.Create(ctx, rec)
}

// CompleteExecution marks an execution row completed with its final output
// and total token usage.
func (m *Manager) CompleteExecution(ctx context.Context, executionID string, finalOutput map[string]interface{}, totalTime time.Duration) error {
	rec, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	rec.Status = string(StatusCompleted)
	rec.EndedAt = time.Now()
	rec.TotalTime = totalTime
	rec.FinalOutput = finalOutput
	if total, err := m.tokens.Total(ctx, executionID); err == nil {
		rec.TokensUsed = total
	}
	if err := m.executions.Update(ctx, rec); err != nil {
		return err
	}
	m.bus.Publish(eventbus.Event{
		Type: eventbus.EventExecutionCompleted, ExecutionID: executionID, AgentID: rec.AgentID,
		Duration: totalTime,
	})
	return nil
}

// FailExecution marks an execution row failed.
func (m *Manager) FailExecution(ctx context.Context, executionID string, failedStep string, execErr error) error {
	rec, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	rec.Status = string(StatusFailed)
	rec.EndedAt = time.Now()
	rec.FailedStep = failedStep
	if execErr != nil {
		rec.Error = execErr.Error()
		var ee *executor.ExecutionError
		if errors.As(execErr, &ee) {
			rec.ErrorCode = ee.Code
		}
	}
	if err := m.executions.Update(ctx, rec); err != nil {
		return err
	}
	m.bus.Publish(eventbus.Event{
		Type: eventbus.EventExecutionError, ExecutionID: executionID, AgentID: rec.AgentID,
		StepID: failedStep, Error: rec.Error,
	})
	return nil
}

// PauseExecution marks an execution row paused and writes a resumable
// checkpoint of ec (spec.md §4.8 "Pause and resume").
func (m *Manager) PauseExecution(ctx context.Context, ec *execctx.ExecutionContext, reason string) error {
	rec, err := m.executions.Get(ctx, ec.ExecutionID)
	if err != nil {
		return err
	}
	rec.Status = string(StatusPaused)
	rec.Error = reason
	if err := m.executions.Update(ctx, rec); err != nil {
		return err
	}
	return m.checkpoint.Save(ctx, ec)
}

// Resume loads the last checkpoint for executionID and marks the row running
// again.
func (m *Manager) Resume(ctx context.Context, executionID string) (*execctx.ExecutionContext, error) {
	ec, err := m.checkpoint.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	rec, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	rec.Status = string(StatusRunning)
	rec.Error = ""
	if err := m.executions.Update(ctx, rec); err != nil {
		return nil, err
	}
	return ec, nil
}

// Checkpoint snapshots ec without touching the execution's status — used
// mid-run, after an ordinary step or parallel group completes, as opposed to
// PauseExecution which also flips status to paused (spec.md §4.8
// "checkpoint the context after every step").
func (m *Manager) Checkpoint(ctx context.Context, ec *execctx.ExecutionContext) error {
	return m.checkpoint.Save(ctx, ec)
}

// MarkRunning flips a paused execution back to running without touching its
// checkpoint (spec.md §4.8 "Human approval": execution resumes once the
// approval resolves to approved).
func (m *Manager) MarkRunning(ctx context.Context, executionID string) error {
	rec, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	rec.Status = string(StatusRunning)
	rec.Error = ""
	return m.executions.Update(ctx, rec)
}

// TokensTotal returns the durably recorded token total for executionID
// (spec.md §4.8 step (12) "token reconciliation").
func (m *Manager) TokensTotal(ctx context.Context, executionID string) (core.TokenUsage, error) {
	return m.tokens.Total(ctx, executionID)
}

// CancelExecution marks an execution row cancelled (cooperative
// cancellation, spec.md §4.8 "Timeouts and cancellation").
func (m *Manager) CancelExecution(ctx context.Context, executionID string) error {
	rec, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	rec.Status = string(StatusCancelled)
	rec.EndedAt = time.Now()
	return m.executions.Update(ctx, rec)
}

// RecordTokens passes a token usage row, tagged by source ("llm" or
// "plugin" per spec.md §6), to the TokenUsageStore.
func (m *Manager) RecordTokens(ctx context.Context, executionID, stepID, source string, usage core.TokenUsage) error {
	return m.tokens.Record(ctx, &store.TokenUsageRecord{
		ExecutionID: executionID, StepID: stepID, Source: source, Usage: usage, RecordedAt: time.Now(),
	})
}

// StepStarted implements executor.AuditLogger.
func (m *Manager) StepStarted(ctx context.Context, executionID string, step *schema.WorkflowStep) {
	m.stepStartedAt[stepKey(executionID, step.ID)] = time.Now()
	if err := m.steps.LogStep(ctx, &store.StepExecutionRecord{
		ExecutionID: executionID, StepID: step.ID, StepName: step.Name,
		Status: "running", StartedAt: time.Now(),
	}); err != nil {
		m.logger.Warn("state: failed to log step start", map[string]interface{}{
			"execution_id": executionID, "step_id": step.ID, "error": err.Error(),
		})
	}
	m.bus.Publish(eventbus.Event{
		Type: eventbus.EventStepStarted, ExecutionID: executionID, StepID: step.ID, StepName: step.Name,
	})
}

// StepCompleted implements executor.AuditLogger.
func (m *Manager) StepCompleted(ctx context.Context, executionID string, step *schema.WorkflowStep, out *schema.StepOutput) {
	dur := m.stepDuration(executionID, step.ID)
	itemCount := 0
	var tokens core.TokenUsage
	if out != nil {
		itemCount = out.Metadata.ItemCount
		tokens = core.TokenUsage{
			Total:      out.Metadata.TokensUsed.Total,
			Prompt:     out.Metadata.TokensUsed.Prompt,
			Completion: out.Metadata.TokensUsed.Completion,
		}
	}
	if err := m.steps.LogStep(ctx, &store.StepExecutionRecord{
		ExecutionID: executionID, StepID: step.ID, StepName: step.Name,
		Status: "completed", StartedAt: time.Now().Add(-dur), EndedAt: time.Now(),
		Duration: dur, ItemCount: itemCount, TokensUsed: tokens,
	}); err != nil {
		m.logger.Warn("state: failed to log step completion", map[string]interface{}{
			"execution_id": executionID, "step_id": step.ID, "error": err.Error(),
		})
	}
	if tokens.Total > 0 {
		source := "plugin"
		if schema.IsLLMBearing(step.Kind) {
			source = "llm"
		}
		if err := m.RecordTokens(ctx, executionID, step.ID, source, tokens); err != nil {
			m.logger.Warn("state: failed to record tokens", map[string]interface{}{
				"execution_id": executionID, "step_id": step.ID, "error": err.Error(),
			})
		}
	}
	m.bus.Publish(eventbus.Event{
		Type: eventbus.EventStepCompleted, ExecutionID: executionID, StepID: step.ID, StepName: step.Name,
		Duration: dur, Result: out,
	})
}

// StepFailed implements executor.AuditLogger.
func (m *Manager) StepFailed(ctx context.Context, executionID string, step *schema.WorkflowStep, execErr *executor.ExecutionError) {
	dur := m.stepDuration(executionID, step.ID)
	errMsg, errCode := "", ""
	if execErr != nil {
		errMsg = execErr.Message
		errCode = execErr.Code
	}
	if err := m.steps.LogStep(ctx, &store.StepExecutionRecord{
		ExecutionID: executionID, StepID: step.ID, StepName: step.Name,
		Status: "failed", StartedAt: time.Now().Add(-dur), EndedAt: time.Now(),
		Duration: dur, Error: errMsg, ErrorCode: errCode,
	}); err != nil {
		m.logger.Warn("state: failed to log step failure", map[string]interface{}{
			"execution_id": executionID, "step_id": step.ID, "error": err.Error(),
		})
	}
	m.bus.Publish(eventbus.Event{
		Type: eventbus.EventStepFailed, ExecutionID: executionID, StepID: step.ID, StepName: step.Name,
		Duration: dur, Error: errMsg,
	})
}

func (m *Manager) stepDuration(executionID, stepID string) time.Duration {
	key := stepKey(executionID, stepID)
	start, ok := m.stepStartedAt[key]
	if !ok {
		return 0
	}
	delete(m.stepStartedAt, key)
	return time.Since(start)
}

// Checkpointer persists and restores ExecutionContext snapshots for
// resumable runs (spec.md §4.9 "Checkpointing").
type Checkpointer struct {
	p         store.Provider
	ttl       time.Duration
	keyPrefix string
}

// NewCheckpointer wraps p for context-snapshot persistence.
func NewCheckpointer(p store.Provider, ttl time.Duration, keyPrefix string) *Checkpointer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if keyPrefix == "" {
		keyPrefix = "checkpoint"
	}
	return &Checkpointer{p: p, ttl: ttl, keyPrefix: keyPrefix}
}

func (c *Checkpointer) key(executionID string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, executionID)
}

// Save writes ec's full snapshot.
func (c *Checkpointer) Save(ctx context.Context, ec *execctx.ExecutionContext) error {
	snap := ec.Snapshot()
	b, err := json.Marshal(snap)
	if err != nil {
		return core.NewFrameworkError("state.Checkpointer.Save", "encode", err)
	}
	return c.p.Set(ctx, c.key(ec.ExecutionID), string(b), c.ttl)
}

// Load rebuilds an ExecutionContext from its last saved snapshot.
func (c *Checkpointer) Load(ctx context.Context, executionID string) (*execctx.ExecutionContext, error) {
	v, ok, err := c.p.Get(ctx, c.key(executionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound
	}
	var snap execctx.Snapshot
	if err := json.Unmarshal([]byte(v), &snap); err != nil {
		return nil, core.NewFrameworkError("state.Checkpointer.Load", "decode", err)
	}
	return execctx.FromSnapshot(snap), nil
}

// Delete removes a checkpoint once a run completes or is cancelled — there's
// nothing left to resume.
func (c *Checkpointer) Delete(ctx context.Context, executionID string) error {
	return c.p.Del(ctx, c.key(executionID))
}

var _ executor.AuditLogger = (*Manager)(nil)
