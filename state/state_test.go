package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/executor"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
	"github.com/AgentsPilot/neuronforge-sub000/store"
)

func newTestManager(t *testing.T) (*Manager, *Checkpointer) {
	t.Helper()
	p := store.NewInMemoryProvider()
	execStore := store.NewProviderExecutionStore(p, time.Hour, "exec")
	checkpoint := NewCheckpointer(p, time.Hour, "ckpt")
	return New(execStore, execStore, execStore, checkpoint), checkpoint
}

func TestManagerExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.StartExecution(ctx, "exec-1", "agent-1", "user-1", "session-1"))
	require.NoError(t, m.CompleteExecution(ctx, "exec-1", map[string]interface{}{"ok": true}, time.Second))

	rec, err := m.executions.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, string(StatusCompleted), rec.Status)
	require.Equal(t, map[string]interface{}{"ok": true}, rec.FinalOutput)
}

func TestManagerFailExecutionRecordsCode(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.StartExecution(ctx, "exec-1", "agent-1", "user-1", "session-1"))
	execErr := &executor.ExecutionError{StepID: "step-1", Code: executor.CodeStepExecutionFailed, Message: "boom"}
	require.NoError(t, m.FailExecution(ctx, "exec-1", "step-1", execErr))

	rec, err := m.executions.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, string(StatusFailed), rec.Status)
	require.Equal(t, executor.CodeStepExecutionFailed, rec.ErrorCode)
	require.Equal(t, "step-1", rec.FailedStep)
}

func TestManagerStepAuditLogging(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.StartExecution(ctx, "exec-1", "agent-1", "user-1", "session-1"))

	step := &schema.WorkflowStep{ID: "step-1", Name: "fetch", Kind: schema.KindAction}
	m.StepStarted(ctx, "exec-1", step)
	m.StepCompleted(ctx, "exec-1", step, &schema.StepOutput{
		StepID: "step-1", Metadata: schema.StepMetadata{Success: true, TokensUsed: schema.TokenUsage{Total: 10}},
	})

	steps, err := m.steps.ListSteps(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, "completed", steps[0].Status)

	total, err := m.tokens.Total(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, 10, total.Total)
}

func TestManagerPauseAndResume(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.StartExecution(ctx, "exec-1", "agent-1", "user-1", "session-1"))

	ec := execctx.New("exec-1", "agent-1", "user-1", "session-1", map[string]interface{}{"x": 1}, execctx.RunModeCalibration)
	ec.SetVariable("foo", "bar")
	ec.SetStepOutput("step-1", &schema.StepOutput{StepID: "step-1", Data: map[string]interface{}{"a": 1}})

	require.NoError(t, m.PauseExecution(ctx, ec, "parameter missing"))

	rec, err := m.executions.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, string(StatusPaused), rec.Status)

	restored, err := m.Resume(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "exec-1", restored.ExecutionID)
	v, ok := restored.GetVariable("foo")
	require.True(t, ok)
	require.Equal(t, "bar", v)
	out, ok := restored.GetStepOutput("step-1")
	require.True(t, ok)
	require.Equal(t, map[string]interface{}{"a": float64(1)}, out.Data)

	rec, err = m.executions.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, string(StatusRunning), rec.Status)
}

func TestCheckpointerRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := store.NewInMemoryProvider()
	ck := NewCheckpointer(p, time.Hour, "ckpt")

	ec := execctx.New("exec-2", "agent-1", "user-1", "session-1", nil, execctx.RunModeProduction)
	ec.AddTokens(core.TokenUsage{Total: 3})

	require.NoError(t, ck.Save(ctx, ec))
	loaded, err := ck.Load(ctx, "exec-2")
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Tokens().Total)

	require.NoError(t, ck.Delete(ctx, "exec-2"))
	_, err = ck.Load(ctx, "exec-2")
	require.ErrorIs(t, err, core.ErrNotFound)
}
