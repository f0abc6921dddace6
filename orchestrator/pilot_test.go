package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/approval"
	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/executor"
	"github.com/AgentsPilot/neuronforge-sub000/pluginrt"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
	"github.com/AgentsPilot/neuronforge-sub000/store"
)

func registerEcho(r *pluginrt.Registry, plugin, action string, data map[string]interface{}) {
	r.Register(plugin, action, executor.PluginActionSchema{}, func(ctx context.Context, userID string, params map[string]interface{}) (executor.PluginResult, error) {
		return executor.PluginResult{Success: true, Data: data}, nil
	})
}

// TestRun_DependencyOrdering covers spec.md §8's "independent steps run, a
// dependent step waits" scenario: two independent action steps feed a third.
func TestRun_DependencyOrdering(t *testing.T) {
	registry := pluginrt.NewRegistry()
	registerEcho(registry, "p", "a", map[string]interface{}{"a": 1})
	registerEcho(registry, "p", "b", map[string]interface{}{"b": 2})
	registerEcho(registry, "p", "c", map[string]interface{}{"c": 3})

	p := New(WithExecutor(executor.New(executor.WithPluginRuntime(registry), executor.WithCachingEnabled(false))))

	agent := &schema.Agent{
		ID: "agent-1",
		Steps: []*schema.WorkflowStep{
			{ID: "s1", Kind: schema.KindAction, Plugin: "p", Action: "a"},
			{ID: "s2", Kind: schema.KindAction, Plugin: "p", Action: "b"},
			{ID: "s3", Kind: schema.KindAction, Plugin: "p", Action: "c", DependsOn: []string{"s1", "s2"}},
		},
	}

	res, err := p.Run(context.Background(), agent, "user-1", "sess-1", nil, execctx.RunModeProduction)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.ElementsMatch(t, []string{"s1", "s2", "s3"}, res.Completed)
	require.Empty(t, res.Failed)
}

// TestRun_CalibrationParameterErrorPauses covers spec.md §7 "in calibration
// mode, parameter errors pause the execution rather than fail it".
func TestRun_CalibrationParameterErrorPauses(t *testing.T) {
	p := New()
	agent := &schema.Agent{
		ID: "agent-1",
		Steps: []*schema.WorkflowStep{
			{ID: "s1", Kind: schema.KindAction}, // missing plugin/action
		},
	}

	res, err := p.Run(context.Background(), agent, "user-1", "sess-1", nil, execctx.RunModeCalibration)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.Paused)
	require.NotEmpty(t, res.PauseReason)
}

// TestRun_ProductionParameterErrorFails confirms the same malformed step
// fails outright (rather than pausing) outside calibration mode.
func TestRun_ProductionParameterErrorFails(t *testing.T) {
	p := New()
	agent := &schema.Agent{
		ID:    "agent-1",
		Steps: []*schema.WorkflowStep{{ID: "s1", Kind: schema.KindAction}},
	}

	res, err := p.Run(context.Background(), agent, "user-1", "sess-1", nil, execctx.RunModeProduction)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.False(t, res.Paused)
	require.Equal(t, executor.CodeMissingPluginAction, res.ErrorCode)
	require.Equal(t, "s1", res.FailedStep)
}

// TestRun_HumanApprovalApproved covers spec.md §4.8 "Human approval": the
// execution pauses awaiting approval and continues once it resolves.
func TestRun_HumanApprovalApproved(t *testing.T) {
	provider := store.NewInMemoryProvider()
	appStore := approval.NewStore(provider, time.Hour, "appr")
	tracker := approval.NewTracker(appStore, approval.LoggingNotifier{Logger: &core.NoOpLogger{}}, &core.NoOpLogger{})

	registry := pluginrt.NewRegistry()
	registerEcho(registry, "p", "after", map[string]interface{}{"done": true})

	p := New(
		WithApprovalTracker(tracker),
		WithApprovalPollInterval(10*time.Millisecond),
		WithExecutor(executor.New(executor.WithPluginRuntime(registry), executor.WithCachingEnabled(false))),
	)

	agent := &schema.Agent{
		ID: "agent-1",
		Steps: []*schema.WorkflowStep{
			{ID: "gate", Kind: schema.KindHumanApproval, Approvers: []string{"alice"}, ApprovalType: "any", Title: "proceed?", ApprovalTimeout: "1h"},
			{ID: "after", Kind: schema.KindAction, Plugin: "p", Action: "after", DependsOn: []string{"gate"}},
		},
	}

	resultCh := make(chan *RunResult, 1)
	go func() {
		res, err := p.Run(context.Background(), agent, "user-1", "sess-1", nil, execctx.RunModeProduction)
		require.NoError(t, err)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		pending, err := appStore.ListPending(context.Background())
		if err != nil || len(pending) == 0 {
			return false
		}
		_, err = tracker.Respond(context.Background(), pending[0].ID, "alice", "approved", "looks good")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	select {
	case res := <-resultCh:
		require.True(t, res.Success)
		require.Contains(t, res.Completed, "gate")
		require.Contains(t, res.Completed, "after")
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete after approval")
	}
}

// TestRun_HumanApprovalRejected confirms a rejection halts the run with
// CodeApprovalRejected rather than running downstream steps.
func TestRun_HumanApprovalRejected(t *testing.T) {
	provider := store.NewInMemoryProvider()
	appStore := approval.NewStore(provider, time.Hour, "appr")
	tracker := approval.NewTracker(appStore, approval.LoggingNotifier{Logger: &core.NoOpLogger{}}, &core.NoOpLogger{})

	p := New(WithApprovalTracker(tracker), WithApprovalPollInterval(10*time.Millisecond))

	agent := &schema.Agent{
		ID: "agent-1",
		Steps: []*schema.WorkflowStep{
			{ID: "gate", Kind: schema.KindHumanApproval, Approvers: []string{"alice"}, ApprovalType: "any", Title: "proceed?", ApprovalTimeout: "1h"},
		},
	}

	resultCh := make(chan *RunResult, 1)
	go func() {
		res, err := p.Run(context.Background(), agent, "user-1", "sess-1", nil, execctx.RunModeProduction)
		require.NoError(t, err)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		pending, err := appStore.ListPending(context.Background())
		if err != nil || len(pending) == 0 {
			return false
		}
		_, err = tracker.Respond(context.Background(), pending[0].ID, "alice", "rejected", "no")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	select {
	case res := <-resultCh:
		require.False(t, res.Success)
		require.Equal(t, executor.CodeApprovalRejected, res.ErrorCode)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete after rejection")
	}
}

// TestRun_ResumeAfterFailure covers spec.md §8's resume scenario: A
// succeeds, B fails, the run fails; fixing B and resuming re-runs only B
// and C, not A.
func TestRun_ResumeAfterFailure(t *testing.T) {
	var aCalls, bCalls int32
	var bShouldFail int32 = 1

	registry := pluginrt.NewRegistry()
	registry.Register("p", "a", executor.PluginActionSchema{}, func(ctx context.Context, userID string, params map[string]interface{}) (executor.PluginResult, error) {
		atomic.AddInt32(&aCalls, 1)
		return executor.PluginResult{Success: true, Data: map[string]interface{}{"a": 1}}, nil
	})
	registry.Register("p", "b", executor.PluginActionSchema{}, func(ctx context.Context, userID string, params map[string]interface{}) (executor.PluginResult, error) {
		atomic.AddInt32(&bCalls, 1)
		if atomic.LoadInt32(&bShouldFail) == 1 {
			return executor.PluginResult{Success: false, Error: "transient failure"}, nil
		}
		return executor.PluginResult{Success: true, Data: map[string]interface{}{"b": 2}}, nil
	})
	registerEcho(registry, "p", "c", map[string]interface{}{"c": 3})

	exec := executor.New(executor.WithPluginRuntime(registry), executor.WithCachingEnabled(false))
	p := New(WithExecutor(exec))

	agent := &schema.Agent{
		ID: "agent-1",
		Steps: []*schema.WorkflowStep{
			{ID: "a", Kind: schema.KindAction, Plugin: "p", Action: "a"},
			{ID: "b", Kind: schema.KindAction, Plugin: "p", Action: "b", DependsOn: []string{"a"}, Retry: &schema.RetryPolicy{MaxAttempts: 1}},
			{ID: "c", Kind: schema.KindAction, Plugin: "p", Action: "c", DependsOn: []string{"b"}},
		},
	}

	res, err := p.Run(context.Background(), agent, "user-1", "sess-1", nil, execctx.RunModeProduction)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Completed, "a")
	require.Contains(t, res.Failed, "b")
	require.NotContains(t, res.Completed, "c")

	aCallsAfterFirstRun := atomic.LoadInt32(&aCalls)
	require.Equal(t, int32(1), aCallsAfterFirstRun)

	atomic.StoreInt32(&bShouldFail, 0)
	resumed, err := p.Resume(context.Background(), agent, res.ExecutionID)
	require.NoError(t, err)
	require.True(t, resumed.Success)
	require.Contains(t, resumed.Completed, "b")
	require.Contains(t, resumed.Completed, "c")

	// a must not have been re-run on resume.
	require.Equal(t, aCallsAfterFirstRun, atomic.LoadInt32(&aCalls))
}
