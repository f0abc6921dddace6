package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

type mockPluginRuntime struct {
	result PluginResult
	err    error
	def    *PluginDefinition
}

func (m *mockPluginRuntime) Execute(ctx context.Context, userID, plugin, action string, params map[string]interface{}) (PluginResult, error) {
	return m.result, m.err
}
func (m *mockPluginRuntime) GetPluginDefinition(ctx context.Context, plugin string) (*PluginDefinition, error) {
	if m.def == nil {
		return nil, assertErr
	}
	return m.def, nil
}

var assertErr = &ExecutionError{Code: "NO_DEF", Message: "no definition"}

func newTestExecCtx() *execctx.ExecutionContext {
	return execctx.New("exec-1", "agent-1", "user-1", "sess-1", map[string]interface{}{"name": "Ada"}, execctx.RunModeProduction)
}

func TestExecute_ActionSuccess(t *testing.T) {
	pr := &mockPluginRuntime{result: PluginResult{Success: true, Data: map[string]interface{}{"rows": []interface{}{1, 2, 3}}}}
	e := New(WithPluginRuntime(pr), WithCachingEnabled(false))

	step := &schema.WorkflowStep{
		ID: "s1", Kind: schema.KindAction, Plugin: "sheets", Action: "read",
		Params:  map[string]interface{}{"range": "{{input.name}}"},
		Outputs: map[string]schema.OutputDescriptor{"rows": {Type: "array"}},
	}
	out, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.NoError(t, err)
	assert.True(t, out.Metadata.Success)
	assert.Equal(t, []interface{}{1, 2, 3}, out.Data["rows"])
}

func TestExecute_ActionFailurePropagatesErrorCode(t *testing.T) {
	pr := &mockPluginRuntime{result: PluginResult{Success: false, Error: "boom"}}
	e := New(WithPluginRuntime(pr), WithCachingEnabled(false))

	step := &schema.WorkflowStep{ID: "s1", Kind: schema.KindAction, Plugin: "sheets", Action: "read"}
	out, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.Error(t, err)
	assert.False(t, out.Metadata.Success)
	assert.Equal(t, CodeStepExecutionFailed, out.Metadata.ErrorCode)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeStepExecutionFailed, execErr.Code)
}

func TestExecute_MissingPluginAction(t *testing.T) {
	e := New(WithCachingEnabled(false))
	step := &schema.WorkflowStep{ID: "s1", Kind: schema.KindAction}
	_, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.Error(t, err)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeMissingPluginAction, execErr.Code)
}

func TestExecute_CachesActionResult(t *testing.T) {
	pr := &mockPluginRuntime{result: PluginResult{Success: true, Data: map[string]interface{}{"rows": []interface{}{1}}}}
	e := New(WithPluginRuntime(pr), WithCachingEnabled(true), WithCache(NewMemoryStepCache(10, time.Minute), time.Minute))

	step := &schema.WorkflowStep{
		ID: "s1", Kind: schema.KindAction, Plugin: "sheets", Action: "read",
		Outputs: map[string]schema.OutputDescriptor{"rows": {Type: "array"}},
	}
	ec := newTestExecCtx()
	_, err := e.Execute(context.Background(), ec, step)
	require.NoError(t, err)

	pr.result = PluginResult{Success: true, Data: map[string]interface{}{"rows": []interface{}{9, 9, 9}}}
	out2, err := e.Execute(context.Background(), ec, step)
	require.NoError(t, err)
	// Second call must be served from cache, not the mutated mock result.
	assert.Equal(t, []interface{}{1}, out2.Data["rows"])
}

func TestExecute_TransformFilter(t *testing.T) {
	e := New(WithCachingEnabled(false))
	step := &schema.WorkflowStep{
		ID: "s1", Kind: schema.KindTransform, Operation: "filter",
		Input:  []interface{}{map[string]interface{}{"x": 1.0}, map[string]interface{}{"x": 2.0}, map[string]interface{}{"x": 3.0}},
		Config: map[string]interface{}{"condition": map[string]interface{}{"field": "item.x", "operator": ">", "value": 1}},
	}
	out, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Metadata.ItemCount)
}

func TestExecute_Comparison(t *testing.T) {
	e := New(WithCachingEnabled(false))
	step := &schema.WorkflowStep{
		ID: "s1", Kind: schema.KindComparison, Left: 5, Right: 3, CompareOperation: ">",
		Outputs: map[string]schema.OutputDescriptor{"result": {Type: "boolean"}},
	}
	out, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["result"])
}

func TestExecute_Delay(t *testing.T) {
	e := New(WithCachingEnabled(false))
	step := &schema.WorkflowStep{ID: "s1", Kind: schema.KindDelay, DurationMs: 1}
	out, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.NoError(t, err)
	assert.True(t, out.Metadata.Success)
}

func TestExecute_ConditionalRunsThenBranch(t *testing.T) {
	pr := &mockPluginRuntime{result: PluginResult{Success: true, Data: map[string]interface{}{"ok": true}}}
	e := New(WithPluginRuntime(pr), WithCachingEnabled(false))

	step := &schema.WorkflowStep{
		ID:        "s1",
		Kind:      schema.KindConditional,
		Condition: &schema.Condition{Expression: "1 == 1"},
		ThenSteps: []*schema.WorkflowStep{{ID: "then1", Kind: schema.KindAction, Plugin: "p", Action: "a"}},
		ElseSteps: []*schema.WorkflowStep{{ID: "else1", Kind: schema.KindAction, Plugin: "p", Action: "a"}},
	}
	out, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.NoError(t, err)
	assert.Equal(t, "then", out.Data["branch"])
	assert.Equal(t, true, out.Data["matched"])
}

func TestExecute_ValidationRules(t *testing.T) {
	e := New(WithCachingEnabled(false))
	ec := newTestExecCtx()
	ec.SetVariable("email", "not-an-email")

	step := &schema.WorkflowStep{
		ID:   "s1",
		Kind: schema.KindValidation,
		Rules: []map[string]interface{}{
			{"field": "var.email", "rule": "email", "message": "email invalid"},
		},
	}
	out, err := e.Execute(context.Background(), ec, step)
	require.NoError(t, err)
	assert.Equal(t, false, out.Data["valid"])
}

func TestExecute_ScatterGatherWithoutParallelHandleErrors(t *testing.T) {
	e := New(WithCachingEnabled(false))
	step := &schema.WorkflowStep{
		ID:   "s1",
		Kind: schema.KindScatterGather,
		Scatter: &schema.ScatterSpec{Input: []interface{}{1, 2}, Steps: []*schema.WorkflowStep{
			{ID: "inner", Kind: schema.KindAction, Plugin: "p", Action: "a"},
		}},
		Gather: &schema.GatherSpec{Operation: "collect"},
	}
	_, err := e.Execute(context.Background(), newTestExecCtx(), step)
	require.Error(t, err)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeMissingParallelExecutor, execErr.Code)
}
