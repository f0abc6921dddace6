package parallelexec

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// fakeRunner executes a step by reading the "item" variable (bound
// per-branch by parallelexec) and echoing it back as the step's output data,
// optionally failing when Params["fail"] is true.
type fakeRunner struct{}

func (fakeRunner) Execute(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error) {
	item, _ := ec.GetVariable("item")
	if step.Params != nil {
		if shouldFail, _ := step.Params["fail"].(bool); shouldFail {
			return nil, fmt.Errorf("forced failure for step %s", step.ID)
		}
	}
	return &schema.StepOutput{
		StepID: step.ID,
		Data:   map[string]interface{}{"echoed": item},
	}, nil
}

func newEC() *execctx.ExecutionContext {
	return execctx.New("exec-1", "agent-1", "user-1", "session-1", nil, execctx.RunModeProduction)
}

func TestRunScatterGatherCollect(t *testing.T) {
	ec := newEC()
	ec.SetVariable("batch", []interface{}{1, 2, 3})

	step := &schema.WorkflowStep{
		ID: "sg-1", Kind: schema.KindScatterGather,
		Scatter: &schema.ScatterSpec{
			Input: "{{var.batch}}",
			Steps: []*schema.WorkflowStep{{ID: "branch-step"}},
		},
		Gather: &schema.GatherSpec{Operation: "collect"},
	}

	pe := New(fakeRunner{}, 2)
	out, err := pe.RunScatterGather(context.Background(), ec, step)
	require.NoError(t, err)

	result, ok := out.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, 3, result["itemCount"])
	items := result["items"].([]interface{})
	require.ElementsMatch(t, []interface{}{
		map[string]interface{}{"echoed": 1},
		map[string]interface{}{"echoed": 2},
		map[string]interface{}{"echoed": 3},
	}, items)
}

func TestRunScatterGatherMerge(t *testing.T) {
	ec := newEC()
	ec.SetVariable("batch", []interface{}{"a", "b"})

	step := &schema.WorkflowStep{
		ID: "sg-2",
		Scatter: &schema.ScatterSpec{
			Input: "{{var.batch}}",
			Steps: []*schema.WorkflowStep{{ID: "branch-step"}},
		},
		Gather: &schema.GatherSpec{Operation: "merge"},
	}

	pe := New(fakeRunner{}, 2)
	out, err := pe.RunScatterGather(context.Background(), ec, step)
	require.NoError(t, err)
	merged := out.(map[string]interface{})
	require.Equal(t, "b", merged["echoed"]) // last write wins, consistent with map merge
}

func TestRunScatterGatherUnsupportedGatherOperation(t *testing.T) {
	ec := newEC()
	ec.SetVariable("batch", []interface{}{1})
	step := &schema.WorkflowStep{
		ID: "sg-3",
		Scatter: &schema.ScatterSpec{Input: "{{var.batch}}", Steps: []*schema.WorkflowStep{{ID: "s"}}},
		Gather:  &schema.GatherSpec{Operation: "reduce"},
	}
	pe := New(fakeRunner{}, 2)
	_, err := pe.RunScatterGather(context.Background(), ec, step)
	require.Error(t, err)
}

func TestRunScatterGatherPropagatesBranchFailure(t *testing.T) {
	ec := newEC()
	ec.SetVariable("batch", []interface{}{1, 2})
	step := &schema.WorkflowStep{
		ID: "sg-4",
		Scatter: &schema.ScatterSpec{
			Input: "{{var.batch}}",
			Steps: []*schema.WorkflowStep{{ID: "fails", Params: map[string]interface{}{"fail": true}}},
		},
		Gather: &schema.GatherSpec{Operation: "collect"},
	}
	pe := New(fakeRunner{}, 2)
	_, err := pe.RunScatterGather(context.Background(), ec, step)
	require.Error(t, err)
}

func TestRunLoopSequential(t *testing.T) {
	ec := newEC()
	ec.SetVariable("rows", []interface{}{"x", "y", "z"})
	step := &schema.WorkflowStep{
		ID: "loop-1", IterateOver: "var.rows",
		LoopSteps: []*schema.WorkflowStep{{ID: "loop-body"}},
	}
	pe := New(fakeRunner{}, 2)
	out, err := pe.RunLoop(context.Background(), ec, step)
	require.NoError(t, err)
	result := out.(map[string]interface{})
	require.Equal(t, 3, result["itemCount"])
}

func TestRunParallelGroupPreservesOrder(t *testing.T) {
	ec := newEC()
	steps := []*schema.WorkflowStep{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}
	pe := New(fakeRunner{}, 2)
	outputs, err := pe.RunParallelGroup(context.Background(), ec, steps)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	require.Equal(t, "a", outputs[0].StepID)
	require.Equal(t, "b", outputs[1].StepID)
	require.Equal(t, "c", outputs[2].StepID)
}

func TestRunParallelGroupFailsOnStepError(t *testing.T) {
	ec := newEC()
	steps := []*schema.WorkflowStep{
		{ID: "ok"}, {ID: "bad", Params: map[string]interface{}{"fail": true}},
	}
	pe := New(fakeRunner{}, 2)
	_, err := pe.RunParallelGroup(context.Background(), ec, steps)
	require.Error(t, err)
}
