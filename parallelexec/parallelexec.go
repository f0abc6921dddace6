// Package parallelexec implements the ParallelExecutor (spec.md §4.7):
// bounded-concurrency fan-out for scatter_gather, loop, and parallel_group
// steps. Grounded on gomind's orchestration task worker pool
// (orchestration/task_worker.go's TaskWorkerPool, a bounded goroutine pool
// over a task channel), adapted from "dispatch N agent tasks" to "dispatch N
// branch executions of the same step list against a cloned ExecutionContext".
package parallelexec

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/executor"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// StepRunner is the single method this package needs back from the
// StepExecutor — declared locally (rather than depending on
// *executor.Executor concretely) so construction order is unconstrained: the
// Orchestrator builds the Executor first, wires a StepRunner (the Pilot
// itself) into a ParallelExecutor, and only then hands the ParallelExecutor
// back to the Executor via SetParallelHandle, breaking what would otherwise
// be a construction cycle between the two concrete types.
type StepRunner interface {
	Execute(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (*schema.StepOutput, error)
}

// Executor is the ParallelExecutor. It satisfies executor.ParallelHandle
// structurally (Go interfaces are structural, so no import of executor is
// required for that — only for the ResolveValue helper reused below).
type Executor struct {
	runner      StepRunner
	maxParallel int
	logger      core.Logger
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l core.Logger) Option { return func(e *Executor) { e.logger = l } }

// New creates a ParallelExecutor bounded to maxParallel concurrent branches
// (spec.md §4.7 "bounded worker pool sized by maxParallelSteps").
func New(runner StepRunner, maxParallel int, opts ...Option) *Executor {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	e := &Executor{runner: runner, maxParallel: maxParallel, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// branchResult pairs an index (for stable gather ordering) with its outcome.
type branchResult struct {
	index  int
	output *schema.StepOutput
	err    error
}

// RunScatterGather implements executor.ParallelHandle: scatters step.Scatter
// over each resolved input item (cloning ec per branch so concurrent
// branches never clobber each other's bound iteration variable), runs
// step.Scatter.Steps for each clone, then combines the branch results per
// step.Gather.Operation (spec.md §4.7, "Gather operations restricted to
// collect|merge|concat").
func (e *Executor) RunScatterGather(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	if step.Scatter == nil || step.Gather == nil {
		return nil, fmt.Errorf("parallelexec: scatter_gather step %q missing scatter or gather block", step.ID)
	}

	items := asSlice(executor.ResolveValue(ec, step.Scatter.Input))
	itemName := step.Scatter.ItemName
	if itemName == "" {
		itemName = "item"
	}

	results := e.runBranches(ctx, ec, items, itemName, step.Scatter.Steps)
	for _, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("parallelexec: scatter_gather %q branch %d failed: %w", step.ID, r.index, r.err)
		}
	}
	return gather(step.Gather.Operation, results)
}

// RunLoop is the orchestrator-invoked runner for loop steps (spec.md §3
// "loop", not dispatched by the StepExecutor itself — loop/parallel_group
// are orchestrator-owned kinds). Iterates step.IterateOver; branches run
// concurrently when step.Parallel is set, sequentially otherwise.
func (e *Executor) RunLoop(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep) (interface{}, error) {
	if step.IterateOver == "" {
		return nil, fmt.Errorf("parallelexec: loop step %q requires iterateOver", step.ID)
	}
	items := asSlice(executor.ResolveValue(ec, iterateOverRef(step.IterateOver)))
	itemName := step.ItemName
	if itemName == "" {
		itemName = "item"
	}

	var results []branchResult
	if step.Parallel {
		results = e.runBranches(ctx, ec, items, itemName, step.LoopSteps)
	} else {
		results = e.runBranchesSequential(ctx, ec, items, itemName, step.LoopSteps)
	}

	out := make([]interface{}, 0, len(results))
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if r.output != nil {
			out = append(out, r.output.Data)
		}
	}
	if firstErr != nil && !step.ContinueOnError {
		return nil, fmt.Errorf("parallelexec: loop %q failed: %w", step.ID, firstErr)
	}
	return map[string]interface{}{"items": out, "itemCount": len(out)}, nil
}

// iterateOverRef wraps a bare reference path in `{{...}}` so it can go
// through executor.ResolveValue the same way scatter.Input does; loop steps
// declare IterateOver as the bare path (spec.md §3 "loop.iterateOver").
func iterateOverRef(path string) string {
	if path == "" {
		return ""
	}
	return "{{" + path + "}}"
}

// RunParallelGroup runs an independent set of steps concurrently against the
// same ec (spec.md §4.7 "parallel_group": a set of steps with no edges
// between them, run bounded-concurrently within one DAG level). Order of the
// returned outputs matches the order of steps.
func (e *Executor) RunParallelGroup(ctx context.Context, ec *execctx.ExecutionContext, steps []*schema.WorkflowStep) ([]*schema.StepOutput, error) {
	results := make([]branchResult, len(steps))
	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup

	for i, s := range steps {
		wg.Add(1)
		go func(i int, s *schema.WorkflowStep) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out, err := e.runner.Execute(ctx, ec, s)
			results[i] = branchResult{index: i, output: out, err: err}
		}(i, s)
	}
	wg.Wait()

	outputs := make([]*schema.StepOutput, len(steps))
	for i, r := range results {
		outputs[i] = r.output
		if r.err != nil && !steps[i].ContinueOnError {
			return outputs, fmt.Errorf("parallelexec: parallel_group step %q failed: %w", steps[i].ID, r.err)
		}
	}
	return outputs, nil
}

// runBranches clones ec once per item, binds itemName (and "index") on the
// clone, and runs subSteps for each clone with bounded concurrency.
func (e *Executor) runBranches(ctx context.Context, ec *execctx.ExecutionContext, items []interface{}, itemName string, subSteps []*schema.WorkflowStep) []branchResult {
	results := make([]branchResult, len(items))
	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item interface{}) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.runOneBranch(ctx, ec, itemName, i, item, subSteps)
		}(i, item)
	}
	wg.Wait()
	return results
}

func (e *Executor) runBranchesSequential(ctx context.Context, ec *execctx.ExecutionContext, items []interface{}, itemName string, subSteps []*schema.WorkflowStep) []branchResult {
	results := make([]branchResult, len(items))
	for i, item := range items {
		results[i] = e.runOneBranch(ctx, ec, itemName, i, item, subSteps)
	}
	return results
}

func (e *Executor) runOneBranch(ctx context.Context, ec *execctx.ExecutionContext, itemName string, index int, item interface{}, subSteps []*schema.WorkflowStep) branchResult {
	branch := ec.Clone()
	branch.SetVariable(itemName, item)
	branch.SetVariable("index", index)

	var last *schema.StepOutput
	for _, sub := range subSteps {
		out, err := e.runner.Execute(ctx, branch, sub)
		if err != nil && !sub.ContinueOnError {
			return branchResult{index: index, err: err}
		}
		last = out
	}
	return branchResult{index: index, output: last}
}

// gather combines branch results per the closed gather-operation set
// (collect|merge|concat — spec.md §4.11 "gather operations restricted to a
// closed set").
func gather(operation string, results []branchResult) (interface{}, error) {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	switch operation {
	case "collect":
		out := make([]interface{}, 0, len(results))
		for _, r := range results {
			if r.output != nil {
				out = append(out, r.output.Data)
			} else {
				out = append(out, nil)
			}
		}
		return map[string]interface{}{"items": out, "itemCount": len(out)}, nil

	case "merge":
		merged := map[string]interface{}{}
		for _, r := range results {
			if r.output == nil {
				continue
			}
			for k, v := range r.output.Data {
				merged[k] = v
			}
		}
		return merged, nil

	case "concat":
		var out []interface{}
		for _, r := range results {
			if r.output == nil {
				continue
			}
			out = append(out, asSlice(r.output.Data)...)
		}
		return map[string]interface{}{"items": out, "itemCount": len(out)}, nil

	default:
		return nil, fmt.Errorf("parallelexec: unsupported gather operation %q", operation)
	}
}

// asSlice normalizes a resolved value into a slice: a native []interface{}
// passes through, a map's first array under "items", "rows", "records" or
// "filtered" (probed in that order; a shorter list than transform's unwrap
// priority list) is unwrapped, anything else becomes a single-element slice,
// and nil becomes empty.
func asSlice(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	case map[string]interface{}:
		for _, key := range []string{"items", "rows", "records", "filtered"} {
			if arr, ok := t[key].([]interface{}); ok {
				return arr
			}
		}
		return []interface{}{t}
	default:
		return []interface{}{t}
	}
}
