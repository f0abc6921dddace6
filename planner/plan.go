package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// PlannedStep is one step annotated with its execution level and, when it
// shares a level with other parallel-eligible steps, a parallel-group id.
type PlannedStep struct {
	Step          *schema.WorkflowStep
	Level         int
	ParallelGroup string
}

// ExecutionPlan is the Planner's output: a topologically valid step order
// annotated with levels and parallel groups (spec.md §4.1).
type ExecutionPlan struct {
	Steps        []*PlannedStep
	Levels       [][]*PlannedStep
	CriticalPath []string
}

// Plan normalizes, validates, and plans steps in one call. Returns the
// first validation error found wrapped as an error, or the ExecutionPlan on
// success.
func Plan(steps []*schema.WorkflowStep) (*ExecutionPlan, *ValidationResult, error) {
	normalized := Normalize(steps)
	result := Validate(normalized)
	if !result.OK() {
		return nil, result, fmt.Errorf("planner: validation failed: %s", result.Errors[0].Error())
	}
	plan, err := build(normalized)
	return plan, result, err
}

func build(steps []*schema.WorkflowStep) (*ExecutionPlan, error) {
	byID := make(map[string]*schema.WorkflowStep, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
		if _, ok := indegree[s.ID]; !ok {
			indegree[s.ID] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	// Kahn's algorithm, processing a deterministic (sorted) frontier each
	// round so output order doesn't depend on map iteration order.
	level := make(map[string]int, len(steps))
	var order []string
	queue := readyQueue(indegree, nil)
	remaining := indegree
	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		maxDepLevel := -1
		for _, dep := range byID[id].DependsOn {
			if level[dep] > maxDepLevel {
				maxDepLevel = level[dep]
			}
		}
		level[id] = maxDepLevel + 1

		for _, next := range dependents[id] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(steps) {
		return nil, fmt.Errorf("planner: unable to fully order steps (residual dependency cycle)")
	}

	maxLevel := 0
	for _, l := range level {
		if l > maxLevel {
			maxLevel = l
		}
	}
	levels := make([][]*PlannedStep, maxLevel+1)
	planned := make([]*PlannedStep, 0, len(steps))
	plannedByID := make(map[string]*PlannedStep, len(steps))

	for _, id := range order {
		ps := &PlannedStep{Step: byID[id], Level: level[id]}
		planned = append(planned, ps)
		plannedByID[id] = ps
		levels[level[id]] = append(levels[level[id]], ps)
	}

	for _, levelSteps := range levels {
		assignParallelGroups(levelSteps)
	}

	return &ExecutionPlan{
		Steps:        planned,
		Levels:       levels,
		CriticalPath: criticalPath(levels),
	}, nil
}

func readyQueue(indegree map[string]int, _ []string) []string {
	var q []string
	for id, d := range indegree {
		if d == 0 {
			q = append(q, id)
		}
	}
	return q
}

// assignParallelGroups groups same-level steps that are each individually
// parallel-eligible. Since all steps in a level are, by construction,
// mutually independent (none depends on another — dependencies only point
// to strictly lower levels), the only additional requirement is per-step
// eligibility (spec.md §4.1 canRunInParallel).
func assignParallelGroups(levelSteps []*PlannedStep) {
	var eligible []*PlannedStep
	for _, ps := range levelSteps {
		if schema.CanRunInParallel(ps.Step.Kind, ps.Step.Parallel) {
			eligible = append(eligible, ps)
		}
	}
	if len(eligible) < 2 {
		return
	}
	groupID := fmt.Sprintf("pg-L%d", eligible[0].Level)
	for _, ps := range eligible {
		ps.ParallelGroup = groupID
	}
}

// criticalPath picks one representative step id per level (the first by
// sorted id), giving a deterministic single-path view through the plan for
// diagnostics.
func criticalPath(levels [][]*PlannedStep) []string {
	var path []string
	for _, levelSteps := range levels {
		if len(levelSteps) == 0 {
			continue
		}
		ids := make([]string, len(levelSteps))
		for i, ps := range levelSteps {
			ids[i] = ps.Step.ID
		}
		sort.Strings(ids)
		path = append(path, ids[0])
	}
	return path
}

// Statistics is the plan's rough-duration-estimate summary (spec.md §3
// ExecutionPlan "rough duration estimate"; SPEC_FULL.md §4.10 "DAG
// statistics", ground: gomind's workflow_dag.go DAGStatistics). Estimated
// duration assumes one second per level plus a fixed per-step overhead,
// which is the only estimate available before any step has actually run.
type Statistics struct {
	TotalSteps      int
	LevelCount      int
	ParallelGroups  int
	MaxParallelism  int
	EstimatedDuration time.Duration
}

// Statistics computes a DAGStatistics-style summary over the plan.
func (p *ExecutionPlan) Statistics() Statistics {
	stats := Statistics{
		TotalSteps: len(p.Steps),
		LevelCount: len(p.Levels),
	}
	groups := map[string]bool{}
	for _, levelSteps := range p.Levels {
		if len(levelSteps) > stats.MaxParallelism {
			stats.MaxParallelism = len(levelSteps)
		}
		for _, ps := range levelSteps {
			if ps.ParallelGroup != "" {
				groups[ps.ParallelGroup] = true
			}
		}
	}
	stats.ParallelGroups = len(groups)
	stats.EstimatedDuration = time.Duration(stats.LevelCount)*time.Second + time.Duration(stats.TotalSteps)*100*time.Millisecond
	return stats
}

// Visualize renders a simple level-by-level text diagram for debugging and
// log output, grounded on gomind's workflow_dag.go plan-printing helper.
func (p *ExecutionPlan) Visualize() string {
	var b strings.Builder
	for i, levelSteps := range p.Levels {
		fmt.Fprintf(&b, "L%d: ", i)
		parts := make([]string, 0, len(levelSteps))
		for _, ps := range levelSteps {
			if ps.ParallelGroup != "" {
				parts = append(parts, fmt.Sprintf("%s[%s](%s)", ps.Step.ID, ps.Step.Kind, ps.ParallelGroup))
			} else {
				parts = append(parts, fmt.Sprintf("%s[%s]", ps.Step.ID, ps.Step.Kind))
			}
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
