package planner

import (
	"github.com/AgentsPilot/neuronforge-sub000/condition"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// gatherOperations is the closed set of scatter_gather "gather.operation"
// values resolved by SPEC_FULL.md §4.11's Open Question answer: collect
// (default, array of per-item outputs), merge (shallow-merge per-item object
// outputs), concat (flatten one level). Anything else fails at planning time
// rather than at execution time.
var gatherOperations = map[string]bool{
	"collect": true,
	"merge":   true,
	"concat":  true,
}

// Validate runs the full structural validation pass from spec.md §4.1 over
// an already-Normalize'd step list, recursing into sub_workflow steps.
func Validate(steps []*schema.WorkflowStep) *ValidationResult {
	r := &ValidationResult{}
	validateInto(steps, r)
	return r
}

func validateInto(steps []*schema.WorkflowStep, r *ValidationResult) {
	seen := map[string]bool{}
	ids := map[string]bool{}
	for _, s := range steps {
		ids[s.ID] = true
	}

	for _, s := range steps {
		if s.ID == "" {
			r.addError("missing_id", "", "step has no id after normalization")
			continue
		}
		if seen[s.ID] {
			r.addError("duplicate_id", s.ID, "duplicate step id")
		}
		seen[s.ID] = true

		for _, dep := range s.DependsOn {
			if !ids[dep] {
				r.addError("missing_dependency", s.ID, "depends on unknown step %q", dep)
			}
		}

		validateKindFields(s, r)

		if s.ExecuteIf != nil {
			if err := condition.Validate(s.ExecuteIf); err != nil {
				r.addError("invalid_condition", s.ID, "%s", err)
			}
		}

		switch s.Kind {
		case schema.KindConditional:
			validateInto(s.ThenSteps, r)
			validateInto(s.ElseSteps, r)
		case schema.KindLoop:
			validateInto(s.LoopSteps, r)
		case schema.KindSubWorkflow:
			validateInto(s.WorkflowSteps, r)
		case schema.KindScatterGather:
			if s.Scatter != nil {
				validateInto(s.Scatter.Steps, r)
			}
		}
	}

	if _, ok := detectCycle(steps); ok {
		r.addError("cycle", "", "Circular dependency detected")
	}
}

func validateKindFields(s *schema.WorkflowStep, r *ValidationResult) {
	switch s.Kind {
	case schema.KindAction:
		if s.Plugin == "" || s.Action == "" {
			r.addError("missing_fields", s.ID, "action step requires plugin and action")
		}
	case schema.KindConditional:
		if s.Condition == nil && s.ExecuteIf == nil {
			r.addError("missing_fields", s.ID, "conditional step requires a condition")
		}
	case schema.KindLoop:
		if s.IterateOver == "" || len(s.LoopSteps) == 0 {
			r.addError("missing_fields", s.ID, "loop step requires iterateOver and loopSteps")
		}
	case schema.KindTransform:
		if s.Operation == "" || s.Input == nil {
			r.addError("missing_fields", s.ID, "transform step requires operation and input")
		}
	case schema.KindScatterGather:
		if s.Scatter == nil || s.Scatter.Input == nil || len(s.Scatter.Steps) == 0 {
			r.addError("missing_fields", s.ID, "scatter_gather step requires scatter.input and scatter.steps")
		}
		if s.Gather == nil || s.Gather.Operation == "" {
			r.addError("missing_fields", s.ID, "scatter_gather step requires gather.operation")
		} else if !gatherOperations[s.Gather.Operation] {
			r.addError("invalid_gather_operation", s.ID, "unsupported gather.operation %q (must be collect, merge, or concat)", s.Gather.Operation)
		}
	case schema.KindValidation:
		if s.ValidationSchema == nil && len(s.Rules) == 0 {
			r.addError("missing_fields", s.ID, "validation step requires schema or rules")
		}
	case schema.KindComparison:
		if s.Left == nil || s.Right == nil || s.CompareOperation == "" {
			r.addError("missing_fields", s.ID, "comparison step requires left, right, and operation")
		}
	case schema.KindHumanApproval:
		if len(s.Approvers) == 0 || s.ApprovalType == "" || s.Title == "" {
			r.addError("missing_fields", s.ID, "human_approval step requires approvers, approvalType, and title")
		}
	case schema.KindSubWorkflow:
		if s.WorkflowID == "" && len(s.WorkflowSteps) == 0 {
			r.addError("missing_fields", s.ID, "sub_workflow step requires workflowId or workflowSteps")
		}
	}
}

// detectCycle runs a DFS with a recursion-stack back-edge check.
func detectCycle(steps []*schema.WorkflowStep) ([]string, bool) {
	byID := map[string]*schema.WorkflowStep{}
	for _, s := range steps {
		byID[s.ID] = s
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = gray
		path = append(path, id)
		if s, ok := byID[id]; ok {
			for _, dep := range s.DependsOn {
				switch color[dep] {
				case gray:
					return append(append([]string(nil), path...), dep), true
				case white:
					if cyclePath, found := visit(dep); found {
						return cyclePath, true
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil, false
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if cyclePath, found := visit(s.ID); found {
				return cyclePath, true
			}
		}
	}
	return nil, false
}
