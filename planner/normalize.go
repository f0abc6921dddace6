package planner

import (
	"fmt"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// Normalize applies spec.md §4.1's normalization pass ahead of validation
// and planning: auto-assigns sequential ids, rewrites legacy plugin_action
// steps, converts alternate scatter-gather shapes into the canonical form,
// and synthesizes sequential dependencies when the author declared none.
func Normalize(steps []*schema.WorkflowStep) []*schema.WorkflowStep {
	for i, s := range steps {
		if s.ID == "" {
			s.ID = fmt.Sprintf("step%d", i+1)
		}
		normalizeLegacyPluginAction(s)
		normalizeScatterGather(s)
		if s.Kind == schema.KindConditional {
			for _, sub := range s.ThenSteps {
				Normalize([]*schema.WorkflowStep{sub})
			}
			for _, sub := range s.ElseSteps {
				Normalize([]*schema.WorkflowStep{sub})
			}
		}
		if s.Kind == schema.KindLoop {
			Normalize(s.LoopSteps)
		}
		if s.Kind == schema.KindSubWorkflow {
			Normalize(s.WorkflowSteps)
		}
	}

	if !anyDependencyDeclared(steps) && len(steps) > 1 {
		for i := 1; i < len(steps); i++ {
			steps[i].DependsOn = []string{steps[i-1].ID}
		}
	}
	return steps
}

func normalizeLegacyPluginAction(s *schema.WorkflowStep) {
	if s.PluginAction == "" || s.Plugin != "" {
		return
	}
	parts := strings.SplitN(s.PluginAction, ".", 2)
	s.Plugin = parts[0]
	if len(parts) == 2 {
		s.Action = parts[1]
	}
	if s.Kind == "" {
		s.Kind = schema.KindAction
	}
	s.PluginAction = ""
}

// normalizeScatterGather converts the alternate (pre-canonical) shape —
// iterateOver/loopSteps/itemName fields directly on a scatter_gather step —
// into the canonical {scatter:{input,steps,item_name}, gather:{operation}}.
func normalizeScatterGather(s *schema.WorkflowStep) {
	if s.Kind != schema.KindScatterGather {
		return
	}
	if s.Scatter == nil && (s.IterateOver != "" || len(s.LoopSteps) > 0) {
		s.Scatter = &schema.ScatterSpec{
			Input:    s.IterateOver,
			Steps:    s.LoopSteps,
			ItemName: s.ItemName,
		}
	}
	if s.Scatter != nil && s.Scatter.ItemName == "" {
		s.Scatter.ItemName = "item"
	}
	if s.Gather == nil {
		s.Gather = &schema.GatherSpec{Operation: "collect"}
	}
}

func anyDependencyDeclared(steps []*schema.WorkflowStep) bool {
	for _, s := range steps {
		if len(s.DependsOn) > 0 {
			return true
		}
	}
	return false
}
