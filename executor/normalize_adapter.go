package executor

import (
	"github.com/AgentsPilot/neuronforge-sub000/normalize"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// Normalize runs a step's raw dispatch result through the OutputNormalizer,
// picking the runtime-key hint from the step's kind (or its transform
// operation, which is the more specific hint normalize's known-runtime-key
// table expects).
func Normalize(raw interface{}, step *schema.WorkflowStep) (map[string]interface{}, interface{}, *schema.NormalizationMeta) {
	hint := string(step.Kind)
	if step.Kind == schema.KindTransform || step.Kind == schema.KindEnrichment {
		hint = step.Operation
	}
	return normalize.Normalize(raw, normalize.Options{Outputs: step.Outputs, Hint: hint})
}
