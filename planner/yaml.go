package planner

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// LoadAgentYAML parses an Agent workflow definition from YAML (spec.md §3's
// Agent/WorkflowStep types carry yaml tags for exactly this). Authors may
// write workflows by hand this way instead of generating the JSON shape the
// rest of the system persists and exchanges.
func LoadAgentYAML(data []byte) (*schema.Agent, error) {
	var agent schema.Agent
	if err := yaml.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("planner: parse agent yaml: %w", err)
	}
	if len(agent.PreferredSteps()) == 0 {
		return nil, fmt.Errorf("planner: agent yaml declares no steps")
	}
	return &agent, nil
}
