package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

func TestLoadAgentYAML_ParsesSteps(t *testing.T) {
	doc := []byte(`
id: agent-1
name: Example
pilot_steps:
  - id: s1
    kind: action
    plugin: sheets
    action: read
  - id: s2
    kind: action
    plugin: sheets
    action: write
    dependsOn: [s1]
`)

	agent, err := LoadAgentYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
	require.Len(t, agent.PreferredSteps(), 2)
	assert.Equal(t, schema.KindAction, agent.PreferredSteps()[0].Kind)
	assert.Equal(t, []string{"s1"}, agent.PreferredSteps()[1].DependsOn)
}

func TestLoadAgentYAML_ParsesExecuteIfAndConditionVariants(t *testing.T) {
	doc := []byte(`
id: agent-2
name: Example
pilot_steps:
  - id: s1
    kind: action
    plugin: sheets
    action: read
    executeIf: "{{input.enabled}}"
  - id: s2
    kind: conditional
    dependsOn: [s1]
    condition:
      field: step1.data.score
      operator: ">"
      value: 70
`)

	agent, err := LoadAgentYAML(doc)
	require.NoError(t, err)
	steps := agent.PreferredSteps()
	require.Len(t, steps, 2)

	require.NotNil(t, steps[0].ExecuteIf, "executeIf must decode through Condition.UnmarshalYAML, not to a zero value")
	assert.Equal(t, "{{input.enabled}}", steps[0].ExecuteIf.Expression)

	require.NotNil(t, steps[1].Condition)
	require.NotNil(t, steps[1].Condition.Simple, "simple condition object must decode through Condition.UnmarshalYAML")
	assert.Equal(t, "step1.data.score", steps[1].Condition.Simple.Field)
	assert.Equal(t, ">", steps[1].Condition.Simple.Operator)
}

func TestLoadAgentYAML_RejectsEmptySteps(t *testing.T) {
	_, err := LoadAgentYAML([]byte(`id: agent-1`))
	assert.Error(t, err)
}

func TestLoadAgentYAML_RejectsMalformed(t *testing.T) {
	_, err := LoadAgentYAML([]byte(`: not yaml: [`))
	assert.Error(t, err)
}
