package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

func TestAutoWireParams_ExactNameMatch(t *testing.T) {
	ec := newTestExecCtx()
	ec.SetStepOutput("s1", &schema.StepOutput{StepID: "s1", Data: map[string]interface{}{"lat": 48.85, "lon": 2.35}})

	actionSchema := PluginActionSchema{Parameters: map[string]ParamSchema{
		"lat": {Type: "number", Required: true},
		"lon": {Type: "number", Required: true},
	}}

	out := AutoWireParams(ec, map[string]interface{}{}, actionSchema)
	assert.Equal(t, 48.85, out["lat"])
	assert.Equal(t, 2.35, out["lon"])
}

func TestAutoWireParams_ExplicitValueWins(t *testing.T) {
	ec := newTestExecCtx()
	ec.SetStepOutput("s1", &schema.StepOutput{StepID: "s1", Data: map[string]interface{}{"lat": 48.85}})

	actionSchema := PluginActionSchema{Parameters: map[string]ParamSchema{
		"lat": {Type: "number", Required: true},
	}}

	out := AutoWireParams(ec, map[string]interface{}{"lat": 10.0}, actionSchema)
	assert.Equal(t, 10.0, out["lat"])
}

func TestAutoWireParams_NoMatchLeavesGap(t *testing.T) {
	ec := newTestExecCtx()
	ec.SetStepOutput("s1", &schema.StepOutput{StepID: "s1", Data: map[string]interface{}{"other": "value"}})

	actionSchema := PluginActionSchema{Parameters: map[string]ParamSchema{
		"lat": {Type: "number", Required: true},
	}}

	out := AutoWireParams(ec, map[string]interface{}{}, actionSchema)
	_, present := out["lat"]
	assert.False(t, present)
}

func TestAutoWireParams_NestedObjectExtractsStringIdentifier(t *testing.T) {
	ec := newTestExecCtx()
	ec.SetStepOutput("s1", &schema.StepOutput{StepID: "s1", Data: map[string]interface{}{
		"currency": map[string]interface{}{"code": "EUR", "name": "Euro"},
	}})

	actionSchema := PluginActionSchema{Parameters: map[string]ParamSchema{
		"currency": {Type: "string"},
	}}

	out := AutoWireParams(ec, map[string]interface{}{}, actionSchema)
	assert.Equal(t, "EUR", out["currency"])
}

func TestAutoWireParams_MostRecentProducerWins(t *testing.T) {
	ec := newTestExecCtx()
	ec.SetStepOutput("s1", &schema.StepOutput{StepID: "s1", Data: map[string]interface{}{"total": 1}})
	ec.SetStepOutput("s2", &schema.StepOutput{StepID: "s2", Data: map[string]interface{}{"total": 2}})

	actionSchema := PluginActionSchema{Parameters: map[string]ParamSchema{
		"total": {Type: "integer"},
	}}

	out := AutoWireParams(ec, map[string]interface{}{}, actionSchema)
	assert.Equal(t, int64(2), out["total"])
}
