package pluginrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/executor"
)

func TestRegistryExecuteRoutesToRegisteredHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register("mail", "send", executor.PluginActionSchema{
		Parameters: map[string]executor.ParamSchema{"to": {Type: "string", Required: true}},
	}, func(ctx context.Context, userID string, params map[string]interface{}) (executor.PluginResult, error) {
		return executor.PluginResult{Success: true, Data: map[string]interface{}{"to": params["to"]}}, nil
	})

	result, err := reg.Execute(context.Background(), "u1", "mail", "send", map[string]interface{}{"to": "a@b.com"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a@b.com", data["to"])
}

func TestRegistryExecuteUnknownAction(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "u1", "mail", "send", nil)
	assert.Error(t, err)
}

func TestRegistryGetPluginDefinition(t *testing.T) {
	reg := NewRegistry()
	schema := executor.PluginActionSchema{Parameters: map[string]executor.ParamSchema{"x": {Type: "string"}}}
	reg.Register("mail", "send", schema, func(context.Context, string, map[string]interface{}) (executor.PluginResult, error) {
		return executor.PluginResult{}, nil
	})

	def, err := reg.GetPluginDefinition(context.Background(), "mail")
	require.NoError(t, err)
	require.Contains(t, def.Actions, "send")

	_, err = reg.GetPluginDefinition(context.Background(), "unknown")
	assert.Error(t, err)
}
