package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

func outs(keys ...string) map[string]schema.OutputDescriptor {
	m := map[string]schema.OutputDescriptor{}
	for _, k := range keys {
		m[k] = schema.OutputDescriptor{Type: "string"}
	}
	return m
}

func TestNormalize_NullMapsToFirstDeclaredKey(t *testing.T) {
	data, _, meta := Normalize(nil, Options{Outputs: outs("summary")})
	assert.True(t, meta.Normalized)
	assert.Nil(t, data["summary"])
}

func TestNormalize_ArrayMapsToFirstDeclaredKey(t *testing.T) {
	data, raw, meta := Normalize([]interface{}{"a", "b"}, Options{Outputs: outs("items")})
	assert.Equal(t, []interface{}{"a", "b"}, data["items"])
	assert.True(t, meta.Normalized)
	assert.NotNil(t, raw)
}

func TestNormalize_ObjectPassThroughWhenKeyPresent(t *testing.T) {
	raw := map[string]interface{}{"items": []interface{}{"x"}, "count": float64(1)}
	data, _, meta := Normalize(raw, Options{Outputs: outs("items", "count")})
	assert.Equal(t, raw["items"], data["items"])
	assert.Equal(t, raw["count"], data["count"])
	assert.False(t, meta.Normalized) // both keys already present — pass-through
}

func TestNormalize_ObjectMapsFromKnownRuntimeKey(t *testing.T) {
	raw := map[string]interface{}{"filtered": []interface{}{"x", "y"}}
	data, _, meta := Normalize(raw, Options{Outputs: outs("items"), Hint: "filter"})
	assert.Equal(t, raw["filtered"], data["items"])
	assert.Equal(t, "filtered", meta.KeyMappings["items"])
}

func TestNormalize_SingleKeyWrapsWholeObject(t *testing.T) {
	raw := map[string]interface{}{"_foo": "bar", "_baz": float64(1)}
	data, _, meta := Normalize(raw, Options{Outputs: outs("result")})
	assert.Equal(t, raw, data["result"])
	assert.Equal(t, "*", meta.KeyMappings["result"])
}

func TestNormalize_StringJSONObjectParsed(t *testing.T) {
	declared := map[string]schema.OutputDescriptor{"payload": {Type: "object"}}
	data, _, meta := Normalize(`{"a":1}`, Options{Outputs: declared})
	assert.Equal(t, float64(1), data["payload"].(map[string]interface{})["a"])
	assert.Contains(t, meta.JSONParsedKeys, "payload")
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := map[string]interface{}{"filtered": []interface{}{"x"}, "count": float64(1)}
	declared := outs("items", "count")

	data1, _, _ := Normalize(raw, Options{Outputs: declared, Hint: "filter"})
	data2, _, _ := Normalize(data1, Options{Outputs: declared, Hint: "filter"})
	require.Equal(t, data1, data2)
}
