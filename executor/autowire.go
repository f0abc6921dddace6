package executor

import (
	"strconv"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// AutoWireParams fills parameters an action's schema declares but the step's
// template-resolved params left unset, by matching against recorded step
// outputs (spec.md §4.10 "tiered/hybrid parameter resolution fallback",
// ground: gomind's orchestration.AutoWirer in auto_wire.go). Explicit params
// always win: a key already present in resolved is left untouched even if
// its template resolved to nil — auto-wiring only ever fills a genuine gap
// left by a step whose author didn't declare a template for that parameter.
// Matching walks every recorded step output, most recent first, looking for
// an exact or case-insensitive key match in its Data, then falls back
// silently (leaves the gap for CoercePluginParams' required-field default to
// handle) when nothing matches.
func AutoWireParams(ec *execctx.ExecutionContext, resolved map[string]interface{}, actionSchema PluginActionSchema) map[string]interface{} {
	out := make(map[string]interface{}, len(resolved))
	for k, v := range resolved {
		out[k] = v
	}

	outputs := ec.GetAllStepOutputs()
	for name, ps := range actionSchema.Parameters {
		if _, present := out[name]; present {
			continue
		}
		if val, ok := findAutoWireValue(outputs, name, ps.Type); ok {
			out[name] = autoWireCoerce(val, ps.Type)
		}
	}
	return out
}

// findAutoWireValue searches outputs in reverse (most recent producer wins)
// for a Data entry matching name, extracting a nested identifier field when
// the match is a structured object but the target wants a plain string.
func findAutoWireValue(outputs []*schema.StepOutput, name, paramType string) (interface{}, bool) {
	for i := len(outputs) - 1; i >= 0; i-- {
		data := outputs[i].Data
		if data == nil {
			continue
		}
		if val, ok := data[name]; ok {
			return extractAutoWireValue(val, paramType), true
		}
		lower := strings.ToLower(name)
		for key, val := range data {
			if strings.ToLower(key) == lower {
				return extractAutoWireValue(val, paramType), true
			}
		}
	}
	return nil, false
}

// extractAutoWireValue pulls a canonical string identifier out of a nested
// object when the target parameter wants a string — e.g. a producing step's
// {"id": "...", "name": "..."} record auto-wired into a string "id" param.
func extractAutoWireValue(val interface{}, paramType string) interface{} {
	if !strings.EqualFold(paramType, "string") {
		return val
	}
	obj, ok := val.(map[string]interface{})
	if !ok {
		return val
	}
	for _, field := range []string{"id", "code", "value", "name"} {
		if s, ok := obj[field].(string); ok {
			return s
		}
	}
	return val
}

func autoWireCoerce(val interface{}, paramType string) interface{} {
	switch strings.ToLower(paramType) {
	case "number", "float", "float64", "double":
		if f, ok := toAutoWireFloat(val); ok {
			return f
		}
	case "integer", "int", "int64":
		if f, ok := toAutoWireFloat(val); ok {
			return int64(f)
		}
	case "string":
		if s, ok := val.(string); ok {
			return s
		}
	}
	return val
}

func toAutoWireFloat(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
