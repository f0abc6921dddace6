package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub000/execctx"
)

// wholeRefPattern matches a field whose entire value is a single `{{...}}`
// reference — these resolve to the referenced value's native type (array,
// object, number) rather than its stringified form.
var wholeRefPattern = regexp.MustCompile(`^\{\{\s*([^}]+?)\s*\}\}$`)

// ResolveValue deep-resolves `{{...}}` references in v (spec.md §4.5 step
// (4)): a string that is *entirely* one reference resolves to that
// reference's native value; a string containing a reference alongside other
// text falls back to textual substitution (execctx.RenderSimple); maps and
// slices are walked recursively. Everything else passes through unchanged.
func ResolveValue(ec *execctx.ExecutionContext, v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if m := wholeRefPattern.FindStringSubmatch(t); m != nil {
			if resolved, ok := ec.Resolve(m[1]); ok {
				return resolved
			}
			return nil
		}
		return ec.RenderSimple(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = ResolveValue(ec, val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = ResolveValue(ec, val)
		}
		return out
	default:
		return v
	}
}

// ResolveFields resolves every value in fields, returning a new map. Used
// both for action `params` and for the "only fields actually present" rule
// applied to the other kinds, so variable resolution never fabricates keys
// that the author didn't declare.
func ResolveFields(ec *execctx.ExecutionContext, fields map[string]interface{}) map[string]interface{} {
	return ResolveValue(ec, fields).(map[string]interface{})
}

// CoercePluginParams applies the action-dispatch parameter-transform rules
// (spec.md §4.5 "action dispatch") against a plugin action's declared
// schema: 2-D array shaping, string JSON-stringification, and
// default-value filling for missing required parameters.
func CoercePluginParams(resolved map[string]interface{}, actionSchema PluginActionSchema) map[string]interface{} {
	out := make(map[string]interface{}, len(resolved))
	for k, v := range resolved {
		out[k] = v
	}

	for name, ps := range actionSchema.Parameters {
		v, present := out[name]
		if present {
			out[name] = coerceOne(v, ps)
			continue
		}
		if ps.Required {
			out[name] = defaultFor(name, ps)
		}
	}
	return out
}

func coerceOne(v interface{}, ps ParamSchema) interface{} {
	switch ps.Type {
	case "array":
		if ps.ArrayDims == 2 {
			return to2D(v)
		}
		return v
	case "string":
		switch t := v.(type) {
		case map[string]interface{}:
			if ps.IsMessage {
				return renderMessageFields(t)
			}
			return jsonStringify(t)
		case []interface{}:
			return jsonStringify(t)
		default:
			return v
		}
	default:
		return v
	}
}

// to2D converts an object into a single-row table (object → one row of its
// values in sorted-key order) and wraps a flat 1-D array into a single-row
// 2-D array, matching "a 2-D-array parameter whose value is an object is
// converted to a single row; a 1-D array is wrapped to 2-D".
func to2D(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			row[i] = t[k]
		}
		return []interface{}{row}
	case []interface{}:
		if len(t) > 0 {
			if _, alreadyRows := t[0].([]interface{}); alreadyRows {
				return t
			}
		}
		return []interface{}{t}
	default:
		return v
	}
}

// renderMessageFields produces a structured, human-readable rendering for
// messaging-style string fields (e.g. Slack/email bodies) instead of raw
// JSON: one "Key: value" line per field, sorted for determinism.
func renderMessageFields(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %v", k, m[k])
	}
	return b.String()
}

func jsonStringify(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// defaultFor fills a sensible zero value for a missing required parameter.
// Any parameter whose name looks like a spreadsheet range defaults to
// "Sheet1" rather than an empty string, matching the teacher's
// sheets-plugin convention.
func defaultFor(name string, ps ParamSchema) interface{} {
	if strings.Contains(strings.ToLower(name), "range") {
		return "Sheet1"
	}
	switch ps.Type {
	case "string":
		return ""
	case "number", "integer":
		return 0
	case "boolean":
		return false
	case "array":
		return []interface{}{}
	case "object":
		return map[string]interface{}{}
	default:
		return ""
	}
}
