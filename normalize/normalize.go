// Package normalize implements the OutputNormalizer (spec.md §4.6): shaping
// a step's raw dispatch result into the declared `outputs` schema so
// downstream steps can rely on a stable `data` object regardless of which
// plugin or transform produced the raw value. Grounded on gomind's
// executor.go normalization pass for plugin results into a uniform
// envelope.
package normalize

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// Options configures one normalization call.
type Options struct {
	// Outputs is the step's declared output schema.
	Outputs map[string]schema.OutputDescriptor
	// Hint names the step kind or transform operation (e.g. "filter",
	// "group", "ai_processing") used to pick the known-runtime-key mapping
	// for object inputs.
	Hint string
}

// declaredKeyOrder returns a deterministic key order for opts.Outputs.
// The spec's "first declared key" semantics presume author-declaration
// order; since map iteration order isn't preserved through JSON/YAML
// unmarshaling here, this falls back to a stable lexical order, which is
// the same simplification gomind's own executor.go makes when outputSchema
// round-trips through a generic map.
func declaredKeyOrder(outputs map[string]schema.OutputDescriptor) []string {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		if schema.IsRoutingKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var knownRuntimeKeys = map[string][]string{
	"filter":       {"items", "filtered", "count", "total"},
	"group":        {"groups", "grouped"},
	"group_by":     {"groups", "grouped"},
	"ai_processing": {"summary", "classification", "extracted", "analysis", "generated", "translated", "enriched", "result"},
	"llm_decision": {"summary", "classification", "extracted", "analysis", "generated", "translated", "enriched", "result"},
}

var genericRuntimeKeys = []string{
	"items", "filtered", "count", "total", "groups", "grouped",
	"summary", "classification", "extracted", "analysis", "generated",
	"translated", "enriched", "result", "data", "value", "values",
}

func runtimeKeyCandidates(hint string) []string {
	if keys, ok := knownRuntimeKeys[hint]; ok {
		return keys
	}
	return genericRuntimeKeys
}

// Normalize shapes raw into {data, _raw?, _meta} per spec.md §4.6.
func Normalize(raw interface{}, opts Options) (data map[string]interface{}, rawOut interface{}, meta *schema.NormalizationMeta) {
	declared := declaredKeyOrder(opts.Outputs)
	meta = &schema.NormalizationMeta{KeyMappings: map[string]string{}}

	data = normalizeByType(raw, declared, opts, meta)

	if meta.Normalized {
		rawOut = raw
	}
	return data, rawOut, meta
}

func normalizeByType(raw interface{}, declared []string, opts Options, meta *schema.NormalizationMeta) map[string]interface{} {
	switch v := raw.(type) {
	case nil:
		meta.Normalized = true
		if len(declared) == 0 {
			return map[string]interface{}{}
		}
		meta.WrappedKeys = append(meta.WrappedKeys, declared[0])
		return map[string]interface{}{declared[0]: nil}

	case string:
		return normalizeString(v, declared, opts, meta)

	case []interface{}:
		meta.Normalized = true
		if len(declared) == 0 {
			return map[string]interface{}{}
		}
		meta.WrappedKeys = append(meta.WrappedKeys, declared[0])
		return map[string]interface{}{declared[0]: v}

	case map[string]interface{}:
		return normalizeObject(v, declared, opts, meta)

	default:
		meta.Normalized = true
		if len(declared) == 0 {
			return map[string]interface{}{}
		}
		meta.WrappedKeys = append(meta.WrappedKeys, declared[0])
		return map[string]interface{}{declared[0]: v}
	}
}

func normalizeString(s string, declared []string, opts Options, meta *schema.NormalizationMeta) map[string]interface{} {
	if len(declared) == 1 {
		desc := opts.Outputs[declared[0]]
		if desc.Type == "object" && looksLikeJSON(s) {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				meta.Normalized = true
				meta.JSONParsedKeys = append(meta.JSONParsedKeys, declared[0])
				if obj, ok := parsed.(map[string]interface{}); ok {
					if _, has := obj[declared[0]]; has {
						return normalizeObject(obj, declared, opts, meta)
					}
				}
				return map[string]interface{}{declared[0]: parsed}
			}
			if repaired, ok := repairJSON(s); ok {
				meta.Normalized = true
				meta.JSONParsedKeys = append(meta.JSONParsedKeys, declared[0])
				meta.Warnings = append(meta.Warnings, "applied JSON repair to "+declared[0])
				return map[string]interface{}{declared[0]: repaired}
			}
			meta.Warnings = append(meta.Warnings, "declared type object but value was not valid or repairable JSON: "+declared[0])
		}
	}
	meta.Normalized = true
	if len(declared) == 0 {
		return map[string]interface{}{}
	}
	meta.WrappedKeys = append(meta.WrappedKeys, declared[0])
	return map[string]interface{}{declared[0]: s}
}

func normalizeObject(obj map[string]interface{}, declared []string, opts Options, meta *schema.NormalizationMeta) map[string]interface{} {
	if len(declared) == 0 {
		return cloneMap(obj)
	}

	out := map[string]interface{}{}
	used := map[string]bool{}
	anyMapped := false

	for _, key := range declared {
		if v, ok := obj[key]; ok {
			out[key] = v
			used[key] = true
			continue
		}

		if candidate, v, ok := firstPresentCandidate(obj, used, runtimeKeyCandidates(opts.Hint)); ok {
			out[key] = v
			used[candidate] = true
			meta.KeyMappings[key] = candidate
			anyMapped = true
			continue
		}

		if candidate, v, ok := firstUnusedNonUnderscoreKey(obj, used); ok {
			out[key] = v
			used[candidate] = true
			meta.KeyMappings[key] = candidate
			anyMapped = true
			continue
		}

		if len(declared) == 1 {
			out[key] = obj
			meta.KeyMappings[key] = "*"
			anyMapped = true
		}
	}

	if anyMapped {
		meta.Normalized = true
	}
	if len(out) == 0 {
		return cloneMap(obj)
	}
	return out
}

func firstPresentCandidate(obj map[string]interface{}, used map[string]bool, candidates []string) (string, interface{}, bool) {
	for _, c := range candidates {
		if used[c] {
			continue
		}
		if v, ok := obj[c]; ok {
			return c, v, true
		}
	}
	return "", nil, false
}

func firstUnusedNonUnderscoreKey(obj map[string]interface{}, used map[string]bool) (string, interface{}, bool) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if used[k] || strings.HasPrefix(k, "_") {
			continue
		}
		return k, obj[k], true
	}
	return "", nil, false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func looksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}

// repairJSON applies a small set of best-effort fixups (code-fence removal,
// trailing-comma removal) and retries parsing. This is intentionally
// shallow — a last resort before falling back to wrapping the raw string.
func repairJSON(s string) (interface{}, bool) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	t = strings.TrimSpace(t)
	t = strings.ReplaceAll(t, ",}", "}")
	t = strings.ReplaceAll(t, ",]", "]")

	var parsed interface{}
	if err := json.Unmarshal([]byte(t), &parsed); err == nil {
		return parsed, true
	}
	return nil, false
}
