package execctx

import "strings"

// bindIterationVariable sets name to value, and — when value is an object —
// additionally aliases every field under both its snake_case and camelCase
// forms, so a condition authored in either convention resolves regardless
// of the producer's casing (spec.md §4.2 "Key normalization in iteration
// binding").
func bindIterationVariable(c *ExecutionContext, name string, value interface{}) {
	c.SetVariable(name, value)
	m, ok := value.(map[string]interface{})
	if !ok {
		return
	}
	aliased := WithKeyAliases(m)
	c.SetVariable(name, aliased)
}

// WithKeyAliases returns a copy of m with every key also present under its
// camelCase and snake_case forms (original keys are preserved as-is).
func WithKeyAliases(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)*2)
	for k, v := range m {
		out[k] = v
		out[toSnakeCase(k)] = v
		out[toCamelCase(k)] = v
	}
	return out
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
