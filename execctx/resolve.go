package execctx

import (
	"strconv"
	"strings"
)

// Resolve implements condition.Resolver and transform's per-item variable
// lookups: `step<ID>.data.<path>`, `step<ID>.data`, `input.<path>`,
// `var.<path>` (spec.md §4.2 reference grammar). Nested paths use "." for
// object keys and "[n]" for array indices.
func (c *ExecutionContext) Resolve(path string) (interface{}, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, false
	}

	head := segments[0]
	switch {
	case head == "input":
		return resolveRemainder(c.Inputs(), segments[1:])
	case head == "var":
		if len(segments) < 2 {
			return nil, false
		}
		v, ok := c.GetVariable(segments[1])
		if !ok {
			return nil, false
		}
		return resolveRemainder(v, segments[2:])
	case strings.HasPrefix(head, "step") && len(head) > len("step"):
		stepID := head[len("step"):]
		out, ok := c.GetStepOutput(stepID)
		if !ok {
			return nil, false
		}
		if len(segments) < 2 || segments[1] != "data" {
			return nil, false
		}
		if len(segments) == 2 {
			return out.Data, true
		}
		return resolveRemainder(out.Data, segments[2:])
	default:
		// Bare-path convenience: also allow resolving directly against a
		// currently-bound iteration variable (e.g. "item.name") without the
		// "var." prefix, as map/filter/sort configs do per-item.
		v, ok := c.GetVariable(head)
		if !ok {
			return nil, false
		}
		return resolveRemainder(v, segments[1:])
	}
}

// splitPath tokenizes "a.b[2].c" into ["a","b","2","c"].
func splitPath(path string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	i := 0
	r := []rune(path)
	for i < len(r) {
		switch r[i] {
		case '.':
			flush()
			i++
		case '[':
			flush()
			j := i + 1
			for j < len(r) && r[j] != ']' {
				j++
			}
			out = append(out, string(r[i+1:j]))
			i = j + 1
		default:
			cur.WriteRune(r[i])
			i++
		}
	}
	flush()
	return out
}

func resolveRemainder(v interface{}, segments []string) (interface{}, bool) {
	cur := v
	for _, seg := range segments {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := cur.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			continue
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
