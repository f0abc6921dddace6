package execctx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var varRefPattern = regexp.MustCompile(`\{\{\s*([^}#/][^}]*?)\s*\}\}`)

// RenderSimple replaces every `{{path}}` occurrence with its resolved
// value's string form; unresolved references render as "" (spec.md §4.2
// "simple substitution").
func (c *ExecutionContext) RenderSimple(tmpl string) string {
	return varRefPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := varRefPattern.FindStringSubmatch(m)[1]
		v, ok := c.Resolve(path)
		if !ok {
			return ""
		}
		return stringify(v)
	})
}

// RenderJSON behaves like RenderSimple but JSON-escapes every inserted value
// so the result is always well-formed JSON when the template itself is a
// JSON skeleton with `{{...}}` holes in string positions.
func (c *ExecutionContext) RenderJSON(tmpl string) string {
	return varRefPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := varRefPattern.FindStringSubmatch(m)[1]
		v, ok := c.Resolve(path)
		if !ok {
			return ""
		}
		if s, ok := v.(string); ok {
			b, _ := json.Marshal(s)
			return string(b[1 : len(b)-1]) // escaped contents, no surrounding quotes
		}
		return stringify(v)
	})
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// RenderBlock supports the block-template subset: {{#each path}}...{{/each}}
// (binds {{this}} and {{@index}} per item, plus snake_case/camelCase field
// aliasing per WithKeyAliases), {{#if path}}...{{else}}...{{/if}},
// {{#unless path}}...{{/unless}}, and {{#with path}}...{{/with}}. Unknown
// block tags are left verbatim rather than erroring, matching a lenient
// templating engine's typical behavior.
func (c *ExecutionContext) RenderBlock(tmpl string) (string, error) {
	out, _, err := renderBlockFrom(c, tmpl, 0)
	return out, err
}

var blockOpenPattern = regexp.MustCompile(`\{\{#(each|if|unless|with)\s+([^}]+)\}\}`)

func renderBlockFrom(c *ExecutionContext, tmpl string, depth int) (string, int, error) {
	if depth > 32 {
		return "", 0, fmt.Errorf("execctx: block template nesting too deep")
	}
	var b strings.Builder
	pos := 0
	for {
		loc := blockOpenPattern.FindStringSubmatchIndex(tmpl[pos:])
		if loc == nil {
			b.WriteString(c.RenderSimple(tmpl[pos:]))
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		b.WriteString(c.RenderSimple(tmpl[pos:start]))

		tag := tmpl[pos+loc[2] : pos+loc[3]]
		arg := strings.TrimSpace(tmpl[pos+loc[4] : pos+loc[5]])
		closeTag := "{{/" + tag + "}}"
		closeIdx := strings.Index(tmpl[end:], closeTag)
		if closeIdx < 0 {
			return "", 0, fmt.Errorf("execctx: unterminated {{#%s}} block", tag)
		}
		body := tmpl[end : end+closeIdx]
		rendered, err := renderTag(c, tag, arg, body)
		if err != nil {
			return "", 0, err
		}
		b.WriteString(rendered)
		pos = end + closeIdx + len(closeTag)
	}
	return b.String(), pos, nil
}

func renderTag(c *ExecutionContext, tag, arg, body string) (string, error) {
	switch tag {
	case "each":
		v, _ := c.Resolve(arg)
		items, ok := v.([]interface{})
		if !ok {
			return "", nil
		}
		var b strings.Builder
		for i, item := range items {
			child := c.Clone()
			bindIterationVariable(child, "this", item)
			child.SetVariable("@index", float64(i))
			rendered, _, err := renderBlockFrom(child, body, 0)
			if err != nil {
				return "", err
			}
			b.WriteString(rendered)
		}
		return b.String(), nil
	case "if":
		v, ok := c.Resolve(arg)
		thenBody, elseBody := splitElse(body)
		if ok && truthyValue(v) {
			s, _, err := renderBlockFrom(c, thenBody, 0)
			return s, err
		}
		s, _, err := renderBlockFrom(c, elseBody, 0)
		return s, err
	case "unless":
		v, ok := c.Resolve(arg)
		thenBody, elseBody := splitElse(body)
		if !ok || !truthyValue(v) {
			s, _, err := renderBlockFrom(c, thenBody, 0)
			return s, err
		}
		s, _, err := renderBlockFrom(c, elseBody, 0)
		return s, err
	case "with":
		v, ok := c.Resolve(arg)
		if !ok {
			return "", nil
		}
		child := c.Clone()
		bindIterationVariable(child, "this", v)
		s, _, err := renderBlockFrom(child, body, 0)
		return s, err
	default:
		return "{{#" + tag + " " + arg + "}}" + body + "{{/" + tag + "}}", nil
	}
}

func splitElse(body string) (thenBody, elseBody string) {
	idx := strings.Index(body, "{{else}}")
	if idx < 0 {
		return body, ""
	}
	return body[:idx], body[idx+len("{{else}}"):]
}

func truthyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}
