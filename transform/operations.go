package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"

	"github.com/AgentsPilot/neuronforge-sub000/condition"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// aggregationSpec is one "aggregate" operation's config entry, decoded via
// mapstructure so the operation's fields (sum/avg/min/max/count specs) don't
// need hand-written type assertions per key.
type aggregationSpec struct {
	Field     string `mapstructure:"field"`
	Operation string `mapstructure:"operation"`
	Alias     string `mapstructure:"alias"`
}

func opSet(input interface{}) (interface{}, error) { return input, nil }

func opMap(items []interface{}, cfg map[string]interface{}, ctx *execctx.ExecutionContext) (interface{}, error) {
	if cols, ok := cfg["columns"].([]interface{}); ok {
		header := lo.Map(cols, func(c interface{}, _ int) interface{} { return fmt.Sprintf("%v", c) })
		rows := []interface{}{header}
		for _, it := range items {
			row := make([]interface{}, len(cols))
			for i, col := range cols {
				row[i] = lookupField(it, fmt.Sprintf("%v", col))
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	if mapping, ok := cfg["mapping"].(map[string]interface{}); ok {
		if tmplRaw, ok := mapping["template"].(string); ok {
			return lo.Map(items, func(it interface{}, _ int) interface{} {
				child := bindItem(ctx, it)
				return child.RenderSimple(tmplRaw)
			}), nil
		}
		return lo.Map(items, func(it interface{}, _ int) interface{} {
			child := bindItem(ctx, it)
			out := make(map[string]interface{}, len(mapping))
			for k, exprRaw := range mapping {
				expr, ok := exprRaw.(string)
				if !ok {
					out[k] = exprRaw
					continue
				}
				if v, found := resolveTemplateValue(child, expr); found {
					out[k] = v
				} else {
					out[k] = child.RenderSimple(expr)
				}
			}
			return out
		}), nil
	}
	return items, nil
}

func opFilter(items []interface{}, cfg map[string]interface{}, ev *condition.Evaluator, ctx *execctx.ExecutionContext, declaredKey string) (interface{}, error) {
	cond, err := decodeCondition(cfg["condition"])
	if err != nil {
		return nil, fmt.Errorf("transform: filter: %w", err)
	}

	kept := make([]interface{}, 0, len(items))
	removed := make([]interface{}, 0)
	for _, it := range items {
		child := bindItem(ctx, it)
		ok, err := ev.Evaluate(cond, child)
		if err != nil {
			return nil, fmt.Errorf("transform: filter condition: %w", err)
		}
		if ok {
			kept = append(kept, it)
		} else {
			removed = append(removed, it)
		}
	}

	result := map[string]interface{}{
		"items":         kept,
		"filtered":      kept,
		"removed":       len(removed),
		"originalCount": len(items),
		"count":         len(kept),
		"length":        len(kept),
	}
	if declaredKey != "" {
		result[declaredKey] = kept
	}
	return result, nil
}

func opReduce(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	reducer, _ := cfg["reducer"].(string)
	if reducer == "" {
		reducer, _ = cfg["operation"].(string)
	}
	field, _ := cfg["field"].(string)

	switch reducer {
	case "sum":
		total := toFloatOrZero(cfg["initial"])
		for _, it := range items {
			total += toFloatOrZero(lookupField(it, field))
		}
		return total, nil
	case "count":
		return float64(len(items)), nil
	case "concat":
		sep, _ := cfg["separator"].(string)
		parts := lo.Map(items, func(it interface{}, _ int) string {
			if field != "" {
				return fmt.Sprintf("%v", lookupField(it, field))
			}
			return fmt.Sprintf("%v", it)
		})
		return strings.Join(parts, sep), nil
	case "merge":
		out := map[string]interface{}{}
		if initial, ok := cfg["initial"].(map[string]interface{}); ok {
			for k, v := range initial {
				out[k] = v
			}
		}
		for _, it := range items {
			if m, ok := it.(map[string]interface{}); ok {
				for k, v := range m {
					out[k] = v
				}
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("transform: reduce: unknown reducer %q", reducer)
	}
}

func opSort(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	field, _ := cfg["field"].(string)
	descending, _ := cfg["descending"].(bool)
	if order, _ := cfg["order"].(string); order == "desc" || order == "descending" {
		descending = true
	}

	sorted := append([]interface{}(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, vj := sorted[i], sorted[j]
		if field != "" {
			vi, vj = lookupField(sorted[i], field), lookupField(sorted[j], field)
		}
		less := compareValues(vi, vj) < 0
		if descending {
			return !less && compareValues(vi, vj) != 0
		}
		return less
	})
	return sorted, nil
}

func opGroup(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	field, _ := cfg["field"].(string)

	header, rows, is2D := as2D(items)
	keyOf := func(it interface{}) string {
		if is2D {
			idx := indexOfHeader(header, field)
			if idx < 0 {
				return ""
			}
			row, _ := it.([]interface{})
			if idx >= len(row) {
				return ""
			}
			return fmt.Sprintf("%v", row[idx])
		}
		return fmt.Sprintf("%v", lookupField(it, field))
	}

	source := items
	if is2D {
		source = rows
	}
	grouped := lo.GroupBy(source, keyOf)
	keys := lo.Keys(grouped)
	sort.Strings(keys)

	groups := make([]interface{}, 0, len(keys))
	groupedOut := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		g := grouped[k]
		groups = append(groups, map[string]interface{}{"key": k, "items": g, "count": len(g)})
		groupedOut[k] = g
	}

	result := map[string]interface{}{
		"grouped": groupedOut,
		"groups":  groups,
		"keys":    lo.ToAnySlice(keys),
		"count":   len(keys),
	}
	for k, v := range groupedOut {
		result[k] = v
	}
	return result, nil
}

func opAggregate(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	var specs []aggregationSpec
	if err := mapstructure.Decode(cfg["aggregations"], &specs); err != nil {
		return nil, fmt.Errorf("transform: aggregate: decode aggregations: %w", err)
	}
	out := map[string]interface{}{}
	for _, spec := range specs {
		field, op, alias := spec.Field, spec.Operation, spec.Alias
		if alias == "" {
			alias = field + "_" + op
		}

		vals := lo.Map(items, func(it interface{}, _ int) float64 { return toFloatOrZero(lookupField(it, field)) })
		switch op {
		case "sum":
			out[alias] = lo.Sum(vals)
		case "avg":
			if len(vals) == 0 {
				out[alias] = float64(0)
			} else {
				out[alias] = lo.Sum(vals) / float64(len(vals))
			}
		case "min":
			if len(vals) == 0 {
				out[alias] = float64(0)
			} else {
				out[alias] = lo.Min(vals)
			}
		case "max":
			if len(vals) == 0 {
				out[alias] = float64(0)
			} else {
				out[alias] = lo.Max(vals)
			}
		case "count":
			out[alias] = float64(len(items))
		default:
			return nil, fmt.Errorf("transform: aggregate: unknown operation %q", op)
		}
	}
	return out, nil
}

func opFormat(rawInput interface{}, items []interface{}, hadArray bool, cfg map[string]interface{}, ctx *execctx.ExecutionContext) (interface{}, error) {
	mapping, _ := cfg["mapping"].(map[string]interface{})
	tmpl, _ := mapping["template"].(string)
	jsonEscape, _ := cfg["json_escape"].(bool)

	render := func(bound *execctx.ExecutionContext) string {
		if jsonEscape {
			return bound.RenderJSON(tmpl)
		}
		return bound.RenderSimple(tmpl)
	}

	var rendered interface{}
	if hadArray {
		rendered = lo.Map(items, func(it interface{}, _ int) interface{} {
			return maybeParseJSON(render(bindItem(ctx, it)), jsonEscape)
		})
	} else {
		bound := ctx
		if obj, ok := rawInput.(map[string]interface{}); ok {
			bound = bindItem(ctx, obj)
		}
		rendered = maybeParseJSON(render(bound), jsonEscape)
	}
	return rendered, nil
}

func maybeParseJSON(s string, jsonEscape bool) interface{} {
	if !jsonEscape {
		return s
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return parsed
	}
	return s
}

func opDeduplicate(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	key, _ := cfg["key"].(string)
	keep, _ := cfg["keep"].(string)
	if keep == "" {
		keep = "first"
	}

	work := append([]interface{}(nil), items...)
	if sortField, _ := cfg["sort_field"].(string); sortField != "" {
		sort.SliceStable(work, func(i, j int) bool {
			return compareValues(lookupField(work[i], sortField), lookupField(work[j], sortField)) < 0
		})
	}
	if keep == "last" {
		lo.Reverse(work)
	}

	seen := map[string]bool{}
	var out []interface{}
	for _, it := range work {
		var sig string
		if key != "" {
			sig = fmt.Sprintf("%v", lookupField(it, key))
		} else {
			b, _ := json.Marshal(it)
			sig = string(b)
		}
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, it)
	}
	if keep == "last" {
		lo.Reverse(out)
	}
	return out, nil
}

func opFlatten(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	depth := 1
	if d, ok := cfg["depth"]; ok {
		depth = int(toFloatOrZero(d))
	}
	return flattenDepth(items, depth), nil
}

func flattenDepth(items []interface{}, depth int) []interface{} {
	if depth <= 0 {
		return items
	}
	var out []interface{}
	for _, it := range items {
		if arr, ok := it.([]interface{}); ok {
			out = append(out, flattenDepth(arr, depth-1)...)
			continue
		}
		out = append(out, it)
	}
	return out
}

// opJoin is a supplemented operation (SPEC_FULL.md §4.11): the base spec
// reserves the name and errors; this implementation gives it a designed
// shape grounded on group/pivot's column-key resolution idiom.
func opJoin(items []interface{}, cfg map[string]interface{}, ctx *execctx.ExecutionContext) (interface{}, error) {
	var right []interface{}
	switch w := cfg["with"].(type) {
	case []interface{}:
		right = w
	case string:
		v, found := resolveTemplateValue(ctx, w)
		if !found {
			return nil, fmt.Errorf("transform: join: could not resolve %q", w)
		}
		arr, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("transform: join: \"with\" did not resolve to an array")
		}
		right = arr
	default:
		return nil, fmt.Errorf("transform: join: missing \"with\"")
	}

	on, _ := cfg["on"].(map[string]interface{})
	leftKey, _ := on["left"].(string)
	rightKey, _ := on["right"].(string)
	joinType, _ := cfg["type"].(string)
	if joinType == "" {
		joinType = "inner"
	}
	as, _ := cfg["as"].(string)

	rightIndex := map[string]interface{}{}
	for _, r := range right {
		rightIndex[fmt.Sprintf("%v", lookupField(r, rightKey))] = r
	}

	var out []interface{}
	for _, l := range items {
		key := fmt.Sprintf("%v", lookupField(l, leftKey))
		match, found := rightIndex[key]
		if !found && joinType != "left" {
			continue
		}
		row := map[string]interface{}{}
		if lm, ok := l.(map[string]interface{}); ok {
			for k, v := range lm {
				row[k] = v
			}
		}
		if as != "" {
			if found {
				row[as] = match
			} else {
				row[as] = nil
			}
		} else if found {
			if rm, ok := match.(map[string]interface{}); ok {
				for k, v := range rm {
					row[k] = v
				}
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func opPivot(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	rowKey, _ := cfg["rowKey"].(string)
	colKey, _ := cfg["columnKey"].(string)
	valKey, _ := cfg["valueKey"].(string)

	rows := map[string]map[string]interface{}{}
	var rowOrder []string
	cols := map[string]bool{}
	var colOrder []string
	for _, it := range items {
		rk := fmt.Sprintf("%v", lookupField(it, rowKey))
		ck := fmt.Sprintf("%v", lookupField(it, colKey))
		v := lookupField(it, valKey)
		if _, ok := rows[rk]; !ok {
			rows[rk] = map[string]interface{}{rowKey: rk}
			rowOrder = append(rowOrder, rk)
		}
		rows[rk][ck] = v
		if !cols[ck] {
			cols[ck] = true
			colOrder = append(colOrder, ck)
		}
	}

	out := make([]interface{}, 0, len(rowOrder))
	for _, rk := range rowOrder {
		row := rows[rk]
		for _, ck := range colOrder {
			if _, ok := row[ck]; !ok {
				row[ck] = nil
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func opSplit(items []interface{}, cfg map[string]interface{}) (interface{}, error) {
	if field, _ := cfg["field"].(string); field != "" {
		buckets := lo.GroupBy(items, func(it interface{}) string {
			return normalizeSplitKey(lookupField(it, field))
		})
		out := map[string]interface{}{}
		for k, v := range buckets {
			out[k] = v
		}
		return out, nil
	}

	if size, ok := cfg["size"]; ok {
		n := int(toFloatOrZero(size))
		if n <= 0 {
			n = 1
		}
		return lo.ToAnySlice(lo.Chunk(items, n)), nil
	}
	if count, ok := cfg["count"]; ok {
		n := int(toFloatOrZero(count))
		if n <= 0 {
			n = 1
		}
		size := (len(items) + n - 1) / n
		if size <= 0 {
			size = 1
		}
		return lo.ToAnySlice(lo.Chunk(items, size)), nil
	}
	return items, nil
}

func normalizeSplitKey(v interface{}) string {
	if v == nil {
		return "unknown"
	}
	s := strings.ToLower(fmt.Sprintf("%v", v))
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

func opExpand(input interface{}, cfg map[string]interface{}) (interface{}, error) {
	delim, _ := cfg["delimiter"].(string)
	if delim == "" {
		delim = "."
	}
	obj, ok := input.(map[string]interface{})
	if !ok {
		return input, nil
	}
	out := map[string]interface{}{}
	expandInto(out, "", obj, delim)
	return out, nil
}

func expandInto(out map[string]interface{}, prefix string, obj map[string]interface{}, delim string) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + delim + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			expandInto(out, key, nested, delim)
			continue
		}
		out[key] = v
	}
}

// --- shared helpers ---

func lookupField(item interface{}, field string) interface{} {
	if field == "" {
		return item
	}
	m, ok := item.(map[string]interface{})
	if !ok {
		return nil
	}
	if v, ok := m[field]; ok {
		return v
	}
	return execctx.WithKeyAliases(m)[field]
}

func toFloatOrZero(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func compareValues(a, b interface{}) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	return strings.Compare(as, bs)
}

func as2D(items []interface{}) (header []interface{}, rows []interface{}, is2D bool) {
	if len(items) == 0 {
		return nil, items, false
	}
	first, ok := items[0].([]interface{})
	if !ok {
		return nil, items, false
	}
	allStrings := lo.EveryBy(first, func(c interface{}) bool {
		_, isStr := c.(string)
		return isStr
	})
	if !allStrings {
		return nil, items, false
	}
	return first, items[1:], true
}

func indexOfHeader(header []interface{}, field string) int {
	for i, h := range header {
		if fmt.Sprintf("%v", h) == field {
			return i
		}
	}
	return -1
}

func bindItem(ctx *execctx.ExecutionContext, item interface{}) *execctx.ExecutionContext {
	child := ctx.Clone()
	if m, ok := item.(map[string]interface{}); ok {
		child.SetVariable("item", execctx.WithKeyAliases(m))
	} else {
		child.SetVariable("item", item)
	}
	return child
}

// resolveTemplateValue resolves a bare `{{path}}` expression to its typed
// value (not stringified), used where a config value is itself a variable
// reference rather than free text to render.
func resolveTemplateValue(ctx *execctx.ExecutionContext, expr string) (interface{}, bool) {
	trimmed := strings.TrimSpace(expr)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return nil, false
	}
	path := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	return ctx.Resolve(path)
}

func decodeCondition(raw interface{}) (*schema.Condition, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing condition")
	}
	if s, ok := raw.(string); ok {
		return &schema.Condition{Expression: s}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	cond := &schema.Condition{}
	if err := json.Unmarshal(b, cond); err != nil {
		return nil, err
	}
	return cond, nil
}
