package condition

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// operatorNames is the closed set of operators the evaluator accepts,
// reused by both the parser (word-form operators) and planner-time
// validation of structured SimpleCondition documents.
var operatorNames = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"contains": true, "not_contains": true,
	"in": true, "not_in": true,
	"exists": true, "not_exists": true,
	"is_empty": true, "is_not_empty": true,
	"matches": true, "starts_with": true, "ends_with": true,
}

// IsValidOperator reports whether name is one of the closed set of
// comparison operators (spec.md §4.3).
func IsValidOperator(name string) bool { return operatorNames[name] }

// Compare applies op to two already-resolved values. Exported for the
// executor package's "comparison" step kind, which compares two resolved
// values directly rather than evaluating a schema.Condition against a
// Resolver.
func Compare(op string, left, right interface{}) (bool, error) {
	if !IsValidOperator(op) {
		return false, fmt.Errorf("condition: unknown operator %q", op)
	}
	return applyOperator(op, left, true, right, true)
}

func applyOperator(op string, left interface{}, leftFound bool, right interface{}, rightFound bool) (bool, error) {
	switch op {
	case "exists":
		return leftFound && left != nil, nil
	case "not_exists":
		return !(leftFound && left != nil), nil
	case "is_empty":
		return isEmpty(left, leftFound), nil
	case "is_not_empty":
		return !isEmpty(left, leftFound), nil
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case ">", ">=", "<", "<=":
		return numericCompare(op, left, right)
	case "contains":
		return containsVal(left, right), nil
	case "not_contains":
		return !containsVal(left, right), nil
	case "in":
		return containsVal(right, left), nil
	case "not_in":
		return !containsVal(right, left), nil
	case "matches":
		ls, rs := toString(left), toString(right)
		re, err := regexp.Compile(rs)
		if err != nil {
			return false, fmt.Errorf("condition: invalid matches pattern %q: %w", rs, err)
		}
		return re.MatchString(ls), nil
	case "starts_with":
		return strings.HasPrefix(toString(left), toString(right)), nil
	case "ends_with":
		return strings.HasSuffix(toString(left), toString(right)), nil
	default:
		return false, fmt.Errorf("condition: unknown operator %q", op)
	}
}

func isEmpty(v interface{}, found bool) bool {
	if !found || v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

func looseEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	return reflect.DeepEqual(a, b)
}

func numericCompare(op string, left, right interface{}) (bool, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return false, fmt.Errorf("condition: %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	}
	return false, fmt.Errorf("condition: unreachable operator %q", op)
}

func containsVal(container, item interface{}) bool {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, toString(item))
	case []interface{}:
		for _, el := range c {
			if looseEqual(el, item) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		key := toString(item)
		_, ok := c[key]
		return ok
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
