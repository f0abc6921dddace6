package condition

import (
	"fmt"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// Evaluator evaluates schema.Condition documents against a Resolver. It
// holds no state and is safe for concurrent use by multiple steps.
type Evaluator struct{}

func NewEvaluator() *Evaluator { return &Evaluator{} }

// Evaluate resolves and evaluates cond, returning its boolean result.
func (e *Evaluator) Evaluate(cond *schema.Condition, r Resolver) (bool, error) {
	if cond == nil {
		return true, nil
	}
	switch {
	case cond.Complex != nil:
		return e.evaluateComplex(cond.Complex, r)
	case cond.Simple != nil:
		return e.evaluateSimple(cond.Simple, r)
	default:
		return e.EvaluateExpression(cond.Expression, r)
	}
}

// EvaluateExpression parses and evaluates a free-form string expression,
// e.g. "{{step1.data.count}} > 5 && {{input.enabled}}".
func (e *Evaluator) EvaluateExpression(expr string, r Resolver) (bool, error) {
	n, err := parseExpression(expr)
	if err != nil {
		return false, err
	}
	v, found, err := n.eval(r)
	if err != nil {
		return false, err
	}
	return truthy(v, found), nil
}

func (e *Evaluator) evaluateSimple(s *schema.SimpleCondition, r Resolver) (bool, error) {
	if !IsValidOperator(s.Operator) {
		return false, fmt.Errorf("condition: unknown operator %q", s.Operator)
	}
	left, found := resolveFieldRef(s.Field, r)
	right := resolveValueRef(s.Value, r)
	return applyOperator(s.Operator, left, found, right, true)
}

func (e *Evaluator) evaluateComplex(c *schema.ComplexCondition, r Resolver) (bool, error) {
	switch c.Operator {
	case "not":
		if len(c.Conditions) != 1 {
			return false, fmt.Errorf("condition: \"not\" requires exactly one nested condition")
		}
		v, err := e.Evaluate(c.Conditions[0], r)
		if err != nil {
			return false, err
		}
		return !v, nil
	case "and":
		for _, sub := range c.Conditions {
			v, err := e.Evaluate(sub, r)
			if err != nil {
				return false, err
			}
			if !v {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, sub := range c.Conditions {
			v, err := e.Evaluate(sub, r)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("condition: unknown complex operator %q", c.Operator)
	}
}

// resolveFieldRef resolves a SimpleCondition.Field, which is either a bare
// `{{...}}` reference or (tolerated for author convenience) a raw path with
// no braces.
func resolveFieldRef(field string, r Resolver) (interface{}, bool) {
	n, err := parseExpression(wrapAsVarRefIfBare(field))
	if err != nil || r == nil {
		return nil, false
	}
	v, found, err := n.eval(r)
	if err != nil {
		return nil, false
	}
	return v, found
}

// resolveValueRef resolves a SimpleCondition.Value. Strings containing
// `{{...}}` are resolved against r; every other JSON/YAML scalar (numbers,
// bools, arrays, already-resolved strings) passes through unchanged — it is
// never parsed as an expression or executed.
func resolveValueRef(value interface{}, r Resolver) interface{} {
	s, ok := value.(string)
	if !ok || !looksLikeTemplate(s) {
		return value
	}
	n, err := parseExpression(s)
	if err != nil {
		return value
	}
	v, _, err := n.eval(r)
	if err != nil {
		return value
	}
	return v
}

func looksLikeTemplate(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '{' && s[i+1] == '{' {
			return true
		}
	}
	return false
}

func wrapAsVarRefIfBare(field string) string {
	if looksLikeTemplate(field) {
		return field
	}
	return "{{" + field + "}}"
}

// Validate statically checks a condition's syntax (and, for Simple
// conditions, its operator name) without resolving any variable — used by
// the planner ahead of execution (spec.md §4.1 validation pass).
func Validate(cond *schema.Condition) error {
	if cond == nil {
		return nil
	}
	switch {
	case cond.Complex != nil:
		switch cond.Complex.Operator {
		case "and", "or":
			if len(cond.Complex.Conditions) == 0 {
				return fmt.Errorf("condition: %q requires at least one nested condition", cond.Complex.Operator)
			}
		case "not":
			if len(cond.Complex.Conditions) != 1 {
				return fmt.Errorf("condition: \"not\" requires exactly one nested condition")
			}
		default:
			return fmt.Errorf("condition: unknown complex operator %q", cond.Complex.Operator)
		}
		for _, sub := range cond.Complex.Conditions {
			if err := Validate(sub); err != nil {
				return err
			}
		}
		return nil
	case cond.Simple != nil:
		if !IsValidOperator(cond.Simple.Operator) {
			return fmt.Errorf("condition: unknown operator %q", cond.Simple.Operator)
		}
		if cond.Simple.Field == "" {
			return fmt.Errorf("condition: simple condition requires a field")
		}
		return nil
	default:
		_, err := parseExpression(cond.Expression)
		return err
	}
}
