package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

func TestEvaluateExpression_Comparisons(t *testing.T) {
	r := MapResolver{
		"step1.data.count": float64(7),
		"input.enabled":    true,
		"user.name":        "Ada",
	}
	e := NewEvaluator()

	ok, err := e.EvaluateExpression(`{{step1.data.count}} > 5 && {{input.enabled}}`, r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateExpression(`{{step1.data.count}} <= 5 || {{user.name}} == "Ada"`, r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateExpression(`not ({{input.enabled}})`, r)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateExpression_WordOperators(t *testing.T) {
	r := MapResolver{
		"tags":  []interface{}{"a", "b", "c"},
		"email": "ada@example.com",
	}
	e := NewEvaluator()

	ok, err := e.EvaluateExpression(`{{email}} ends_with "example.com"`, r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateExpression(`{{tags}} contains "b"`, r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateExpression(`"b" in {{tags}}`, r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateExpression(`{{missing.field}} exists`, r)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.EvaluateExpression(`{{missing.field}} not_exists`, r)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateSimpleCondition(t *testing.T) {
	r := MapResolver{"step2.data.status": "approved"}
	e := NewEvaluator()

	ok, err := e.Evaluate(&schema.Condition{Simple: &schema.SimpleCondition{
		Field: "step2.data.status", Operator: "==", Value: "approved",
	}}, r)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateComplexCondition(t *testing.T) {
	r := MapResolver{"a": float64(1), "b": float64(2)}
	e := NewEvaluator()

	cond := &schema.Condition{Complex: &schema.ComplexCondition{
		Operator: "and",
		Conditions: []*schema.Condition{
			{Simple: &schema.SimpleCondition{Field: "a", Operator: "==", Value: float64(1)}},
			{Simple: &schema.SimpleCondition{Field: "b", Operator: ">", Value: float64(1)}},
		},
	}}
	ok, err := e.Evaluate(cond, r)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestSecurity_NoCodeExecution is the S4 security scenario: a resolved
// variable's value may contain shell metacharacters, Go-looking syntax, or
// template-injection payloads, but the evaluator only ever compares it as an
// opaque string — it has no path to execute it.
func TestSecurity_NoCodeExecution(t *testing.T) {
	malicious := `"; rm -rf /; echo "pwned`
	r := MapResolver{"user.input": malicious}
	e := NewEvaluator()

	ok, err := e.EvaluateExpression(`{{user.input}} == "safe"`, r)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.EvaluateExpression(`{{user.input}} != "safe"`, r)
	require.NoError(t, err)
	assert.True(t, ok)

	// A value that looks like a nested template reference must not be
	// re-resolved — it is compared as the literal string it is.
	r2 := MapResolver{"user.input": "{{step1.data.secret}}", "step1.data.secret": "topsecret"}
	ok, err = e.EvaluateExpression(`{{user.input}} == "{{step1.data.secret}}"`, r2)
	require.NoError(t, err)
	assert.True(t, ok) // both sides resolve to the same literal string, not double-evaluated
}

func TestValidate_RejectsUnknownOperator(t *testing.T) {
	err := Validate(&schema.Condition{Simple: &schema.SimpleCondition{Field: "x", Operator: "bogus"}})
	assert.Error(t, err)
}

func TestValidate_AcceptsWellFormedExpression(t *testing.T) {
	err := Validate(&schema.Condition{Expression: `{{a}} > 1 && {{b}} exists`})
	assert.NoError(t, err)
}
