package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/execctx"
)

func newCtx() *execctx.ExecutionContext {
	return execctx.New("exec-1", "agent-1", "", "", nil, execctx.RunModeProduction)
}

func TestUnwrap_PriorityList(t *testing.T) {
	items, ok := Unwrap(map[string]interface{}{
		"count":    float64(2),
		"filtered": []interface{}{"a", "b"},
	})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a", "b"}, items)

	items, ok = Unwrap([]interface{}{"x"})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"x"}, items)

	_, ok = Unwrap(map[string]interface{}{"count": float64(2)})
	assert.False(t, ok)
}

func TestEngine_FilterProducesStructuredResult(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	input := []interface{}{
		map[string]interface{}{"status": "approved", "amount": float64(10)},
		map[string]interface{}{"status": "pending", "amount": float64(20)},
		map[string]interface{}{"status": "approved", "amount": float64(30)},
	}

	out, err := e.Execute(ctx, Request{
		Operation: "filter",
		Input:     input,
		Config: map[string]interface{}{
			"condition": map[string]interface{}{
				"field": "item.status", "operator": "==", "value": "approved",
			},
		},
	})
	require.NoError(t, err)

	m := out.(map[string]interface{})
	assert.Equal(t, 2, m["count"])
	assert.Equal(t, 3, m["originalCount"])
	assert.Len(t, m["items"], 2)
	assert.Equal(t, 1, m["removed"])
}

func TestEngine_Aggregate(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	input := []interface{}{
		map[string]interface{}{"amount": float64(10)},
		map[string]interface{}{"amount": float64(30)},
	}
	out, err := e.Execute(ctx, Request{
		Operation: "aggregate",
		Input:     input,
		Config: map[string]interface{}{
			"aggregations": []interface{}{
				map[string]interface{}{"field": "amount", "operation": "sum", "alias": "total"},
				map[string]interface{}{"field": "amount", "operation": "avg", "alias": "average"},
			},
		},
	})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, float64(40), m["total"])
	assert.Equal(t, float64(20), m["average"])
}

func TestEngine_GroupByField(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	input := []interface{}{
		map[string]interface{}{"team": "a", "v": float64(1)},
		map[string]interface{}{"team": "b", "v": float64(2)},
		map[string]interface{}{"team": "a", "v": float64(3)},
	}
	out, err := e.Execute(ctx, Request{
		Operation: "group",
		Input:     input,
		Config:    map[string]interface{}{"field": "team"},
	})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, 2, m["count"])
	groups := m["groups"].([]interface{})
	assert.Len(t, groups, 2)
}

func TestEngine_Deduplicate(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	input := []interface{}{
		map[string]interface{}{"id": "1", "v": float64(1)},
		map[string]interface{}{"id": "2", "v": float64(2)},
		map[string]interface{}{"id": "1", "v": float64(3)},
	}
	out, err := e.Execute(ctx, Request{
		Operation: "deduplicate",
		Input:     input,
		Config:    map[string]interface{}{"key": "id", "keep": "first"},
	})
	require.NoError(t, err)
	result := out.([]interface{})
	assert.Len(t, result, 2)
}

func TestEngine_ResultWrapping(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	out, err := e.Execute(ctx, Request{
		Operation:         "flatten",
		Input:             []interface{}{[]interface{}{"a", "b"}, []interface{}{"c"}},
		DeclaredOutputKey: "flat",
	})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, []interface{}{"a", "b", "c"}, m["flat"])
}

func TestEngine_Join(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	left := []interface{}{
		map[string]interface{}{"userId": "1", "name": "Ada"},
		map[string]interface{}{"userId": "2", "name": "Lin"},
	}
	right := []interface{}{
		map[string]interface{}{"id": "1", "role": "admin"},
	}
	out, err := e.Execute(ctx, Request{
		Operation: "join",
		Input:     left,
		Config: map[string]interface{}{
			"with": right,
			"on":   map[string]interface{}{"left": "userId", "right": "id"},
			"type": "left",
			"as":   "profile",
		},
	})
	require.NoError(t, err)
	rows := out.([]interface{})
	require.Len(t, rows, 2)
	first := rows[0].(map[string]interface{})
	assert.NotNil(t, first["profile"])
	second := rows[1].(map[string]interface{})
	assert.Nil(t, second["profile"])
}

func TestEngine_Split(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	input := []interface{}{
		map[string]interface{}{"category": "Fruit"},
		map[string]interface{}{"category": nil},
		map[string]interface{}{"category": "Fruit"},
	}
	out, err := e.Execute(ctx, Request{
		Operation: "split",
		Input:     input,
		Config:    map[string]interface{}{"field": "category"},
	})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Len(t, m["fruit"], 2)
	assert.Len(t, m["unknown"], 1)
}

func TestEngine_Expand(t *testing.T) {
	e := NewEngine()
	ctx := newCtx()

	out, err := e.Execute(ctx, Request{
		Operation: "expand",
		Input: map[string]interface{}{
			"user": map[string]interface{}{"name": "Ada", "address": map[string]interface{}{"city": "London"}},
		},
	})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, "Ada", m["user.name"])
	assert.Equal(t, "London", m["user.address.city"])
}
