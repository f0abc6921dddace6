package transform

import (
	"fmt"

	"github.com/AgentsPilot/neuronforge-sub000/condition"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
)

// Request is one transform step's resolved contract: {operation, input,
// config, outputs?} (spec.md §4.4).
type Request struct {
	Operation string
	Input     interface{}
	Config    map[string]interface{}
	// DeclaredOutputKey is the step's single declared output key, if any —
	// drives both opFilter's backward-compatible declared-key alias and the
	// final result-wrapping rule.
	DeclaredOutputKey string
}

// Engine executes DataOperations transform steps.
type Engine struct {
	evaluator *condition.Evaluator
}

func NewEngine() *Engine {
	return &Engine{evaluator: condition.NewEvaluator()}
}

// Execute dispatches req.Operation against req.Input (after unwrapping) and
// applies the result-wrapping rule.
func (e *Engine) Execute(ctx *execctx.ExecutionContext, req Request) (interface{}, error) {
	if req.Config == nil {
		req.Config = map[string]interface{}{}
	}

	items, hadArray := Unwrap(req.Input)

	var result interface{}
	var err error

	switch req.Operation {
	case "set":
		result, err = opSet(req.Input)
	case "map":
		if !hadArray {
			return nil, fmt.Errorf("transform: map requires an array input")
		}
		result, err = opMap(items, req.Config, ctx)
	case "filter":
		if !hadArray {
			return nil, fmt.Errorf("transform: filter requires an array input")
		}
		result, err = opFilter(items, req.Config, e.evaluator, ctx, req.DeclaredOutputKey)
	case "reduce":
		if !hadArray {
			return nil, fmt.Errorf("transform: reduce requires an array input")
		}
		result, err = opReduce(items, req.Config)
	case "sort":
		if !hadArray {
			return nil, fmt.Errorf("transform: sort requires an array input")
		}
		result, err = opSort(items, req.Config)
	case "group":
		if !hadArray {
			return nil, fmt.Errorf("transform: group requires an array input")
		}
		result, err = opGroup(items, req.Config)
	case "aggregate":
		if !hadArray {
			return nil, fmt.Errorf("transform: aggregate requires an array input")
		}
		result, err = opAggregate(items, req.Config)
	case "format":
		result, err = opFormat(req.Input, items, hadArray, req.Config, ctx)
	case "deduplicate":
		if !hadArray {
			return nil, fmt.Errorf("transform: deduplicate requires an array input")
		}
		result, err = opDeduplicate(items, req.Config)
	case "flatten":
		if !hadArray {
			return nil, fmt.Errorf("transform: flatten requires an array input")
		}
		result, err = opFlatten(items, req.Config)
	case "join":
		if !hadArray {
			return nil, fmt.Errorf("transform: join requires an array input")
		}
		result, err = opJoin(items, req.Config, ctx)
	case "pivot":
		if !hadArray {
			return nil, fmt.Errorf("transform: pivot requires an array input")
		}
		result, err = opPivot(items, req.Config)
	case "split":
		if !hadArray {
			return nil, fmt.Errorf("transform: split requires an array input")
		}
		result, err = opSplit(items, req.Config)
	case "expand":
		result, err = opExpand(req.Input, req.Config)
	default:
		return nil, fmt.Errorf("transform: unknown operation %q", req.Operation)
	}
	if err != nil {
		return nil, err
	}

	return wrapResult(result, req.DeclaredOutputKey), nil
}

// wrapResult implements spec.md §4.4's "Result wrapping": if the step
// declares exactly one output key, wrap as {key: result} unless it already
// has that shape.
func wrapResult(result interface{}, declaredKey string) interface{} {
	if declaredKey == "" {
		return result
	}
	if m, ok := result.(map[string]interface{}); ok {
		if _, has := m[declaredKey]; has {
			return result
		}
	}
	return map[string]interface{}{declaredKey: result}
}
