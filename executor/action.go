package executor

import (
	"context"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// dispatchAction resolves step.Params, coerces them against the plugin's
// declared parameter schema, invokes the PluginRuntime, and records the
// plugin-equivalent token cost against the execution's ledger (spec.md
// §4.5 "action dispatch").
func (e *Executor) dispatchAction(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep, resolved map[string]interface{}) (interface{}, error) {
	if step.Plugin == "" || step.Action == "" {
		return nil, newExecErr(step.ID, CodeMissingPluginAction, "action step requires plugin and action")
	}

	params := resolved
	if def, err := e.pluginRuntime.GetPluginDefinition(ctx, step.Plugin); err == nil {
		if actionSchema, ok := def.Actions[step.Action]; ok {
			params = AutoWireParams(ec, resolved, actionSchema)
			params = CoercePluginParams(params, actionSchema)
		}
	}

	result, err := e.pluginRuntime.Execute(ctx, ec.UserID, step.Plugin, step.Action, params)
	if err != nil {
		return nil, wrapExecErr(step.ID, CodeStepExecutionFailed, err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		return nil, newExecErr(step.ID, CodeStepExecutionFailed, "plugin %s.%s failed: %s", step.Plugin, step.Action, msg)
	}

	ec.AddTokens(core.TokenUsage{Total: e.tokensPerPlugin})
	return result.Data, nil
}
