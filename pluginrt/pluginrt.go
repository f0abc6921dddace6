// Package pluginrt declares the plugin runtime surface the StepExecutor
// consumes (spec.md §6 "Plugin runtime"). The real runtime — actually
// executing a named plugin.action(params) — is an external collaborator out
// of scope for this repo (spec.md §1 Non-goals); this package carries the
// interface plus an in-memory registry useful for tests and for composing a
// small number of first-party actions (e.g. a clock or echo plugin) without
// depending on a live plugin host.
package pluginrt

import (
	"context"
	"fmt"
	"sync"

	"github.com/AgentsPilot/neuronforge-sub000/executor"
)

// ActionFunc is one plugin action's handler, registered against a plugin
// name in a Registry.
type ActionFunc func(ctx context.Context, userID string, params map[string]interface{}) (executor.PluginResult, error)

// Registry is an in-memory PluginRuntime implementation: a map of
// plugin -> action -> handler, plus the JSON-schema-shaped definitions the
// StepExecutor's parameter-coercion pass (spec.md §4.5 "action dispatch")
// reads before invoking a handler. Grounded on gomind's capability
// catalog/provider shape (orchestration/catalog.go), generalized from remote
// agent capability lookup to local in-process action dispatch.
type Registry struct {
	mu          sync.RWMutex
	actions     map[string]map[string]ActionFunc
	definitions map[string]executor.PluginDefinition
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		actions:     map[string]map[string]ActionFunc{},
		definitions: map[string]executor.PluginDefinition{},
	}
}

// Register adds an action handler under plugin/action, declaring its
// parameter schema for the StepExecutor's coercion pass.
func (r *Registry) Register(plugin, action string, schema executor.PluginActionSchema, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions[plugin] == nil {
		r.actions[plugin] = map[string]ActionFunc{}
	}
	r.actions[plugin][action] = fn

	def, ok := r.definitions[plugin]
	if !ok {
		def = executor.PluginDefinition{Actions: map[string]executor.PluginActionSchema{}}
	}
	def.Actions[action] = schema
	r.definitions[plugin] = def
}

// Execute implements executor.PluginRuntime.
func (r *Registry) Execute(ctx context.Context, userID, plugin, action string, params map[string]interface{}) (executor.PluginResult, error) {
	r.mu.RLock()
	fn, ok := r.actions[plugin][action]
	r.mu.RUnlock()
	if !ok {
		return executor.PluginResult{}, fmt.Errorf("pluginrt: no registered action %s.%s", plugin, action)
	}
	return fn(ctx, userID, params)
}

// GetPluginDefinition implements executor.PluginRuntime.
func (r *Registry) GetPluginDefinition(ctx context.Context, plugin string) (*executor.PluginDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[plugin]
	if !ok {
		return nil, fmt.Errorf("pluginrt: unknown plugin %q", plugin)
	}
	return &def, nil
}

var _ executor.PluginRuntime = (*Registry)(nil)
