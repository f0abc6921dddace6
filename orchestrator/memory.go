// Package orchestrator implements the Orchestrator/"Pilot" (spec.md §4.8):
// end-to-end run coordination over the Planner, StepExecutor,
// ParallelExecutor, StateManager, and ApprovalTracker. Grounded on gomind's
// orchestration.Orchestrator (orchestration/orchestrator.go's top-level
// Execute()/ExecutePlan() driver), generalized from "route one request to
// the best agent" to "walk a multi-level workflow DAG to completion".
package orchestrator

import (
	"context"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/core"
)

// MemoryProvider is the consumed memory subsystem (spec.md §1, §4.8 step
// (6) "load memory context"). Out of scope to implement (spec.md §1
// Non-goals); this interface plus NoOpMemoryProvider is all the core needs
// to stay independently runnable.
type MemoryProvider interface {
	Load(ctx context.Context, userID, sessionID string) (map[string]interface{}, error)
}

// NoOpMemoryProvider returns an empty memory context immediately — the safe
// default when no memory subsystem is wired.
type NoOpMemoryProvider struct{}

func (NoOpMemoryProvider) Load(context.Context, string, string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

// loadMemoryWithTimeout bounds a MemoryProvider.Load call to timeout
// (spec.md §4.8 step (6) "with a short timeout, default 10s; failure is
// non-fatal", §5 "Suspension points... memory loading, once, under a hard
// timeout"). A timeout or provider error both resolve to an empty memory
// context plus a logged warning rather than failing the run.
func loadMemoryWithTimeout(ctx context.Context, p MemoryProvider, userID, sessionID string, timeout time.Duration, logger core.Logger) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		mem map[string]interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		mem, err := p.Load(loadCtx, userID, sessionID)
		done <- result{mem, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			logger.Warn("orchestrator: memory load failed, continuing without memory context", map[string]interface{}{
				"user_id": userID, "session_id": sessionID, "error": r.err.Error(),
			})
			return map[string]interface{}{}
		}
		if r.mem == nil {
			return map[string]interface{}{}
		}
		return r.mem
	case <-loadCtx.Done():
		logger.Warn("orchestrator: memory load timed out, continuing without memory context", map[string]interface{}{
			"user_id": userID, "session_id": sessionID, "timeout": timeout.String(),
		})
		return map[string]interface{}{}
	}
}
