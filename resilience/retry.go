// Package resilience provides the retry and circuit-breaker primitives the
// StepExecutor and Orchestrator use to implement step-level retry policies
// and cooperative cancellation (spec.md §4.8 "Retries", §5 "Cancellation
// semantics").
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/core"
)

// RetryPolicy configures retry behavior for a single step or the engine-wide
// default.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy mirrors the orchestrator's default (ExecutionOptions
// RetryAttempts:2, RetryDelay:2s in the teacher) generalized to a full
// exponential-backoff policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry runs fn up to MaxAttempts times with exponential backoff, checking
// ctx for cancellation before every attempt and before every sleep — this is
// the "between-step / between-retries" cooperative cancellation check spec.md
// §5 requires.
func Retry(ctx context.Context, policy *RetryPolicy, fn func(attempt int) error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(attempt); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * policy.BackoffFactor)
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}
		wait := delay
		if policy.JitterEnabled {
			wait += time.Duration(float64(delay) * 0.1 * rand.Float64())
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", policy.MaxAttempts, lastErr, core.ErrMaxRetries)
}

// RetryWithCircuitBreaker combines Retry with a CircuitBreaker: while the
// breaker is open, an attempt fails at once with a circuit_open error without
// calling fn; Retry still waits its backoff before the next attempt.
func RetryWithCircuitBreaker(ctx context.Context, policy *RetryPolicy, cb *CircuitBreaker, fn func(attempt int) error) error {
	return Retry(ctx, policy, func(attempt int) error {
		if !cb.CanExecute() {
			return core.NewFrameworkError("resilience.Retry", "circuit_open", fmt.Errorf("circuit breaker open"))
		}
		if err := fn(attempt); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	})
}

// backoffWithJitter is exposed for tests that need deterministic-ish delay
// computation without sleeping.
func backoffWithJitter(base time.Duration, attempt int, factor float64, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if d > max {
		d = max
	}
	return d
}
