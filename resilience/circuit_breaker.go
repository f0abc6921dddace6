package resilience

import (
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker. Grounded on the shape of
// gomind's resilience.CircuitBreakerConfig, trimmed to the fields the
// executor/orchestrator actually need (threshold + recovery timeout rather
// than the full sliding-window error-rate variant).
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenRequests int
}

func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// CircuitBreaker prevents a chronically failing plugin/LLM call from being
// retried into the ground: once FailureThreshold consecutive failures are
// observed it opens for RecoveryTimeout, then allows a bounded number of
// half-open probes before fully closing or re-opening.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	state           CircuitState
	consecutiveFail int
	openedAt        time.Time
	halfOpenInUse   int
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// CanExecute reports whether a call should be allowed through right now,
// transitioning Open -> HalfOpen once RecoveryTimeout has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenInUse = 0
			return cb.admitHalfOpenLocked()
		}
		return false
	case StateHalfOpen:
		return cb.admitHalfOpenLocked()
	default:
		return true
	}
}

func (cb *CircuitBreaker) admitHalfOpenLocked() bool {
	if cb.halfOpenInUse >= cb.cfg.HalfOpenRequests {
		return false
	}
	cb.halfOpenInUse++
	return true
}

// RecordSuccess closes the breaker (from any state) and resets counters.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail = 0
	cb.state = StateClosed
	cb.halfOpenInUse = 0
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached, or immediately re-opens from half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.cfg.FailureThreshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state, mostly for tests and diagnostics.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
