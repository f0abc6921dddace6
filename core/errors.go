package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison via errors.Is(). Components wrap these with
// additional context via FrameworkError rather than defining ad-hoc errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyRunning   = errors.New("already running")
	ErrNotRunning       = errors.New("not running")
	ErrTimeout          = errors.New("operation timeout")
	ErrCancelled        = errors.New("operation cancelled")
	ErrInvalidState     = errors.New("invalid state")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrMaxRetries       = errors.New("maximum retries exceeded")
)

// FrameworkError carries structured context around a wrapped error: which
// operation failed, what kind of thing failed, and its id.
type FrameworkError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error { return e.Err }

// NewFrameworkError wraps err with operation/kind context.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// IsRetryable reports whether an error represents a transient condition worth
// retrying: timeouts, and FrameworkErrors wrapping a network/plugin/llm kind.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrNotFound) {
		return false
	}
	var fe *FrameworkError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case "network", "plugin", "llm":
			return true
		}
	}
	return false
}
