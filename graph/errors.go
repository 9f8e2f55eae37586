package graph

import (
	"errors"
	"fmt"
)

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum
// allowed step count without completing. This prevents infinite loops and
// runaway executions.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrSuspended is returned by Run when the state is still parked at an
// interrupt edge: the caller has not yet supplied the awaited input.
var ErrSuspended = errors.New("run is suspended awaiting input")

// ErrInvalidRetryPolicy is returned when a RetryPolicy fails validation.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// RoutingError reports a branch router label with no registered target.
// It signals a graph configuration bug and is never retried.
type RoutingError struct {
	From  string
	Label string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing error: branch from %s has no target for label %q", e.From, e.Label)
}
