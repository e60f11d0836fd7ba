package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Configure while a run is active, and by
	// Start while a stop is still in progress. Stop first, then retry.
	ErrAlreadyRunning = errors.New("simulation already running")

	// ErrNotRunning is returned by operations that need an active run.
	ErrNotRunning = errors.New("simulation not running")

	// ErrShutdownTimeout is returned by Stop when executors outlive the grace
	// period. It is a warning: the run is stopped and cleanup has completed.
	ErrShutdownTimeout = errors.New("executors did not stop within grace period")

	// ErrPipelineClosed is returned when an order is submitted after shutdown was requested.
	ErrPipelineClosed = errors.New("pipeline closed to new orders")

	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")
)

// ConfigurationError reports an invalid configuration value.
// The simulation state is unchanged when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
