package errors

import (
	"fmt"
	"strings"
)

// DisposeError aggregates the failures collected while closing many index
// handles during shutdown. Every handle gets a close attempt; failures are
// collected rather than aborting on the first one.
type DisposeError struct {
	// Failures maps index name to the error closing it produced.
	Failures map[string]error
}

// NewDisposeError creates an empty aggregate.
func NewDisposeError() *DisposeError {
	return &DisposeError{Failures: make(map[string]error)}
}

// Add records a close failure for the named index. nil errors are ignored.
func (e *DisposeError) Add(name string, err error) {
	if err == nil {
		return
	}
	e.Failures[name] = err
}

// Len returns the number of recorded failures.
func (e *DisposeError) Len() int {
	return len(e.Failures)
}

// ErrOrNil returns the aggregate as an error, or nil when nothing failed.
func (e *DisposeError) ErrOrNil() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface.
func (e *DisposeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] failed to close %d index handle(s):", ErrCodeDisposeError, len(e.Failures))
	for name, err := range e.Failures {
		fmt.Fprintf(&sb, " %s: %v;", name, err)
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *DisposeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
