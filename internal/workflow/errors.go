package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Errors surfaced to external callers of the run registry.
var (
	ErrRunNotFound     = errors.New("run not found")
	ErrInvalidDecision = errors.New("run is not awaiting review for this phase")
	ErrRunAborted      = errors.New("run aborted")
)

// fatalError marks a worker error as non-retryable.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the retry controller stops immediately. Use for
// unrecoverable conditions such as malformed or unsatisfiable input.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) was marked fatal.
// Unmarked errors are treated as transient and remain retryable.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// WorkerFailure records the terminal outcome of one worker within a failed
// phase, after its retry budget was spent or a fatal error short-circuited.
type WorkerFailure struct {
	Role     Role
	Attempts int
	Err      error
}

func (f WorkerFailure) String() string {
	return fmt.Sprintf("%s: %v (attempts: %d)", f.Role, f.Err, f.Attempts)
}

// PhaseFailure aggregates the worker failures that sank a phase. Partial
// successes from sibling workers are discarded, never persisted.
type PhaseFailure struct {
	Phase    PhaseID
	Failures []WorkerFailure
}

func (e *PhaseFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("phase %s failed: %s", e.Phase, strings.Join(parts, "; "))
}

// Unwrap exposes the underlying worker errors to errors.Is/As.
func (e *PhaseFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
