package remote

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// EngineError is the failure of a single engine.
type EngineError struct {
	Engine   int
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EngineError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("[%d:execute] %v", e.Engine, e.Err)
	default:
		return fmt.Sprintf("[%d:execute] exit status %d", e.Engine, e.ExitCode)
	}
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// CompositeError aggregates the failures of one submission, keyed by engine id.
type CompositeError struct {
	Errors map[int]error
}

// Engines returns the failing engine ids in ascending order.
func (e *CompositeError) Engines() []int {
	ids := make([]int, 0, len(e.Errors))
	for id := range e.Errors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (e *CompositeError) Error() string {
	ids := e.Engines()
	if len(ids) == 1 {
		return fmt.Sprintf("one or more exceptions from call to method: execute\n%v", e.Errors[ids[0]])
	}
	lines := make([]string, 0, len(ids)+1)
	lines = append(lines, fmt.Sprintf("%d engines failed in call to method: execute", len(ids)))
	for _, id := range ids {
		lines = append(lines, e.Errors[id].Error())
	}
	return strings.Join(lines, "\n")
}

// Unwrap exposes the per-engine errors in engine order.
func (e *CompositeError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, id := range e.Engines() {
		out = append(out, e.Errors[id])
	}
	return out
}

// AlreadyDisplayedError wraps a CompositeError whose output was already streamed
// to the user, so callers can report failure without rendering it twice.
type AlreadyDisplayedError struct {
	Err *CompositeError
}

func (e *AlreadyDisplayedError) Error() string {
	n := len(e.Err.Errors)
	if n == 1 {
		return "1 error (output shown above)"
	}
	return fmt.Sprintf("%d errors (output shown above)", n)
}

func (e *AlreadyDisplayedError) Unwrap() error {
	return e.Err
}

// IsRemoteFailure reports whether err carries engine failures.
func IsRemoteFailure(err error) bool {
	var ce *CompositeError
	return errors.As(err, &ce)
}
