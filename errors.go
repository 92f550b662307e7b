package procbox

import (
	"errors"
	"fmt"
)

// Common errors returned by resource operations
var (
	// ErrAlreadyOpen indicates open was called on an opening or opened resource
	ErrAlreadyOpen = errors.New("procbox: already open")

	// ErrNotOpen indicates the resource was never opened
	ErrNotOpen = errors.New("procbox: not open")

	// ErrClosed indicates the resource has already been closed
	ErrClosed = errors.New("procbox: closed")

	// ErrSpawn indicates the underlying process failed to start
	ErrSpawn = errors.New("procbox: spawn failed")

	// ErrChildExit indicates the process exited while it was expected to run
	ErrChildExit = errors.New("procbox: child exited")

	// ErrConfig indicates a missing or invalid configuration field
	ErrConfig = errors.New("procbox: invalid config")
)

// OpError represents an error from a lifecycle operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Name identifies the resource involved in the operation
	Name string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("procbox %s: %v", e.Op.String(), e.Err)
	}
	return fmt.Sprintf("procbox %s %q: %v", e.Op.String(), e.Name, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// ChildExitError reports a process that exited while it was opened and
// nobody asked it to stop.
type ChildExitError struct {
	// Name identifies the resource whose process exited
	Name string
	// PID is the process ID of the exited child
	PID int
	// ExitCode is the exit status, -1 when killed by a signal
	ExitCode int
	// Err is the error returned when waiting on the child, if any
	Err error
}

// Error returns a formatted error message
func (e *ChildExitError) Error() string {
	msg := fmt.Sprintf("procbox: child %q (pid %d) exited with code %d", e.Name, e.PID, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrChildExit as the error kind
func (e *ChildExitError) Is(target error) bool {
	return target == ErrChildExit
}

// Unwrap returns the wait error
func (e *ChildExitError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %v", len(m.Errors), m.Errors[0])
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// First returns the first accumulated error or nil
func (m *MultiError) First() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m.Errors[0]
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// opErr wraps err in an OpError unless it already is one
func opErr(op Operation, name string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Name: name, Err: err}
}

// isSettled reports errors meaning the target holds no live process
func isSettled(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrNotOpen)
}
