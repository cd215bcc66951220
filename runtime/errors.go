package runtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for request validation and routing.
var (
	// ErrMissingCode is returned when a request carries no program body.
	ErrMissingCode = errors.New("code is required")

	// ErrInvalidResultName is returned when the result name is not a usable identifier.
	ErrInvalidResultName = errors.New("invalid result name")

	// ErrInvalidLimits is returned when a limit or timeout is negative.
	ErrInvalidLimits = errors.New("invalid limits")

	// ErrRuntimeUnavailable is returned when no backend can serve a profile.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")

	// ErrBackendDenied is returned when a profile is not permitted.
	ErrBackendDenied = errors.New("backend denied by policy")

	// ErrProtocol is returned when a worker exits without a readable result frame.
	ErrProtocol = errors.New("sandbox protocol error")
)

// Sentinel errors for execution outcomes. ExecError values match these through errors.Is.
var (
	// ErrCodeExecution indicates the program failed to compile or raised while running.
	ErrCodeExecution = errors.New("code execution error")

	// ErrResultMissing indicates the program finished without binding the result name.
	ErrResultMissing = errors.New("result binding missing")

	// ErrLimitExceeded indicates a wall-clock, CPU, memory or output ceiling was hit.
	ErrLimitExceeded = errors.New("limit exceeded")
)

// ErrorKind classifies an ExecError.
type ErrorKind string

const (
	KindSyntax  ErrorKind = "syntax"
	KindRuntime ErrorKind = "runtime"
	KindMissing ErrorKind = "missing"
	KindLimit   ErrorKind = "limit"
)

// ExecError describes a failed execution. Message never contains a traceback.
type ExecError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Exception is the Python exception type, when one was raised.
	Exception string

	// Message describes the failure.
	Message string

	// Line is the 1-based line within the generated code. Zero means unknown
	// or inside the preamble.
	Line int

	// Column is the 1-based column. Zero means unknown.
	Column int

	// Reason qualifies limit failures: timeout, cpu, memory, output or killed.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the message with its location when known.
func (e *ExecError) Error() string {
	msg := e.Message
	if e.Exception != "" {
		msg = e.Exception + ": " + msg
	}
	msg = string(e.Kind) + " error: " + msg
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, col %d)", msg, e.Line, e.Column)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// Is maps the error onto the execution sentinels.
func (e *ExecError) Is(target error) bool {
	switch target {
	case ErrCodeExecution:
		return e.Kind == KindSyntax || e.Kind == KindRuntime
	case ErrResultMissing:
		return e.Kind == KindMissing
	case ErrLimitExceeded:
		return e.Kind == KindLimit
	}
	return false
}

// LimitError builds a KindLimit ExecError.
func LimitError(reason, format string, args ...any) *ExecError {
	return &ExecError{
		Kind:    KindLimit,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// MissingError builds the KindMissing ExecError for name.
func MissingError(name string) *ExecError {
	return &ExecError{
		Kind:    KindMissing,
		Message: fmt.Sprintf("program finished without binding %q", name),
	}
}
