package bootstrap

import (
	"errors"
	"fmt"
)

// ErrMalformedInput matches every validation failure.
var ErrMalformedInput = errors.New("malformed input")

// MalformedInputError describes why a collection was rejected.
type MalformedInputError struct {
	// Feature is the index of the offending feature, or -1 for the document.
	Feature int

	// Reason is a short description of the problem.
	Reason string

	// Err is the underlying decode error, if any.
	Err error
}

func (e *MalformedInputError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Feature >= 0 {
		return fmt.Sprintf("malformed input: feature %d: %s", e.Feature, msg)
	}
	return "malformed input: " + msg
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedInput.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

func documentError(reason string, err error) *MalformedInputError {
	return &MalformedInputError{Feature: -1, Reason: reason, Err: err}
}

func featureError(i int, reason string, err error) *MalformedInputError {
	return &MalformedInputError{Feature: i, Reason: reason, Err: err}
}
