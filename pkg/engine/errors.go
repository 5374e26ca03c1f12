package engine

import (
	"errors"
	"fmt"
)

var (
	ErrModelInit          = errors.New("model init failed")
	ErrNotReady           = errors.New("engine not ready")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrArenaTooSmall      = errors.New("arena too small")
)

// ModelInitError is returned by Init. It is fatal: the engine stays Failed.
type ModelInitError struct {
	Reason string
	Err    error
}

func (e *ModelInitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrModelInit, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrModelInit, e.Reason, e.Err)
}

// Unwrap exposes both ErrModelInit and the cause to errors.Is.
func (e *ModelInitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrModelInit}
	}
	return []error{ErrModelInit, e.Err}
}

// ShapeMismatchError reports a caller buffer of the wrong length.
type ShapeMismatchError struct {
	Buffer string
	Want   int
	Got    int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%v: %s length %d, want %d", ErrShapeMismatch, e.Buffer, e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}
