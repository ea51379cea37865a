package utils

import (
	"errors"
	"fmt"
)

// ErrTruncated is returned when a structure extends past the bytes read for it.
var ErrTruncated = errors.New("structure truncated")

// H5Error represents a structured HDF5 error.
type H5Error struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *H5Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *H5Error) Unwrap() error {
	return e.Cause
}

// WrapError creates a contextual error. A nil cause yields nil.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &H5Error{
		Context: context,
		Cause:   cause,
	}
}

// WrapErrorf is WrapError with a formatted context.
func WrapErrorf(cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &H5Error{
		Context: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
