package h5chunk

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Run is an *Error (or a join of them
// in keep-going mode) that matches exactly one kind with errors.Is.
var (
	ErrOpen        = errors.New("open failed")
	ErrVisit       = errors.New("traversal failed")
	ErrMetadata    = errors.New("metadata error")
	ErrEnumeration = errors.New("chunk enumeration failed")
)

// Error is a failure while analysing one file or dataset.
type Error struct {
	Kind error  // one of ErrOpen, ErrVisit, ErrMetadata, ErrEnumeration
	Path string // file path or dataset path
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %s: %s: %v", e.Kind, e.Path, e.Op, e.Err)
}

// Unwrap returns the kind and the cause, so both match errors.Is.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, path, op string, err error) *Error {
	return &Error{Kind: kind, Path: path, Op: op, Err: err}
}

// recoverable reports whether keep-going mode may continue after err.
func recoverable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == ErrMetadata || e.Kind == ErrEnumeration
}
