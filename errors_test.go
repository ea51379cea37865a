package h5chunk

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := newError(ErrEnumeration, "/grp/d", "read chunk [0,0]", io.ErrUnexpectedEOF)
	assert.Equal(t, "chunk enumeration failed: /grp/d: read chunk [0,0]: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, ErrEnumeration)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrMetadata)

	noOp := newError(ErrOpen, "x.h5", "", io.EOF)
	assert.Equal(t, "open failed: x.h5: EOF", noOp.Error())

	var e *Error
	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "/grp/d", e.Path)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, recoverable(newError(ErrMetadata, "/d", "datatype", io.EOF)))
	assert.True(t, recoverable(newError(ErrEnumeration, "/d", "chunk iteration", io.EOF)))
	assert.False(t, recoverable(newError(ErrVisit, "/d", "write", io.EOF)))
	assert.False(t, recoverable(newError(ErrOpen, "x.h5", "open", io.EOF)))
	assert.False(t, recoverable(io.EOF))
}
