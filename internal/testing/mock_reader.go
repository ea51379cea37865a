// Package testing provides test utilities for HDF5 library testing.
package testing

import (
	"errors"
	"io"
)

// MockReaderAt is a mock implementation of io.ReaderAt for testing.
type MockReaderAt struct {
	data  []byte
	reads int
}

// NewMockReaderAt creates a new mock reader with the given data.
func NewMockReaderAt(data []byte) *MockReaderAt {
	return &MockReaderAt{data: data}
}

// ReadAt implements io.ReaderAt. Short reads report io.EOF like an *os.File.
func (m *MockReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	m.reads++
	if off < 0 {
		return 0, errors.New("negative offset")
	}

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n = copy(p, m.data[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

// Reads returns the number of ReadAt calls made so far.
func (m *MockReaderAt) Reads() int {
	return m.reads
}
