package filters

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
)

// BZIP2Filter is the registered bzip2 filter (ID 307). Only the read path
// exists.
type BZIP2Filter struct{}

// NewBZIP2Filter creates a bzip2 filter.
func NewBZIP2Filter() *BZIP2Filter {
	return &BZIP2Filter{}
}

// ID returns the HDF5 filter identifier.
func (f *BZIP2Filter) ID() core.FilterID { return core.FilterBZIP2 }

// Name returns the HDF5 filter name.
func (f *BZIP2Filter) Name() string { return "bzip2" }

// Apply is not available.
func (f *BZIP2Filter) Apply(_ []byte) ([]byte, error) {
	return nil, errors.New("bzip2 compression not available")
}

// Remove decompresses a bzip2 stream.
func (f *BZIP2Filter) Remove(data []byte) ([]byte, error) {
	out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("bzip2 decompression failed: %w", err)
	}
	return out, nil
}
