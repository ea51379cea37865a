package hdf5

import (
	"errors"

	"github.com/scigolib/h5chunk/internal/core"
)

// Sentinel errors. Operations wrap them with context; test with errors.Is.
var (
	// ErrNotHDF5 reports a file without the HDF5 signature at offset 0.
	ErrNotHDF5 = core.ErrNotHDF5

	ErrClosed       = errors.New("hdf5: use of closed handle")
	ErrNotFound     = errors.New("hdf5: object not found")
	ErrNotDataset   = errors.New("hdf5: object is not a dataset")
	ErrNotChunked   = errors.New("hdf5: dataset is not chunked")
	ErrRankTooLarge = errors.New("hdf5: rank exceeds maximum")
	ErrUnsupported  = errors.New("hdf5: unsupported feature")

	// ErrTraversal wraps failures of the visit machinery itself, as opposed
	// to errors returned by the visitor.
	ErrTraversal = errors.New("hdf5: traversal failed")
)
