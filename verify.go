package h5chunk

import (
	"fmt"

	"github.com/scigolib/h5chunk/hdf5"
	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/filters"
)

// chunkChecker undoes a dataset's filter pipeline on stored chunks and
// checks the decoded size against the nominal chunk size.
type chunkChecker struct {
	pipeline *filters.Pipeline // nil when some filter has no decoder
	nominal  uint64
}

func newChunkChecker(stages []hdf5.Filter, elemSize, nominal uint64) *chunkChecker {
	specs := make([]filters.Spec, len(stages))
	for i, f := range stages {
		specs[i] = filters.Spec{ID: core.FilterID(f.ID), ClientData: f.ClientData}
	}
	c := &chunkChecker{nominal: nominal}
	if p, err := filters.NewPipeline(specs, elemSize); err == nil {
		c.pipeline = p
	}
	return c
}

// verify reports whether raw was checked. An error means the chunk is
// corrupt.
func (c *chunkChecker) verify(raw []byte, mask uint32) (bool, error) {
	if c.pipeline == nil {
		return false, nil
	}
	data, err := c.pipeline.Remove(raw, mask)
	if err != nil {
		return false, err
	}
	if uint64(len(data)) != c.nominal {
		return false, fmt.Errorf("decoded %d bytes, expected %d", len(data), c.nominal)
	}
	return true, nil
}
