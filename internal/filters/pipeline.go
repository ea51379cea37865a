// Copyright (c) 2025 SciGo HDF5 Library Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Package filters implements the read path of the HDF5 filters needed to
// check stored chunks: each Filter can undo what the library did on write.
// Apply is provided for every filter that can be produced in pure Go so
// that tests can write realistic chunks.
package filters

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5chunk/internal/core"
)

// ErrUnsupported is returned for filters without a decoder here.
var ErrUnsupported = errors.New("filter not supported")

// Filter transforms chunk data. Filters are applied in pipeline order on
// write and removed in reverse order on read.
type Filter interface {
	ID() core.FilterID
	Name() string
	Apply(data []byte) ([]byte, error)
	Remove(data []byte) ([]byte, error)
}

// Spec describes one pipeline entry as stored in the filter pipeline
// message.
type Spec struct {
	ID         core.FilterID
	ClientData []uint32
}

// New returns the filter for spec. elemSize is the dataset element size,
// used by shuffle when the client data omits it.
func New(spec Spec, elemSize uint64) (Filter, error) {
	switch spec.ID {
	case core.FilterDeflate:
		level := 6
		if len(spec.ClientData) > 0 {
			level = int(spec.ClientData[0])
		}
		return NewDeflateFilter(level), nil
	case core.FilterShuffle:
		size := elemSize
		if len(spec.ClientData) > 0 && spec.ClientData[0] > 0 {
			size = uint64(spec.ClientData[0])
		}
		return NewShuffleFilter(size), nil
	case core.FilterFletcher32:
		return NewFletcher32Filter(), nil
	case core.FilterLZF:
		return NewLZFFilter(), nil
	case core.FilterBZIP2:
		return NewBZIP2Filter(), nil
	case core.FilterZstd:
		return NewZstdFilter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, spec.ID)
	}
}

// Pipeline is an ordered chain of filters.
type Pipeline struct {
	filters []Filter
}

// NewPipeline builds a pipeline from the stored specs. It fails with
// ErrUnsupported if any filter has no decoder.
func NewPipeline(specs []Spec, elemSize uint64) (*Pipeline, error) {
	p := &Pipeline{filters: make([]Filter, 0, len(specs))}
	for _, s := range specs {
		f, err := New(s, elemSize)
		if err != nil {
			return nil, err
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

// Len returns the number of filters.
func (p *Pipeline) Len() int {
	return len(p.filters)
}

// Apply runs every filter in order (write path). Filters whose bit is set
// in mask are skipped.
func (p *Pipeline) Apply(data []byte, mask uint32) ([]byte, error) {
	result := data
	for i, f := range p.filters {
		if skipped(mask, i) {
			continue
		}
		var err error
		if result, err = f.Apply(result); err != nil {
			return nil, fmt.Errorf("filter %s failed: %w", f.Name(), err)
		}
	}
	return result, nil
}

// Remove undoes the filters in reverse order (read path). Filters whose bit
// is set in mask were never applied and are skipped.
func (p *Pipeline) Remove(data []byte, mask uint32) ([]byte, error) {
	result := data
	for i := len(p.filters) - 1; i >= 0; i-- {
		if skipped(mask, i) {
			continue
		}
		f := p.filters[i]
		var err error
		if result, err = f.Remove(result); err != nil {
			return nil, fmt.Errorf("filter %s remove failed: %w", f.Name(), err)
		}
	}
	return result, nil
}

func skipped(mask uint32, i int) bool {
	return i < 32 && mask&(1<<uint(i)) != 0 //nolint:gosec // G115: i < 32
}
