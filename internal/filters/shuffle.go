package filters

import (
	"github.com/scigolib/h5chunk/internal/core"
)

// ShuffleFilter transposes the bytes of fixed-size elements: all first
// bytes, then all second bytes, and so on. Trailing bytes that do not fill
// an element are left in place.
type ShuffleFilter struct {
	elementSize uint64
}

// NewShuffleFilter creates a shuffle filter for elements of elementSize bytes.
func NewShuffleFilter(elementSize uint64) *ShuffleFilter {
	return &ShuffleFilter{elementSize: elementSize}
}

// ID returns the HDF5 filter identifier.
func (f *ShuffleFilter) ID() core.FilterID { return core.FilterShuffle }

// Name returns the HDF5 filter name.
func (f *ShuffleFilter) Name() string { return "shuffle" }

// Apply shuffles data.
func (f *ShuffleFilter) Apply(data []byte) ([]byte, error) {
	return f.transpose(data, false), nil
}

// Remove reverses Apply.
func (f *ShuffleFilter) Remove(data []byte) ([]byte, error) {
	return f.transpose(data, true), nil
}

func (f *ShuffleFilter) transpose(data []byte, inverse bool) []byte {
	size := f.elementSize
	if size <= 1 || uint64(len(data)) < size {
		return data
	}
	n := uint64(len(data)) / size
	out := make([]byte, len(data))
	for b := uint64(0); b < size; b++ {
		for e := uint64(0); e < n; e++ {
			packed := b*n + e
			natural := e*size + b
			if inverse {
				out[natural] = data[packed]
			} else {
				out[packed] = data[natural]
			}
		}
	}
	copy(out[n*size:], data[n*size:])
	return out
}
