package structures

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// ErrUnsupportedIndex is returned for chunk index types that cannot be read.
var ErrUnsupportedIndex = errors.New("unsupported chunk index")

// ChunkRecord describes one allocated chunk.
type ChunkRecord struct {
	// Offset is the logical position of the chunk's first element.
	Offset     []uint64
	FilterMask uint32
	Address    uint64
	// Size is the number of bytes allocated for the chunk in the file.
	Size uint64
}

// ChunkIndexInfo carries what every index reader needs besides the file.
type ChunkIndexInfo struct {
	Layout  *core.DataLayoutMessage
	Dims    []uint64
	MaxDims []uint64
}

// Rank returns the dataset rank.
func (ci *ChunkIndexInfo) Rank() int {
	return len(ci.Layout.ChunkDims)
}

// maxChunks returns the chunk grid over the maximum extents. Unlimited
// dimensions yield Unlimited.
func (ci *ChunkIndexInfo) maxChunks() []uint64 {
	out := make([]uint64, ci.Rank())
	for i, c := range ci.Layout.ChunkDims {
		m := ci.MaxDims[i]
		if m == core.Unlimited {
			out[i] = core.Unlimited
			continue
		}
		out[i] = utils.CeilDiv(m, c)
	}
	return out
}

// elementOffset converts scaled chunk coordinates to element offsets.
func (ci *ChunkIndexInfo) elementOffset(scaled []uint64) []uint64 {
	out := make([]uint64, len(scaled))
	for i, s := range scaled {
		out[i] = s * ci.Layout.ChunkDims[i]
	}
	return out
}

// IterateChunks calls fn for every allocated chunk of a chunked dataset,
// dispatching on the layout's index type. Unallocated indexes produce no
// calls.
func IterateChunks(r io.ReaderAt, sb *core.Superblock, info ChunkIndexInfo, fn func(ChunkRecord) error) error {
	layout := info.Layout
	if !layout.IsChunked() {
		return errors.New("dataset is not chunked")
	}
	if len(info.Dims) != info.Rank() || len(info.MaxDims) != info.Rank() {
		return fmt.Errorf("chunk rank %d does not match dataspace rank %d", info.Rank(), len(info.Dims))
	}
	for i, c := range layout.ChunkDims {
		if c == 0 {
			return fmt.Errorf("chunk dimension %d is zero", i)
		}
	}
	if utils.IsUndefined(layout.Address) {
		return nil
	}

	switch layout.IndexType {
	case core.ChunkIndexBTreeV1:
		return WalkChunkBTree(r, layout.Address, sb, info.Rank(), fn)
	case core.ChunkIndexSingle:
		return iterateSingle(info, fn)
	case core.ChunkIndexImplicit:
		return iterateImplicit(info, fn)
	case core.ChunkIndexFixedArray:
		return IterateFixedArray(r, sb, layout.Address, info, fn)
	case core.ChunkIndexExtensibleArray:
		return IterateExtensibleArray(r, sb, layout.Address, info, fn)
	case core.ChunkIndexBTreeV2:
		return IterateChunkBTreeV2(r, sb, layout.Address, info, fn)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedIndex, layout.IndexType)
	}
}

func iterateSingle(info ChunkIndexInfo, fn func(ChunkRecord) error) error {
	layout := info.Layout
	rec := ChunkRecord{Offset: make([]uint64, info.Rank()), Address: layout.Address}
	if layout.Flags&core.LayoutFlagSingleIndexWithFilter != 0 {
		rec.Size = layout.SingleFilteredSize
		rec.FilterMask = layout.SingleFilterMask
	} else {
		size, err := layout.ChunkBytes()
		if err != nil {
			return err
		}
		rec.Size = size
	}
	return fn(rec)
}

// iterateImplicit enumerates the chunks of an implicit index: storage is
// allocated for the whole grid at once, chunk i sitting at address + i*size.
func iterateImplicit(info ChunkIndexInfo, fn func(ChunkRecord) error) error {
	size, err := info.Layout.ChunkBytes()
	if err != nil {
		return err
	}
	grid := info.maxChunks()
	total := uint64(1)
	for _, n := range grid {
		if n == core.Unlimited {
			return errors.New("implicit index with unlimited dimension")
		}
		if total, err = utils.SafeMultiply(total, n); err != nil {
			return err
		}
	}

	scaled := make([]uint64, len(grid))
	for i := uint64(0); i < total; i++ {
		unravel(i, grid, scaled)
		if err := fn(ChunkRecord{
			Offset:  info.elementOffset(scaled),
			Address: info.Layout.Address + i*size,
			Size:    size,
		}); err != nil {
			return err
		}
	}
	return nil
}

// unravel writes the row-major coordinates of idx in grid into out.
func unravel(idx uint64, grid, out []uint64) {
	for i := len(grid) - 1; i >= 0; i-- {
		n := grid[i]
		if n == 0 || n == core.Unlimited {
			out[i] = idx
			idx = 0
			continue
		}
		out[i] = idx % n
		idx /= n
	}
}

// Array index client IDs: whether elements describe filtered chunks.
const (
	clientUnfilteredChunks = 0
	clientFilteredChunks   = 1
)

// chunkElement is a decoded entry of an array-based chunk index.
type chunkElement struct {
	Address    uint64
	Size       uint64
	FilterMask uint32
}

// decodeChunkElement decodes one array element. Filtered elements carry
// the chunk size in the bytes left after the address and the filter mask.
func decodeChunkElement(d *utils.Decoder, elemSize int, filtered bool, nominal uint64) chunkElement {
	e := chunkElement{Address: d.Offset(), Size: nominal}
	if !filtered {
		d.Skip(elemSize - d.OffsetSize())
		return e
	}
	e.Size = d.UintN(elemSize - d.OffsetSize() - 4)
	e.FilterMask = d.Uint32()
	return e
}

// checkElementSize validates an array element width against the file's
// address width.
func checkElementSize(elemSize int, offsetSize uint8, filtered bool) error {
	want := int(offsetSize)
	if filtered {
		want += 4 + 1
	}
	if elemSize < want || (filtered && elemSize > want+7) {
		return fmt.Errorf("invalid chunk index element size %d", elemSize)
	}
	return nil
}
