package hdf5

import (
	"context"
	"errors"
	"fmt"

	"github.com/scigolib/h5chunk/internal/structures"
	"github.com/scigolib/h5chunk/internal/utils"
)

// ChunkInfo describes one allocated chunk.
type ChunkInfo struct {
	// Offset holds the element coordinates of the chunk origin.
	Offset []uint64
	// FilterMask has bit i set when pipeline filter i was skipped.
	FilterMask uint32
	Address    uint64
	// Size is the number of bytes allocated in the file. For unfiltered
	// indexes it is the nominal chunk size.
	Size uint64
}

// ChunkIter calls fn for each allocated chunk in the native order of the
// dataset's chunk index. Unallocated chunks are skipped. An error returned
// by fn stops the iteration and is returned unchanged.
func (d *Dataset) ChunkIter(fn func(ChunkInfo) error) error {
	if err := d.check(); err != nil {
		return err
	}
	layout, err := d.layout()
	if err != nil {
		return err
	}
	if !layout.IsChunked() {
		return fmt.Errorf("%w: %s is %s", ErrNotChunked, d.path, layout.Class)
	}
	if len(layout.ChunkDims) > MaxRank {
		return fmt.Errorf("%w: %s has rank %d", ErrRankTooLarge, d.path, len(layout.ChunkDims))
	}
	space, err := d.dataspace()
	if err != nil {
		return err
	}

	info := structures.ChunkIndexInfo{
		Layout:  layout,
		Dims:    space.Dimensions,
		MaxDims: space.EffectiveMaxDims(),
	}

	var stopped error
	err = structures.IterateChunks(d.file.r, d.file.sb, info, func(rec structures.ChunkRecord) error {
		if err := fn(ChunkInfo(rec)); err != nil {
			stopped = err
			return err
		}
		return nil
	})
	if stopped != nil {
		return stopped
	}
	if errors.Is(err, structures.ErrUnsupportedIndex) {
		return fmt.Errorf("%w: %s: %w", ErrUnsupported, d.path, err)
	}
	return utils.WrapErrorf(err, "%s: chunk index %s", d.path, layout.IndexType)
}

// ReadChunk reads the raw, still filtered, bytes of a chunk.
func (d *Dataset) ReadChunk(c ChunkInfo) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := utils.ValidateBufferSize(c.Size, utils.MaxChunkSize, "chunk"); err != nil {
		return nil, err
	}
	if c.Address+c.Size < c.Address {
		return nil, fmt.Errorf("chunk at 0x%X: size %d overflows the address space", c.Address, c.Size)
	}
	data, err := utils.ReadBlock(d.file.r, c.Address, int(c.Size))
	if err != nil {
		return nil, utils.WrapErrorf(err, "%s: chunk %v", d.path, c.Offset)
	}
	return data, nil
}

// ChunkIterator pulls chunks one at a time. It follows the bufio.Scanner
// pattern:
//
//	it := dataset.Chunks()
//	for it.Next() {
//	    c := it.Chunk()
//	    ...
//	}
//	if err := it.Err(); err != nil {
//	    ...
//	}
//
// The chunk index is read on the first call to Next.
type ChunkIterator struct {
	dataset *Dataset
	ctx     context.Context
	chunks  []ChunkInfo
	loaded  bool
	current int
	err     error
}

// Chunks returns a pull iterator over the allocated chunks.
func (d *Dataset) Chunks() *ChunkIterator {
	return d.ChunksWithContext(context.Background())
}

// ChunksWithContext is Chunks with cancellation checked before every step.
func (d *Dataset) ChunksWithContext(ctx context.Context) *ChunkIterator {
	return &ChunkIterator{dataset: d, ctx: ctx}
}

// Next advances to the next chunk. It returns false at the end or on error;
// check Err to tell them apart.
func (it *ChunkIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if !it.loaded {
		it.loaded = true
		it.err = it.dataset.ChunkIter(func(c ChunkInfo) error {
			it.chunks = append(it.chunks, c)
			return it.ctx.Err()
		})
		if it.err != nil {
			it.chunks = nil
			return false
		}
	}
	if it.current >= len(it.chunks) {
		return false
	}
	it.current++
	return true
}

// Chunk returns the chunk Next stopped at.
func (it *ChunkIterator) Chunk() ChunkInfo {
	if it.current == 0 || it.current > len(it.chunks) {
		return ChunkInfo{}
	}
	return it.chunks[it.current-1]
}

// Err returns the first error met by Next.
func (it *ChunkIterator) Err() error {
	return it.err
}
