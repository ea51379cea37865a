// Copyright (c) 2025 SciGo HDF5 Library Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package structures

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// ErrHugeObject is returned for heap objects stored outside the heap blocks.
var ErrHugeObject = errors.New("huge fractal heap objects are not supported")

// Heap ID types, bits 4-5 of the first ID byte.
const (
	HeapIDTypeManaged = 0x00
	HeapIDTypeHuge    = 0x10
	HeapIDTypeTiny    = 0x20
)

// FractalHeap is a read-only view of a fractal heap, the store behind dense
// link and attribute storage.
//
// Managed objects live in direct blocks addressed through a doubling table:
// row 0 and row 1 hold blocks of the starting size, each later row doubles
// it. Rows beyond the largest direct block size point at indirect blocks
// that repeat the same layout.
type FractalHeap struct {
	Header *FractalHeapHeader

	r  io.ReaderAt
	sb *core.Superblock
}

// FractalHeapHeader holds the "FRHP" fields needed to locate objects.
//
// Format: signature, version (0), heap ID length (2), I/O filter length (2),
// flags (1), max managed object size (4), huge object bookkeeping, free
// space bookkeeping, eight statistics, doubling table parameters, optional
// filter information, checksum.
type FractalHeapHeader struct {
	HeapIDLen    uint16
	IOFiltersLen uint16
	Flags        uint8

	MaxManagedObjSize uint32
	ManagedObjCount   uint64
	TinyObjCount      uint64
	HugeObjCount      uint64

	TableWidth            uint16
	StartingBlockSize     uint64
	MaxDirectBlockSize    uint64
	MaxHeapSizeBits       uint16
	StartRootIndirectRows uint16
	RootBlockAddr         uint64
	CurrentRowCount       uint16

	// Derived values.
	HeapOffsetSize int
	HeapLengthSize int
	MaxDirectRows  int
}

// ChecksumDirectBlocks reports whether direct blocks carry a checksum.
func (h *FractalHeapHeader) ChecksumDirectBlocks() bool {
	return h.Flags&0x02 != 0
}

// OpenFractalHeap reads the heap header at address.
func OpenFractalHeap(r io.ReaderAt, address uint64, sb *core.Superblock) (*FractalHeap, error) {
	lenSize := int(sb.LengthSize)
	offSize := int(sb.OffsetSize)
	size := 4 + 1 + 2 + 2 + 1 + 4 + // prefix
		lenSize + offSize + lenSize + offSize + // huge ID, huge B-tree, free space amount and address
		8*lenSize + // statistics
		2 + lenSize + lenSize + 2 + 2 + offSize + 2 // doubling table
	buf, err := utils.ReadBlock(r, address, size)
	if err != nil {
		return nil, utils.WrapError("fractal heap header read failed", err)
	}

	d := sb.NewDecoder(buf)
	if err := d.Signature("FRHP"); err != nil {
		return nil, err
	}
	if v := d.Uint8(); v != 0 {
		return nil, fmt.Errorf("unsupported fractal heap version: %d", v)
	}
	h := &FractalHeapHeader{
		HeapIDLen:         d.Uint16(),
		IOFiltersLen:      d.Uint16(),
		Flags:             d.Uint8(),
		MaxManagedObjSize: d.Uint32(),
	}
	d.Skip(lenSize + offSize + lenSize + offSize)
	d.Skip(3 * lenSize) // managed space, allocated space, iterator offset
	h.ManagedObjCount = d.Length()
	d.Skip(lenSize)
	h.HugeObjCount = d.Length()
	d.Skip(lenSize)
	h.TinyObjCount = d.Length()

	h.TableWidth = d.Uint16()
	h.StartingBlockSize = d.Length()
	h.MaxDirectBlockSize = d.Length()
	h.MaxHeapSizeBits = d.Uint16()
	h.StartRootIndirectRows = d.Uint16()
	h.RootBlockAddr = d.Offset()
	h.CurrentRowCount = d.Uint16()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if err := h.init(); err != nil {
		return nil, utils.WrapErrorf(err, "fractal heap at 0x%X", address)
	}

	// The checksum follows the optional filter information.
	extra := 4
	if h.IOFiltersLen > 0 {
		extra += lenSize + 4 + int(h.IOFiltersLen)
	}
	full, err := utils.ReadBlock(r, address, size+extra)
	if err != nil {
		return nil, utils.WrapError("fractal heap header read failed", err)
	}
	if err := utils.VerifyChecksum(full); err != nil {
		return nil, utils.WrapErrorf(err, "fractal heap at 0x%X", address)
	}

	return &FractalHeap{Header: h, r: r, sb: sb}, nil
}

func (h *FractalHeapHeader) init() error {
	isPow2 := func(v uint64) bool { return v != 0 && v&(v-1) == 0 }
	switch {
	case h.TableWidth == 0 || !isPow2(uint64(h.TableWidth)):
		return fmt.Errorf("invalid table width %d", h.TableWidth)
	case !isPow2(h.StartingBlockSize):
		return fmt.Errorf("invalid starting block size %d", h.StartingBlockSize)
	case !isPow2(h.MaxDirectBlockSize) || h.MaxDirectBlockSize < h.StartingBlockSize:
		return fmt.Errorf("invalid max direct block size %d", h.MaxDirectBlockSize)
	case h.MaxHeapSizeBits == 0 || h.MaxHeapSizeBits > 64:
		return fmt.Errorf("invalid max heap size bits %d", h.MaxHeapSizeBits)
	}

	h.HeapOffsetSize = (int(h.MaxHeapSizeBits) + 7) / 8
	h.HeapLengthSize = (utils.Log2(h.MaxDirectBlockSize) + 7) / 8
	if n := utils.LimitEncSize(uint64(h.MaxManagedObjSize)); n < h.HeapLengthSize {
		h.HeapLengthSize = n
	}
	h.MaxDirectRows = utils.Log2(h.MaxDirectBlockSize) - utils.Log2(h.StartingBlockSize) + 2
	return nil
}

// rowBlockSize returns the size of the blocks in row r of a doubling table.
func (h *FractalHeapHeader) rowBlockSize(row int) uint64 {
	if row == 0 {
		return h.StartingBlockSize
	}
	return h.StartingBlockSize << (row - 1)
}

// rowOffset returns the heap offset of the first block in row r relative
// to the start of the table.
func (h *FractalHeapHeader) rowOffset(row int) uint64 {
	if row == 0 {
		return 0
	}
	return uint64(h.TableWidth) * h.StartingBlockSize << (row - 1)
}

// ReadObject returns the object identified by heapID.
func (fh *FractalHeap) ReadObject(heapID []byte) ([]byte, error) {
	if len(heapID) == 0 {
		return nil, errors.New("empty heap ID")
	}
	if v := heapID[0] & 0xC0; v != 0 {
		return nil, fmt.Errorf("unsupported heap ID version: %d", v>>6)
	}

	switch heapID[0] & 0x30 {
	case HeapIDTypeManaged:
		return fh.readManaged(heapID)
	case HeapIDTypeTiny:
		return readTiny(heapID, fh.Header.HeapIDLen)
	case HeapIDTypeHuge:
		return nil, ErrHugeObject
	default:
		return nil, fmt.Errorf("invalid heap ID type 0x%02X", heapID[0]&0x30)
	}
}

// readTiny extracts an object stored inside the ID itself. IDs longer than
// 18 bytes use a 12-bit length spread over the first two bytes.
func readTiny(id []byte, idLen uint16) ([]byte, error) {
	n := int(id[0]&0x0F) + 1
	data := id[1:]
	if idLen > 18 {
		if len(id) < 2 {
			return nil, utils.ErrTruncated
		}
		n = (int(id[0]&0x0F)<<8 | int(id[1])) + 1
		data = id[2:]
	}
	if n > len(data) {
		return nil, fmt.Errorf("tiny object length %d exceeds heap ID", n)
	}
	return data[:n], nil
}

func (fh *FractalHeap) readManaged(id []byte) ([]byte, error) {
	h := fh.Header
	if h.IOFiltersLen > 0 {
		return nil, errors.New("filtered fractal heaps are not supported")
	}
	d := utils.NewDecoder(id, fh.sb.OffsetSize, fh.sb.LengthSize)
	d.Skip(1)
	offset := d.UintN(h.HeapOffsetSize)
	length := d.UintN(h.HeapLengthSize)
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("managed heap ID", err)
	}
	if length == 0 || length > uint64(h.MaxManagedObjSize) {
		return nil, fmt.Errorf("managed object length %d out of range", length)
	}

	blockAddr, blockOffset, blockSize, err := fh.locate(offset)
	if err != nil {
		return nil, err
	}
	rel := offset - blockOffset
	if rel+length > blockSize {
		return nil, fmt.Errorf("object at heap offset %d overruns its block", offset)
	}
	//nolint:gosec // G115: bounded by MaxManagedObjSize
	return utils.ReadBlock(fh.r, blockAddr+rel, int(length))
}

// locate finds the direct block holding heap offset off, returning its
// file address, its heap offset and its size.
func (fh *FractalHeap) locate(off uint64) (addr, blockOffset, size uint64, err error) {
	h := fh.Header
	if utils.IsUndefined(h.RootBlockAddr) {
		return 0, 0, 0, errors.New("fractal heap has no root block")
	}
	if h.CurrentRowCount == 0 {
		if off >= h.StartingBlockSize {
			return 0, 0, 0, fmt.Errorf("heap offset %d beyond root direct block", off)
		}
		return h.RootBlockAddr, 0, h.StartingBlockSize, fh.checkDirectBlock(h.RootBlockAddr, 0)
	}

	iblockAddr := h.RootBlockAddr
	iblockOffset := uint64(0)
	nrows := int(h.CurrentRowCount)
	width := uint64(h.TableWidth)
	for depth := 0; depth < maxBTreeDepth; depth++ {
		rel := off - iblockOffset
		row := 0
		if rel >= width*h.StartingBlockSize {
			row = utils.Log2(rel/(width*h.StartingBlockSize)) + 1
		}
		if row >= nrows {
			return 0, 0, 0, fmt.Errorf("heap offset %d beyond indirect block at 0x%X", off, iblockAddr)
		}
		bsize := h.rowBlockSize(row)
		col := (rel - h.rowOffset(row)) / bsize
		childOffset := iblockOffset + h.rowOffset(row) + col*bsize

		child, err := fh.indirectEntry(iblockAddr, iblockOffset, nrows, row*int(width)+int(col))
		if err != nil {
			return 0, 0, 0, err
		}
		if utils.IsUndefined(child) {
			return 0, 0, 0, fmt.Errorf("heap offset %d falls in an unallocated block", off)
		}
		if row < h.MaxDirectRows {
			return child, childOffset, bsize, fh.checkDirectBlock(child, childOffset)
		}

		iblockAddr = child
		iblockOffset = childOffset
		nrows = utils.Log2(bsize) - utils.Log2(h.StartingBlockSize*width) + 1
	}
	return 0, 0, 0, errors.New("fractal heap indirect blocks nested too deeply")
}

// indirectEntry reads child entry idx of the "FHIB" block at addr.
//
// Format: signature, version, heap header address, block offset, then one
// entry per child (direct rows first, each with filtered size and mask when
// the heap is filtered), then a checksum.
func (fh *FractalHeap) indirectEntry(addr, blockOffset uint64, nrows, idx int) (uint64, error) {
	h := fh.Header
	offSize := int(fh.sb.OffsetSize)
	width := int(h.TableWidth)

	directRows := nrows
	if directRows > h.MaxDirectRows {
		directRows = h.MaxDirectRows
	}
	directEntry := offSize
	if h.IOFiltersLen > 0 {
		directEntry += int(fh.sb.LengthSize) + 4
	}
	prefix := 4 + 1 + offSize + h.HeapOffsetSize
	size := prefix + directRows*width*directEntry + (nrows-directRows)*width*offSize + 4
	if uint64(size) > utils.MaxMetadataBlock {
		return 0, fmt.Errorf("indirect block with %d rows too large", nrows)
	}

	buf, err := utils.ReadBlock(fh.r, addr, size)
	if err != nil {
		return 0, utils.WrapError("fractal heap indirect block read failed", err)
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return 0, utils.WrapErrorf(err, "fractal heap indirect block at 0x%X", addr)
	}
	d := fh.sb.NewDecoder(buf)
	if err := d.Signature("FHIB"); err != nil {
		return 0, err
	}
	d.Skip(1 + offSize)
	if got := d.UintN(h.HeapOffsetSize); got != blockOffset {
		return 0, fmt.Errorf("indirect block at 0x%X has offset %d, expected %d", addr, got, blockOffset)
	}

	if idx < directRows*width {
		d.Skip(idx * directEntry)
	} else {
		d.Skip(directRows*width*directEntry + (idx-directRows*width)*offSize)
	}
	child := d.Offset()
	return child, d.Err()
}

// checkDirectBlock validates the "FHDB" prefix of a direct block: signature,
// version, heap header address and block offset.
func (fh *FractalHeap) checkDirectBlock(addr, blockOffset uint64) error {
	size := 4 + 1 + int(fh.sb.OffsetSize) + fh.Header.HeapOffsetSize
	buf, err := utils.ReadBlock(fh.r, addr, size)
	if err != nil {
		return utils.WrapError("fractal heap direct block read failed", err)
	}
	d := fh.sb.NewDecoder(buf)
	if err := d.Signature("FHDB"); err != nil {
		return utils.WrapErrorf(err, "direct block at 0x%X", addr)
	}
	d.Skip(1 + int(fh.sb.OffsetSize))
	if got := d.UintN(fh.Header.HeapOffsetSize); got != blockOffset {
		return fmt.Errorf("direct block at 0x%X has offset %d, expected %d", addr, got, blockOffset)
	}
	return d.Err()
}
