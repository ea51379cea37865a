// Copyright (c) 2025 SciGo HDF5 Library Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// B-tree v2 record types used by this package.
const (
	BTreeV2LinkNameType      = 5
	BTreeV2ChunkType         = 10
	BTreeV2FilteredChunkType = 11
)

const (
	btreeV2NodeOverhead    = 4 + 1 + 1 + 4 // signature, version, type, checksum
	btreeV2HeaderFixedSize = 4 + 1 + 1 + 4 + 2 + 2 + 1 + 1
	maxBTreeV2Depth        = 32
)

// BTreeV2Header represents a v2 B-tree header ("BTHD").
//
// Format:
//   - Signature "BTHD", version (0), record type
//   - Node size (4), record size (2), depth (2)
//   - Split percent (1), merge percent (1)
//   - Root node address, records in root node (2), total records (length)
//   - Checksum
type BTreeV2Header struct {
	Type         uint8
	NodeSize     uint32
	RecordSize   uint16
	Depth        uint16
	SplitPercent uint8
	MergePercent uint8
	RootAddress  uint64
	RootRecords  uint16
	TotalRecords uint64

	// Per-depth node geometry, index 0 is the leaf level.
	maxRecords    []uint64
	cumRecords    []uint64
	cumRecordSize []int
	maxRecordSize int
}

// ReadBTreeV2Header reads and validates a v2 B-tree header.
func ReadBTreeV2Header(r io.ReaderAt, address uint64, sb *core.Superblock) (*BTreeV2Header, error) {
	size := btreeV2HeaderFixedSize + int(sb.OffsetSize) + 2 + int(sb.LengthSize) + 4
	buf, err := utils.ReadBlock(r, address, size)
	if err != nil {
		return nil, utils.WrapError("B-tree v2 header read failed", err)
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return nil, utils.WrapErrorf(err, "B-tree v2 header at 0x%X", address)
	}

	d := sb.NewDecoder(buf)
	if err := d.Signature("BTHD"); err != nil {
		return nil, err
	}
	if v := d.Uint8(); v != 0 {
		return nil, fmt.Errorf("unsupported B-tree v2 version: %d", v)
	}
	h := &BTreeV2Header{
		Type:         d.Uint8(),
		NodeSize:     d.Uint32(),
		RecordSize:   d.Uint16(),
		Depth:        d.Uint16(),
		SplitPercent: d.Uint8(),
		MergePercent: d.Uint8(),
	}
	h.RootAddress = d.Offset()
	h.RootRecords = d.Uint16()
	h.TotalRecords = d.Length()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if err := h.initGeometry(sb); err != nil {
		return nil, utils.WrapErrorf(err, "B-tree v2 header at 0x%X", address)
	}
	return h, nil
}

// initGeometry derives the maximum record counts per depth. Child pointers
// in internal nodes encode the child's record count and, above the lowest
// internal level, the total records beneath it, at widths that depend on
// these maxima.
func (h *BTreeV2Header) initGeometry(sb *core.Superblock) error {
	if h.RecordSize == 0 || h.NodeSize <= btreeV2NodeOverhead || h.NodeSize > utils.MaxMetadataBlock {
		return fmt.Errorf("invalid node size %d for record size %d", h.NodeSize, h.RecordSize)
	}
	if h.Depth > maxBTreeV2Depth {
		return fmt.Errorf("B-tree v2 depth %d too large", h.Depth)
	}
	payload := uint64(h.NodeSize) - btreeV2NodeOverhead

	levels := int(h.Depth) + 1
	h.maxRecords = make([]uint64, levels)
	h.cumRecords = make([]uint64, levels)
	h.cumRecordSize = make([]int, levels)

	h.maxRecords[0] = payload / uint64(h.RecordSize)
	if h.maxRecords[0] == 0 {
		return fmt.Errorf("node size %d holds no records of size %d", h.NodeSize, h.RecordSize)
	}
	h.cumRecords[0] = h.maxRecords[0]
	h.cumRecordSize[0] = 0
	h.maxRecordSize = utils.LimitEncSize(h.maxRecords[0])

	for depth := 1; depth < levels; depth++ {
		ptr := uint64(h.pointerSize(sb, depth))
		h.maxRecords[depth] = (payload - ptr) / (uint64(h.RecordSize) + ptr)
		if h.maxRecords[depth] == 0 {
			return fmt.Errorf("node size %d too small for depth %d", h.NodeSize, depth)
		}
		cum := (h.maxRecords[depth]+1)*h.cumRecords[depth-1] + h.maxRecords[depth]
		if cum < h.cumRecords[depth-1] {
			cum = ^uint64(0)
		}
		h.cumRecords[depth] = cum
		h.cumRecordSize[depth] = utils.LimitEncSize(cum)
	}
	return nil
}

// pointerSize is the width of one child pointer in an internal node at depth.
func (h *BTreeV2Header) pointerSize(sb *core.Superblock, depth int) int {
	size := int(sb.OffsetSize) + h.maxRecordSize
	if depth > 1 {
		size += h.cumRecordSize[depth-1]
	}
	return size
}

// Walk calls fn with every record in key order.
func (h *BTreeV2Header) Walk(r io.ReaderAt, sb *core.Superblock, fn func(record []byte) error) error {
	if utils.IsUndefined(h.RootAddress) || h.RootRecords == 0 {
		return nil
	}
	w := &btreeV2Walker{r: r, sb: sb, hdr: h, fn: fn, seen: make(map[uint64]bool)}
	return w.node(h.RootAddress, int(h.Depth), uint64(h.RootRecords))
}

type btreeV2Walker struct {
	r    io.ReaderAt
	sb   *core.Superblock
	hdr  *BTreeV2Header
	fn   func([]byte) error
	seen map[uint64]bool
}

func (w *btreeV2Walker) node(address uint64, depth int, nrec uint64) error {
	if w.seen[address] {
		return fmt.Errorf("B-tree v2 cycle at 0x%X", address)
	}
	w.seen[address] = true
	if nrec > w.hdr.maxRecords[depth] {
		return fmt.Errorf("B-tree v2 node at 0x%X claims %d records", address, nrec)
	}

	buf, err := utils.ReadBlock(w.r, address, int(w.hdr.NodeSize))
	if err != nil {
		return utils.WrapError("B-tree v2 node read failed", err)
	}
	sig := "BTLF"
	if depth > 0 {
		sig = "BTIN"
	}
	d := w.sb.NewDecoder(buf)
	if err := d.Signature(sig); err != nil {
		return utils.WrapErrorf(err, "B-tree v2 node at 0x%X", address)
	}
	d.Skip(1) // version
	if t := d.Uint8(); t != w.hdr.Type {
		return fmt.Errorf("B-tree v2 node at 0x%X has record type %d, expected %d", address, t, w.hdr.Type)
	}

	recSize := int(w.hdr.RecordSize)
	records := make([][]byte, nrec)
	for i := range records {
		records[i] = d.Bytes(recSize)
	}
	if err := d.Err(); err != nil {
		return err
	}

	// Checksum covers the prefix, records and child pointers.
	used := d.Pos()
	if depth > 0 {
		used += int(nrec+1) * w.hdr.pointerSize(w.sb, depth)
	}
	if used+4 > len(buf) {
		return fmt.Errorf("B-tree v2 node at 0x%X overflows node size", address)
	}
	if err := utils.VerifyChecksum(buf[:used+4]); err != nil {
		return utils.WrapErrorf(err, "B-tree v2 node at 0x%X", address)
	}

	if depth == 0 {
		for _, rec := range records {
			if err := w.fn(rec); err != nil {
				return err
			}
		}
		return nil
	}

	for i := uint64(0); i <= nrec; i++ {
		child := d.Offset()
		childRecs := d.UintN(w.hdr.maxRecordSize)
		if depth > 1 {
			d.Skip(w.hdr.cumRecordSize[depth-1])
		}
		if err := d.Err(); err != nil {
			return err
		}
		if err := w.node(child, depth-1, childRecs); err != nil {
			return err
		}
		if i < nrec {
			if err := w.fn(records[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// IterateChunkBTreeV2 calls fn for every chunk indexed by a v2 B-tree of
// record type 10 (address, scaled offsets) or 11 (address, chunk size,
// filter mask, scaled offsets).
func IterateChunkBTreeV2(r io.ReaderAt, sb *core.Superblock, address uint64, info ChunkIndexInfo, fn func(ChunkRecord) error) error {
	hdr, err := ReadBTreeV2Header(r, address, sb)
	if err != nil {
		return err
	}
	nominal, err := info.Layout.ChunkBytes()
	if err != nil {
		return err
	}

	rank := info.Rank()
	fixed := int(sb.OffsetSize) + 8*rank
	var sizeLen int
	switch hdr.Type {
	case BTreeV2ChunkType:
		if int(hdr.RecordSize) != fixed {
			return fmt.Errorf("chunk record size %d, expected %d", hdr.RecordSize, fixed)
		}
	case BTreeV2FilteredChunkType:
		sizeLen = int(hdr.RecordSize) - fixed - 4
		if sizeLen < 1 || sizeLen > 8 {
			return fmt.Errorf("invalid filtered chunk record size %d", hdr.RecordSize)
		}
	default:
		return fmt.Errorf("B-tree v2 record type %d is not a chunk index", hdr.Type)
	}

	return hdr.Walk(r, sb, func(rec []byte) error {
		d := sb.NewDecoder(rec)
		out := ChunkRecord{Address: d.Offset(), Size: nominal}
		if sizeLen > 0 {
			out.Size = d.UintN(sizeLen)
			out.FilterMask = d.Uint32()
		}
		scaled := make([]uint64, rank)
		for i := range scaled {
			scaled[i] = d.Uint64()
		}
		if err := d.Err(); err != nil {
			return err
		}
		out.Offset = info.elementOffset(scaled)
		return fn(out)
	})
}
