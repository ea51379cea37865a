package testing

import (
	"fmt"
	"math/bits"
)

// Fractal heaps written by the builder use 32-bit heap offsets and 16-bit
// object lengths, giving 7-byte managed heap IDs.
const (
	heapMaxBits       = 32
	heapOffsetSize    = 4
	heapLengthSize    = 2
	heapIDLen         = 1 + heapOffsetSize + heapLengthSize
	heapMaxManaged    = 4096
	heapDirectHdrSize = 4 + 1 + 8 + heapOffsetSize
	heapHeaderSize    = 4 + 1 + 2 + 2 + 1 + 4 + 8*4 + 8*8 + 2 + 8 + 8 + 2 + 2 + 8 + 2 + 4
)

type heapBlock struct {
	offset uint64
	size   uint64
	data   []byte
	addr   uint64
}

// FractalHeap writes a heap holding objects and returns its header address
// and the managed heap ID of each object. Objects are packed into direct
// blocks in heap offset order.
func (b *FileBuilder) FractalHeap(layout HeapLayout, objects [][]byte) (uint64, [][]byte) {
	hdrAddr := b.Reserve(heapHeaderSize)
	width := uint64(layout.TableWidth)
	maxDirectRows := log2(layout.MaxDirect) - log2(layout.StartSize) + 2
	rowSize := func(r int) uint64 {
		if r == 0 {
			return layout.StartSize
		}
		return layout.StartSize << (r - 1)
	}
	rowOffset := func(r int) uint64 {
		if r == 0 {
			return 0
		}
		return width * layout.StartSize << (r - 1)
	}
	childRows := func(size uint64) int {
		return log2(size) - log2(layout.StartSize) - log2(width) + 1
	}

	// Plan the direct blocks in heap order.
	var blocks []*heapBlock
	var plan func(off uint64, nrows int)
	plan = func(off uint64, nrows int) {
		for r := 0; r < nrows; r++ {
			for c := uint64(0); c < width; c++ {
				start := off + rowOffset(r) + c*rowSize(r)
				if r < maxDirectRows {
					blocks = append(blocks, &heapBlock{offset: start, size: rowSize(r)})
				} else {
					plan(start, childRows(rowSize(r)))
				}
			}
		}
	}
	if layout.IndirectRows == 0 {
		blocks = append(blocks, &heapBlock{offset: 0, size: layout.StartSize})
	} else {
		plan(0, int(layout.IndirectRows))
	}

	ids := make([][]byte, len(objects))
	bi, pos := 0, uint64(heapDirectHdrSize)
	var used uint64
	for i, obj := range objects {
		for pos+uint64(len(obj)) > blocks[bi].size {
			bi++
			if bi >= len(blocks) {
				panic(fmt.Sprintf("fractal heap layout too small for %d objects", len(objects)))
			}
			pos = heapDirectHdrSize
		}
		blk := blocks[bi]
		if blk.data == nil {
			blk.data = make([]byte, blk.size)
		}
		copy(blk.data[pos:], obj)
		e := &Encoder{}
		e.U8(0)
		e.UN(blk.offset+pos, heapOffsetSize)
		e.UN(uint64(len(obj)), heapLengthSize)
		ids[i] = e.Buf
		pos += uint64(len(obj))
		used += uint64(len(obj))
	}

	byOffset := make(map[uint64]*heapBlock, len(blocks))
	for _, blk := range blocks {
		if blk.data == nil {
			blk.data = make([]byte, blk.size)
		}
		e := &Encoder{}
		e.Bytes([]byte("FHDB"))
		e.U8(0)
		e.U64(hdrAddr)
		e.UN(blk.offset, heapOffsetSize)
		copy(blk.data, e.Buf)
		blk.addr = b.Alloc(blk.data)
		byOffset[blk.offset] = blk
	}

	var writeIndirect func(off uint64, nrows int) uint64
	writeIndirect = func(off uint64, nrows int) uint64 {
		children := make([]uint64, 0, nrows*int(width))
		for r := 0; r < nrows; r++ {
			for c := uint64(0); c < width; c++ {
				start := off + rowOffset(r) + c*rowSize(r)
				if r < maxDirectRows {
					children = append(children, byOffset[start].addr)
				} else {
					children = append(children, writeIndirect(start, childRows(rowSize(r))))
				}
			}
		}
		e := &Encoder{}
		e.Bytes([]byte("FHIB"))
		e.U8(0)
		e.U64(hdrAddr)
		e.UN(off, heapOffsetSize)
		for _, c := range children {
			e.U64(c)
		}
		e.Checksum()
		return b.Alloc(e.Buf)
	}

	root := blocks[0].addr
	if layout.IndirectRows > 0 {
		root = writeIndirect(0, int(layout.IndirectRows))
	}

	var total uint64
	for _, blk := range blocks {
		total += blk.size
	}
	e := &Encoder{}
	e.Bytes([]byte("FRHP"))
	e.U8(0)
	e.U16(heapIDLen)
	e.U16(0)
	e.U8(0)
	e.U32(heapMaxManaged)
	e.U64(0)
	e.U64(Undefined)
	e.U64(0)
	e.U64(Undefined)
	e.U64(total)
	e.U64(total)
	e.U64(used)
	e.U64(uint64(len(objects)))
	e.Zero(4 * 8) // huge and tiny statistics
	e.U16(layout.TableWidth)
	e.U64(layout.StartSize)
	e.U64(layout.MaxDirect)
	e.U16(heapMaxBits)
	e.U16(layout.IndirectRows)
	e.U64(root)
	e.U16(layout.IndirectRows)
	e.Checksum()
	b.Patch(hdrAddr, e.Buf)
	return hdrAddr, ids
}

// BTreeV2 writes a v2 B-tree of the given record type over records, which
// must already be in key order. Records that do not fit one leaf are split
// under a single internal node.
func (b *FileBuilder) BTreeV2(recType uint8, nodeSize uint32, recSize int, records [][]byte) uint64 {
	leafMax := (int(nodeSize) - 10) / recSize
	total := len(records)
	var depth uint16
	var root uint64
	var rootRecs int

	switch {
	case len(records) == 0:
		root = Undefined
	case len(records) <= leafMax:
		root = b.btreeV2Node("BTLF", recType, nodeSize, records, nil)
		rootRecs = len(records)
	default:
		depth = 1
		nrecSize := log2(uint64(leafMax))/8 + 1

		var seps [][]byte
		ptrs := &Encoder{}
		for len(records) > 0 {
			n := leafMax
			if n > len(records) {
				n = len(records)
			}
			leaf := b.btreeV2Node("BTLF", recType, nodeSize, records[:n], nil)
			ptrs.U64(leaf)
			ptrs.UN(uint64(n), nrecSize)
			records = records[n:]
			if len(records) > 0 {
				seps = append(seps, records[0])
				records = records[1:]
			}
		}
		root = b.btreeV2Node("BTIN", recType, nodeSize, seps, ptrs.Buf)
		rootRecs = len(seps)
	}

	e := &Encoder{}
	e.Bytes([]byte("BTHD"))
	e.U8(0)
	e.U8(recType)
	e.U32(nodeSize)
	e.U16(uint16(recSize)) //nolint:gosec // G115: test records are small
	e.U16(depth)
	e.U8(100)
	e.U8(40)
	e.U64(root)
	e.U16(uint16(rootRecs)) //nolint:gosec // G115: test trees are small
	e.U64(uint64(total))
	e.Checksum()
	return b.Alloc(e.Buf)
}

func (b *FileBuilder) btreeV2Node(sig string, recType uint8, nodeSize uint32, records [][]byte, ptrs []byte) uint64 {
	e := &Encoder{}
	e.Bytes([]byte(sig))
	e.U8(0)
	e.U8(recType)
	for _, r := range records {
		e.Bytes(r)
	}
	e.Bytes(ptrs)
	e.Checksum()
	if len(e.Buf) > int(nodeSize) {
		panic(fmt.Sprintf("B-tree v2 node of %d bytes exceeds node size %d", len(e.Buf), nodeSize))
	}
	e.Zero(int(nodeSize) - len(e.Buf))
	return b.Alloc(e.Buf)
}

func log2(v uint64) int {
	if v == 0 {
		return 0
	}
	return bits.Len64(v) - 1
}
