package testing

import (
	"sort"
)

// Chunk is one allocated chunk of a dataset written by Dataset. Scaled are
// the chunk grid coordinates. Nil Data writes a chunk of nominal size.
type Chunk struct {
	Scaled     []uint64
	Data       []byte
	FilterMask uint32
}

// EAParams are the extensible array creation parameters.
type EAParams struct {
	MaxBits  uint8
	IdxElmts uint8
	MinPtrs  uint8
	MinElmts uint8
	PageBits uint8
}

// DefaultEAParams match the library defaults.
var DefaultEAParams = EAParams{MaxBits: 32, IdxElmts: 4, MinPtrs: 4, MinElmts: 16, PageBits: 10}

// DatasetSpec describes a dataset for Dataset. A nil ChunkDims writes
// contiguous storage. Index selects the chunk index; IndexBTreeV1 writes a
// version 3 layout, every other index a version 4 layout.
type DatasetSpec struct {
	ElemSize  uint32
	Dims      []uint64
	MaxDims   []uint64
	ChunkDims []uint64
	Index     uint8
	Filters   []FilterSpec
	Chunks    []Chunk

	BTreeFanout     int    // v1 B-tree entries per leaf, 0 for one leaf
	BTreeV2NodeSize uint32 // 0 selects 512
	PageBits        uint8  // fixed array page bits, 0 selects 10
	EA              *EAParams
}

// chunkEntry is a written chunk as the index sees it.
type chunkEntry struct {
	scaled []uint64
	addr   uint64
	size   uint64
	mask   uint32
}

// Dataset writes the chunks, chunk index and object header of a dataset and
// returns the header address.
func (b *FileBuilder) Dataset(spec DatasetSpec) uint64 {
	msgs := []Message{DatatypeMsg(spec.ElemSize), DataspaceMsg(spec.Dims, spec.MaxDims)}
	if len(spec.Filters) > 0 {
		msgs = append(msgs, FilterPipelineMsg(spec.Filters...))
	}
	if spec.ChunkDims == nil {
		size := uint64(spec.ElemSize)
		for _, d := range spec.Dims {
			size *= d
		}
		addr := Undefined
		if size > 0 {
			addr = b.Reserve(int(size))
		}
		return b.ObjectHeader(append(msgs, ContiguousLayoutMsg(addr, size))...)
	}
	return b.ObjectHeader(append(msgs, b.chunkedLayout(spec))...)
}

// NominalChunkSize returns the uncompressed chunk size of spec.
func (spec DatasetSpec) NominalChunkSize() uint64 {
	n := uint64(spec.ElemSize)
	for _, d := range spec.ChunkDims {
		n *= d
	}
	return n
}

func (spec DatasetSpec) maxGrid() []uint64 {
	maxDims := spec.MaxDims
	if maxDims == nil {
		maxDims = spec.Dims
	}
	grid := make([]uint64, len(spec.ChunkDims))
	for i, c := range spec.ChunkDims {
		if maxDims[i] == Undefined {
			grid[i] = Undefined
			continue
		}
		grid[i] = (maxDims[i] + c - 1) / c
	}
	return grid
}

// linearIndex returns the row-major position of scaled in grid.
func linearIndex(scaled, grid []uint64) uint64 {
	var idx uint64
	for i, s := range scaled {
		if i > 0 {
			idx *= grid[i]
		}
		idx += s
	}
	return idx
}

// swizzle moves the unlimited dimension to the front.
func swizzle(v []uint64, unlim int) []uint64 {
	out := append([]uint64{v[unlim]}, v[:unlim]...)
	return append(out, v[unlim+1:]...)
}

func (b *FileBuilder) writeChunks(spec DatasetSpec) []chunkEntry {
	nominal := spec.NominalChunkSize()
	entries := make([]chunkEntry, len(spec.Chunks))
	for i, c := range spec.Chunks {
		data := c.Data
		if data == nil {
			data = make([]byte, nominal)
		}
		entries[i] = chunkEntry{scaled: c.Scaled, addr: b.Alloc(data), size: uint64(len(data)), mask: c.FilterMask}
	}
	return entries
}

func (b *FileBuilder) chunkedLayout(spec DatasetSpec) Message {
	nominal := spec.NominalChunkSize()
	filtered := len(spec.Filters) > 0
	sizeLen := filteredSizeLen(nominal)

	switch spec.Index {
	case IndexBTreeV1:
		entries := b.writeChunks(spec)
		addr := Undefined
		if len(entries) > 0 {
			addr = b.BTreeV1Chunks(spec.ChunkDims, entries, spec.BTreeFanout)
		}
		return ChunkedLayoutV3Msg(addr, spec.ChunkDims, spec.ElemSize)

	case IndexSingle:
		entries := b.writeChunks(spec)
		addr := Undefined
		e := &Encoder{}
		var flags uint8
		if filtered {
			flags = 0x02
		}
		if len(entries) > 0 {
			addr = entries[0].addr
			if filtered {
				e.U64(entries[0].size)
				e.U32(entries[0].mask)
			}
		} else if filtered {
			e.U64(0)
			e.U32(0)
		}
		return ChunkedLayoutV4Msg(flags, spec.ChunkDims, spec.ElemSize, IndexSingle, e.Buf, addr)

	case IndexImplicit:
		grid := spec.maxGrid()
		n := uint64(1)
		for _, g := range grid {
			n *= g
		}
		addr := Undefined
		if len(spec.Chunks) > 0 {
			image := make([]byte, n*nominal)
			for _, c := range spec.Chunks {
				copy(image[linearIndex(c.Scaled, grid)*nominal:], c.Data)
			}
			addr = b.Alloc(image)
		}
		return ChunkedLayoutV4Msg(0, spec.ChunkDims, spec.ElemSize, IndexImplicit, nil, addr)

	case IndexFixedArray:
		pageBits := spec.PageBits
		if pageBits == 0 {
			pageBits = 10
		}
		grid := spec.maxGrid()
		n := uint64(1)
		for _, g := range grid {
			n *= g
		}
		byIndex := make(map[uint64]chunkEntry)
		for _, e := range b.writeChunks(spec) {
			byIndex[linearIndex(e.scaled, grid)] = e
		}
		addr := b.FixedArrayIndex(byIndex, n, filtered, sizeLen, pageBits)
		return ChunkedLayoutV4Msg(0, spec.ChunkDims, spec.ElemSize, IndexFixedArray, []byte{pageBits}, addr)

	case IndexExtensibleArray:
		params := DefaultEAParams
		if spec.EA != nil {
			params = *spec.EA
		}
		grid := spec.maxGrid()
		unlim := 0
		for i, g := range grid {
			if g == Undefined {
				unlim = i
				break
			}
		}
		swGrid := swizzle(grid, unlim)
		byIndex := make(map[uint64]chunkEntry)
		for _, e := range b.writeChunks(spec) {
			byIndex[linearIndex(swizzle(e.scaled, unlim), swGrid)] = e
		}
		addr := b.ExtensibleArrayIndex(byIndex, params, filtered, sizeLen)
		raw := []byte{params.MaxBits, params.IdxElmts, params.MinPtrs, params.MinElmts, params.PageBits}
		return ChunkedLayoutV4Msg(0, spec.ChunkDims, spec.ElemSize, IndexExtensibleArray, raw, addr)

	case IndexBTreeV2:
		nodeSize := spec.BTreeV2NodeSize
		if nodeSize == 0 {
			nodeSize = 512
		}
		entries := b.writeChunks(spec)
		sort.Slice(entries, func(i, j int) bool { return lessScaled(entries[i].scaled, entries[j].scaled) })
		recType := uint8(10)
		recSize := 8 + 8*len(spec.ChunkDims)
		if filtered {
			recType = 11
			recSize += sizeLen + 4
		}
		records := make([][]byte, len(entries))
		for i, ent := range entries {
			e := &Encoder{}
			e.U64(ent.addr)
			if filtered {
				e.UN(ent.size, sizeLen)
				e.U32(ent.mask)
			}
			for _, s := range ent.scaled {
				e.U64(s)
			}
			records[i] = e.Buf
		}
		addr := Undefined
		if len(records) > 0 {
			addr = b.BTreeV2(recType, nodeSize, recSize, records)
		}
		params := &Encoder{}
		params.U32(nodeSize)
		params.U8(100)
		params.U8(40)
		return ChunkedLayoutV4Msg(0, spec.ChunkDims, spec.ElemSize, IndexBTreeV2, params.Buf, addr)
	}
	panic("unknown chunk index type")
}

func filteredSizeLen(nominal uint64) int {
	n := 1 + (log2(nominal)+8)/8
	if n > 8 {
		n = 8
	}
	return n
}

func lessScaled(a, b []uint64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// BTreeV1Chunks writes a chunk B-tree over entries. With fanout > 0 the
// chunks are spread over leaves of at most fanout entries under one root.
func (b *FileBuilder) BTreeV1Chunks(chunkDims []uint64, entries []chunkEntry, fanout int) uint64 {
	sorted := append([]chunkEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return lessScaled(sorted[i].scaled, sorted[j].scaled) })

	key := func(e *Encoder, ent chunkEntry) {
		e.U32(uint32(ent.size)) //nolint:gosec // G115: test chunks are small
		e.U32(ent.mask)
		for i, s := range ent.scaled {
			e.U64(s * chunkDims[i])
		}
		e.U64(0)
	}
	endKey := func(e *Encoder, last chunkEntry) {
		e.Zero(8)
		for i, s := range last.scaled {
			e.U64((s + 1) * chunkDims[i])
		}
		e.U64(0)
	}
	node := func(level uint8, keys []chunkEntry, children []uint64) uint64 {
		e := &Encoder{}
		e.Bytes([]byte("TREE"))
		e.U8(1)
		e.U8(level)
		e.U16(uint16(len(children))) //nolint:gosec // G115: test trees are small
		e.U64(Undefined)
		e.U64(Undefined)
		for i, c := range children {
			key(e, keys[i])
			e.U64(c)
		}
		endKey(e, keys[len(keys)-1])
		return b.Alloc(e.Buf)
	}

	if fanout <= 0 || len(sorted) <= fanout {
		children := make([]uint64, len(sorted))
		for i, ent := range sorted {
			children[i] = ent.addr
		}
		return node(0, sorted, children)
	}

	var firsts []chunkEntry
	var leaves []uint64
	for start := 0; start < len(sorted); start += fanout {
		end := start + fanout
		if end > len(sorted) {
			end = len(sorted)
		}
		part := sorted[start:end]
		children := make([]uint64, len(part))
		for i, ent := range part {
			children[i] = ent.addr
		}
		leaves = append(leaves, node(0, part, children))
		firsts = append(firsts, part[0])
	}
	return node(1, firsts, leaves)
}

func encodeElement(e *Encoder, ent chunkEntry, ok, filtered bool, sizeLen int) {
	if !ok {
		e.U64(Undefined)
		if filtered {
			e.Zero(sizeLen + 4)
		}
		return
	}
	e.U64(ent.addr)
	if filtered {
		e.UN(ent.size, sizeLen)
		e.U32(ent.mask)
	}
}

func elementSize(filtered bool, sizeLen int) int {
	if filtered {
		return 8 + sizeLen + 4
	}
	return 8
}

func clientID(filtered bool) uint8 {
	if filtered {
		return 1
	}
	return 0
}

// FixedArrayIndex writes a fixed array of n elements. Arrays larger than a
// page are written paged with a page bitmap.
func (b *FileBuilder) FixedArrayIndex(byIndex map[uint64]chunkEntry, n uint64, filtered bool, sizeLen int, pageBits uint8) uint64 {
	hdrAddr := b.Reserve(4 + 4 + 8 + 8 + 4)
	elemSize := elementSize(filtered, sizeLen)

	e := &Encoder{}
	e.Bytes([]byte("FADB"))
	e.U8(0)
	e.U8(clientID(filtered))
	e.U64(hdrAddr)
	pageElems := uint64(1) << pageBits
	if n <= pageElems {
		for i := uint64(0); i < n; i++ {
			ent, ok := byIndex[i]
			encodeElement(e, ent, ok, filtered, sizeLen)
		}
		e.Checksum()
	} else {
		npages := (n + pageElems - 1) / pageElems
		bitmap := make([]byte, (npages+7)/8)
		pages := &Encoder{}
		for p := uint64(0); p < npages; p++ {
			start := len(pages.Buf)
			for i := p * pageElems; i < (p+1)*pageElems && i < n; i++ {
				ent, ok := byIndex[i]
				if ok {
					bitmap[p/8] |= 0x80 >> (p % 8)
				}
				encodeElement(pages, ent, ok, filtered, sizeLen)
			}
			pages.ChecksumFrom(start)
		}
		e.Bytes(bitmap)
		e.Checksum()
		e.Bytes(pages.Buf)
	}
	dblk := b.Alloc(e.Buf)

	h := &Encoder{}
	h.Bytes([]byte("FAHD"))
	h.U8(0)
	h.U8(clientID(filtered))
	h.U8(uint8(elemSize)) //nolint:gosec // G115: element sizes are small
	h.U8(pageBits)
	h.U64(n)
	h.U64(dblk)
	h.Checksum()
	b.Patch(hdrAddr, h.Buf)
	return hdrAddr
}

// ExtensibleArrayIndex writes an extensible array holding byIndex: an index
// block, data blocks for the first super blocks and super blocks beyond.
func (b *FileBuilder) ExtensibleArrayIndex(byIndex map[uint64]chunkEntry, p EAParams, filtered bool, sizeLen int) uint64 {
	const hdrSize = 12 + 6*8 + 8 + 4
	hdrAddr := b.Reserve(hdrSize)
	elemSize := elementSize(filtered, sizeLen)
	arrOffSize := (int(p.MaxBits) + 7) / 8
	pageElems := uint64(1) << p.PageBits

	var maxIdx uint64
	for idx := range byIndex {
		if idx+1 > maxIdx {
			maxIdx = idx + 1
		}
	}
	present := func(from, to uint64) bool {
		for idx := range byIndex {
			if idx >= from && idx < to {
				return true
			}
		}
		return false
	}

	// writeDataBlock returns the block address and its page bitmap.
	writeDataBlock := func(first, nelmts uint64) (uint64, []byte) {
		e := &Encoder{}
		e.Bytes([]byte("EADB"))
		e.U8(0)
		e.U8(clientID(filtered))
		e.U64(hdrAddr)
		e.UN(first-uint64(p.IdxElmts), arrOffSize)
		if nelmts <= pageElems {
			for i := first; i < first+nelmts; i++ {
				ent, ok := byIndex[i]
				encodeElement(e, ent, ok, filtered, sizeLen)
			}
			e.Checksum()
			return b.Alloc(e.Buf), nil
		}
		e.Checksum()
		npages := nelmts / pageElems
		bitmap := make([]byte, (npages+7)/8)
		for pg := uint64(0); pg < npages; pg++ {
			start := len(e.Buf)
			for i := first + pg*pageElems; i < first+(pg+1)*pageElems; i++ {
				ent, ok := byIndex[i]
				if ok {
					bitmap[pg/8] |= 0x80 >> (pg % 8)
				}
				encodeElement(e, ent, ok, filtered, sizeLen)
			}
			e.ChecksumFrom(start)
		}
		return b.Alloc(e.Buf), bitmap
	}

	nsblks := 1 + int(p.MaxBits) - log2(uint64(p.MinElmts))
	iblockSblks := 2 * log2(uint64(p.MinPtrs))
	dblkAddrs := make([]uint64, 2*(int(p.MinPtrs)-1))
	sblkAddrs := make([]uint64, nsblks-iblockSblks)
	for i := range dblkAddrs {
		dblkAddrs[i] = Undefined
	}
	for i := range sblkAddrs {
		sblkAddrs[i] = Undefined
	}

	var startIdx, startDblk uint64
	var ndblks, nsblkWritten uint64
	for u := 0; u < nsblks; u++ {
		count := uint64(1) << (u / 2)
		nelmts := (uint64(1) << ((u + 1) / 2)) * uint64(p.MinElmts)
		first := uint64(p.IdxElmts) + startIdx
		if first < maxIdx {
			if u < iblockSblks {
				for j := uint64(0); j < count; j++ {
					from := first + j*nelmts
					if present(from, from+nelmts) {
						dblkAddrs[startDblk+j], _ = writeDataBlock(from, nelmts)
						ndblks++
					}
				}
			} else if present(first, first+count*nelmts) {
				addrs := make([]uint64, count)
				var bitmaps []byte
				for j := uint64(0); j < count; j++ {
					from := first + j*nelmts
					addrs[j] = Undefined
					var bm []byte
					if present(from, from+nelmts) {
						addrs[j], bm = writeDataBlock(from, nelmts)
						ndblks++
					}
					if nelmts > pageElems {
						if bm == nil {
							bm = make([]byte, (nelmts/pageElems+7)/8)
						}
						bitmaps = append(bitmaps, bm...)
					}
				}
				e := &Encoder{}
				e.Bytes([]byte("EASB"))
				e.U8(0)
				e.U8(clientID(filtered))
				e.U64(hdrAddr)
				e.UN(startIdx, arrOffSize)
				e.Bytes(bitmaps)
				for _, a := range addrs {
					e.U64(a)
				}
				e.Checksum()
				sblkAddrs[u-iblockSblks] = b.Alloc(e.Buf)
				nsblkWritten++
			}
		}
		startIdx += count * nelmts
		startDblk += count
	}

	ib := &Encoder{}
	ib.Bytes([]byte("EAIB"))
	ib.U8(0)
	ib.U8(clientID(filtered))
	ib.U64(hdrAddr)
	for i := uint64(0); i < uint64(p.IdxElmts); i++ {
		ent, ok := byIndex[i]
		encodeElement(ib, ent, ok, filtered, sizeLen)
	}
	for _, a := range dblkAddrs {
		ib.U64(a)
	}
	for _, a := range sblkAddrs {
		ib.U64(a)
	}
	ib.Checksum()
	iblock := Undefined
	if maxIdx > 0 {
		iblock = b.Alloc(ib.Buf)
	}

	h := &Encoder{}
	h.Bytes([]byte("EAHD"))
	h.U8(0)
	h.U8(clientID(filtered))
	h.U8(uint8(elemSize)) //nolint:gosec // G115: element sizes are small
	h.U8(p.MaxBits)
	h.U8(p.IdxElmts)
	h.U8(p.MinElmts)
	h.U8(p.MinPtrs)
	h.U8(p.PageBits)
	h.U64(nsblkWritten)
	h.U64(0)
	h.U64(ndblks)
	h.U64(0)
	h.U64(maxIdx)
	h.U64(uint64(len(byIndex)))
	h.U64(iblock)
	h.Checksum()
	b.Patch(hdrAddr, h.Buf)
	return hdrAddr
}
