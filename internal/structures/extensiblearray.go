package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// ExtensibleArrayHeader is a decoded "EAHD" block.
type ExtensibleArrayHeader struct {
	ClientID              uint8
	ElementSize           uint8
	MaxNelmtsBits         uint8
	IndexBlockElements    uint8
	DataBlockMinElements  uint8
	SuperBlockMinDataPtrs uint8
	MaxDataBlockPageBits  uint8

	NumSuperBlocks uint64
	SuperBlockSize uint64
	NumDataBlocks  uint64
	DataBlockSize  uint64
	MaxIndexSet    uint64
	NumElements    uint64

	IndexBlockAddress uint64
}

// superBlockInfo describes the data blocks reachable through super block u.
type superBlockInfo struct {
	ndblks     uint64
	dblkNelmts uint64
	startIdx   uint64
	startDblk  uint64
}

// ReadExtensibleArrayHeader reads the extensible array header at address.
//
// Format: signature, version (0), client ID, element size, max elements
// (log2), index block elements, data block min elements, super block min
// data pointers, max data block page elements (log2), six statistics
// (lengths), index block address, checksum.
func ReadExtensibleArrayHeader(r io.ReaderAt, address uint64, sb *core.Superblock) (*ExtensibleArrayHeader, error) {
	size := 12 + 6*int(sb.LengthSize) + int(sb.OffsetSize) + 4
	buf, err := utils.ReadBlock(r, address, size)
	if err != nil {
		return nil, utils.WrapError("extensible array header read failed", err)
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return nil, utils.WrapErrorf(err, "extensible array header at 0x%X", address)
	}

	d := sb.NewDecoder(buf)
	if err := d.Signature("EAHD"); err != nil {
		return nil, err
	}
	if v := d.Uint8(); v != 0 {
		return nil, fmt.Errorf("unsupported extensible array version: %d", v)
	}
	h := &ExtensibleArrayHeader{
		ClientID:              d.Uint8(),
		ElementSize:           d.Uint8(),
		MaxNelmtsBits:         d.Uint8(),
		IndexBlockElements:    d.Uint8(),
		DataBlockMinElements:  d.Uint8(),
		SuperBlockMinDataPtrs: d.Uint8(),
		MaxDataBlockPageBits:  d.Uint8(),
	}
	h.NumSuperBlocks = d.Length()
	h.SuperBlockSize = d.Length()
	h.NumDataBlocks = d.Length()
	h.DataBlockSize = d.Length()
	h.MaxIndexSet = d.Length()
	h.NumElements = d.Length()
	h.IndexBlockAddress = d.Offset()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, utils.WrapErrorf(err, "extensible array header at 0x%X", address)
	}
	return h, nil
}

func (h *ExtensibleArrayHeader) validate() error {
	isPow2 := func(v uint8) bool { return v != 0 && v&(v-1) == 0 }
	switch {
	case h.MaxNelmtsBits == 0 || h.MaxNelmtsBits > 64:
		return fmt.Errorf("invalid max element bits %d", h.MaxNelmtsBits)
	case !isPow2(h.DataBlockMinElements):
		return fmt.Errorf("data block min elements %d is not a power of two", h.DataBlockMinElements)
	case !isPow2(h.SuperBlockMinDataPtrs):
		return fmt.Errorf("super block min pointers %d is not a power of two", h.SuperBlockMinDataPtrs)
	case int(h.MaxNelmtsBits) < utils.Log2(uint64(h.DataBlockMinElements)):
		return fmt.Errorf("max element bits %d below data block size", h.MaxNelmtsBits)
	case h.MaxDataBlockPageBits > 32:
		return fmt.Errorf("invalid page bits %d", h.MaxDataBlockPageBits)
	}
	return nil
}

// superBlocks returns the geometry of every super block the array can have.
func (h *ExtensibleArrayHeader) superBlocks() []superBlockInfo {
	n := 1 + int(h.MaxNelmtsBits) - utils.Log2(uint64(h.DataBlockMinElements))
	info := make([]superBlockInfo, n)
	var startIdx, startDblk uint64
	for u := range info {
		info[u] = superBlockInfo{
			ndblks:     uint64(1) << (u / 2),
			dblkNelmts: (uint64(1) << ((u + 1) / 2)) * uint64(h.DataBlockMinElements),
			startIdx:   startIdx,
			startDblk:  startDblk,
		}
		startIdx += info[u].ndblks * info[u].dblkNelmts
		startDblk += info[u].ndblks
	}
	return info
}

// arrayOffsetSize is the width of the block offset field in data and super blocks.
func (h *ExtensibleArrayHeader) arrayOffsetSize() int {
	return (int(h.MaxNelmtsBits) + 7) / 8
}

// eaReader walks one extensible array.
type eaReader struct {
	r        io.ReaderAt
	sb       *core.Superblock
	hdr      *ExtensibleArrayHeader
	filtered bool
	nominal  uint64
	emit     func(uint64, chunkElement) error
}

// IterateExtensibleArray calls fn for every allocated chunk in an extensible
// array index, up to the highest index ever set.
func IterateExtensibleArray(r io.ReaderAt, sb *core.Superblock, address uint64, info ChunkIndexInfo, fn func(ChunkRecord) error) error {
	hdr, err := ReadExtensibleArrayHeader(r, address, sb)
	if err != nil {
		return err
	}
	if utils.IsUndefined(hdr.IndexBlockAddress) || hdr.MaxIndexSet == 0 {
		return nil
	}
	filtered := hdr.ClientID == clientFilteredChunks
	if err := checkElementSize(int(hdr.ElementSize), sb.OffsetSize, filtered); err != nil {
		return err
	}
	nominal, err := info.Layout.ChunkBytes()
	if err != nil {
		return err
	}

	grid, unlim := swizzledGrid(info)
	swizzled := make([]uint64, len(grid))
	scaled := make([]uint64, len(grid))
	ea := &eaReader{r: r, sb: sb, hdr: hdr, filtered: filtered, nominal: nominal}
	ea.emit = func(idx uint64, e chunkElement) error {
		if idx >= hdr.MaxIndexSet || utils.IsUndefined(e.Address) {
			return nil
		}
		unravel(idx, grid, swizzled)
		unswizzle(swizzled, unlim, scaled)
		return fn(ChunkRecord{
			Offset:     info.elementOffset(scaled),
			FilterMask: e.FilterMask,
			Address:    e.Address,
			Size:       e.Size,
		})
	}
	return ea.iterate()
}

// swizzledGrid returns the chunk grid with the unlimited dimension moved to
// the front, and the index of that dimension.
func swizzledGrid(info ChunkIndexInfo) ([]uint64, int) {
	grid := info.maxChunks()
	unlim := 0
	for i, m := range info.MaxDims {
		if m == core.Unlimited {
			unlim = i
			break
		}
	}
	out := make([]uint64, 0, len(grid))
	out = append(out, grid[unlim])
	out = append(out, grid[:unlim]...)
	return append(out, grid[unlim+1:]...), unlim
}

func unswizzle(swizzled []uint64, unlim int, out []uint64) {
	out[unlim] = swizzled[0]
	copy(out[:unlim], swizzled[1:unlim+1])
	copy(out[unlim+1:], swizzled[unlim+1:])
}

func (ea *eaReader) iterate() error {
	hdr := ea.hdr
	sblks := hdr.superBlocks()
	minPtrs := uint64(hdr.SuperBlockMinDataPtrs)
	iblockSblks := 2 * utils.Log2(minPtrs)
	ndblkAddrs := 2 * (minPtrs - 1)
	nsblkAddrs := 0
	if len(sblks) > iblockSblks {
		nsblkAddrs = len(sblks) - iblockSblks
	}

	offSize := uint64(ea.sb.OffsetSize)
	elemSize := int(hdr.ElementSize)
	size := 4 + 1 + 1 + int(offSize) + int(hdr.IndexBlockElements)*elemSize +
		int((ndblkAddrs+uint64(nsblkAddrs))*offSize) + 4
	buf, err := utils.ReadBlock(ea.r, hdr.IndexBlockAddress, size)
	if err != nil {
		return utils.WrapError("extensible array index block read failed", err)
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return utils.WrapErrorf(err, "extensible array index block at 0x%X", hdr.IndexBlockAddress)
	}

	d := ea.sb.NewDecoder(buf)
	if err := d.Signature("EAIB"); err != nil {
		return err
	}
	d.Skip(2 + int(offSize))
	for i := 0; i < int(hdr.IndexBlockElements); i++ {
		e := decodeChunkElement(d, elemSize, ea.filtered, ea.nominal)
		if err := d.Err(); err != nil {
			return err
		}
		if err := ea.emit(uint64(i), e); err != nil {
			return err
		}
	}
	dblkAddrs := make([]uint64, ndblkAddrs)
	for i := range dblkAddrs {
		dblkAddrs[i] = d.Offset()
	}
	sblkAddrs := make([]uint64, nsblkAddrs)
	for i := range sblkAddrs {
		sblkAddrs[i] = d.Offset()
	}
	if err := d.Err(); err != nil {
		return err
	}

	base := uint64(hdr.IndexBlockElements)
	for u, info := range sblks {
		first := base + info.startIdx
		if first >= hdr.MaxIndexSet {
			break
		}
		if u < iblockSblks {
			for j := uint64(0); j < info.ndblks; j++ {
				addr := dblkAddrs[info.startDblk+j]
				if err := ea.readDataBlock(addr, first+j*info.dblkNelmts, info.dblkNelmts, nil); err != nil {
					return err
				}
			}
			continue
		}
		if err := ea.readSuperBlock(sblkAddrs[u-iblockSblks], first, info); err != nil {
			return err
		}
	}
	return nil
}

// readSuperBlock reads an "EASB" block: prefix, block offset, optional page
// bitmaps (one per data block), data block addresses, checksum.
func (ea *eaReader) readSuperBlock(addr, first uint64, info superBlockInfo) error {
	if utils.IsUndefined(addr) {
		return nil
	}
	offSize := int(ea.sb.OffsetSize)
	pageElems := uint64(1) << ea.hdr.MaxDataBlockPageBits
	bitmapLen := 0
	if info.dblkNelmts > pageElems {
		bitmapLen = int(utils.CeilDiv(info.dblkNelmts/pageElems, 8))
	}
	size := 4 + 1 + 1 + offSize + ea.hdr.arrayOffsetSize() +
		int(info.ndblks)*(bitmapLen+offSize) + 4
	buf, err := utils.ReadBlock(ea.r, addr, size)
	if err != nil {
		return utils.WrapError("extensible array super block read failed", err)
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return utils.WrapErrorf(err, "extensible array super block at 0x%X", addr)
	}

	d := ea.sb.NewDecoder(buf)
	if err := d.Signature("EASB"); err != nil {
		return err
	}
	d.Skip(2 + offSize + ea.hdr.arrayOffsetSize())
	bitmaps := make([][]byte, info.ndblks)
	for j := range bitmaps {
		if bitmapLen > 0 {
			bitmaps[j] = d.Bytes(bitmapLen)
		}
	}
	for j := uint64(0); j < info.ndblks; j++ {
		dblk := d.Offset()
		if err := d.Err(); err != nil {
			return err
		}
		if err := ea.readDataBlock(dblk, first+j*info.dblkNelmts, info.dblkNelmts, bitmaps[j]); err != nil {
			return err
		}
	}
	return nil
}

// readDataBlock reads an "EADB" block holding nelmts elements starting at
// array index first. Large blocks are split into pages that follow the
// block prefix; bitmap marks initialized pages (nil means all).
func (ea *eaReader) readDataBlock(addr, first, nelmts uint64, bitmap []byte) error {
	if utils.IsUndefined(addr) {
		return nil
	}
	if err := utils.CheckSignature(ea.r, addr, "EADB"); err != nil {
		return err
	}
	elemSize := int(ea.hdr.ElementSize)
	prefix := 4 + 1 + 1 + int(ea.sb.OffsetSize) + ea.hdr.arrayOffsetSize()
	pageElems := uint64(1) << ea.hdr.MaxDataBlockPageBits

	if nelmts <= pageElems {
		err := readElementRun(ea.r, ea.sb, addr, prefix, first, nelmts, elemSize, ea.filtered, ea.nominal, ea.emit)
		return utils.WrapErrorf(err, "extensible array data block at 0x%X", addr)
	}

	pageSize := pageElems*uint64(elemSize) + 4
	pageAddr := addr + uint64(prefix) + 4
	for p := uint64(0); p < nelmts/pageElems; p++ {
		start := first + p*pageElems
		if start >= ea.hdr.MaxIndexSet {
			break
		}
		if bitmap == nil || pageInitialized(bitmap, p) {
			err := readElementRun(ea.r, ea.sb, pageAddr, 0, start, pageElems, elemSize, ea.filtered, ea.nominal, ea.emit)
			if err != nil {
				return utils.WrapErrorf(err, "extensible array page %d at 0x%X", p, pageAddr)
			}
		}
		pageAddr += pageSize
	}
	return nil
}
