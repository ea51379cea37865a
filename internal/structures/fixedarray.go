package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// FixedArrayHeader is a decoded "FAHD" block.
//
// Format: signature, version (0), client ID, element size, max elements
// per data block page (log2), number of elements (length), data block
// address, checksum.
type FixedArrayHeader struct {
	ClientID     uint8
	ElementSize  uint8
	PageBits     uint8
	NumElements  uint64
	DataBlockAdr uint64
}

// ReadFixedArrayHeader reads the fixed array header at address.
func ReadFixedArrayHeader(r io.ReaderAt, address uint64, sb *core.Superblock) (*FixedArrayHeader, error) {
	size := 4 + 4 + int(sb.LengthSize) + int(sb.OffsetSize) + 4
	buf, err := utils.ReadBlock(r, address, size)
	if err != nil {
		return nil, utils.WrapError("fixed array header read failed", err)
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return nil, utils.WrapErrorf(err, "fixed array header at 0x%X", address)
	}

	d := sb.NewDecoder(buf)
	if err := d.Signature("FAHD"); err != nil {
		return nil, err
	}
	if v := d.Uint8(); v != 0 {
		return nil, fmt.Errorf("unsupported fixed array version: %d", v)
	}
	h := &FixedArrayHeader{
		ClientID:    d.Uint8(),
		ElementSize: d.Uint8(),
		PageBits:    d.Uint8(),
	}
	h.NumElements = d.Length()
	h.DataBlockAdr = d.Offset()
	return h, d.Err()
}

// IterateFixedArray calls fn for every allocated chunk in a fixed array
// index. Element i is the chunk at row-major position i of the chunk grid
// over the maximum dimensions.
func IterateFixedArray(r io.ReaderAt, sb *core.Superblock, address uint64, info ChunkIndexInfo, fn func(ChunkRecord) error) error {
	hdr, err := ReadFixedArrayHeader(r, address, sb)
	if err != nil {
		return err
	}
	if utils.IsUndefined(hdr.DataBlockAdr) || hdr.NumElements == 0 {
		return nil
	}
	filtered := hdr.ClientID == clientFilteredChunks
	elemSize := int(hdr.ElementSize)
	if err := checkElementSize(elemSize, sb.OffsetSize, filtered); err != nil {
		return err
	}
	if hdr.PageBits > 32 {
		return fmt.Errorf("invalid fixed array page bits: %d", hdr.PageBits)
	}
	nominal, err := info.Layout.ChunkBytes()
	if err != nil {
		return err
	}

	grid := info.maxChunks()
	scaled := make([]uint64, len(grid))
	emit := func(idx uint64, e chunkElement) error {
		if utils.IsUndefined(e.Address) {
			return nil
		}
		unravel(idx, grid, scaled)
		return fn(ChunkRecord{
			Offset:     info.elementOffset(scaled),
			FilterMask: e.FilterMask,
			Address:    e.Address,
			Size:       e.Size,
		})
	}

	// The data block prefix: signature, version, client ID, header address.
	prefix := 4 + 1 + 1 + int(sb.OffsetSize)
	if err := utils.CheckSignature(r, hdr.DataBlockAdr, "FADB"); err != nil {
		return err
	}
	pageElems := uint64(1) << hdr.PageBits
	if hdr.NumElements <= pageElems {
		return readElementRun(r, sb, hdr.DataBlockAdr, prefix, 0, hdr.NumElements, elemSize, filtered, nominal, emit)
	}

	// Paged: a bitmap of initialized pages follows the prefix, then the
	// block checksum, then the pages each with their own checksum.
	npages := utils.CeilDiv(hdr.NumElements, pageElems)
	bitmapLen := int(utils.CeilDiv(npages, 8))
	head, err := utils.ReadBlock(r, hdr.DataBlockAdr, prefix+bitmapLen+4)
	if err != nil {
		return utils.WrapError("fixed array data block read failed", err)
	}
	if err := utils.VerifyChecksum(head); err != nil {
		return utils.WrapErrorf(err, "fixed array data block at 0x%X", hdr.DataBlockAdr)
	}
	bitmap := head[prefix : prefix+bitmapLen]

	pageSize := pageElems*uint64(elemSize) + 4
	pageAddr := hdr.DataBlockAdr + uint64(len(head))
	for p := uint64(0); p < npages; p++ {
		start := p * pageElems
		count := pageElems
		if start+count > hdr.NumElements {
			count = hdr.NumElements - start
		}
		if pageInitialized(bitmap, p) {
			if err := readElementRun(r, sb, pageAddr, 0, start, count, elemSize, filtered, nominal, emit); err != nil {
				return utils.WrapErrorf(err, "fixed array page %d", p)
			}
		}
		pageAddr += pageSize
	}
	return nil
}

// pageInitialized tests bit p of a page bitmap, most significant bit first.
func pageInitialized(bitmap []byte, p uint64) bool {
	return bitmap[p/8]&(0x80>>(p%8)) != 0
}

// readElementRun reads count elements that follow skip bytes at addr and
// are followed by a checksum over the whole run. first is the array index
// of the first element.
func readElementRun(r io.ReaderAt, sb *core.Superblock, addr uint64, skip int, first, count uint64,
	elemSize int, filtered bool, nominal uint64, emit func(uint64, chunkElement) error,
) error {
	n := count * uint64(elemSize)
	if n > utils.MaxMetadataBlock {
		return fmt.Errorf("array block of %d bytes too large", n)
	}
	//nolint:gosec // G115: bounded by MaxMetadataBlock
	buf, err := utils.ReadBlock(r, addr, skip+int(n)+4)
	if err != nil {
		return err
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return utils.WrapErrorf(err, "array block at 0x%X", addr)
	}

	d := sb.NewDecoder(buf)
	d.Skip(skip)
	for i := uint64(0); i < count; i++ {
		e := decodeChunkElement(d, elemSize, filtered, nominal)
		if err := d.Err(); err != nil {
			return err
		}
		if err := emit(first+i, e); err != nil {
			return err
		}
	}
	return nil
}
