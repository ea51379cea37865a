package structures

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// LocalHeap represents an HDF5 local heap holding the link names of an
// old-style group.
//
// Format:
//
//	Header:
//	  - Signature: "HEAP" (4 bytes)
//	  - Version: 0 (1 byte)
//	  - Reserved: 0 (3 bytes)
//	  - Data segment size (length)
//	  - Offset to head of free list (length)
//	  - Data segment address (offset)
//	Data segment:
//	  - Null-terminated strings
type LocalHeap struct {
	Data []byte
}

// LoadLocalHeap loads a local heap from the specified file address.
func LoadLocalHeap(r io.ReaderAt, address uint64, sb *core.Superblock) (*LocalHeap, error) {
	headerSize := 8 + int(sb.LengthSize)*2 + int(sb.OffsetSize)
	buf, err := utils.ReadBlock(r, address, headerSize)
	if err != nil {
		return nil, utils.WrapError("local heap header read failed", err)
	}

	d := sb.NewDecoder(buf)
	if err := d.Signature("HEAP"); err != nil {
		return nil, err
	}
	if v := d.Uint8(); v != 0 {
		return nil, fmt.Errorf("unsupported local heap version: %d", v)
	}
	d.Skip(3)
	size := d.Length()
	d.Skip(int(sb.LengthSize)) // free list
	dataAddr := d.Offset()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if size > utils.MaxMetadataBlock {
		return nil, fmt.Errorf("local heap data segment too large: %d", size)
	}

	//nolint:gosec // G115: bounded by MaxMetadataBlock
	data, err := utils.ReadBlock(r, dataAddr, int(size))
	if err != nil {
		return nil, utils.WrapError("local heap data read failed", err)
	}
	return &LocalHeap{Data: data}, nil
}

// GetString retrieves a null-terminated string from the data segment.
func (h *LocalHeap) GetString(offset uint64) (string, error) {
	if offset >= uint64(len(h.Data)) {
		return "", errors.New("offset beyond heap data")
	}
	rest := h.Data[offset:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", errors.New("string not null-terminated")
	}
	return string(rest[:end]), nil
}
