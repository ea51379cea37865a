package core

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/utils"
)

// SharedIndex is one index of the shared object header message table.
// Messages of the types in MessageTypes are stored in the fractal heap at
// HeapAddress.
type SharedIndex struct {
	Version      uint8
	IndexType    uint8 // 0 list, 1 v2 B-tree
	MessageTypes uint16
	MinSize      uint32
	NumMessages  uint16
	IndexAddress uint64
	HeapAddress  uint64
}

// Holds reports whether the index stores messages of type t. The flag bit
// of a message type is 1 << type.
func (si SharedIndex) Holds(t MessageType) bool {
	return t < 16 && si.MessageTypes&(1<<t) != 0
}

// ParseSharedTableMessage decodes the shared message table message found in
// the superblock extension: version (0), table address, number of indices.
func ParseSharedTableMessage(data []byte, sb *Superblock) (addr uint64, n int, err error) {
	d := sb.NewDecoder(data)
	if v := d.Uint8(); v != 0 {
		return 0, 0, fmt.Errorf("unsupported shared message table message version: %d", v)
	}
	addr = d.Offset()
	n = int(d.Uint8())
	if err := d.Err(); err != nil {
		return 0, 0, utils.WrapError("shared message table message", err)
	}
	return addr, n, nil
}

// ReadSharedTable reads the "SMTB" table at addr holding n index entries.
func ReadSharedTable(r io.ReaderAt, addr uint64, n int, sb *Superblock) ([]SharedIndex, error) {
	entry := 1 + 1 + 2 + 4 + 2 + 2 + 2 + 2*int(sb.OffsetSize)
	buf, err := utils.ReadBlock(r, addr, 4+n*entry+4)
	if err != nil {
		return nil, utils.WrapError("shared message table read failed", err)
	}
	if err := utils.VerifyChecksum(buf); err != nil {
		return nil, utils.WrapErrorf(err, "shared message table at 0x%X", addr)
	}

	d := sb.NewDecoder(buf)
	if err := d.Signature("SMTB"); err != nil {
		return nil, err
	}
	indices := make([]SharedIndex, n)
	for i := range indices {
		si := &indices[i]
		si.Version = d.Uint8()
		si.IndexType = d.Uint8()
		si.MessageTypes = d.Uint16()
		si.MinSize = d.Uint32()
		d.Skip(4) // list and B-tree cutoffs
		si.NumMessages = d.Uint16()
		si.IndexAddress = d.Offset()
		si.HeapAddress = d.Offset()
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("shared message table", err)
	}
	return indices, nil
}
