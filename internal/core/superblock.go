// Package core provides HDF5 low-level format structures and parsers.
package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/utils"
)

// HDF5 file signature and supported superblock versions.
const (
	Signature = "\x89HDF\r\n\x1a\n"
	Version0  = 0
	Version1  = 1
	Version2  = 2
	Version3  = 3
)

// ErrNotHDF5 is returned when the file does not start with the HDF5 signature.
var ErrNotHDF5 = errors.New("not an HDF5 file")

// Superblock represents the HDF5 file superblock containing file-level metadata.
type Superblock struct {
	Version          uint8
	OffsetSize       uint8
	LengthSize       uint8
	BaseAddress      uint64
	ExtensionAddress uint64
	EOFAddress       uint64

	// RootGroup is the object header address of the root group.
	RootGroup uint64

	// Group B-tree node K values (versions 0 and 1 only).
	GroupLeafK     uint16
	GroupInternalK uint16
}

// ReadSuperblock reads and parses the superblock at the start of the file.
// Versions 0 through 3 are supported.
func ReadSuperblock(r io.ReaderAt) (*Superblock, error) {
	buf := utils.GetBuffer(128)
	defer utils.ReleaseBuffer(buf)

	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.WrapError("superblock read failed", err)
	}
	if n < 9 || string(buf[:8]) != Signature {
		return nil, ErrNotHDF5
	}

	sb := &Superblock{Version: buf[8]}
	switch sb.Version {
	case Version0, Version1:
		err = sb.decodeV0(buf[:n])
	case Version2, Version3:
		err = sb.decodeV2(buf[:n])
	default:
		return nil, fmt.Errorf("unsupported superblock version: %d", sb.Version)
	}
	if err != nil {
		return nil, utils.WrapErrorf(err, "superblock v%d", sb.Version)
	}
	return sb, nil
}

// decodeV0 handles versions 0 and 1. The root group is described by a
// symbol table entry whose object header address is what we follow.
func (sb *Superblock) decodeV0(buf []byte) error {
	if len(buf) < 24 {
		return utils.ErrTruncated
	}
	sb.OffsetSize = buf[13]
	sb.LengthSize = buf[14]
	if err := validateSizes(sb.OffsetSize, sb.LengthSize); err != nil {
		return err
	}

	d := sb.NewDecoder(buf)
	d.Seek(16)
	sb.GroupLeafK = d.Uint16()
	sb.GroupInternalK = d.Uint16()
	d.Skip(4) // file consistency flags
	if sb.Version == Version1 {
		d.Skip(4) // indexed storage K + reserved
	}
	sb.BaseAddress = d.Offset()
	d.Skip(int(sb.OffsetSize)) // free-space info
	sb.EOFAddress = d.Offset()
	d.Skip(int(sb.OffsetSize)) // driver info block

	// Root group symbol table entry: link name offset, object header address.
	d.Skip(int(sb.OffsetSize))
	sb.RootGroup = d.Offset()
	if err := d.Err(); err != nil {
		return err
	}
	if sb.BaseAddress == utils.UndefinedAddress {
		sb.BaseAddress = 0
	}
	sb.ExtensionAddress = utils.UndefinedAddress
	return nil
}

func (sb *Superblock) decodeV2(buf []byte) error {
	if len(buf) < 12 {
		return utils.ErrTruncated
	}
	sb.OffsetSize = buf[9]
	sb.LengthSize = buf[10]
	if err := validateSizes(sb.OffsetSize, sb.LengthSize); err != nil {
		return err
	}

	d := sb.NewDecoder(buf)
	d.Seek(12)
	sb.BaseAddress = d.Offset()
	sb.ExtensionAddress = d.Offset()
	sb.EOFAddress = d.Offset()
	sb.RootGroup = d.Offset()
	if err := d.Err(); err != nil {
		return err
	}
	if sb.BaseAddress == utils.UndefinedAddress {
		sb.BaseAddress = 0
	}
	return nil
}

func validateSizes(offsetSize, lengthSize uint8) error {
	valid := func(v uint8) bool { return v == 2 || v == 4 || v == 8 }
	if !valid(offsetSize) || !valid(lengthSize) {
		return fmt.Errorf("invalid sizes: offset=%d, length=%d", offsetSize, lengthSize)
	}
	return nil
}

// NewDecoder returns a decoder using this file's address and length widths.
func (sb *Superblock) NewDecoder(buf []byte) *utils.Decoder {
	return utils.NewDecoder(buf, sb.OffsetSize, sb.LengthSize)
}

// String returns a one-line summary used by the dump command.
func (sb *Superblock) String() string {
	return fmt.Sprintf("superblock v%d offsets=%d lengths=%d base=0x%X eof=0x%X root=0x%X",
		sb.Version, sb.OffsetSize, sb.LengthSize, sb.BaseAddress, sb.EOFAddress, sb.RootGroup)
}
