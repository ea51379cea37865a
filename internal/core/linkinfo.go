package core

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5chunk/internal/utils"
)

// LinkInfoMessage represents the Link Info message (HDF5 message type 0x0002).
// Its presence marks a "new-style" group. When the heap and name index
// addresses are defined the links are stored densely; otherwise they are
// ordinary link messages in the object header.
//
// Format:
//   - Version (1 byte): 0
//   - Flags (1 byte): bit 0 = creation order tracked, bit 1 = indexed
//   - Max Creation Order (8 bytes, present if bit 0 is set)
//   - Fractal Heap Address
//   - Name B-tree v2 Address
//   - Creation Order B-tree v2 Address (present if bit 1 is set)
//
// C Reference: H5Olinfo.c - H5O__linfo_decode().
type LinkInfoMessage struct {
	Version uint8
	Flags   uint8

	MaxCreationOrder uint64

	FractalHeapAddress        uint64
	NameBTreeAddress          uint64
	CreationOrderBTreeAddress uint64
}

// Flags for LinkInfoMessage.
const (
	LinkInfoTrackCreationOrder uint8 = 0x01
	LinkInfoIndexCreationOrder uint8 = 0x02
)

// IsDense reports whether links live in a fractal heap indexed by name.
func (lim *LinkInfoMessage) IsDense() bool {
	return !utils.IsUndefined(lim.FractalHeapAddress) && !utils.IsUndefined(lim.NameBTreeAddress)
}

// ParseLinkInfoMessage parses Link Info message from header message data.
func ParseLinkInfoMessage(data []byte, sb *Superblock) (*LinkInfoMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("link info message too short")
	}

	d := sb.NewDecoder(data)
	lim := &LinkInfoMessage{
		Version:                   d.Uint8(),
		Flags:                     d.Uint8(),
		CreationOrderBTreeAddress: utils.UndefinedAddress,
	}
	if lim.Version != 0 {
		return nil, fmt.Errorf("unsupported link info version: %d", lim.Version)
	}
	if lim.Flags&^(LinkInfoTrackCreationOrder|LinkInfoIndexCreationOrder) != 0 {
		return nil, fmt.Errorf("invalid link info flags: 0x%02X", lim.Flags)
	}

	if lim.Flags&LinkInfoTrackCreationOrder != 0 {
		lim.MaxCreationOrder = d.Uint64()
	}
	lim.FractalHeapAddress = d.Offset()
	lim.NameBTreeAddress = d.Offset()
	if lim.Flags&LinkInfoIndexCreationOrder != 0 {
		lim.CreationOrderBTreeAddress = d.Offset()
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("link info message", err)
	}
	return lim, nil
}
