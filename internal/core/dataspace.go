package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scigolib/h5chunk/internal/utils"
)

// DataspaceType represents the type of dataspace.
type DataspaceType uint8

// Dataspace type constants define the dimensionality of datasets.
const (
	DataspaceScalar DataspaceType = 0 // Scalar (single value).
	DataspaceSimple DataspaceType = 1 // Simple (N-dimensional array).
	DataspaceNull   DataspaceType = 2 // Null (no data).
)

// Unlimited marks an unlimited maximum dimension.
const Unlimited = ^uint64(0)

// DataspaceMessage represents HDF5 dataspace message.
type DataspaceMessage struct {
	Version    uint8
	Type       DataspaceType
	Dimensions []uint64
	MaxDims    []uint64 // nil when the maximum equals the current extent
}

// Rank returns the number of dimensions.
func (ds *DataspaceMessage) Rank() int {
	return len(ds.Dimensions)
}

// ParseDataspaceMessage parses a dataspace message from header message data.
//
// Version 1: version, rank, flags, reserved (5), dims, max dims (flag 0x01).
// Version 2: version, rank, flags, type, dims, max dims (flag 0x01).
// Dimensions are length-sized.
func ParseDataspaceMessage(data []byte, sb *Superblock) (*DataspaceMessage, error) {
	if len(data) < 4 {
		return nil, errors.New("dataspace message too short")
	}

	d := sb.NewDecoder(data)
	ds := &DataspaceMessage{Version: d.Uint8()}
	rank := int(d.Uint8())
	flags := d.Uint8()

	switch ds.Version {
	case 1:
		d.Skip(5)
		ds.Type = DataspaceSimple
		if rank == 0 {
			ds.Type = DataspaceScalar
		}
	case 2:
		ds.Type = DataspaceType(d.Uint8())
		if ds.Type > DataspaceNull {
			return nil, fmt.Errorf("invalid dataspace type: %d", ds.Type)
		}
	default:
		return nil, fmt.Errorf("unsupported dataspace version: %d", ds.Version)
	}

	ds.Dimensions = make([]uint64, rank)
	for i := range ds.Dimensions {
		ds.Dimensions[i] = d.Length()
	}
	if flags&0x01 != 0 {
		ds.MaxDims = make([]uint64, rank)
		for i := range ds.MaxDims {
			ds.MaxDims[i] = normalizeUnlimited(d.Length(), d.LengthSize())
		}
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("dataspace message", err)
	}
	return ds, nil
}

func normalizeUnlimited(v uint64, width int) uint64 {
	if width >= 8 {
		return v
	}
	if v == (uint64(1)<<(8*width))-1 {
		return Unlimited
	}
	return v
}

// EffectiveMaxDims returns the maximum extents, falling back to the current ones.
func (ds *DataspaceMessage) EffectiveMaxDims() []uint64 {
	if ds.MaxDims != nil {
		return ds.MaxDims
	}
	return ds.Dimensions
}

// String formats the extents as "[10,20/unlimited]".
func (ds *DataspaceMessage) String() string {
	parts := make([]string, len(ds.Dimensions))
	for i, dim := range ds.Dimensions {
		parts[i] = fmt.Sprint(dim)
		if ds.MaxDims != nil && ds.MaxDims[i] != dim {
			if ds.MaxDims[i] == Unlimited {
				parts[i] += "/unlimited"
			} else {
				parts[i] += fmt.Sprintf("/%d", ds.MaxDims[i])
			}
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}
