package core

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/scigolib/h5chunk/internal/utils"
)

// FilterID represents HDF5 filter identifiers.
type FilterID uint16

// Filter identifier constants. IDs below 256 are reserved by the library;
// the rest are registered third-party filters.
const (
	FilterDeflate     FilterID = 1
	FilterShuffle     FilterID = 2
	FilterFletcher32  FilterID = 3
	FilterSZIP        FilterID = 4
	FilterNBit        FilterID = 5
	FilterScaleOffset FilterID = 6
	FilterLZF         FilterID = 32000
	FilterBlosc       FilterID = 32001
	FilterBZIP2       FilterID = 307
	FilterLZ4         FilterID = 32004
	FilterZstd        FilterID = 32015
)

var knownFilters = map[FilterID]string{
	FilterDeflate:     "deflate",
	FilterShuffle:     "shuffle",
	FilterFletcher32:  "fletcher32",
	FilterSZIP:        "szip",
	FilterNBit:        "nbit",
	FilterScaleOffset: "scaleoffset",
	FilterLZF:         "lzf",
	FilterBlosc:       "blosc",
	FilterBZIP2:       "bzip2",
	FilterLZ4:         "lz4",
	FilterZstd:        "zstd",
}

// String returns the well-known filter name or "filter(<id>)".
func (id FilterID) String() string {
	if name, ok := knownFilters[id]; ok {
		return name
	}
	return fmt.Sprintf("filter(%d)", uint16(id))
}

// FilterFlagOptional marks a filter that may be skipped when it fails.
const FilterFlagOptional = 0x0001

// Filter represents a single filter in the pipeline.
type Filter struct {
	ID         FilterID
	Flags      uint16
	Name       string
	ClientData []uint32
}

// DisplayName prefers the name stored in the file.
func (f Filter) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID.String()
}

// FilterPipelineMessage represents the filter pipeline for a dataset.
type FilterPipelineMessage struct {
	Version uint8
	Filters []Filter
}

// ParseFilterPipelineMessage parses filter pipeline message (type 0x000B).
//
// Version 1 pads names to 8 bytes and client data to an even count.
// Version 2 drops the padding and only stores names for IDs >= 256.
func ParseFilterPipelineMessage(data []byte) (*FilterPipelineMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("filter pipeline message too short")
	}

	d := utils.NewDecoder(data, 8, 8)
	pipeline := &FilterPipelineMessage{Version: d.Uint8()}
	numFilters := int(d.Uint8())

	switch pipeline.Version {
	case 1:
		d.Skip(6)
	case 2:
	default:
		return nil, fmt.Errorf("unsupported filter pipeline version: %d", pipeline.Version)
	}

	pipeline.Filters = make([]Filter, 0, numFilters)
	for i := 0; i < numFilters; i++ {
		f := Filter{ID: FilterID(d.Uint16())}

		var nameLength int
		if pipeline.Version == 1 || f.ID >= 256 {
			nameLength = int(d.Uint16())
		}
		f.Flags = d.Uint16()
		numValues := int(d.Uint16())

		if nameLength > 0 {
			padded := nameLength
			if pipeline.Version == 1 && padded%8 != 0 {
				padded += 8 - padded%8
			}
			raw := d.Bytes(padded)
			if n := bytes.IndexByte(raw, 0); n >= 0 {
				raw = raw[:n]
			}
			f.Name = string(raw)
		}

		if numValues > 0 {
			f.ClientData = make([]uint32, numValues)
			for j := range f.ClientData {
				f.ClientData[j] = d.Uint32()
			}
		}
		if pipeline.Version == 1 && numValues%2 != 0 && d.Len() >= 4 {
			d.Skip(4)
		}

		if err := d.Err(); err != nil {
			return nil, utils.WrapErrorf(err, "filter %d", i)
		}
		pipeline.Filters = append(pipeline.Filters, f)
	}

	return pipeline, nil
}
