package filters

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5chunk/internal/core"
)

// LZFFilter is the PyTables/h5py LZF filter (ID 32000).
//
// The stream is a sequence of segments selected by the top three bits of a
// control byte:
//
//	000LLLLL                     literal run of L+1 bytes
//	RRROOOOO OOOOOOOO            back reference of R+2 bytes (R in 1..6)
//	111OOOOO RRRRRRRR OOOOOOOO   back reference of R+9 bytes
//
// Offsets are 13 bits, stored minus one.
type LZFFilter struct{}

// NewLZFFilter creates an LZF filter.
func NewLZFFilter() *LZFFilter {
	return &LZFFilter{}
}

// ID returns the HDF5 filter identifier.
func (f *LZFFilter) ID() core.FilterID { return core.FilterLZF }

// Name returns the HDF5 filter name.
func (f *LZFFilter) Name() string { return "lzf" }

// Apply compresses data.
func (f *LZFFilter) Apply(data []byte) ([]byte, error) {
	return lzfCompress(data), nil
}

// Remove decompresses data.
func (f *LZFFilter) Remove(data []byte) ([]byte, error) {
	out, err := lzfDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("lzf decompression failed: %w", err)
	}
	return out, nil
}

const (
	lzfHashLog   = 14
	lzfMaxOffset = 1 << 13
	lzfMaxMatch  = 264
	lzfMaxLit    = 32
)

func lzfHash(b0, b1, b2 byte) uint32 {
	v := uint32(b0)<<16 | uint32(b1)<<8 | uint32(b2)
	v ^= v >> 16
	v *= 0x45d9f3b
	v ^= v >> 16
	return v & (1<<lzfHashLog - 1)
}

//nolint:gocognit // one pass matcher
func lzfCompress(in []byte) []byte {
	if len(in) == 0 {
		return in
	}
	out := make([]byte, 0, len(in)+len(in)/lzfMaxLit+1)
	var table [1 << lzfHashLog]int32
	for i := range table {
		table[i] = -1
	}

	lit := 0
	pos := 0
	for pos+3 <= len(in) {
		h := lzfHash(in[pos], in[pos+1], in[pos+2])
		ref := int(table[h])
		table[h] = int32(pos) //nolint:gosec // G115: chunks are far below 2 GiB

		off := pos - ref
		if ref < 0 || off > lzfMaxOffset || in[ref] != in[pos] || in[ref+1] != in[pos+1] || in[ref+2] != in[pos+2] {
			pos++
			continue
		}

		out = appendLiterals(out, in[lit:pos])
		limit := len(in) - pos
		if limit > lzfMaxMatch {
			limit = lzfMaxMatch
		}
		n := 3
		for n < limit && in[ref+n] == in[pos+n] {
			n++
		}
		out = appendBackref(out, off, n)
		pos += n
		lit = pos
	}
	return appendLiterals(out, in[lit:])
}

func appendLiterals(out, lit []byte) []byte {
	for len(lit) > 0 {
		n := len(lit)
		if n > lzfMaxLit {
			n = lzfMaxLit
		}
		out = append(out, byte(n-1))
		out = append(out, lit[:n]...)
		lit = lit[n:]
	}
	return out
}

func appendBackref(out []byte, off, n int) []byte {
	off--
	if n <= 8 {
		return append(out, byte((n-2)<<5|off>>8), byte(off))
	}
	return append(out, byte(0xE0|off>>8), byte(n-9), byte(off))
}

func lzfDecompress(in []byte) ([]byte, error) {
	out := make([]byte, 0, 2*len(in))
	for pos := 0; pos < len(in); {
		ctrl := in[pos]
		pos++

		if ctrl < 0x20 {
			n := int(ctrl) + 1
			if pos+n > len(in) {
				return nil, errors.New("truncated literal run")
			}
			out = append(out, in[pos:pos+n]...)
			pos += n
			continue
		}

		n := int(ctrl >> 5)
		if n == 7 {
			if pos >= len(in) {
				return nil, errors.New("truncated long back reference")
			}
			n += int(in[pos])
			pos++
		}
		n += 2
		if pos >= len(in) {
			return nil, errors.New("truncated back reference")
		}
		off := (int(ctrl&0x1F)<<8 | int(in[pos])) + 1
		pos++
		if off > len(out) {
			return nil, fmt.Errorf("back reference offset %d before start of output (%d bytes)", off, len(out))
		}
		// Source and destination may overlap.
		src := len(out) - off
		for i := 0; i < n; i++ {
			out = append(out, out[src+i])
		}
	}
	return out, nil
}
