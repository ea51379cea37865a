package filters

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5chunk/internal/core"
)

// Fletcher32Filter appends (on write) or checks and strips (on read) a
// 4-byte Fletcher-32 checksum.
type Fletcher32Filter struct{}

// NewFletcher32Filter creates a Fletcher32 checksum filter.
func NewFletcher32Filter() *Fletcher32Filter {
	return &Fletcher32Filter{}
}

// ID returns the HDF5 filter identifier.
func (f *Fletcher32Filter) ID() core.FilterID { return core.FilterFletcher32 }

// Name returns the HDF5 filter name.
func (f *Fletcher32Filter) Name() string { return "fletcher32" }

// Apply appends the checksum of data.
func (f *Fletcher32Filter) Apply(data []byte) ([]byte, error) {
	out := make([]byte, len(data)+4)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], Fletcher32(data))
	return out, nil
}

// Remove verifies and strips the trailing checksum. Files written by
// library versions before 1.6.3 store each half of the checksum byte-swapped; both
// orders are accepted.
func (f *Fletcher32Filter) Remove(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for fletcher32: %d bytes", len(data))
	}
	n := len(data) - 4
	stored := binary.LittleEndian.Uint32(data[n:])
	sum := Fletcher32(data[:n])
	if stored != sum && stored != swapBytes(sum) {
		return nil, fmt.Errorf("fletcher32 checksum mismatch: stored=%08x, calculated=%08x", stored, sum)
	}
	return data[:n], nil
}

// Fletcher32 computes the checksum over big-endian 16-bit words. An odd
// trailing byte is the high byte of a final word.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	// 360 words keep both sums below 2^32 between reductions.
	const block = 360

	words := len(data) / 2
	pos := 0
	for words > 0 {
		n := words
		if n > block {
			n = block
		}
		words -= n
		for ; n > 0; n-- {
			sum1 += uint32(data[pos])<<8 | uint32(data[pos+1])
			sum2 += sum1
			pos += 2
		}
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	if len(data)%2 != 0 {
		sum1 += uint32(data[pos]) << 8
		sum2 += sum1
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	sum1 = (sum1 & 0xffff) + (sum1 >> 16)
	sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	return sum2<<16 | sum1
}

// swapBytes swaps the bytes within each 16-bit half.
func swapBytes(v uint32) uint32 {
	return (v&0x00ff00ff)<<8 | (v>>8)&0x00ff00ff
}
