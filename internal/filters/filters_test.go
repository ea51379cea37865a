package filters

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 7)
	}
	return data
}

func TestFilters_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
	}{
		{"deflate", NewDeflateFilter(6)},
		{"deflate bad level", NewDeflateFilter(42)},
		{"shuffle", NewShuffleFilter(4)},
		{"shuffle ragged", NewShuffleFilter(3)},
		{"fletcher32", NewFletcher32Filter()},
		{"lzf", NewLZFFilter()},
		{"zstd", NewZstdFilter()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, n := range []int{0, 1, 7, 400, 5000} {
				in := sample(n)
				enc, err := tt.filter.Apply(in)
				require.NoError(t, err)
				out, err := tt.filter.Remove(enc)
				require.NoError(t, err)
				assert.Equal(t, len(in), len(out), "size %d", n)
				assert.True(t, bytes.Equal(in, out), "size %d", n)
			}
		})
	}
}

func TestShuffle_Layout(t *testing.T) {
	in := []byte{0xA1, 0xA2, 0xB1, 0xB2, 0xC1, 0xC2, 0xFF}
	out, err := NewShuffleFilter(2).Apply(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, 0xB1, 0xC1, 0xA2, 0xB2, 0xC2, 0xFF}, out)
}

func TestFletcher32_KnownValues(t *testing.T) {
	// Big-endian words 0x0102 and 0x0300 (odd tail).
	data := []byte{0x01, 0x02, 0x03}
	sum1 := uint32(0x0102 + 0x0300)
	sum2 := uint32(0x0102 + sum1)
	assert.Equal(t, sum2<<16|sum1, Fletcher32(data))
	assert.Equal(t, uint32(0), Fletcher32(nil))
}

func TestFletcher32_Corrupt(t *testing.T) {
	f := NewFletcher32Filter()
	enc, err := f.Apply(sample(100))
	require.NoError(t, err)

	enc[10] ^= 0x40
	_, err = f.Remove(enc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	_, err = f.Remove([]byte{1, 2})
	require.Error(t, err)
}

func TestFletcher32_LegacyByteOrder(t *testing.T) {
	data := sample(64)
	sum := Fletcher32(data)
	stored := binary.LittleEndian.AppendUint32(append([]byte{}, data...), swapBytes(sum))

	out, err := NewFletcher32Filter().Remove(stored)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestLZF_StreamFormat(t *testing.T) {
	tests := []struct {
		name   string
		plain  string
		stream []byte
	}{
		// Literal run, then a 3-byte back reference at distance 3.
		{"short back reference", "abcabc", []byte{0x02, 'a', 'b', 'c', 0x20, 0x02}},
		// Literal run, then a 12-byte back reference: length byte before offset.
		{"long back reference", "abcabcabcabcabc", []byte{0x02, 'a', 'b', 'c', 0xE0, 0x03, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewLZFFilter().Remove(tt.stream)
			require.NoError(t, err)
			assert.Equal(t, tt.plain, string(out))

			enc, err := NewLZFFilter().Apply([]byte(tt.plain))
			require.NoError(t, err)
			assert.Equal(t, tt.stream, enc)
		})
	}
}

func TestDecoders_Corrupt(t *testing.T) {
	junk := []byte("definitely not compressed")
	for _, f := range []Filter{NewDeflateFilter(6), NewZstdFilter(), NewBZIP2Filter()} {
		t.Run(f.Name(), func(t *testing.T) {
			_, err := f.Remove(junk)
			require.Error(t, err)
		})
	}

	_, err := NewLZFFilter().Remove([]byte{0x05, 'a'})
	require.Error(t, err)
	_, err = NewLZFFilter().Remove([]byte{0x20, 0x10})
	require.Error(t, err, "back reference before start")
}

func TestBZIP2_ApplyUnavailable(t *testing.T) {
	_, err := NewBZIP2Filter().Apply([]byte("x"))
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	f, err := New(Spec{ID: core.FilterShuffle}, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), f.(*ShuffleFilter).elementSize)

	f, err = New(Spec{ID: core.FilterShuffle, ClientData: []uint32{2}}, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.(*ShuffleFilter).elementSize)

	f, err = New(Spec{ID: core.FilterDeflate, ClientData: []uint32{9}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, f.(*DeflateFilter).level)

	for _, id := range []core.FilterID{core.FilterFletcher32, core.FilterLZF, core.FilterBZIP2, core.FilterZstd} {
		f, err := New(Spec{ID: id}, 1)
		require.NoError(t, err)
		assert.Equal(t, id, f.ID())
	}

	_, err = New(Spec{ID: core.FilterSZIP}, 1)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestPipeline(t *testing.T) {
	specs := []Spec{
		{ID: core.FilterShuffle, ClientData: []uint32{4}},
		{ID: core.FilterDeflate, ClientData: []uint32{6}},
		{ID: core.FilterFletcher32},
	}
	p, err := NewPipeline(specs, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())

	in := sample(400)
	for _, mask := range []uint32{0, 0b010, 0b111} {
		enc, err := p.Apply(in, mask)
		require.NoError(t, err)
		out, err := p.Remove(enc, mask)
		require.NoError(t, err)
		assert.Equal(t, in, out, "mask %b", mask)
	}

	_, err = NewPipeline([]Spec{{ID: core.FilterNBit}}, 4)
	require.ErrorIs(t, err, ErrUnsupported)
}
