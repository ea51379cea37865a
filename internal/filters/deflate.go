package filters

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/scigolib/h5chunk/internal/core"
)

// DeflateFilter is the zlib stream filter (ID 1).
type DeflateFilter struct {
	level int
}

// NewDeflateFilter creates a deflate filter. Levels outside 1-9 select 6.
func NewDeflateFilter(level int) *DeflateFilter {
	if level < 1 || level > 9 {
		level = 6
	}
	return &DeflateFilter{level: level}
}

// ID returns the HDF5 filter identifier.
func (f *DeflateFilter) ID() core.FilterID { return core.FilterDeflate }

// Name returns the HDF5 filter name.
func (f *DeflateFilter) Name() string { return "deflate" }

// Apply compresses data into a zlib stream.
func (f *DeflateFilter) Apply(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer creation failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("zlib compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove inflates a zlib stream and checks its Adler-32 trailer.
func (f *DeflateFilter) Remove(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader creation failed: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompression failed: %w", err)
	}
	return out, nil
}

// ZstdFilter is the registered Zstandard filter (ID 32015). Chunks hold a
// single zstd frame.
type ZstdFilter struct{}

// NewZstdFilter creates a Zstandard filter.
func NewZstdFilter() *ZstdFilter {
	return &ZstdFilter{}
}

// ID returns the HDF5 filter identifier.
func (f *ZstdFilter) ID() core.FilterID { return core.FilterZstd }

// Name returns the HDF5 filter name.
func (f *ZstdFilter) Name() string { return "zstd" }

// Apply compresses data into one zstd frame.
func (f *ZstdFilter) Apply(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder creation failed: %w", err)
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(data, nil), nil
}

// Remove decompresses a zstd frame.
func (f *ZstdFilter) Remove(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder creation failed: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}
