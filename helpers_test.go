package h5chunk

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	mocktesting "github.com/scigolib/h5chunk/internal/testing"
	"github.com/stretchr/testify/require"
)

// writeFile finishes b with root as the root group and writes it to a
// temporary file.
func writeFile(t *testing.T, b *mocktesting.FileBuilder, root uint64) string {
	t.Helper()
	b.SetRoot(root)
	path := filepath.Join(t.TempDir(), "test.h5")
	require.NoError(t, b.WriteFile(path))
	return path
}

// singleDataset writes a file whose root group holds one dataset "d".
func singleDataset(t *testing.T, spec mocktesting.DatasetSpec) string {
	t.Helper()
	b := mocktesting.NewFileBuilder()
	ds := b.Dataset(spec)
	return writeFile(t, b, b.CompactGroup(mocktesting.Hard("d", ds)))
}

// run analyses path and returns the output lines.
func run(t *testing.T, path string, opts ...Option) ([]string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), &out, path, opts...)
	return lines(out.String()), err
}

func lines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// chunked2D is a 2-D dataset of 4-byte elements, 10x10 chunks of 400
// bytes, with three allocated chunks.
func chunked2D(index uint8) mocktesting.DatasetSpec {
	return mocktesting.DatasetSpec{
		ElemSize:  4,
		Dims:      []uint64{20, 30},
		ChunkDims: []uint64{10, 10},
		Index:     index,
		Chunks: []mocktesting.Chunk{
			{Scaled: []uint64{0, 0}},
			{Scaled: []uint64{0, 2}},
			{Scaled: []uint64{1, 1}},
		},
	}
}

// tooManyDims is a chunked dataset of rank 33.
func tooManyDims() mocktesting.DatasetSpec {
	dims := make([]uint64, 33)
	chunk := make([]uint64, 33)
	for i := range dims {
		dims[i] = 2
		chunk[i] = 1
	}
	return mocktesting.DatasetSpec{ElemSize: 1, Dims: dims, ChunkDims: chunk, Index: mocktesting.IndexBTreeV1}
}
