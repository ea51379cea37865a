package hdf5

import (
	"path/filepath"
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

func openFile(t *testing.T, path string) *File {
	t.Helper()
	f, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// chunked2D is a 2-D dataset of 4-byte elements with three allocated chunks.
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

// sampleTree lays out:
//
//	/            compact group
//	/alias       soft link to /grp/b
//	/dense       dense group with members m0..m2 (contiguous datasets)
//	/grp         symbol table group
//	/grp/a       contiguous dataset
//	/grp/b       chunked dataset (v1 B-tree)
//	/z           hard link to /grp/b
func sampleTree(t *testing.T) string {
	t.Helper()
	b := mocktesting.NewFileBuilder()
	contiguous := mocktesting.DatasetSpec{ElemSize: 8, Dims: []uint64{5}}

	var members []mocktesting.Link
	for _, name := range []string{"m2", "m0", "m1"} {
		members = append(members, mocktesting.Hard(name, b.Dataset(contiguous)))
	}
	dense := b.DenseGroup(members...)

	a := b.Dataset(contiguous)
	ds := b.Dataset(chunked2D(mocktesting.IndexBTreeV1))
	grp := b.SymbolTableGroup(mocktesting.Hard("b", ds), mocktesting.Hard("a", a))

	root := b.CompactGroup(
		mocktesting.Hard("z", ds),
		mocktesting.Soft("alias", "/grp/b"),
		mocktesting.Hard("grp", grp),
		mocktesting.Hard("dense", dense),
	)
	return writeFile(t, b, root)
}
