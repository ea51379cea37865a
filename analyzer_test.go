package h5chunk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/scigolib/h5chunk/hdf5"
	mocktesting "github.com/scigolib/h5chunk/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_NominalChunkSize(t *testing.T) {
	tests := []struct {
		name string
		spec mocktesting.DatasetSpec
		want string
	}{
		{
			name: "scalar",
			spec: mocktesting.DatasetSpec{ElemSize: 8, ChunkDims: []uint64{}, Index: mocktesting.IndexBTreeV1},
			want: "/d : nominal chunk size 8 [B]",
		},
		{
			name: "one dimension",
			spec: mocktesting.DatasetSpec{ElemSize: 4, Dims: []uint64{100}, ChunkDims: []uint64{10}, Index: mocktesting.IndexBTreeV1},
			want: "/d : nominal chunk size 40 [B]",
		},
		{
			name: "three dimensions",
			spec: mocktesting.DatasetSpec{ElemSize: 8, Dims: []uint64{4, 6, 8}, ChunkDims: []uint64{2, 3, 4}, Index: mocktesting.IndexFixedArray},
			want: "/d : nominal chunk size 192 [B]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, singleDataset(t, tt.spec))
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, got)
		})
	}
}

func TestRun_ContiguousDatasetPrintsNothing(t *testing.T) {
	got, err := run(t, singleDataset(t, mocktesting.DatasetSpec{ElemSize: 4, Dims: []uint64{10}}))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRun_ChunkSizes(t *testing.T) {
	spec := chunked2D(mocktesting.IndexBTreeV1)
	spec.Filters = []mocktesting.FilterSpec{{ID: uint16(hdf5.FilterDeflate), Values: []uint32{6}}}
	spec.Chunks[0].Data = make([]byte, 17)
	spec.Chunks[1].Data = make([]byte, 250)
	spec.Chunks[2].Data = make([]byte, 400)

	got, err := run(t, singleDataset(t, spec))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "/d : nominal chunk size 400 [B]", got[0])
	assert.ElementsMatch(t, []string{"17", "250", "400"}, got[1:])
}

func TestRun_IndexTypes(t *testing.T) {
	indexes := map[string]uint8{
		"btree v1":         mocktesting.IndexBTreeV1,
		"single":           mocktesting.IndexSingle,
		"implicit":         mocktesting.IndexImplicit,
		"fixed array":      mocktesting.IndexFixedArray,
		"extensible array": mocktesting.IndexExtensibleArray,
		"btree v2":         mocktesting.IndexBTreeV2,
	}
	for name, index := range indexes {
		t.Run(name, func(t *testing.T) {
			spec := chunked2D(index)
			want := 3
			switch index {
			case mocktesting.IndexSingle:
				spec.Dims = []uint64{10, 10}
				spec.Chunks = spec.Chunks[:1]
				want = 1
			case mocktesting.IndexImplicit:
				want = 6
			case mocktesting.IndexExtensibleArray, mocktesting.IndexBTreeV2:
				spec.MaxDims = []uint64{mocktesting.Undefined, 30}
			}

			got, err := run(t, singleDataset(t, spec))
			require.NoError(t, err)
			require.Len(t, got, 1+want)
			assert.Equal(t, "/d : nominal chunk size 400 [B]", got[0])
			for _, line := range got[1:] {
				assert.Equal(t, "400", line)
			}
		})
	}
}

func TestRun_NoAllocatedChunks(t *testing.T) {
	spec := chunked2D(mocktesting.IndexFixedArray)
	spec.Chunks = nil
	got, err := run(t, singleDataset(t, spec))
	require.NoError(t, err)
	assert.Equal(t, []string{"/d : nominal chunk size 400 [B]"}, got)
}

func TestRun_Tree(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	a := b.Dataset(mocktesting.DatasetSpec{ElemSize: 4, Dims: []uint64{10}})
	unlimited := chunked2D(mocktesting.IndexBTreeV2)
	unlimited.MaxDims = []uint64{mocktesting.Undefined, 30}
	d := b.Dataset(unlimited)
	gb := b.Dataset(chunked2D(mocktesting.IndexFixedArray))
	gc := b.Dataset(mocktesting.DatasetSpec{
		ElemSize:  4,
		Dims:      []uint64{100},
		ChunkDims: []uint64{10},
		Index:     mocktesting.IndexBTreeV1,
		Chunks:    []mocktesting.Chunk{{Scaled: []uint64{0}}, {Scaled: []uint64{3}}},
	})
	g := b.SymbolTableGroup(mocktesting.Hard("c", gc), mocktesting.Hard("b", gb))
	root := b.CompactGroup(
		mocktesting.Hard("g", g),
		mocktesting.Hard("a", a),
		mocktesting.Hard("d", d),
		mocktesting.Soft("link", "/g/b"),
	)
	path := writeFile(t, b, root)

	var out bytes.Buffer
	an := New(&out)
	require.NoError(t, an.Run(context.Background(), path))
	assert.Equal(t, []string{
		"/d : nominal chunk size 400 [B]", "400", "400", "400",
		"/g/b : nominal chunk size 400 [B]", "400", "400", "400",
		"/g/c : nominal chunk size 40 [B]", "40", "40",
	}, lines(out.String()))

	r := an.Report()
	assert.Equal(t, 6, r.Objects)
	assert.Equal(t, 2, r.Groups)
	assert.Equal(t, 4, r.Datasets)
	assert.Equal(t, 3, r.Chunked)
	assert.Equal(t, 8, r.Chunks)
	assert.Equal(t, uint64(6*400+2*40), r.AllocatedBytes)
	assert.Empty(t, r.Errors)
}

// abortTree holds a chunked dataset on either side of one whose rank is too
// large.
func abortTree(t *testing.T) string {
	t.Helper()
	b := mocktesting.NewFileBuilder()
	a := b.Dataset(chunked2D(mocktesting.IndexBTreeV1))
	bad := b.Dataset(tooManyDims())
	c := b.Dataset(chunked2D(mocktesting.IndexBTreeV1))
	return writeFile(t, b, b.CompactGroup(
		mocktesting.Hard("a", a),
		mocktesting.Hard("b", bad),
		mocktesting.Hard("c", c),
	))
}

func TestRun_RankTooLargeAborts(t *testing.T) {
	got, err := run(t, abortTree(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadata)
	assert.ErrorIs(t, err, hdf5.ErrRankTooLarge)
	assert.NotErrorIs(t, err, ErrVisit)
	assert.Contains(t, err.Error(), "/b")

	// Output for /a stays; nothing follows the failure.
	assert.Equal(t, []string{"/a : nominal chunk size 400 [B]", "400", "400", "400"}, got)
}

func TestRun_KeepGoing(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var out bytes.Buffer
	an := New(&out, WithKeepGoing(true), WithLogger(logger))
	err := an.Run(context.Background(), abortTree(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadata)
	assert.ErrorIs(t, err, hdf5.ErrRankTooLarge)

	assert.Equal(t, []string{
		"/a : nominal chunk size 400 [B]", "400", "400", "400",
		"/c : nominal chunk size 400 [B]", "400", "400", "400",
	}, lines(out.String()))

	r := an.Report()
	assert.Equal(t, 2, r.Chunked)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, logs.String(), "dataset failed")
}

func TestRun_ReportResetPerRun(t *testing.T) {
	var out bytes.Buffer
	an := New(&out, WithKeepGoing(true))
	require.Error(t, an.Run(context.Background(), abortTree(t)))
	require.Len(t, an.Report().Errors, 1)

	out.Reset()
	require.NoError(t, an.Run(context.Background(), singleDataset(t, chunked2D(mocktesting.IndexFixedArray))))
	r := an.Report()
	assert.Empty(t, r.Errors)
	assert.Equal(t, 1, r.Chunked)
	assert.Equal(t, 3, r.Chunks)
}

func TestRun_HandlesReleased(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	ea := chunked2D(mocktesting.IndexExtensibleArray)
	ea.MaxDims = []uint64{mocktesting.Undefined, 30}
	ok := b.Dataset(ea)
	bad := b.Dataset(tooManyDims())
	noLayout := b.ObjectHeader(mocktesting.DatatypeMsg(4), mocktesting.DataspaceMsg([]uint64{3}, nil))
	contiguous := b.Dataset(mocktesting.DatasetSpec{ElemSize: 2, Dims: []uint64{8}})
	path := writeFile(t, b, b.CompactGroup(
		mocktesting.Hard("ok", ok),
		mocktesting.Hard("bad", bad),
		mocktesting.Hard("nolayout", noLayout),
		mocktesting.Hard("contiguous", contiguous),
	))

	for _, keepGoing := range []bool{false, true} {
		f, err := hdf5.Open(path)
		require.NoError(t, err)

		an := New(io.Discard, WithKeepGoing(keepGoing))
		an.file = f
		_ = f.Visit("/", an.Visit)
		assert.Equal(t, 0, f.OpenHandles(), "keepGoing=%v", keepGoing)
		if keepGoing {
			assert.Len(t, an.Report().Errors, 2)
		}
		require.NoError(t, f.Close())
	}
}

func TestRun_MissingLayout(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	ds := b.ObjectHeader(mocktesting.DatatypeMsg(4), mocktesting.DataspaceMsg([]uint64{3}, nil))
	got, err := run(t, writeFile(t, b, b.CompactGroup(mocktesting.Hard("d", ds))))
	require.ErrorIs(t, err, ErrMetadata)
	assert.Contains(t, err.Error(), "no layout message")
	assert.Empty(t, got)
}

func TestRun_EnumerationError(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	junk := b.Alloc(bytes.Repeat([]byte("JUNK"), 16))
	ds := b.ObjectHeader(
		mocktesting.DatatypeMsg(4),
		mocktesting.DataspaceMsg([]uint64{20}, nil),
		mocktesting.ChunkedLayoutV3Msg(junk, []uint64{10}, 4),
	)
	path := writeFile(t, b, b.CompactGroup(mocktesting.Hard("d", ds)))

	got, err := run(t, path)
	require.ErrorIs(t, err, ErrEnumeration)
	assert.NotErrorIs(t, err, ErrMetadata)
	assert.Equal(t, []string{"/d : nominal chunk size 40 [B]"}, got)
}

func TestRun_OpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, filepath.Join(dir, "missing.h5"))
	require.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, os.ErrNotExist)

	plain := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("this is not an HDF5 file at all"), 0o600))
	got, err := run(t, plain)
	require.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, hdf5.ErrNotHDF5)
	assert.Empty(t, got)
}

func TestRun_Cancelled(t *testing.T) {
	path := singleDataset(t, chunked2D(mocktesting.IndexBTreeV1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := Run(ctx, &out, path, WithKeepGoing(true))
	require.ErrorIs(t, err, ErrVisit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRun_WriteError(t *testing.T) {
	path := singleDataset(t, chunked2D(mocktesting.IndexBTreeV1))
	err := Run(context.Background(), failingWriter{}, path, WithKeepGoing(true))
	require.ErrorIs(t, err, ErrVisit)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_Details(t *testing.T) {
	spec := chunked2D(mocktesting.IndexBTreeV1)
	spec.Filters = []mocktesting.FilterSpec{{ID: uint16(hdf5.FilterDeflate), Values: []uint32{6}}}
	spec.Chunks[0].Data = make([]byte, 17)
	spec.Chunks[1].Data = make([]byte, 250)
	spec.Chunks[1].FilterMask = 1
	spec.Chunks[2].Data = make([]byte, 400)

	got, err := run(t, singleDataset(t, spec), WithDetails(true))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "/d : nominal chunk size 400 [B] filters=deflate", got[0])
	assert.Regexp(t, `^17 offset=\[0,0\] mask=0x0 addr=0x[0-9a-f]+$`, got[1])
	assert.Regexp(t, `^250 offset=\[0,20\] mask=0x1 addr=0x[0-9a-f]+$`, got[2])
	assert.Regexp(t, `^400 offset=\[10,10\] mask=0x0 addr=0x[0-9a-f]+$`, got[3])
}

func TestRun_BasePath(t *testing.T) {
	spec := chunked2D(mocktesting.IndexSingle)
	spec.Dims = []uint64{10, 10}
	spec.Chunks = spec.Chunks[:1]

	got, err := run(t, singleDataset(t, spec), WithBasePath("data.h5:/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"data.h5:/d : nominal chunk size 400 [B]", "400"}, got)
}

func TestRun_Progress(t *testing.T) {
	var seen []int
	_, err := run(t, singleDataset(t, chunked2D(mocktesting.IndexBTreeV1)), WithProgress(func(n int) {
		seen = append(seen, n)
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestAnalyzer_ReportIsCopy(t *testing.T) {
	an := New(io.Discard, WithKeepGoing(true))
	require.Error(t, an.Run(context.Background(), abortTree(t)))

	r := an.Report()
	require.Len(t, r.Errors, 1)
	r.Errors[0] = nil
	assert.NotNil(t, an.Report().Errors[0])
}
