package structures

import (
	"fmt"
	"io"
	"testing"

	"github.com/scigolib/h5chunk/internal/core"
	mocktesting "github.com/scigolib/h5chunk/internal/testing"
	"github.com/stretchr/testify/require"
)

// openBuilt finishes the builder and reads back its superblock.
func openBuilt(t *testing.T, b *mocktesting.FileBuilder) (io.ReaderAt, *core.Superblock) {
	t.Helper()
	r := b.Reader()
	sb, err := core.ReadSuperblock(r)
	require.NoError(t, err)
	return r, sb
}

// readDataset parses the header at addr into a ChunkIndexInfo.
func readDataset(t *testing.T, r io.ReaderAt, sb *core.Superblock, addr uint64) ChunkIndexInfo {
	t.Helper()
	oh, err := core.ReadObjectHeader(r, addr, sb)
	require.NoError(t, err)

	layoutMsg := oh.Find(core.MsgDataLayout)
	require.NotNil(t, layoutMsg)
	layout, err := core.ParseDataLayoutMessage(layoutMsg.Data, sb)
	require.NoError(t, err)

	spaceMsg := oh.Find(core.MsgDataspace)
	require.NotNil(t, spaceMsg)
	space, err := core.ParseDataspaceMessage(spaceMsg.Data, sb)
	require.NoError(t, err)

	return ChunkIndexInfo{Layout: layout, Dims: space.Dimensions, MaxDims: space.EffectiveMaxDims()}
}

// collectChunks builds spec and returns its chunks keyed by element offset.
func collectChunks(t *testing.T, spec mocktesting.DatasetSpec) map[string]ChunkRecord {
	t.Helper()
	b := mocktesting.NewFileBuilder()
	addr := b.Dataset(spec)
	r, sb := openBuilt(t, b)

	got := make(map[string]ChunkRecord)
	err := IterateChunks(r, sb, readDataset(t, r, sb, addr), func(rec ChunkRecord) error {
		key := fmt.Sprint(rec.Offset)
		require.NotContains(t, got, key, "chunk reported twice")
		got[key] = rec
		return nil
	})
	require.NoError(t, err)
	return got
}

func chunkSizes(recs map[string]ChunkRecord) map[string]uint64 {
	out := make(map[string]uint64, len(recs))
	for k, rec := range recs {
		out[k] = rec.Size
	}
	return out
}

func sized(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}
