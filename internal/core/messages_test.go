package core

import (
	"testing"

	mocktesting "github.com/scigolib/h5chunk/internal/testing"
	"github.com/scigolib/h5chunk/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataspaceMessage(t *testing.T) {
	unlimited := mocktesting.Undefined

	tests := []struct {
		name     string
		msg      mocktesting.Message
		dims     []uint64
		maxDims  []uint64
		typ      DataspaceType
		contains string
	}{
		{
			name: "v2 fixed", msg: mocktesting.DataspaceMsg([]uint64{10, 20}, nil),
			dims: []uint64{10, 20}, maxDims: []uint64{10, 20}, typ: DataspaceSimple, contains: "[10,20]",
		},
		{
			name: "v2 unlimited", msg: mocktesting.DataspaceMsg([]uint64{5}, []uint64{unlimited}),
			dims: []uint64{5}, maxDims: []uint64{Unlimited}, typ: DataspaceSimple, contains: "unlimited",
		},
		{
			name: "v1 with max", msg: mocktesting.DataspaceMsgV1([]uint64{3, 4}, []uint64{6, 8}),
			dims: []uint64{3, 4}, maxDims: []uint64{6, 8}, typ: DataspaceSimple, contains: "3/6",
		},
		{
			name: "v2 scalar", msg: mocktesting.DataspaceMsg(nil, nil),
			dims: []uint64{}, maxDims: []uint64{}, typ: DataspaceScalar,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ParseDataspaceMessage(tt.msg.Data, testSuperblock)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, ds.Type)
			assert.Equal(t, tt.dims, ds.Dimensions)
			assert.Equal(t, tt.maxDims, ds.EffectiveMaxDims())
			assert.Equal(t, len(tt.dims), ds.Rank())
			if tt.contains != "" {
				assert.Contains(t, ds.String(), tt.contains)
			}
		})
	}
}

func TestParseDataspaceMessage_NarrowLengths(t *testing.T) {
	sb := &Superblock{OffsetSize: 4, LengthSize: 4}
	e := &mocktesting.Encoder{}
	e.U8(2)
	e.U8(1)
	e.U8(1)
	e.U8(1)
	e.U32(7)
	e.U32(0xFFFFFFFF)

	ds, err := ParseDataspaceMessage(e.Buf, sb)
	require.NoError(t, err)
	assert.Equal(t, []uint64{Unlimited}, ds.MaxDims)
}

func TestParseDataspaceMessage_Errors(t *testing.T) {
	for name, data := range map[string][]byte{
		"short":       {2, 1},
		"bad version": {5, 1, 0, 1, 0, 0, 0, 0},
		"bad type":    {2, 0, 0, 7},
		"truncated":   {2, 2, 0, 1, 1, 0, 0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDataspaceMessage(data, testSuperblock)
			require.Error(t, err)
		})
	}
}

func TestParseDatatypeMessage(t *testing.T) {
	dt, err := ParseDatatypeMessage(mocktesting.DatatypeMsg(8).Data)
	require.NoError(t, err)
	assert.Equal(t, DatatypeFixed, dt.Class)
	assert.Equal(t, uint8(1), dt.Version)
	assert.Equal(t, uint32(8), dt.Size)
	assert.Equal(t, "integer(8)", dt.String())

	_, err = ParseDatatypeMessage([]byte{0x10, 0})
	require.Error(t, err)

	_, err = ParseDatatypeMessage([]byte{0x00, 0, 0, 0, 4, 0, 0, 0})
	require.Error(t, err)
}

func TestParseFilterPipelineMessage(t *testing.T) {
	filters := []mocktesting.FilterSpec{
		{ID: uint16(FilterShuffle), Values: []uint32{4}},
		{ID: uint16(FilterDeflate), Flags: FilterFlagOptional, Values: []uint32{6}},
		{ID: uint16(FilterLZF), Name: "lzf", Values: []uint32{4, 0, 1024}},
		{ID: uint16(FilterFletcher32)},
	}

	for name, msg := range map[string]mocktesting.Message{
		"v1": mocktesting.FilterPipelineMsgV1(filters...),
		"v2": mocktesting.FilterPipelineMsg(filters...),
	} {
		t.Run(name, func(t *testing.T) {
			p, err := ParseFilterPipelineMessage(msg.Data)
			require.NoError(t, err)
			require.Len(t, p.Filters, 4)

			assert.Equal(t, FilterShuffle, p.Filters[0].ID)
			assert.Equal(t, []uint32{4}, p.Filters[0].ClientData)
			assert.Equal(t, "shuffle", p.Filters[0].DisplayName())
			assert.Equal(t, uint16(FilterFlagOptional), p.Filters[1].Flags)
			assert.Equal(t, "lzf", p.Filters[2].Name)
			assert.Equal(t, []uint32{4, 0, 1024}, p.Filters[2].ClientData)
			assert.Equal(t, FilterFletcher32, p.Filters[3].ID)
			assert.Empty(t, p.Filters[3].ClientData)
		})
	}
}

func TestParseFilterPipelineMessage_Errors(t *testing.T) {
	_, err := ParseFilterPipelineMessage([]byte{2})
	require.Error(t, err)

	_, err = ParseFilterPipelineMessage([]byte{3, 0})
	require.Error(t, err)

	truncated := mocktesting.FilterPipelineMsg(mocktesting.FilterSpec{ID: 1, Values: []uint32{6}}).Data
	_, err = ParseFilterPipelineMessage(truncated[:len(truncated)-2])
	require.Error(t, err)
}

func TestFilterID_String(t *testing.T) {
	assert.Equal(t, "deflate", FilterDeflate.String())
	assert.Equal(t, "zstd", FilterZstd.String())
	assert.Equal(t, "filter(40000)", FilterID(40000).String())
	assert.Equal(t, "custom", Filter{ID: 40000, Name: "custom"}.DisplayName())
}

func TestParseLinkMessage(t *testing.T) {
	t.Run("hard", func(t *testing.T) {
		lm, err := ParseLinkMessage(mocktesting.LinkMsgData(mocktesting.Hard("data", 0x420)), testSuperblock)
		require.NoError(t, err)
		assert.True(t, lm.IsHard())
		assert.Equal(t, "data", lm.Name)
		assert.Equal(t, uint64(0x420), lm.Address)
		assert.Equal(t, "data -> 0x420", lm.String())
	})

	t.Run("soft", func(t *testing.T) {
		lm, err := ParseLinkMessage(mocktesting.LinkMsgData(mocktesting.Soft("alias", "/grp/data")), testSuperblock)
		require.NoError(t, err)
		assert.False(t, lm.IsHard())
		assert.Equal(t, LinkTypeSoft, lm.Type)
		assert.Equal(t, "/grp/data", lm.Target)
		assert.True(t, utils.IsUndefined(lm.Address))
	})

	t.Run("creation order and charset", func(t *testing.T) {
		e := &mocktesting.Encoder{}
		e.U8(1)
		e.U8(LinkFlagCreationOrderBit | LinkFlagCharSetBit)
		e.U64(7)
		e.U8(1)
		e.U8(2)
		e.Bytes([]byte("ok"))
		e.U64(0x99)
		lm, err := ParseLinkMessage(e.Buf, testSuperblock)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), lm.CreationOrder)
		assert.Equal(t, uint8(1), lm.CharSet)
		assert.Equal(t, uint64(0x99), lm.Address)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ParseLinkMessage([]byte{2, 0}, testSuperblock)
		require.Error(t, err)
		_, err = ParseLinkMessage([]byte{1, 0, 0}, testSuperblock)
		require.Error(t, err)
		_, err = ParseLinkMessage([]byte{1, 0, 4, 'a', 'b'}, testSuperblock)
		require.Error(t, err)
	})
}

func TestParseLinkInfoMessage(t *testing.T) {
	lim, err := ParseLinkInfoMessage(mocktesting.LinkInfoMsg(0x100, 0x200).Data, testSuperblock)
	require.NoError(t, err)
	assert.True(t, lim.IsDense())
	assert.Equal(t, uint64(0x100), lim.FractalHeapAddress)
	assert.Equal(t, uint64(0x200), lim.NameBTreeAddress)
	assert.True(t, utils.IsUndefined(lim.CreationOrderBTreeAddress))

	compact, err := ParseLinkInfoMessage(mocktesting.LinkInfoMsg(mocktesting.Undefined, mocktesting.Undefined).Data, testSuperblock)
	require.NoError(t, err)
	assert.False(t, compact.IsDense())

	e := &mocktesting.Encoder{}
	e.U8(0)
	e.U8(LinkInfoTrackCreationOrder | LinkInfoIndexCreationOrder)
	e.U64(12)
	e.U64(0x100)
	e.U64(0x200)
	e.U64(0x300)
	ordered, err := ParseLinkInfoMessage(e.Buf, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), ordered.MaxCreationOrder)
	assert.Equal(t, uint64(0x300), ordered.CreationOrderBTreeAddress)

	_, err = ParseLinkInfoMessage([]byte{1, 0}, testSuperblock)
	require.Error(t, err)
	_, err = ParseLinkInfoMessage([]byte{0, 0x80}, testSuperblock)
	require.Error(t, err)
	_, err = ParseLinkInfoMessage([]byte{0, 0, 1, 2}, testSuperblock)
	require.Error(t, err)
}

func TestParseSharedMessage(t *testing.T) {
	v3 := &mocktesting.Encoder{}
	v3.U8(3)
	v3.U8(SharedInObject)
	v3.U64(0x500)
	sm, err := ParseSharedMessage(v3.Buf, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x500), sm.Address)

	v1 := &mocktesting.Encoder{}
	v1.U8(1)
	v1.U8(0)
	v1.Zero(6)
	v1.U64(0x600)
	sm, err = ParseSharedMessage(v1.Buf, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, uint8(SharedInObject), sm.Type)
	assert.Equal(t, uint64(0x600), sm.Address)

	heap := &mocktesting.Encoder{}
	heap.U8(3)
	heap.U8(SharedInHeap)
	heap.Bytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	sm, err = ParseSharedMessage(heap.Buf, testSuperblock)
	require.NoError(t, err)
	assert.Len(t, sm.HeapID, 8)

	_, err = ParseSharedMessage([]byte{3, 9}, testSuperblock)
	require.Error(t, err)
	_, err = ParseSharedMessage([]byte{4, 1}, testSuperblock)
	require.Error(t, err)
}

func TestReadSharedTable(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	b.SharedTable(mocktesting.DatatypeMsg(4), mocktesting.DataspaceMsg([]uint64{3}, nil))
	b.SetRoot(b.ObjectHeader())
	r := b.Reader()

	sb, err := ReadSuperblock(r)
	require.NoError(t, err)
	require.False(t, utils.IsUndefined(sb.ExtensionAddress))
	ext, err := ReadObjectHeader(r, sb.ExtensionAddress, sb)
	require.NoError(t, err)
	msg := ext.Find(MsgSharedTable)
	require.NotNil(t, msg)

	addr, n, err := ParseSharedTableMessage(msg.Data, sb)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	indices, err := ReadSharedTable(r, addr, n, sb)
	require.NoError(t, err)
	require.Len(t, indices, 1)

	si := indices[0]
	assert.Equal(t, uint16(2), si.NumMessages)
	assert.True(t, si.Holds(MsgDatatype))
	assert.True(t, si.Holds(MsgDataspace))
	assert.False(t, si.Holds(MsgFilterPipeline))
	assert.False(t, si.Holds(MsgAttributeInfo))

	_, _, err = ParseSharedTableMessage([]byte{1}, sb)
	require.Error(t, err)
}

func TestParseSymbolTableMessage(t *testing.T) {
	e := &mocktesting.Encoder{}
	e.U64(0x10)
	e.U64(0x20)
	msg, err := ParseSymbolTableMessage(e.Buf, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10), msg.BTreeAddress)
	assert.Equal(t, uint64(0x20), msg.HeapAddress)

	_, err = ParseSymbolTableMessage(e.Buf[:12], testSuperblock)
	require.Error(t, err)
}
