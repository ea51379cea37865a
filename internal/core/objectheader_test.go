package core

import (
	"testing"

	mocktesting "github.com/scigolib/h5chunk/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSuperblock = &Superblock{Version: 2, OffsetSize: 8, LengthSize: 8}

func datasetMessages() []mocktesting.Message {
	return []mocktesting.Message{
		mocktesting.DatatypeMsg(4),
		mocktesting.DataspaceMsg([]uint64{10}, nil),
		mocktesting.ContiguousLayoutMsg(0x800, 40),
	}
}

func TestReadObjectHeader_V2(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	addr := b.ObjectHeader(datasetMessages()...)
	r := b.Reader()

	oh, err := ReadObjectHeader(r, addr, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), oh.Version)
	assert.Equal(t, addr, oh.Address)
	require.Len(t, oh.Messages, 3)
	assert.Equal(t, MsgDatatype, oh.Messages[0].Type)
	assert.Equal(t, MsgDataLayout, oh.Messages[2].Type)
	assert.Equal(t, ObjectTypeDataset, oh.Type())
	assert.Nil(t, oh.Find(MsgFilterPipeline))
}

func TestReadObjectHeader_V2Continuation(t *testing.T) {
	msgs := datasetMessages()
	b := mocktesting.NewFileBuilder()
	addr := b.ObjectHeaderSplit(msgs[:1], msgs[1:])

	oh, err := ReadObjectHeader(b.Reader(), addr, testSuperblock)
	require.NoError(t, err)
	require.Len(t, oh.Messages, 3)
	assert.NotNil(t, oh.Find(MsgDataspace))
	assert.NotNil(t, oh.Find(MsgDataLayout))
	assert.Nil(t, oh.Find(MsgContinuation), "continuation messages are consumed")
}

func TestReadObjectHeader_V1(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	addr := b.ObjectHeaderV1(datasetMessages()...)

	oh, err := ReadObjectHeader(b.Reader(), addr, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), oh.Version)
	require.Len(t, oh.Messages, 3)
	assert.Equal(t, ObjectTypeDataset, oh.Type())

	layout, err := ParseDataLayoutMessage(oh.Find(MsgDataLayout).Data, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x800), layout.Address)
}

func TestReadObjectHeader_V1ContinuationCycle(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	addr := b.Reserve(64)

	// One continuation message pointing back at its own block.
	cont := &mocktesting.Encoder{}
	cont.U64(addr + 16)
	cont.U64(24)
	e := &mocktesting.Encoder{}
	e.U8(1)
	e.U8(0)
	e.U16(3)
	e.U32(1)
	e.U32(24)
	e.Zero(4)
	e.U16(uint16(MsgContinuation))
	e.U16(16)
	e.U8(0)
	e.Zero(3)
	e.Bytes(cont.Buf)
	b.Patch(addr, e.Buf)

	_, err := ReadObjectHeader(b.Reader(), addr, testSuperblock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestReadObjectHeader_Invalid(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	junk := b.Alloc([]byte("JUNKJUNKJUNKJUNK"))
	r := b.Reader()

	_, err := ReadObjectHeader(r, junk, testSuperblock)
	require.Error(t, err)

	_, err = ReadObjectHeader(r, mocktesting.Undefined, testSuperblock)
	require.Error(t, err)

	_, err = ReadObjectHeader(r, 1<<40, testSuperblock)
	require.Error(t, err)
}

func TestObjectHeader_Type(t *testing.T) {
	tests := []struct {
		name string
		msgs []*HeaderMessage
		want ObjectType
	}{
		{"symbol table group", []*HeaderMessage{{Type: MsgSymbolTable}}, ObjectTypeGroup},
		{"new style group", []*HeaderMessage{{Type: MsgLinkInfo}, {Type: MsgGroupInfo}}, ObjectTypeGroup},
		{"links only", []*HeaderMessage{{Type: MsgLinkMessage}}, ObjectTypeGroup},
		{"dataset", []*HeaderMessage{{Type: MsgDatatype}, {Type: MsgDataspace}}, ObjectTypeDataset},
		{"committed datatype", []*HeaderMessage{{Type: MsgDatatype}}, ObjectTypeDatatype},
		{"empty", nil, ObjectTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oh := &ObjectHeader{Messages: tt.msgs}
			assert.Equal(t, tt.want, oh.Type())
			assert.NotEmpty(t, tt.want.String())
		})
	}
}

func TestObjectHeader_FindAll(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	addr := b.CompactGroup(mocktesting.Hard("a", 0x100), mocktesting.Hard("b", 0x200))

	oh, err := ReadObjectHeader(b.Reader(), addr, testSuperblock)
	require.NoError(t, err)
	links := oh.FindAll(MsgLinkMessage)
	require.Len(t, links, 2)

	lm, err := ParseLinkMessage(links[1].Data, testSuperblock)
	require.NoError(t, err)
	assert.Equal(t, "b", lm.Name)
	assert.Equal(t, uint64(0x200), lm.Address)
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "layout", MsgDataLayout.String())
	assert.Equal(t, "symbol table", MsgSymbolTable.String())
	assert.Equal(t, "message(9)", MessageType(9).String())
}
