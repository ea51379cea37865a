package testing

import (
	"encoding/binary"
	"os"

	"github.com/scigolib/h5chunk/internal/utils"
)

// Undefined is the all-ones address written for unallocated structures.
const Undefined = ^uint64(0)

// Header message types written by the builder.
const (
	MsgDataspace      uint8 = 1
	MsgLinkInfo       uint8 = 2
	MsgDatatype       uint8 = 3
	MsgLink           uint8 = 6
	MsgLayout         uint8 = 8
	MsgGroupInfo      uint8 = 10
	MsgFilterPipeline uint8 = 11
	MsgSharedTable    uint8 = 15
	MsgContinuation   uint8 = 16
	MsgSymbolTable    uint8 = 17
)

const superblockSize = 48

// FileBuilder assembles an HDF5 file in memory with 8-byte offsets and
// lengths and a version 2 superblock. Structures are appended in the order
// they are built; Bytes fills in the superblock.
type FileBuilder struct {
	buf  []byte
	root uint64
	ext  uint64
}

// NewFileBuilder returns a builder with space reserved for the superblock.
func NewFileBuilder() *FileBuilder {
	return &FileBuilder{buf: make([]byte, superblockSize), root: Undefined, ext: Undefined}
}

// Alloc appends data at the next 8-byte boundary and returns its address.
func (b *FileBuilder) Alloc(data []byte) uint64 {
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	addr := uint64(len(b.buf))
	b.buf = append(b.buf, data...)
	return addr
}

// Reserve allocates n zero bytes.
func (b *FileBuilder) Reserve(n int) uint64 {
	return b.Alloc(make([]byte, n))
}

// Patch overwrites previously allocated bytes.
func (b *FileBuilder) Patch(addr uint64, data []byte) {
	copy(b.buf[addr:], data)
}

// SetRoot sets the root group object header address.
func (b *FileBuilder) SetRoot(addr uint64) {
	b.root = addr
}

// Bytes returns the finished file image.
func (b *FileBuilder) Bytes() []byte {
	e := &Encoder{}
	e.Bytes([]byte("\x89HDF\r\n\x1a\n"))
	e.U8(2)
	e.U8(8)
	e.U8(8)
	e.U8(0)
	e.U64(0)
	e.U64(b.ext)
	e.U64(uint64(len(b.buf)))
	e.U64(b.root)
	e.Checksum()
	b.Patch(0, e.Buf)

	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Reader returns a MockReaderAt over the finished image.
func (b *FileBuilder) Reader() *MockReaderAt {
	return NewMockReaderAt(b.Bytes())
}

// WriteFile writes the finished image to path.
func (b *FileBuilder) WriteFile(path string) error {
	return os.WriteFile(path, b.Bytes(), 0o600)
}

// Encoder appends little-endian fields.
type Encoder struct {
	Buf []byte
}

// U8 appends one byte.
func (e *Encoder) U8(v uint8) { e.Buf = append(e.Buf, v) }

// U16 appends a 2-byte value.
func (e *Encoder) U16(v uint16) { e.Buf = binary.LittleEndian.AppendUint16(e.Buf, v) }

// U32 appends a 4-byte value.
func (e *Encoder) U32(v uint32) { e.Buf = binary.LittleEndian.AppendUint32(e.Buf, v) }

// U64 appends an 8-byte value.
func (e *Encoder) U64(v uint64) { e.Buf = binary.LittleEndian.AppendUint64(e.Buf, v) }

// UN appends the low n bytes of v.
func (e *Encoder) UN(v uint64, n int) {
	for i := 0; i < n; i++ {
		e.Buf = append(e.Buf, byte(v>>(8*i)))
	}
}

// Bytes appends raw bytes.
func (e *Encoder) Bytes(p []byte) { e.Buf = append(e.Buf, p...) }

// Zero appends n zero bytes.
func (e *Encoder) Zero(n int) { e.Buf = append(e.Buf, make([]byte, n)...) }

// Checksum appends the metadata checksum of everything written so far.
func (e *Encoder) Checksum() { e.U32(utils.MetadataChecksum(e.Buf)) }

// ChecksumFrom appends the checksum of the bytes from start on.
func (e *Encoder) ChecksumFrom(start int) { e.U32(utils.MetadataChecksum(e.Buf[start:])) }

// Message is an object header message.
type Message struct {
	Type  uint8
	Flags uint8
	Data  []byte
}

// ObjectHeader writes a version 2 object header holding msgs.
func (b *FileBuilder) ObjectHeader(msgs ...Message) uint64 {
	return b.Alloc(encodeOHDR(msgs))
}

func encodeOHDR(msgs []Message) []byte {
	body := &Encoder{}
	for _, m := range msgs {
		body.U8(m.Type)
		body.U16(uint16(len(m.Data))) //nolint:gosec // G115: test messages are small
		body.U8(m.Flags)
		body.Bytes(m.Data)
	}
	e := &Encoder{}
	e.Bytes([]byte("OHDR"))
	e.U8(2)
	e.U8(0x02) // chunk 0 size is 4 bytes
	e.U32(uint32(len(body.Buf))) //nolint:gosec // G115: test messages are small
	e.Bytes(body.Buf)
	e.Checksum()
	return e.Buf
}

// ObjectHeaderSplit writes a version 2 header with first in chunk 0 and
// rest in a continuation block.
func (b *FileBuilder) ObjectHeaderSplit(first, rest []Message) uint64 {
	body := &Encoder{}
	body.Bytes([]byte("OCHK"))
	for _, m := range rest {
		body.U8(m.Type)
		body.U16(uint16(len(m.Data))) //nolint:gosec // G115: test messages are small
		body.U8(m.Flags)
		body.Bytes(m.Data)
	}
	body.Checksum()
	cont := b.Alloc(body.Buf)

	c := &Encoder{}
	c.U64(cont)
	c.U64(uint64(len(body.Buf)))
	msgs := append(append([]Message{}, first...), Message{Type: MsgContinuation, Data: c.Buf})
	return b.ObjectHeader(msgs...)
}

// ObjectHeaderV1 writes a version 1 object header. Message data is padded
// to a multiple of eight bytes.
func (b *FileBuilder) ObjectHeaderV1(msgs ...Message) uint64 {
	body := &Encoder{}
	for _, m := range msgs {
		data := append([]byte{}, m.Data...)
		for len(data)%8 != 0 {
			data = append(data, 0)
		}
		body.U16(uint16(m.Type))
		body.U16(uint16(len(data))) //nolint:gosec // G115: test messages are small
		body.U8(m.Flags)
		body.Zero(3)
		body.Bytes(data)
	}
	e := &Encoder{}
	e.U8(1)
	e.U8(0)
	e.U16(uint16(len(msgs))) //nolint:gosec // G115: test messages are few
	e.U32(1)
	e.U32(uint32(len(body.Buf))) //nolint:gosec // G115: test messages are small
	e.Zero(4)
	e.Bytes(body.Buf)
	return b.Alloc(e.Buf)
}

// DatatypeMsg encodes a little-endian unsigned integer type of size bytes.
func DatatypeMsg(size uint32) Message {
	e := &Encoder{}
	e.U8(0x10) // version 1, fixed-point
	e.UN(0, 3)
	e.U32(size)
	e.U16(0)
	e.U16(uint16(size * 8)) //nolint:gosec // G115: test sizes are small
	return Message{Type: MsgDatatype, Data: e.Buf}
}

// DataspaceMsg encodes a version 2 simple dataspace. maxDims may be nil;
// entries equal to Undefined are unlimited.
func DataspaceMsg(dims, maxDims []uint64) Message {
	e := &Encoder{}
	e.U8(2)
	e.U8(uint8(len(dims))) //nolint:gosec // G115: test ranks are small
	flags := uint8(0)
	if maxDims != nil {
		flags = 1
	}
	e.U8(flags)
	if len(dims) == 0 {
		e.U8(0) // scalar
	} else {
		e.U8(1)
	}
	for _, d := range dims {
		e.U64(d)
	}
	for _, d := range maxDims {
		e.U64(d)
	}
	return Message{Type: MsgDataspace, Data: e.Buf}
}

// DataspaceMsgV1 encodes a version 1 dataspace.
func DataspaceMsgV1(dims, maxDims []uint64) Message {
	e := &Encoder{}
	e.U8(1)
	e.U8(uint8(len(dims))) //nolint:gosec // G115: test ranks are small
	flags := uint8(0)
	if maxDims != nil {
		flags = 1
	}
	e.U8(flags)
	e.Zero(5)
	for _, d := range dims {
		e.U64(d)
	}
	for _, d := range maxDims {
		e.U64(d)
	}
	return Message{Type: MsgDataspace, Data: e.Buf}
}

// ContiguousLayoutMsg encodes a version 3 contiguous layout.
func ContiguousLayoutMsg(addr, size uint64) Message {
	e := &Encoder{}
	e.U8(3)
	e.U8(1)
	e.U64(addr)
	e.U64(size)
	return Message{Type: MsgLayout, Data: e.Buf}
}

// CompactLayoutMsg encodes a version 3 compact layout.
func CompactLayoutMsg(data []byte) Message {
	e := &Encoder{}
	e.U8(3)
	e.U8(0)
	e.U16(uint16(len(data))) //nolint:gosec // G115: test data is small
	e.Bytes(data)
	return Message{Type: MsgLayout, Data: e.Buf}
}

// ChunkedLayoutV3Msg encodes a version 3 chunked layout indexed by a v1
// B-tree at addr.
func ChunkedLayoutV3Msg(addr uint64, chunkDims []uint64, elemSize uint32) Message {
	e := &Encoder{}
	e.U8(3)
	e.U8(2)
	e.U8(uint8(len(chunkDims) + 1)) //nolint:gosec // G115: test ranks are small
	e.U64(addr)
	for _, d := range chunkDims {
		e.U32(uint32(d)) //nolint:gosec // G115: test chunk dims are small
	}
	e.U32(elemSize)
	return Message{Type: MsgLayout, Data: e.Buf}
}

// Chunk index types for version 4 layouts.
const (
	IndexBTreeV1         uint8 = 0
	IndexSingle          uint8 = 1
	IndexImplicit        uint8 = 2
	IndexFixedArray      uint8 = 3
	IndexExtensibleArray uint8 = 4
	IndexBTreeV2         uint8 = 5
)

// ChunkedLayoutV4Msg encodes a version 4 chunked layout. params holds the
// index-specific bytes that precede the index address.
func ChunkedLayoutV4Msg(flags uint8, chunkDims []uint64, elemSize uint32, index uint8, params []byte, addr uint64) Message {
	const dimWidth = 4
	e := &Encoder{}
	e.U8(4)
	e.U8(2)
	e.U8(flags)
	e.U8(uint8(len(chunkDims) + 1)) //nolint:gosec // G115: test ranks are small
	e.U8(dimWidth)
	for _, d := range chunkDims {
		e.UN(d, dimWidth)
	}
	e.UN(uint64(elemSize), dimWidth)
	e.U8(index)
	e.Bytes(params)
	e.U64(addr)
	return Message{Type: MsgLayout, Data: e.Buf}
}

// FilterSpec describes one pipeline entry.
type FilterSpec struct {
	ID     uint16
	Name   string
	Flags  uint16
	Values []uint32
}

// FilterPipelineMsg encodes a version 2 filter pipeline.
func FilterPipelineMsg(filters ...FilterSpec) Message {
	e := &Encoder{}
	e.U8(2)
	e.U8(uint8(len(filters))) //nolint:gosec // G115: test pipelines are short
	for _, f := range filters {
		e.U16(f.ID)
		if f.ID >= 256 {
			e.U16(uint16(len(f.Name) + 1)) //nolint:gosec // G115: short names
		}
		e.U16(f.Flags)
		e.U16(uint16(len(f.Values))) //nolint:gosec // G115: few values
		if f.ID >= 256 {
			e.Bytes([]byte(f.Name))
			e.U8(0)
		}
		for _, v := range f.Values {
			e.U32(v)
		}
	}
	return Message{Type: MsgFilterPipeline, Data: e.Buf}
}

// FilterPipelineMsgV1 encodes a version 1 filter pipeline with padded
// names and client data.
func FilterPipelineMsgV1(filters ...FilterSpec) Message {
	e := &Encoder{}
	e.U8(1)
	e.U8(uint8(len(filters))) //nolint:gosec // G115: test pipelines are short
	e.Zero(6)
	for _, f := range filters {
		name := []byte(f.Name)
		if len(name) > 0 {
			name = append(name, 0)
			for len(name)%8 != 0 {
				name = append(name, 0)
			}
		}
		e.U16(f.ID)
		e.U16(uint16(len(name))) //nolint:gosec // G115: short names
		e.U16(f.Flags)
		e.U16(uint16(len(f.Values))) //nolint:gosec // G115: few values
		e.Bytes(name)
		for _, v := range f.Values {
			e.U32(v)
		}
		if len(f.Values)%2 != 0 {
			e.Zero(4)
		}
	}
	return Message{Type: MsgFilterPipeline, Data: e.Buf}
}
