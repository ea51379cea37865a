package core

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/utils"
)

// ObjectType identifies the type of HDF5 object (group, dataset, datatype).
type ObjectType uint8

// Object type constants identify different HDF5 object types.
const (
	ObjectTypeUnknown ObjectType = iota
	ObjectTypeGroup
	ObjectTypeDataset
	ObjectTypeDatatype
)

// String returns the lower-case object type name.
func (t ObjectType) String() string {
	switch t {
	case ObjectTypeGroup:
		return "group"
	case ObjectTypeDataset:
		return "dataset"
	case ObjectTypeDatatype:
		return "datatype"
	default:
		return "unknown"
	}
}

// MessageType identifies the type of message in an object header.
type MessageType uint16

// Message type constants identify different types of header messages.
const (
	MsgNil            MessageType = 0
	MsgDataspace      MessageType = 1
	MsgLinkInfo       MessageType = 2
	MsgDatatype       MessageType = 3
	MsgFillValueOld   MessageType = 4
	MsgFillValue      MessageType = 5
	MsgLinkMessage    MessageType = 6
	MsgExternalFiles  MessageType = 7
	MsgDataLayout     MessageType = 8
	MsgGroupInfo      MessageType = 10
	MsgFilterPipeline MessageType = 11
	MsgAttribute      MessageType = 12
	MsgComment        MessageType = 13
	MsgSharedTable    MessageType = 15
	MsgContinuation   MessageType = 16
	MsgSymbolTable    MessageType = 17
	MsgModTime        MessageType = 18
	MsgAttributeInfo  MessageType = 21
)

var messageNames = map[MessageType]string{
	MsgNil:            "nil",
	MsgDataspace:      "dataspace",
	MsgLinkInfo:       "link info",
	MsgDatatype:       "datatype",
	MsgFillValueOld:   "fill value (old)",
	MsgFillValue:      "fill value",
	MsgLinkMessage:    "link",
	MsgExternalFiles:  "external files",
	MsgDataLayout:     "layout",
	MsgGroupInfo:      "group info",
	MsgFilterPipeline: "filter pipeline",
	MsgAttribute:      "attribute",
	MsgComment:        "comment",
	MsgSharedTable:    "shared message table",
	MsgContinuation:   "continuation",
	MsgSymbolTable:    "symbol table",
	MsgModTime:        "modification time",
	MsgAttributeInfo:  "attribute info",
}

// String returns the message type name, or "message(N)".
func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message(%d)", uint16(t))
}

// Header message flag bits.
const (
	MsgFlagConstant = 0x01
	MsgFlagShared   = 0x02
)

// maxHeaderBlocks bounds continuation chains so a cyclic file cannot hang the reader.
const maxHeaderBlocks = 4096

// HeaderMessage represents a single message within an object header.
type HeaderMessage struct {
	Type  MessageType
	Flags uint8
	Data  []byte
}

// IsShared reports whether the message body is a reference to a shared message.
func (m *HeaderMessage) IsShared() bool {
	return m.Flags&MsgFlagShared != 0
}

// ObjectHeader represents an HDF5 object header containing metadata messages.
type ObjectHeader struct {
	Address  uint64
	Version  uint8
	Flags    uint8
	Messages []*HeaderMessage
}

// ReadObjectHeader reads and parses an HDF5 object header from the specified address.
// Both version 1 and version 2 headers are supported, including continuation blocks.
func ReadObjectHeader(r io.ReaderAt, address uint64, sb *Superblock) (*ObjectHeader, error) {
	if utils.IsUndefined(address) {
		return nil, fmt.Errorf("object header at undefined address")
	}

	prefix, err := utils.ReadBlock(r, address, 4)
	if err != nil {
		return nil, utils.WrapError("object header read failed", err)
	}

	header := &ObjectHeader{Address: address}
	switch {
	case string(prefix) == "OHDR":
		header.Version = 2
		err = parseV2Header(r, header, sb)
	case prefix[0] == 1:
		header.Version = 1
		err = parseV1Header(r, header, sb)
	default:
		return nil, fmt.Errorf("invalid object header at 0x%X: % x", address, prefix)
	}
	if err != nil {
		return nil, utils.WrapErrorf(err, "v%d object header at 0x%X", header.Version, address)
	}
	return header, nil
}

// Find returns the first message of the given type, or nil.
func (oh *ObjectHeader) Find(t MessageType) *HeaderMessage {
	for _, msg := range oh.Messages {
		if msg.Type == t {
			return msg
		}
	}
	return nil
}

// FindAll returns every message of the given type in header order.
func (oh *ObjectHeader) FindAll(t MessageType) []*HeaderMessage {
	var out []*HeaderMessage
	for _, msg := range oh.Messages {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// Type classifies the object the way the library does: groups first,
// then datasets (datatype and dataspace), then committed datatypes.
func (oh *ObjectHeader) Type() ObjectType {
	if oh.Find(MsgSymbolTable) != nil || oh.Find(MsgLinkInfo) != nil {
		return ObjectTypeGroup
	}
	hasType := oh.Find(MsgDatatype) != nil
	if hasType && oh.Find(MsgDataspace) != nil {
		return ObjectTypeDataset
	}
	if hasType {
		return ObjectTypeDatatype
	}
	// Files written without a link info message still carry link messages.
	if oh.Find(MsgLinkMessage) != nil {
		return ObjectTypeGroup
	}
	return ObjectTypeUnknown
}

// continuation is the decoded body of a continuation message.
type continuation struct {
	Address uint64
	Length  uint64
}

func parseContinuation(data []byte, sb *Superblock) (continuation, error) {
	d := sb.NewDecoder(data)
	c := continuation{Address: d.Offset(), Length: d.Length()}
	if err := d.Err(); err != nil {
		return continuation{}, utils.WrapError("continuation message", err)
	}
	if utils.IsUndefined(c.Address) || c.Length == 0 {
		return continuation{}, fmt.Errorf("continuation to 0x%X with length %d", c.Address, c.Length)
	}
	if c.Length > utils.MaxMetadataBlock {
		return continuation{}, fmt.Errorf("continuation block length %d too large", c.Length)
	}
	return c, nil
}

// followContinuations drains a queue of continuation blocks through parse,
// which returns any further continuations found in the block it decoded.
func followContinuations(queue []continuation, parse func(continuation) ([]continuation, error)) error {
	seen := make(map[uint64]bool)
	for blocks := 0; len(queue) > 0; blocks++ {
		if blocks >= maxHeaderBlocks {
			return fmt.Errorf("more than %d continuation blocks", maxHeaderBlocks)
		}
		c := queue[0]
		queue = queue[1:]
		if seen[c.Address] {
			return fmt.Errorf("continuation cycle at 0x%X", c.Address)
		}
		seen[c.Address] = true

		more, err := parse(c)
		if err != nil {
			return err
		}
		queue = append(queue, more...)
	}
	return nil
}

// parseV2Header parses an "OHDR" header.
//
// Prefix: signature, version, flags, optional times (flag 0x20), optional
// attribute phase change values (flag 0x10), then the size of chunk 0 whose
// width is 1<<(flags&3). Chunk 0 is followed by a checksum.
func parseV2Header(r io.ReaderAt, header *ObjectHeader, sb *Superblock) error {
	lead, err := utils.ReadBlock(r, header.Address, 6)
	if err != nil {
		return err
	}
	if lead[4] != 2 {
		return fmt.Errorf("unsupported object header version: %d", lead[4])
	}
	header.Flags = lead[5]

	prefixLen := 6 + 1<<(header.Flags&0x03)
	if header.Flags&0x20 != 0 {
		prefixLen += 16
	}
	if header.Flags&0x10 != 0 {
		prefixLen += 4
	}
	fixed, err := utils.ReadBlock(r, header.Address, prefixLen)
	if err != nil {
		return err
	}

	d := sb.NewDecoder(fixed)
	d.Skip(6)
	if header.Flags&0x20 != 0 {
		d.Skip(16)
	}
	if header.Flags&0x10 != 0 {
		d.Skip(4)
	}
	chunkSize := d.UintN(1 << (header.Flags & 0x03))
	if err := d.Err(); err != nil {
		return err
	}
	if chunkSize > utils.MaxMetadataBlock {
		return fmt.Errorf("chunk 0 size %d too large", chunkSize)
	}

	//nolint:gosec // G115: bounded by MaxMetadataBlock
	chunk, err := utils.ReadBlock(r, header.Address+uint64(d.Pos()), int(chunkSize))
	if err != nil {
		return utils.WrapError("chunk 0", err)
	}

	conts, err := decodeV2Messages(chunk, header, sb)
	if err != nil {
		return err
	}

	return followContinuations(conts, func(c continuation) ([]continuation, error) {
		//nolint:gosec // G115: bounded by MaxMetadataBlock
		block, err := utils.ReadBlock(r, c.Address, int(c.Length))
		if err != nil {
			return nil, utils.WrapError("continuation block", err)
		}
		if len(block) < 8 || string(block[:4]) != "OCHK" {
			return nil, fmt.Errorf("invalid continuation block at 0x%X", c.Address)
		}
		// Skip "OCHK" and the trailing checksum.
		return decodeV2Messages(block[4:len(block)-4], header, sb)
	})
}

func decodeV2Messages(buf []byte, header *ObjectHeader, sb *Superblock) ([]continuation, error) {
	hdrSize := 4
	if header.Flags&0x04 != 0 {
		hdrSize += 2
	}

	var conts []continuation
	d := sb.NewDecoder(buf)
	for d.Len() >= hdrSize {
		msgType := MessageType(d.Uint8())
		size := int(d.Uint16())
		flags := d.Uint8()
		if header.Flags&0x04 != 0 {
			d.Skip(2) // creation order
		}
		data := d.Bytes(size)
		if err := d.Err(); err != nil {
			return nil, utils.WrapErrorf(err, "message type %d", msgType)
		}

		if msgType == MsgContinuation {
			c, err := parseContinuation(data, sb)
			if err != nil {
				return nil, err
			}
			conts = append(conts, c)
			continue
		}
		if msgType == MsgNil {
			continue
		}
		header.Messages = append(header.Messages, &HeaderMessage{Type: msgType, Flags: flags, Data: data})
	}
	return conts, nil
}
