package core

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/utils"
)

// parseV1Header parses a version 1 object header.
// V1 format (no signature):
// - Byte 0: Version (1).
// - Byte 1: Reserved (0).
// - Bytes 2-3: Number of header messages.
// - Bytes 4-7: Object reference count.
// - Bytes 8-11: Size of the first message block.
// - Bytes 12-15: Padding to 8-byte boundary.
//
// Each message: type (2), size (2), flags (1), reserved (3), data.
// Continuation blocks hold further messages in the same format.
func parseV1Header(r io.ReaderAt, header *ObjectHeader, sb *Superblock) error {
	prefix, err := utils.ReadBlock(r, header.Address, 16)
	if err != nil {
		return err
	}
	d := sb.NewDecoder(prefix)
	d.Skip(2)
	numMessages := int(d.Uint16())
	d.Skip(4)
	blockSize := uint64(d.Uint32())
	if blockSize > utils.MaxMetadataBlock {
		return fmt.Errorf("message block size %d too large", blockSize)
	}

	//nolint:gosec // G115: bounded by MaxMetadataBlock
	block, err := utils.ReadBlock(r, header.Address+16, int(blockSize))
	if err != nil {
		return utils.WrapError("message block", err)
	}

	remaining := numMessages
	conts, err := decodeV1Messages(block, header, sb, &remaining)
	if err != nil {
		return err
	}

	return followContinuations(conts, func(c continuation) ([]continuation, error) {
		//nolint:gosec // G115: bounded by MaxMetadataBlock
		block, err := utils.ReadBlock(r, c.Address, int(c.Length))
		if err != nil {
			return nil, utils.WrapError("continuation block", err)
		}
		return decodeV1Messages(block, header, sb, &remaining)
	})
}

// decodeV1Messages decodes messages until the block or the header's
// message count is exhausted.
func decodeV1Messages(buf []byte, header *ObjectHeader, sb *Superblock, remaining *int) ([]continuation, error) {
	var conts []continuation
	d := sb.NewDecoder(buf)
	for d.Len() >= 8 && *remaining > 0 {
		msgType := MessageType(d.Uint16())
		size := int(d.Uint16())
		flags := d.Uint8()
		d.Skip(3)
		data := d.Bytes(size)
		if err := d.Err(); err != nil {
			return nil, utils.WrapErrorf(err, "message type %d", msgType)
		}
		*remaining--

		switch msgType {
		case MsgContinuation:
			c, err := parseContinuation(data, sb)
			if err != nil {
				return nil, err
			}
			conts = append(conts, c)
		case MsgNil:
		default:
			header.Messages = append(header.Messages, &HeaderMessage{Type: msgType, Flags: flags, Data: data})
		}
	}
	return conts, nil
}
