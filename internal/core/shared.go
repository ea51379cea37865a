package core

import (
	"fmt"

	"github.com/scigolib/h5chunk/internal/utils"
)

// Shared message location types (version 3 encoding).
const (
	SharedInHeap   = 1 // stored in the shared object header message heap
	SharedInObject = 2 // stored in another object's header (committed)
)

// SharedMessage is the body of a message whose shared flag is set: a pointer
// to where the real message lives.
type SharedMessage struct {
	Version uint8
	Type    uint8
	Address uint64 // object header holding the message
	HeapID  []byte // set for SharedInHeap
}

// ParseSharedMessage decodes a shared message reference.
//
// Version 1: version, type, reserved (6), address.
// Version 2: version, type, address.
// Version 3: version, type, then an 8-byte heap ID or an address.
func ParseSharedMessage(data []byte, sb *Superblock) (*SharedMessage, error) {
	d := sb.NewDecoder(data)
	sm := &SharedMessage{Version: d.Uint8(), Type: d.Uint8()}

	switch sm.Version {
	case 1:
		d.Skip(6)
		sm.Type = SharedInObject
		sm.Address = d.Offset()
	case 2:
		sm.Type = SharedInObject
		sm.Address = d.Offset()
	case 3:
		switch sm.Type {
		case SharedInHeap:
			sm.HeapID = d.Bytes(8)
		case SharedInObject:
			sm.Address = d.Offset()
		default:
			return nil, fmt.Errorf("invalid shared message type: %d", sm.Type)
		}
	default:
		return nil, fmt.Errorf("unsupported shared message version: %d", sm.Version)
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("shared message", err)
	}
	return sm, nil
}
