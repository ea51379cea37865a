package core

import "github.com/scigolib/h5chunk/internal/utils"

// SymbolTableMessage locates an old-style group's v1 B-tree and local heap
// (message type 0x0011).
type SymbolTableMessage struct {
	BTreeAddress uint64
	HeapAddress  uint64
}

// ParseSymbolTableMessage parses a symbol table message.
func ParseSymbolTableMessage(data []byte, sb *Superblock) (*SymbolTableMessage, error) {
	d := sb.NewDecoder(data)
	msg := &SymbolTableMessage{BTreeAddress: d.Offset(), HeapAddress: d.Offset()}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("symbol table message", err)
	}
	return msg, nil
}
