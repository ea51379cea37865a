package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// Cache type constants for symbol table entries.
const (
	CacheTypeNone        uint32 = 0
	CacheTypeSymbolTable uint32 = 1
	CacheTypeSoftLink    uint32 = 2
)

// SymbolTableEntry links a name in the local heap to an object header.
// Entry format: name offset, object header address, cache type (4),
// reserved (4), scratch-pad (16).
type SymbolTableEntry struct {
	LinkNameOffset uint64
	ObjectAddress  uint64
	CacheType      uint32
}

// IsSoftLink reports whether the entry caches a soft link rather than an object.
func (e *SymbolTableEntry) IsSoftLink() bool {
	return e.CacheType == CacheTypeSoftLink
}

// SymbolTableNode represents a Symbol Table Node (SNOD), the leaf of a
// group's v1 B-tree.
type SymbolTableNode struct {
	Version uint8
	Entries []SymbolTableEntry
}

// ParseSymbolTableNode parses a Symbol Table Node.
// Format: "SNOD", version (1), reserved (1), number of symbols (2), entries.
func ParseSymbolTableNode(r io.ReaderAt, address uint64, sb *core.Superblock) (*SymbolTableNode, error) {
	header, err := utils.ReadBlock(r, address, 8)
	if err != nil {
		return nil, utils.WrapError("SNOD header read failed", err)
	}
	d := sb.NewDecoder(header)
	if err := d.Signature("SNOD"); err != nil {
		return nil, err
	}
	node := &SymbolTableNode{Version: d.Uint8()}
	if node.Version != 1 {
		return nil, fmt.Errorf("unsupported SNOD version: %d", node.Version)
	}
	d.Skip(1)
	numSymbols := int(d.Uint16())

	entrySize := int(sb.OffsetSize)*2 + 4 + 4 + 16
	data, err := utils.ReadBlock(r, address+8, numSymbols*entrySize)
	if err != nil {
		return nil, utils.WrapError("SNOD entries read failed", err)
	}

	d = sb.NewDecoder(data)
	node.Entries = make([]SymbolTableEntry, numSymbols)
	for i := range node.Entries {
		node.Entries[i] = SymbolTableEntry{
			LinkNameOffset: d.Offset(),
			ObjectAddress:  d.Offset(),
			CacheType:      d.Uint32(),
		}
		d.Skip(4 + 16)
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return node, nil
}

// ReadSymbolTableGroup lists the links of an old-style group given its
// symbol table message.
func ReadSymbolTableGroup(r io.ReaderAt, msg *core.SymbolTableMessage, sb *core.Superblock) ([]GroupLink, error) {
	heap, err := LoadLocalHeap(r, msg.HeapAddress, sb)
	if err != nil {
		return nil, err
	}

	var links []GroupLink
	err = WalkGroupBTree(r, msg.BTreeAddress, sb, func(snodAddr uint64) error {
		node, err := ParseSymbolTableNode(r, snodAddr, sb)
		if err != nil {
			return err
		}
		for _, e := range node.Entries {
			name, err := heap.GetString(e.LinkNameOffset)
			if err != nil {
				return utils.WrapErrorf(err, "link name at heap offset %d", e.LinkNameOffset)
			}
			links = append(links, GroupLink{Name: name, Address: e.ObjectAddress, Hard: !e.IsSoftLink()})
		}
		return nil
	})
	if err != nil {
		return nil, utils.WrapError("symbol table walk failed", err)
	}
	return links, nil
}
