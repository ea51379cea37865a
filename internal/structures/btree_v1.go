package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// B-tree v1 node types.
const (
	BTreeV1GroupNode = 0
	BTreeV1ChunkNode = 1
)

// maxBTreeDepth bounds recursion through corrupt trees.
const maxBTreeDepth = 64

// BTreeV1Node is a decoded "TREE" node.
//
// Format:
//   - Signature: "TREE" (4 bytes)
//   - Node type (1): 0 = group, 1 = raw data chunk
//   - Node level (1): 0 for leaves
//   - Entries used (2)
//   - Left and right sibling addresses
//   - Keys and child pointers interleaved: key[0], child[0], ..., child[n-1], key[n]
//
// Group keys are local heap offsets. Chunk keys are the stored chunk size
// (4), the filter mask (4) and one 8-byte element offset per dimension
// including the trailing element-size dimension.
type BTreeV1Node struct {
	Type         uint8
	Level        uint8
	LeftSibling  uint64
	RightSibling uint64
	Children     []uint64

	// Chunk nodes only: Keys[i] describes Children[i].
	Keys []ChunkKey
}

// ChunkKey is the key that precedes a child in a chunk B-tree.
type ChunkKey struct {
	Nbytes     uint32
	FilterMask uint32
	Offset     []uint64
}

// ReadBTreeV1Node reads the node at address. keyDims is the number of
// offsets in a chunk key (rank+1) and is ignored for group nodes.
func ReadBTreeV1Node(r io.ReaderAt, address uint64, sb *core.Superblock, keyDims int) (*BTreeV1Node, error) {
	hdrSize := 8 + 2*int(sb.OffsetSize)
	header, err := utils.ReadBlock(r, address, hdrSize)
	if err != nil {
		return nil, utils.WrapError("B-tree node read failed", err)
	}

	d := sb.NewDecoder(header)
	if err := d.Signature("TREE"); err != nil {
		return nil, utils.WrapErrorf(err, "B-tree node at 0x%X", address)
	}
	node := &BTreeV1Node{
		Type:  d.Uint8(),
		Level: d.Uint8(),
	}
	entries := int(d.Uint16())
	node.LeftSibling = d.Offset()
	node.RightSibling = d.Offset()
	if err := d.Err(); err != nil {
		return nil, err
	}

	var keySize int
	switch node.Type {
	case BTreeV1GroupNode:
		keySize = int(sb.LengthSize)
	case BTreeV1ChunkNode:
		if keyDims < 1 {
			return nil, fmt.Errorf("chunk B-tree with %d key dimensions", keyDims)
		}
		keySize = 8 + 8*keyDims
	default:
		return nil, fmt.Errorf("invalid B-tree node type: %d", node.Type)
	}

	bodySize := entries*(keySize+int(sb.OffsetSize)) + keySize
	if uint64(bodySize) > utils.MaxMetadataBlock {
		return nil, fmt.Errorf("B-tree node with %d entries too large", entries)
	}
	body, err := utils.ReadBlock(r, address+uint64(hdrSize), bodySize)
	if err != nil {
		return nil, utils.WrapError("B-tree node body read failed", err)
	}

	d = sb.NewDecoder(body)
	node.Children = make([]uint64, entries)
	if node.Type == BTreeV1ChunkNode {
		node.Keys = make([]ChunkKey, entries)
	}
	for i := 0; i < entries; i++ {
		if node.Type == BTreeV1ChunkNode {
			key := ChunkKey{Nbytes: d.Uint32(), FilterMask: d.Uint32(), Offset: make([]uint64, keyDims)}
			for j := range key.Offset {
				key.Offset[j] = d.Uint64()
			}
			node.Keys[i] = key
		} else {
			d.Skip(keySize)
		}
		node.Children[i] = d.Offset()
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return node, nil
}

// WalkGroupBTree calls fn with the address of every symbol table node
// reachable from the group B-tree at address, left to right.
func WalkGroupBTree(r io.ReaderAt, address uint64, sb *core.Superblock, fn func(snodAddr uint64) error) error {
	w := &btreeWalker{r: r, sb: sb, nodeType: BTreeV1GroupNode, seen: make(map[uint64]bool)}
	return w.walk(address, 0, func(_ *BTreeV1Node, i int, child uint64) error {
		return fn(child)
	})
}

// WalkChunkBTree calls fn for every chunk indexed by the chunk B-tree at
// address. rank excludes the element-size dimension; offsets passed to fn
// are element offsets with rank entries.
func WalkChunkBTree(r io.ReaderAt, address uint64, sb *core.Superblock, rank int, fn func(ChunkRecord) error) error {
	w := &btreeWalker{r: r, sb: sb, nodeType: BTreeV1ChunkNode, keyDims: rank + 1, seen: make(map[uint64]bool)}
	return w.walk(address, 0, func(node *BTreeV1Node, i int, child uint64) error {
		key := node.Keys[i]
		return fn(ChunkRecord{
			Offset:     key.Offset[:rank],
			FilterMask: key.FilterMask,
			Address:    child,
			Size:       uint64(key.Nbytes),
		})
	})
}

type btreeWalker struct {
	r        io.ReaderAt
	sb       *core.Superblock
	nodeType uint8
	keyDims  int
	seen     map[uint64]bool
}

func (w *btreeWalker) walk(address uint64, depth int, leaf func(*BTreeV1Node, int, uint64) error) error {
	if utils.IsUndefined(address) {
		return nil
	}
	if depth > maxBTreeDepth {
		return fmt.Errorf("B-tree deeper than %d levels", maxBTreeDepth)
	}
	if w.seen[address] {
		return fmt.Errorf("B-tree cycle at 0x%X", address)
	}
	w.seen[address] = true

	node, err := ReadBTreeV1Node(w.r, address, w.sb, w.keyDims)
	if err != nil {
		return err
	}
	if node.Type != w.nodeType {
		return fmt.Errorf("B-tree node at 0x%X has type %d, expected %d", address, node.Type, w.nodeType)
	}

	for i, child := range node.Children {
		if node.Level > 0 {
			if err := w.walk(child, depth+1, leaf); err != nil {
				return err
			}
			continue
		}
		if err := leaf(node, i, child); err != nil {
			return err
		}
	}
	return nil
}
