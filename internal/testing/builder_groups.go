package testing

import (
	"sort"

	"github.com/scigolib/h5chunk/internal/utils"
)

// Link is a named group member. A non-empty SoftTarget makes it a soft
// link; Address is ignored then.
type Link struct {
	Name       string
	Address    uint64
	SoftTarget string
}

// Hard returns a hard link to addr.
func Hard(name string, addr uint64) Link {
	return Link{Name: name, Address: addr}
}

// Soft returns a soft link to target.
func Soft(name, target string) Link {
	return Link{Name: name, SoftTarget: target}
}

// LinkMsgData encodes a version 1 link message body.
func LinkMsgData(l Link) []byte {
	e := &Encoder{}
	e.U8(1)
	if l.SoftTarget != "" {
		e.U8(0x08) // link type present, 1-byte name length
		e.U8(1)
	} else {
		e.U8(0)
	}
	e.U8(uint8(len(l.Name))) //nolint:gosec // G115: test names are short
	e.Bytes([]byte(l.Name))
	if l.SoftTarget != "" {
		e.U16(uint16(len(l.SoftTarget))) //nolint:gosec // G115: test targets are short
		e.Bytes([]byte(l.SoftTarget))
	} else {
		e.U64(l.Address)
	}
	return e.Buf
}

// LinkInfoMsg encodes a link info message.
func LinkInfoMsg(heapAddr, nameIndexAddr uint64) Message {
	e := &Encoder{}
	e.U8(0)
	e.U8(0)
	e.U64(heapAddr)
	e.U64(nameIndexAddr)
	return Message{Type: MsgLinkInfo, Data: e.Buf}
}

// GroupInfoMsg encodes an empty group info message.
func GroupInfoMsg() Message {
	return Message{Type: MsgGroupInfo, Data: []byte{0, 0}}
}

// CompactGroup writes a new-style group whose links are header messages.
func (b *FileBuilder) CompactGroup(links ...Link) uint64 {
	msgs := []Message{LinkInfoMsg(Undefined, Undefined), GroupInfoMsg()}
	for _, l := range links {
		msgs = append(msgs, Message{Type: MsgLink, Data: LinkMsgData(l)})
	}
	return b.ObjectHeader(msgs...)
}

// symbolsPerNode is the number of entries written to each SNOD.
const symbolsPerNode = 8

// SymbolTableGroup writes an old-style group: a version 1 object header with
// a symbol table message, a local heap for names, symbol table nodes and a
// group B-tree over them.
func (b *FileBuilder) SymbolTableGroup(links ...Link) uint64 {
	sorted := append([]Link{}, links...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	// Local heap data: offset 0 holds the empty string.
	heapData := []byte{0}
	nameOff := make([]uint64, len(sorted))
	for i, l := range sorted {
		nameOff[i] = uint64(len(heapData))
		heapData = append(append(heapData, l.Name...), 0)
	}
	for len(heapData)%8 != 0 {
		heapData = append(heapData, 0)
	}
	dataAddr := b.Alloc(heapData)
	h := &Encoder{}
	h.Bytes([]byte("HEAP"))
	h.U8(0)
	h.Zero(3)
	h.U64(uint64(len(heapData)))
	h.U64(Undefined)
	h.U64(dataAddr)
	heapAddr := b.Alloc(h.Buf)

	// Symbol table nodes.
	var snods []uint64
	var keys []uint64
	keys = append(keys, 0)
	for start := 0; ; start += symbolsPerNode {
		end := start + symbolsPerNode
		if end > len(sorted) {
			end = len(sorted)
		}
		e := &Encoder{}
		e.Bytes([]byte("SNOD"))
		e.U8(1)
		e.U8(0)
		e.U16(uint16(end - start)) //nolint:gosec // G115: bounded by symbolsPerNode
		for i := start; i < end; i++ {
			l := sorted[i]
			e.U64(nameOff[i])
			if l.SoftTarget != "" {
				e.U64(Undefined)
				e.U32(2)
			} else {
				e.U64(l.Address)
				e.U32(0)
			}
			e.Zero(4 + 16)
		}
		snods = append(snods, b.Alloc(e.Buf))
		if end > start {
			keys = append(keys, nameOff[end-1])
		} else {
			keys = append(keys, 0)
		}
		if end >= len(sorted) {
			break
		}
	}

	t := &Encoder{}
	t.Bytes([]byte("TREE"))
	t.U8(0)
	t.U8(0)
	t.U16(uint16(len(snods))) //nolint:gosec // G115: test groups are small
	t.U64(Undefined)
	t.U64(Undefined)
	for i, addr := range snods {
		t.U64(keys[i])
		t.U64(addr)
	}
	t.U64(keys[len(snods)])
	treeAddr := b.Alloc(t.Buf)

	st := &Encoder{}
	st.U64(treeAddr)
	st.U64(heapAddr)
	return b.ObjectHeaderV1(Message{Type: MsgSymbolTable, Data: st.Buf})
}

// HeapLayout selects the doubling table used by DenseGroup.
type HeapLayout struct {
	TableWidth   uint16
	StartSize    uint64
	MaxDirect    uint64
	IndirectRows uint16 // 0 writes a single root direct block
}

// DefaultHeapLayout stores every object in one root direct block.
var DefaultHeapLayout = HeapLayout{TableWidth: 4, StartSize: 512, MaxDirect: 65536}

// DenseGroup writes a new-style group whose links live in a fractal heap
// indexed by a name B-tree.
func (b *FileBuilder) DenseGroup(links ...Link) uint64 {
	return b.DenseGroupWithHeap(DefaultHeapLayout, links...)
}

// DenseGroupWithHeap is DenseGroup with an explicit heap layout.
func (b *FileBuilder) DenseGroupWithHeap(layout HeapLayout, links ...Link) uint64 {
	objects := make([][]byte, len(links))
	for i, l := range links {
		objects[i] = LinkMsgData(l)
	}
	heapAddr, ids := b.FractalHeap(layout, objects)

	type record struct {
		hash uint32
		id   []byte
	}
	recs := make([]record, len(links))
	for i, l := range links {
		recs[i] = record{hash: utils.Lookup3([]byte(l.Name), 0), id: ids[i]}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].hash < recs[j].hash })

	raw := make([][]byte, len(recs))
	for i, r := range recs {
		e := &Encoder{}
		e.U32(r.hash)
		e.Bytes(r.id)
		raw[i] = e.Buf
	}
	btree := b.BTreeV2(5, 512, 4+heapIDLen, raw)
	return b.ObjectHeader(LinkInfoMsg(heapAddr, btree), GroupInfoMsg())
}
