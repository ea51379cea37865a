package testing

// SharedMessageFlag is the header message flag of a shared message.
const SharedMessageFlag = 0x02

// SharedTable writes a shared object header message table with one list
// index holding msgs in a fractal heap, and points the superblock extension
// at it. It returns a shared message referencing each of msgs, in order.
// Every message type in msgs must be below 16.
func (b *FileBuilder) SharedTable(msgs ...Message) []Message {
	objects := make([][]byte, len(msgs))
	var types uint16
	for i, m := range msgs {
		objects[i] = m.Data
		types |= 1 << m.Type
	}
	heap, ids := b.FractalHeap(DefaultHeapLayout, objects)

	e := &Encoder{}
	e.Bytes([]byte("SMTB"))
	e.U8(0)
	e.U8(0) // list index
	e.U16(types)
	e.U32(0)
	e.U16(50)
	e.U16(40)
	e.U16(uint16(len(msgs))) //nolint:gosec // G115: test tables are small
	e.U64(Undefined)
	e.U64(heap)
	e.Checksum()
	table := b.Alloc(e.Buf)

	tm := &Encoder{}
	tm.U8(0)
	tm.U64(table)
	tm.U8(1)
	b.ext = b.ObjectHeader(Message{Type: MsgSharedTable, Data: tm.Buf})

	refs := make([]Message, len(msgs))
	for i, m := range msgs {
		ref := &Encoder{}
		ref.U8(3)
		ref.U8(1) // stored in the shared message heap
		ref.Bytes(ids[i])
		ref.Zero(8 - len(ids[i]))
		refs[i] = Message{Type: m.Type, Flags: SharedMessageFlag, Data: ref.Buf}
	}
	return refs
}
