package hdf5

import (
	"fmt"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/structures"
	"github.com/scigolib/h5chunk/internal/utils"
)

// sharedHeap is one index of the shared object header message table with
// its fractal heap opened.
type sharedHeap struct {
	index core.SharedIndex
	heap  *structures.FractalHeap
}

// sharedHeaps returns the shared message heaps of the file, reading the
// table from the superblock extension on first use.
func (f *File) sharedHeaps() ([]sharedHeap, error) {
	f.sharedOnce.Do(func() {
		f.shared, f.sharedErr = f.readSharedTable()
	})
	return f.shared, f.sharedErr
}

func (f *File) readSharedTable() ([]sharedHeap, error) {
	if utils.IsUndefined(f.sb.ExtensionAddress) {
		return nil, nil
	}
	ext, err := f.readHeader(f.sb.ExtensionAddress)
	if err != nil {
		return nil, utils.WrapError("superblock extension", err)
	}
	msg := ext.Find(core.MsgSharedTable)
	if msg == nil {
		return nil, nil
	}
	addr, n, err := core.ParseSharedTableMessage(msg.Data, f.sb)
	if err != nil {
		return nil, err
	}
	indices, err := core.ReadSharedTable(f.r, addr, n, f.sb)
	if err != nil {
		return nil, err
	}

	heaps := make([]sharedHeap, 0, len(indices))
	for _, si := range indices {
		h, err := structures.OpenFractalHeap(f.r, si.HeapAddress, f.sb)
		if err != nil {
			return nil, utils.WrapErrorf(err, "shared message heap at 0x%X", si.HeapAddress)
		}
		heaps = append(heaps, sharedHeap{index: si, heap: h})
	}
	return heaps, nil
}

// sharedMessage returns the body of a message of type t stored in the
// shared message heap under heapID.
func (f *File) sharedMessage(t core.MessageType, heapID []byte) ([]byte, error) {
	heaps, err := f.sharedHeaps()
	if err != nil {
		return nil, err
	}
	for _, sh := range heaps {
		if sh.index.Holds(t) {
			return sh.heap.ReadObject(heapID)
		}
	}
	return nil, fmt.Errorf("%w: no shared message index holds %s messages", ErrUnsupported, t)
}
