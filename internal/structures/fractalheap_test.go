// Copyright (c) 2025 SciGo HDF5 Library Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package structures

import (
	"bytes"
	"fmt"
	"testing"

	mocktesting "github.com/scigolib/h5chunk/internal/testing"
	"github.com/scigolib/h5chunk/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heapObjects(n, size int) [][]byte {
	objects := make([][]byte, n)
	for i := range objects {
		objects[i] = bytes.Repeat([]byte{byte('a' + i%26)}, size)
		copy(objects[i], fmt.Sprintf("obj%02d", i))
	}
	return objects
}

func TestFractalHeap_ReadObject(t *testing.T) {
	tests := []struct {
		name    string
		layout  mocktesting.HeapLayout
		objects [][]byte
	}{
		{
			name:    "root direct block",
			layout:  mocktesting.DefaultHeapLayout,
			objects: heapObjects(5, 40),
		},
		{
			name:    "root indirect block",
			layout:  mocktesting.HeapLayout{TableWidth: 4, StartSize: 512, MaxDirect: 2048, IndirectRows: 3},
			objects: heapObjects(12, 300),
		},
		{
			name:    "nested indirect blocks",
			layout:  mocktesting.HeapLayout{TableWidth: 2, StartSize: 512, MaxDirect: 512, IndirectRows: 3},
			objects: heapObjects(15, 200),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mocktesting.NewFileBuilder()
			addr, ids := b.FractalHeap(tt.layout, tt.objects)
			r, sb := openBuilt(t, b)

			heap, err := OpenFractalHeap(r, addr, sb)
			require.NoError(t, err)
			assert.Equal(t, 4, heap.Header.HeapOffsetSize)
			assert.Equal(t, 2, heap.Header.HeapLengthSize)
			assert.Equal(t, tt.layout.IndirectRows, heap.Header.CurrentRowCount)

			for i, id := range ids {
				got, err := heap.ReadObject(id)
				require.NoError(t, err, "object %d", i)
				assert.Equal(t, tt.objects[i], got, "object %d", i)
			}
		})
	}
}

func TestFractalHeap_TinyAndHuge(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	addr, _ := b.FractalHeap(mocktesting.DefaultHeapLayout, heapObjects(1, 10))
	r, sb := openBuilt(t, b)
	heap, err := OpenFractalHeap(r, addr, sb)
	require.NoError(t, err)

	got, err := heap.ReadObject([]byte{0x20 | 2, 'a', 'b', 'c', 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	_, err = heap.ReadObject([]byte{0x20 | 9, 'a', 'b'})
	require.Error(t, err)

	_, err = heap.ReadObject([]byte{0x10, 1, 2, 3, 4, 5, 6})
	require.ErrorIs(t, err, ErrHugeObject)

	_, err = heap.ReadObject([]byte{0x40, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
}

func TestFractalHeap_BadManagedIDs(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	addr, ids := b.FractalHeap(mocktesting.DefaultHeapLayout, heapObjects(2, 10))
	r, sb := openBuilt(t, b)
	heap, err := OpenFractalHeap(r, addr, sb)
	require.NoError(t, err)

	t.Run("offset beyond root block", func(t *testing.T) {
		id := append([]byte{}, ids[0]...)
		e := &mocktesting.Encoder{}
		e.U32(4096)
		copy(id[1:], e.Buf)
		_, err := heap.ReadObject(id)
		require.Error(t, err)
	})

	t.Run("zero length", func(t *testing.T) {
		id := append([]byte{}, ids[1]...)
		id[5], id[6] = 0, 0
		_, err := heap.ReadObject(id)
		require.Error(t, err)
	})

	t.Run("short ID", func(t *testing.T) {
		_, err := heap.ReadObject(ids[0][:3])
		require.Error(t, err)
	})
}

func TestOpenFractalHeap_Checksum(t *testing.T) {
	b := mocktesting.NewFileBuilder()
	addr, _ := b.FractalHeap(mocktesting.DefaultHeapLayout, heapObjects(1, 10))
	data := b.Bytes()
	data[addr+20] ^= 0x01
	r := mocktesting.NewMockReaderAt(data)
	_, sb := openBuilt(t, b)

	_, err := OpenFractalHeap(r, addr, sb)
	require.ErrorIs(t, err, utils.ErrChecksum)
}
