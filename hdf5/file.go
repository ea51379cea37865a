// Package hdf5 is a read-only, pure Go view of HDF5 files sized for storage
// analysis. It walks the group tree, opens datasets and enumerates their
// allocated chunks; it does not decode dataset values.
//
// Every handle (datasets, property lists, types, spaces) is counted by the
// File that opened it. OpenHandles reports how many are still live, and
// every Close is idempotent.
package hdf5

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// MaxRank is the largest dataset rank handled by this package.
const MaxRank = 32

// Unlimited marks an unlimited maximum dimension.
const Unlimited = core.Unlimited

// File represents an open HDF5 file.
type File struct {
	path   string
	osFile *os.File
	r      io.ReaderAt
	sb     *core.Superblock

	mu      sync.Mutex
	handles int
	closed  bool

	sharedOnce sync.Once
	shared     []sharedHeap
	sharedErr  error
}

// Open opens an HDF5 file for reading. The signature must be at offset 0;
// user blocks are not searched.
func Open(path string) (*File, error) {
	//nolint:gosec // G304: opening a user supplied path is the point
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}

	sb, err := core.ReadSuperblock(f)
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapErrorf(err, "%s: superblock read failed", path)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError("file stat failed", err)
	}

	var r io.ReaderAt = f
	if sb.BaseAddress != 0 {
		//nolint:gosec // G115: base address checked against file size below
		base := int64(sb.BaseAddress)
		if base >= fi.Size() {
			_ = f.Close()
			return nil, fmt.Errorf("%s: base address 0x%X beyond file size %d", path, sb.BaseAddress, fi.Size())
		}
		r = io.NewSectionReader(f, base, fi.Size()-base)
	}

	//nolint:gosec // G115: file size is never negative
	if utils.IsUndefined(sb.RootGroup) || sb.RootGroup >= uint64(fi.Size()) {
		_ = f.Close()
		return nil, fmt.Errorf("%s: root group address 0x%X beyond file size %d", path, sb.RootGroup, fi.Size())
	}

	return &File{path: path, osFile: f, r: r, sb: sb}, nil
}

// Close closes the file. It is safe to call Close multiple times; only the
// first call reports an error.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.osFile.Close()
}

// Path returns the name the file was opened with.
func (f *File) Path() string {
	return f.path
}

// Superblock returns the parsed superblock.
func (f *File) Superblock() *core.Superblock {
	return f.sb
}

// OpenHandles returns the number of handles opened from f and not yet closed.
func (f *File) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles
}

func (f *File) checkOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("%w: file %s", ErrClosed, f.path)
	}
	return nil
}

// readHeader reads the object header at addr.
func (f *File) readHeader(addr uint64) (*core.ObjectHeader, error) {
	return core.ReadObjectHeader(f.r, addr, f.sb)
}

// handle is the accounting part shared by every object opened from a File.
type handle struct {
	file   *File
	closed bool
}

func (f *File) acquire() (handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return handle{}, fmt.Errorf("%w: file %s", ErrClosed, f.path)
	}
	f.handles++
	return handle{file: f}, nil
}

// Close releases the handle. Second and later calls do nothing.
func (h *handle) Close() error {
	if h.file == nil {
		return nil
	}
	h.file.mu.Lock()
	defer h.file.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.file.handles--
	return nil
}

func (h *handle) check() error {
	if h.file == nil {
		return ErrClosed
	}
	h.file.mu.Lock()
	defer h.file.mu.Unlock()
	if h.closed || h.file.closed {
		return ErrClosed
	}
	return nil
}
