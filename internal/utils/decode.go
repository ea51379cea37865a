package utils

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// UndefinedAddress marks an unallocated structure. On disk it is all ones at
// whatever width the superblock declares; Decoder.Offset normalizes it.
const UndefinedAddress = ^uint64(0)

// IsUndefined reports whether addr is the undefined address.
func IsUndefined(addr uint64) bool {
	return addr == UndefinedAddress
}

// ReaderAt is a simplified interface for io.ReaderAt.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// ReadBlock reads exactly n bytes at addr into a new slice.
func ReadBlock(r ReaderAt, addr uint64, n int) ([]byte, error) {
	if IsUndefined(addr) {
		return nil, fmt.Errorf("read of %d bytes at undefined address", n)
	}
	if n < 0 {
		return nil, fmt.Errorf("negative read size %d", n)
	}
	buf := make([]byte, n)
	//nolint:gosec // G115: file addresses fit in int64
	if _, err := r.ReadAt(buf, int64(addr)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, WrapErrorf(ErrTruncated, "read %d bytes at 0x%X", n, addr)
		}
		return nil, WrapErrorf(err, "read %d bytes at 0x%X", n, addr)
	}
	return buf, nil
}

// CheckSignature reads four bytes at addr and compares them to sig.
func CheckSignature(r ReaderAt, addr uint64, sig string) error {
	buf := GetBuffer(4)
	defer ReleaseBuffer(buf)

	//nolint:gosec // G115: file addresses fit in int64
	if _, err := r.ReadAt(buf, int64(addr)); err != nil {
		return WrapErrorf(err, "read signature at 0x%X", addr)
	}
	if string(buf) != sig {
		return fmt.Errorf("invalid signature %q at 0x%X (expected %s)", buf, addr, sig)
	}
	return nil
}

// Decoder walks a little-endian byte slice. HDF5 metadata is always
// little-endian; offset and length widths come from the superblock.
//
// Reads past the end record ErrTruncated and return zero; callers check Err
// once after decoding a structure.
type Decoder struct {
	buf        []byte
	pos        int
	offsetSize int
	lengthSize int
	err        error
}

// NewDecoder creates a decoder over buf.
func NewDecoder(buf []byte, offsetSize, lengthSize uint8) *Decoder {
	return &Decoder{buf: buf, offsetSize: int(offsetSize), lengthSize: int(lengthSize)}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Pos returns the current position.
func (d *Decoder) Pos() int { return d.pos }

// Len returns the number of unread bytes.
func (d *Decoder) Len() int {
	if d.pos >= len(d.buf) {
		return 0
	}
	return len(d.buf) - d.pos
}

// Seek moves to an absolute position.
func (d *Decoder) Seek(pos int) {
	if pos < 0 || pos > len(d.buf) {
		d.fail(pos - d.pos)
		return
	}
	d.pos = pos
}

// OffsetSize returns the width of file addresses.
func (d *Decoder) OffsetSize() int { return d.offsetSize }

// LengthSize returns the width of file lengths.
func (d *Decoder) LengthSize() int { return d.lengthSize }

func (d *Decoder) fail(n int) {
	if d.err == nil {
		d.err = WrapErrorf(ErrTruncated, "need %d bytes at position %d of %d", n, d.pos, len(d.buf))
	}
	d.pos = len(d.buf)
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.buf) {
		d.fail(n)
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

// Skip advances n bytes.
func (d *Decoder) Skip(n int) { d.take(n) }

// Bytes returns the next n bytes without copying.
func (d *Decoder) Bytes(n int) []byte { return d.take(n) }

// Uint8 reads one byte.
func (d *Decoder) Uint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads a 2-byte value.
func (d *Decoder) Uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a 4-byte value.
func (d *Decoder) Uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Uint64 reads an 8-byte value.
func (d *Decoder) Uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// UintN reads an n-byte little-endian value, 0 < n <= 8.
func (d *Decoder) UintN(n int) uint64 {
	if n <= 0 || n > 8 {
		if d.err == nil {
			d.err = fmt.Errorf("unsupported integer width %d", n)
		}
		return 0
	}
	return DecodeUint(d.take(n))
}

// Offset reads a file address, mapping the all-ones pattern to UndefinedAddress.
func (d *Decoder) Offset() uint64 {
	b := d.take(d.offsetSize)
	if b == nil {
		return UndefinedAddress
	}
	if allOnes(b) {
		return UndefinedAddress
	}
	return DecodeUint(b)
}

// Length reads a file length field.
func (d *Decoder) Length() uint64 {
	return DecodeUint(d.take(d.lengthSize))
}

// Signature reads four bytes and checks them against sig.
func (d *Decoder) Signature(sig string) error {
	b := d.take(len(sig))
	if b == nil {
		return d.err
	}
	if string(b) != sig {
		return fmt.Errorf("invalid signature %q (expected %s)", b, sig)
	}
	return nil
}

// DecodeUint decodes up to eight little-endian bytes.
func DecodeUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func allOnes(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return len(b) > 0
}
