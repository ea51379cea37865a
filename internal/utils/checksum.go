package utils

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// ErrChecksum is returned when a metadata block fails checksum verification.
var ErrChecksum = errors.New("checksum mismatch")

// Lookup3 computes Bob Jenkins' lookup3 hash ("hashlittle"), the function
// HDF5 uses for metadata checksums and link name hashes.
func Lookup3(data []byte, initval uint32) uint32 {
	//nolint:gosec // G115: lookup3 folds the length into 32 bits
	a := 0xdeadbeef + uint32(len(data)) + initval
	b, c := a, a

	for len(data) > 12 {
		a += binary.LittleEndian.Uint32(data[0:])
		b += binary.LittleEndian.Uint32(data[4:])
		c += binary.LittleEndian.Uint32(data[8:])
		a, b, c = lookup3Mix(a, b, c)
		data = data[12:]
	}
	if len(data) == 0 {
		return c
	}

	var tail [12]byte
	copy(tail[:], data)
	a += binary.LittleEndian.Uint32(tail[0:])
	b += binary.LittleEndian.Uint32(tail[4:])
	c += binary.LittleEndian.Uint32(tail[8:])
	return lookup3Final(a, b, c)
}

func lookup3Mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func lookup3Final(a, b, c uint32) uint32 {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return c
}

// MetadataChecksum returns the checksum HDF5 stores after a metadata block.
func MetadataChecksum(data []byte) uint32 {
	return Lookup3(data, 0)
}

// VerifyChecksum checks that the last four bytes of block hold the
// checksum of everything before them.
func VerifyChecksum(block []byte) error {
	if len(block) < 4 {
		return WrapError("checksummed block", ErrTruncated)
	}
	n := len(block) - 4
	stored := binary.LittleEndian.Uint32(block[n:])
	if computed := MetadataChecksum(block[:n]); computed != stored {
		return fmt.Errorf("%w: stored 0x%08X, computed 0x%08X", ErrChecksum, stored, computed)
	}
	return nil
}
