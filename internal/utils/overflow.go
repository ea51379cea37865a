package utils

import (
	"fmt"
	"math"
	"math/bits"
)

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}
	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}
	return nil
}

// SafeMultiply multiplies two uint64 values and returns the result if no overflow occurs.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// SafeAdd adds two uint64 values and returns the result if no overflow occurs.
func SafeAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("addition overflow: %d + %d exceeds uint64 max", a, b)
	}
	return sum, nil
}

// CalculateChunkSize64 returns elementSize times the product of dimensions.
// An empty dimension list is a scalar chunk of one element.
func CalculateChunkSize64(dimensions []uint64, elementSize uint64) (uint64, error) {
	if elementSize == 0 {
		return 0, fmt.Errorf("element size cannot be zero")
	}

	size := elementSize
	for i, dim := range dimensions {
		if dim == 0 {
			return 0, fmt.Errorf("chunk dimension %d is zero", i)
		}
		if size > math.MaxUint64/dim {
			return 0, fmt.Errorf("chunk size overflow at dimension %d: dimensions too large", i)
		}
		size *= dim
	}
	return size, nil
}

// CeilDiv returns ceil(a / b). b must be non-zero.
func CeilDiv(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return 1 + (a-1)/b
}

// Log2 returns floor(log2(v)) for v > 0 and 0 for v == 0.
func Log2(v uint64) int {
	if v == 0 {
		return 0
	}
	return bits.Len64(v) - 1
}

// LimitEncSize returns the number of bytes needed to encode values up to v.
func LimitEncSize(v uint64) int {
	return Log2(v)/8 + 1
}

// ValidateBufferSize validates that a buffer size is within reasonable limits.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}
	return nil
}

// Common buffer size limits.
const (
	// MaxChunkSize limits raw chunk reads to 1GB.
	MaxChunkSize = 1024 * 1024 * 1024

	// MaxMetadataBlock limits a single metadata block read to 64MB.
	MaxMetadataBlock = 64 * 1024 * 1024
)
