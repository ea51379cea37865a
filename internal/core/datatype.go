package core

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5chunk/internal/utils"
)

// DatatypeClass represents HDF5 datatype class.
type DatatypeClass uint8

// Datatype class constants identify different HDF5 data types for datasets.
const (
	DatatypeFixed     DatatypeClass = 0  // Fixed-point (integers).
	DatatypeFloat     DatatypeClass = 1  // Floating-point.
	DatatypeTime      DatatypeClass = 2  // Time.
	DatatypeString    DatatypeClass = 3  // String.
	DatatypeBitfield  DatatypeClass = 4  // Bitfield.
	DatatypeOpaque    DatatypeClass = 5  // Opaque.
	DatatypeCompound  DatatypeClass = 6  // Compound.
	DatatypeReference DatatypeClass = 7  // Reference.
	DatatypeEnum      DatatypeClass = 8  // Enumerated.
	DatatypeVarLen    DatatypeClass = 9  // Variable-length.
	DatatypeArray     DatatypeClass = 10 // Array.
	DatatypeComplex   DatatypeClass = 11 // Complex.
)

var datatypeClassNames = [...]string{
	"integer", "float", "time", "string", "bitfield", "opaque",
	"compound", "reference", "enum", "vlen", "array", "complex",
}

// String returns the class name.
func (c DatatypeClass) String() string {
	if int(c) < len(datatypeClassNames) {
		return datatypeClassNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// DatatypeMessage is the fixed part of a datatype message. Only the class and
// element size matter for chunk geometry; class properties are kept raw.
type DatatypeMessage struct {
	Class         DatatypeClass
	Version       uint8
	Size          uint32
	ClassBitField uint32
	Properties    []byte
}

// ParseDatatypeMessage parses a datatype message from header message data.
func ParseDatatypeMessage(data []byte) (*DatatypeMessage, error) {
	if len(data) < 8 {
		return nil, errors.New("datatype message too short")
	}

	d := utils.NewDecoder(data, 8, 8)
	classAndVersion := d.Uint8()
	bitField := d.UintN(3)
	size := d.Uint32()

	dt := &DatatypeMessage{
		Class:         DatatypeClass(classAndVersion & 0x0F),
		Version:       classAndVersion >> 4,
		Size:          size,
		ClassBitField: uint32(bitField), //nolint:gosec // G115: 24-bit field
		Properties:    data[8:],
	}
	if dt.Version == 0 || dt.Version > 5 {
		return nil, fmt.Errorf("unsupported datatype version: %d", dt.Version)
	}
	return dt, nil
}

// String returns a short description such as "integer(4)".
func (dt *DatatypeMessage) String() string {
	return fmt.Sprintf("%s(%d)", dt.Class, dt.Size)
}
