package core

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5chunk/internal/utils"
)

// DataLayoutClass represents the storage class of a dataset.
type DataLayoutClass uint8

// Layout class constants.
const (
	LayoutCompact    DataLayoutClass = 0
	LayoutContiguous DataLayoutClass = 1
	LayoutChunked    DataLayoutClass = 2
	LayoutVirtual    DataLayoutClass = 3
)

// String returns the class name.
func (c DataLayoutClass) String() string {
	switch c {
	case LayoutCompact:
		return "compact"
	case LayoutContiguous:
		return "contiguous"
	case LayoutChunked:
		return "chunked"
	case LayoutVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("layout(%d)", uint8(c))
	}
}

// ChunkIndexType identifies the on-disk structure indexing a dataset's chunks.
type ChunkIndexType uint8

// Chunk index types. Layout messages before version 4 always use a v1 B-tree.
const (
	ChunkIndexBTreeV1         ChunkIndexType = 0
	ChunkIndexSingle          ChunkIndexType = 1
	ChunkIndexImplicit        ChunkIndexType = 2
	ChunkIndexFixedArray      ChunkIndexType = 3
	ChunkIndexExtensibleArray ChunkIndexType = 4
	ChunkIndexBTreeV2         ChunkIndexType = 5
)

var chunkIndexNames = [...]string{"btree-v1", "single", "implicit", "fixed-array", "extensible-array", "btree-v2"}

// String returns the index name.
func (t ChunkIndexType) String() string {
	if int(t) < len(chunkIndexNames) {
		return chunkIndexNames[t]
	}
	return fmt.Sprintf("index(%d)", uint8(t))
}

// Version 4 chunked layout flags.
const (
	LayoutFlagDontFilterPartialChunks = 0x01
	LayoutFlagSingleIndexWithFilter   = 0x02
)

// ExtensibleArrayParams are the creation parameters stored in a v4 layout.
type ExtensibleArrayParams struct {
	MaxNelmtsBits         uint8
	IndexBlockElements    uint8
	SuperBlockMinDataPtrs uint8
	DataBlockMinElements  uint8
	MaxDataBlockPageBits  uint8
}

// BTreeV2Params are the creation parameters stored in a v4 layout.
type BTreeV2Params struct {
	NodeSize     uint32
	SplitPercent uint8
	MergePercent uint8
}

// DataLayoutMessage is a decoded data layout message (type 0x0008).
type DataLayoutMessage struct {
	Version uint8
	Class   DataLayoutClass

	// Address is the raw data address (contiguous), the chunk index address
	// (chunked) or UndefinedAddress when nothing has been allocated.
	Address uint64

	// Size is the contiguous storage size or the compact data size.
	Size uint64

	// Chunked only. ChunkDims has one entry per dataspace dimension; the
	// trailing element-size dimension stored on disk is in ChunkElementSize.
	ChunkDims        []uint64
	ChunkElementSize uint64
	Flags            uint8
	IndexType        ChunkIndexType

	// Index-specific parameters (version 4).
	SingleFilteredSize uint64
	SingleFilterMask   uint32
	FixedArrayPageBits uint8
	ExtensibleArray    ExtensibleArrayParams
	BTreeV2            BTreeV2Params
}

// IsChunked reports whether the dataset uses chunked storage.
func (dl *DataLayoutMessage) IsChunked() bool {
	return dl.Class == LayoutChunked
}

// ParseDataLayoutMessage parses a data layout message, versions 1 through 4.
func ParseDataLayoutMessage(data []byte, sb *Superblock) (*DataLayoutMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("data layout message too short")
	}

	d := sb.NewDecoder(data)
	msg := &DataLayoutMessage{Version: d.Uint8(), Address: utils.UndefinedAddress}

	var err error
	switch msg.Version {
	case 1, 2:
		err = parseLayoutV1(d, msg)
	case 3:
		err = parseLayoutV3(d, msg)
	case 4:
		err = parseLayoutV4(d, msg)
	default:
		return nil, fmt.Errorf("unsupported data layout version: %d", msg.Version)
	}
	if err == nil {
		err = d.Err()
	}
	if err != nil {
		return nil, utils.WrapErrorf(err, "layout v%d", msg.Version)
	}
	return msg, nil
}

// parseLayoutV1 handles versions 1 and 2: dimensionality, class, five
// reserved bytes, an address (absent for compact) and 4-byte dimensions.
func parseLayoutV1(d *utils.Decoder, msg *DataLayoutMessage) error {
	ndims := int(d.Uint8())
	msg.Class = DataLayoutClass(d.Uint8())
	d.Skip(5)
	if msg.Class != LayoutCompact {
		msg.Address = d.Offset()
	}
	dims := make([]uint64, ndims)
	for i := range dims {
		dims[i] = uint64(d.Uint32())
	}

	switch msg.Class {
	case LayoutChunked:
		return setChunkDims(msg, dims)
	case LayoutCompact:
		msg.Size = uint64(d.Uint32())
	case LayoutContiguous:
		// The size of contiguous storage is implied by the dataspace.
	default:
		return fmt.Errorf("invalid layout class: %d", msg.Class)
	}
	return nil
}

func parseLayoutV3(d *utils.Decoder, msg *DataLayoutMessage) error {
	msg.Class = DataLayoutClass(d.Uint8())
	switch msg.Class {
	case LayoutCompact:
		msg.Size = uint64(d.Uint16())
	case LayoutContiguous:
		msg.Address = d.Offset()
		msg.Size = d.Length()
	case LayoutChunked:
		ndims := int(d.Uint8())
		msg.Address = d.Offset()
		dims := make([]uint64, ndims)
		for i := range dims {
			dims[i] = uint64(d.Uint32())
		}
		msg.IndexType = ChunkIndexBTreeV1
		return setChunkDims(msg, dims)
	default:
		return fmt.Errorf("invalid layout class: %d", msg.Class)
	}
	return nil
}

func parseLayoutV4(d *utils.Decoder, msg *DataLayoutMessage) error {
	msg.Class = DataLayoutClass(d.Uint8())
	switch msg.Class {
	case LayoutCompact:
		msg.Size = uint64(d.Uint16())
		return nil
	case LayoutContiguous:
		msg.Address = d.Offset()
		msg.Size = d.Length()
		return nil
	case LayoutVirtual:
		msg.Address = d.Offset()
		return nil
	case LayoutChunked:
	default:
		return fmt.Errorf("invalid layout class: %d", msg.Class)
	}

	msg.Flags = d.Uint8()
	ndims := int(d.Uint8())
	dimWidth := int(d.Uint8())
	if dimWidth < 1 || dimWidth > 8 {
		return fmt.Errorf("invalid chunk dimension width: %d", dimWidth)
	}
	dims := make([]uint64, ndims)
	for i := range dims {
		dims[i] = d.UintN(dimWidth)
	}
	if err := setChunkDims(msg, dims); err != nil {
		return err
	}

	msg.IndexType = ChunkIndexType(d.Uint8())
	switch msg.IndexType {
	case ChunkIndexSingle:
		if msg.Flags&LayoutFlagSingleIndexWithFilter != 0 {
			msg.SingleFilteredSize = d.Length()
			msg.SingleFilterMask = d.Uint32()
		}
	case ChunkIndexImplicit:
	case ChunkIndexFixedArray:
		msg.FixedArrayPageBits = d.Uint8()
	case ChunkIndexExtensibleArray:
		msg.ExtensibleArray = ExtensibleArrayParams{
			MaxNelmtsBits:         d.Uint8(),
			IndexBlockElements:    d.Uint8(),
			SuperBlockMinDataPtrs: d.Uint8(),
			DataBlockMinElements:  d.Uint8(),
			MaxDataBlockPageBits:  d.Uint8(),
		}
	case ChunkIndexBTreeV2:
		msg.BTreeV2 = BTreeV2Params{
			NodeSize:     d.Uint32(),
			SplitPercent: d.Uint8(),
			MergePercent: d.Uint8(),
		}
	default:
		return fmt.Errorf("invalid chunk index type: %d", msg.IndexType)
	}
	msg.Address = d.Offset()
	return nil
}

// setChunkDims splits the on-disk dimension list: every layout version stores
// rank+1 values, the last being the element size.
func setChunkDims(msg *DataLayoutMessage, dims []uint64) error {
	if len(dims) < 1 {
		return errors.New("chunked layout without dimensions")
	}
	msg.ChunkDims = dims[:len(dims)-1]
	msg.ChunkElementSize = dims[len(dims)-1]
	return nil
}

// ChunkBytes returns the uncompressed size of one chunk as recorded in the layout.
func (dl *DataLayoutMessage) ChunkBytes() (uint64, error) {
	elem := dl.ChunkElementSize
	if elem == 0 {
		elem = 1
	}
	return utils.CalculateChunkSize64(dl.ChunkDims, elem)
}

// String returns a one-line description used by the dump command.
func (dl *DataLayoutMessage) String() string {
	if dl.Class != LayoutChunked {
		return fmt.Sprintf("layout v%d %s addr=0x%X size=%d", dl.Version, dl.Class, dl.Address, dl.Size)
	}
	return fmt.Sprintf("layout v%d chunked index=%s dims=%v elem=%d addr=0x%X",
		dl.Version, dl.IndexType, dl.ChunkDims, dl.ChunkElementSize, dl.Address)
}
