package hdf5

import (
	"fmt"
	"strings"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// Dataset is an open dataset. Close it when done.
type Dataset struct {
	handle
	path   string
	header *core.ObjectHeader
}

// OpenDataset opens the dataset at path, resolved from the root group
// through hard links.
func (f *File) OpenDataset(p string) (*Dataset, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	addr, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	return f.openDatasetAt(p, addr)
}

// OpenDatasetAt opens the dataset whose object header is at addr, as
// reported by Visit.
func (f *File) OpenDatasetAt(name string, addr uint64) (*Dataset, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	return f.openDatasetAt(name, addr)
}

func (f *File) openDatasetAt(name string, addr uint64) (*Dataset, error) {
	oh, err := f.readHeader(addr)
	if err != nil {
		return nil, utils.WrapErrorf(err, "dataset %s", name)
	}
	if oh.Type() != core.ObjectTypeDataset {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotDataset, name, oh.Type())
	}
	h, err := f.acquire()
	if err != nil {
		return nil, err
	}
	return &Dataset{handle: h, path: name, header: oh}, nil
}

// Name returns the path the dataset was opened with.
func (d *Dataset) Name() string {
	return d.path
}

// Address returns the object header address.
func (d *Dataset) Address() uint64 {
	return d.header.Address
}

// message returns the body of the first message of type t, following a
// shared message reference into the header or the shared message heap that
// holds it.
func (d *Dataset) message(t core.MessageType) ([]byte, error) {
	msg := d.header.Find(t)
	if msg == nil {
		return nil, nil
	}
	if !msg.IsShared() {
		return msg.Data, nil
	}

	sm, err := core.ParseSharedMessage(msg.Data, d.file.sb)
	if err != nil {
		return nil, err
	}
	if sm.Type == core.SharedInHeap {
		data, err := d.file.sharedMessage(t, sm.HeapID)
		if err != nil {
			return nil, utils.WrapErrorf(err, "shared %s message", t)
		}
		return data, nil
	}
	oh, err := d.file.readHeader(sm.Address)
	if err != nil {
		return nil, utils.WrapErrorf(err, "shared message %d", t)
	}
	target := oh.Find(t)
	if target == nil {
		return nil, fmt.Errorf("shared message %d: not found in object at 0x%X", t, sm.Address)
	}
	return target.Data, nil
}

func (d *Dataset) required(t core.MessageType, what string) ([]byte, error) {
	data, err := d.message(t)
	if err != nil {
		return nil, utils.WrapErrorf(err, "%s: %s message", d.path, what)
	}
	if data == nil {
		return nil, fmt.Errorf("%s: no %s message", d.path, what)
	}
	return data, nil
}

func (d *Dataset) layout() (*core.DataLayoutMessage, error) {
	data, err := d.required(core.MsgDataLayout, "layout")
	if err != nil {
		return nil, err
	}
	return core.ParseDataLayoutMessage(data, d.file.sb)
}

func (d *Dataset) dataspace() (*core.DataspaceMessage, error) {
	data, err := d.required(core.MsgDataspace, "dataspace")
	if err != nil {
		return nil, err
	}
	return core.ParseDataspaceMessage(data, d.file.sb)
}

// LayoutClass is the storage layout of a dataset.
type LayoutClass uint8

// Layout classes.
const (
	LayoutCompact LayoutClass = iota
	LayoutContiguous
	LayoutChunked
	LayoutVirtual
)

// String returns the layout name.
func (c LayoutClass) String() string {
	return core.DataLayoutClass(c).String()
}

// FilterID identifies a filter in a pipeline.
type FilterID uint16

// Well-known filter IDs.
const (
	FilterDeflate     = FilterID(core.FilterDeflate)
	FilterShuffle     = FilterID(core.FilterShuffle)
	FilterFletcher32  = FilterID(core.FilterFletcher32)
	FilterSZIP        = FilterID(core.FilterSZIP)
	FilterNBit        = FilterID(core.FilterNBit)
	FilterScaleOffset = FilterID(core.FilterScaleOffset)
)

// String returns the registered filter name, or "filter(N)".
func (id FilterID) String() string {
	return core.FilterID(id).String()
}

// Filter is one stage of a dataset's filter pipeline.
type Filter struct {
	ID         FilterID
	Name       string // as stored in the file, or the registered name
	Optional   bool
	ClientData []uint32
}

// Plist is the creation property list of a dataset: its layout, chunk shape
// and filter pipeline.
type Plist struct {
	handle
	layout  *core.DataLayoutMessage
	filters []Filter
}

// CreatePlist returns the dataset's creation properties.
func (d *Dataset) CreatePlist() (*Plist, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	layout, err := d.layout()
	if err != nil {
		return nil, err
	}

	var filters []Filter
	data, err := d.message(core.MsgFilterPipeline)
	if err != nil {
		return nil, utils.WrapErrorf(err, "%s: filter pipeline", d.path)
	}
	if data != nil {
		pipeline, err := core.ParseFilterPipelineMessage(data)
		if err != nil {
			return nil, utils.WrapErrorf(err, "%s: filter pipeline", d.path)
		}
		for _, f := range pipeline.Filters {
			filters = append(filters, Filter{
				ID:         FilterID(f.ID),
				Name:       f.DisplayName(),
				Optional:   f.Flags&core.FilterFlagOptional != 0,
				ClientData: f.ClientData,
			})
		}
	}

	h, err := d.file.acquire()
	if err != nil {
		return nil, err
	}
	return &Plist{handle: h, layout: layout, filters: filters}, nil
}

// Layout returns the storage layout class.
func (p *Plist) Layout() LayoutClass {
	return LayoutClass(p.layout.Class)
}

// Chunk returns the chunk extents, one per dataset dimension. It fails if
// the layout is not chunked, if the chunk rank exceeds maxRank, or if any
// extent is zero.
func (p *Plist) Chunk(maxRank int) ([]uint64, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if !p.layout.IsChunked() {
		return nil, fmt.Errorf("%w: layout is %s", ErrNotChunked, p.layout.Class)
	}
	if len(p.layout.ChunkDims) > maxRank {
		return nil, fmt.Errorf("%w: chunk rank %d > %d", ErrRankTooLarge, len(p.layout.ChunkDims), maxRank)
	}
	for i, c := range p.layout.ChunkDims {
		if c == 0 {
			return nil, fmt.Errorf("chunk dimension %d is zero", i)
		}
	}
	return append([]uint64(nil), p.layout.ChunkDims...), nil
}

// ChunkIndex names the chunk index type, for diagnostics.
func (p *Plist) ChunkIndex() string {
	if !p.layout.IsChunked() {
		return ""
	}
	return p.layout.IndexType.String()
}

// Filters returns the filter pipeline in application order.
func (p *Plist) Filters() []Filter {
	return p.filters
}

// FilterNames returns the filter names joined by commas.
func (p *Plist) FilterNames() string {
	names := make([]string, len(p.filters))
	for i, f := range p.filters {
		names[i] = f.Name
	}
	return strings.Join(names, ",")
}

// DatatypeClass is the class of a datatype.
type DatatypeClass uint8

// String returns the class name.
func (c DatatypeClass) String() string {
	return core.DatatypeClass(c).String()
}

// Datatype is the element type of a dataset.
type Datatype struct {
	handle
	msg *core.DatatypeMessage
}

// Type returns the dataset's element type. Committed datatypes are
// resolved through their shared message reference.
func (d *Dataset) Type() (*Datatype, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	data, err := d.required(core.MsgDatatype, "datatype")
	if err != nil {
		return nil, err
	}
	msg, err := core.ParseDatatypeMessage(data)
	if err != nil {
		return nil, utils.WrapErrorf(err, "%s", d.path)
	}
	h, err := d.file.acquire()
	if err != nil {
		return nil, err
	}
	return &Datatype{handle: h, msg: msg}, nil
}

// Size returns the element size in bytes.
func (t *Datatype) Size() uint64 {
	return uint64(t.msg.Size)
}

// Class returns the datatype class.
func (t *Datatype) Class() DatatypeClass {
	return DatatypeClass(t.msg.Class)
}

// String returns a short description such as "integer(4)".
func (t *Datatype) String() string {
	return t.msg.String()
}

// Dataspace is the shape of a dataset.
type Dataspace struct {
	handle
	msg *core.DataspaceMessage
}

// Space returns the dataset's dataspace.
func (d *Dataset) Space() (*Dataspace, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	msg, err := d.dataspace()
	if err != nil {
		return nil, utils.WrapErrorf(err, "%s", d.path)
	}
	h, err := d.file.acquire()
	if err != nil {
		return nil, err
	}
	return &Dataspace{handle: h, msg: msg}, nil
}

// Rank returns the number of dimensions. Scalar and null spaces have rank 0.
func (s *Dataspace) Rank() int {
	return s.msg.Rank()
}

// Dims returns the current extents.
func (s *Dataspace) Dims() []uint64 {
	return s.msg.Dimensions
}

// MaxDims returns the maximum extents; Unlimited marks unlimited dimensions.
func (s *Dataspace) MaxDims() []uint64 {
	return s.msg.EffectiveMaxDims()
}

// String returns a description such as "[3/6,4/unlimited]".
func (s *Dataspace) String() string {
	return s.msg.String()
}
