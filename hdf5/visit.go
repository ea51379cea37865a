package hdf5

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/structures"
)

// ObjectKind classifies an object reached during traversal.
type ObjectKind uint8

// Object kinds.
const (
	ObjectUnknown ObjectKind = iota
	ObjectGroup
	ObjectDataset
	ObjectDatatype
)

// String returns the kind name.
func (k ObjectKind) String() string {
	switch k {
	case ObjectGroup:
		return "group"
	case ObjectDataset:
		return "dataset"
	case ObjectDatatype:
		return "datatype"
	default:
		return "unknown"
	}
}

func kindOf(t core.ObjectType) ObjectKind {
	switch t {
	case core.ObjectTypeGroup:
		return ObjectGroup
	case core.ObjectTypeDataset:
		return ObjectDataset
	case core.ObjectTypeDatatype:
		return ObjectDatatype
	default:
		return ObjectUnknown
	}
}

// ObjectInfo describes one visited object. Path is relative to the start of
// the visit: "." for the start itself, otherwise "a/b/c".
type ObjectInfo struct {
	Path    string
	Kind    ObjectKind
	Address uint64
}

// VisitFunc is called once per object. A non-nil return stops the visit and
// is returned by Visit unchanged.
type VisitFunc func(ObjectInfo) error

// Visit walks the tree below start depth-first in pre-order. Group members
// are visited in ascending name order. Objects reachable through several
// hard links are visited once; soft and external links are not followed.
func (f *File) Visit(start string, fn VisitFunc) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	addr, err := f.resolve(start)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTraversal, err)
	}
	w := &walker{file: f, fn: fn, seen: map[uint64]bool{addr: true}}
	return w.visit(".", addr)
}

type walker struct {
	file *File
	fn   VisitFunc
	seen map[uint64]bool
}

// visitorError marks an error returned by the VisitFunc so that it crosses
// the recursion unwrapped.
type visitorError struct{ err error }

func (e visitorError) Error() string { return e.err.Error() }

func (w *walker) visit(rel string, addr uint64) error {
	err := w.walk(rel, addr)
	if ve, ok := err.(visitorError); ok { //nolint:errorlint // only produced by walk
		return ve.err
	}
	return err
}

func (w *walker) walk(rel string, addr uint64) error {
	oh, err := w.file.readHeader(addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTraversal, rel, err)
	}

	info := ObjectInfo{Path: rel, Kind: kindOf(oh.Type()), Address: addr}
	if err := w.fn(info); err != nil {
		return visitorError{err}
	}
	if info.Kind != ObjectGroup {
		return nil
	}

	links, err := w.file.groupLinks(oh)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTraversal, rel, err)
	}
	for _, link := range links {
		if !link.Hard || w.seen[link.Address] {
			continue
		}
		w.seen[link.Address] = true

		child := link.Name
		if rel != "." {
			child = rel + "/" + link.Name
		}
		if err := w.walk(child, link.Address); err != nil {
			return err
		}
	}
	return nil
}

// groupLinks returns the members of a group sorted by name, whichever of
// the three storage styles the group uses.
func (f *File) groupLinks(oh *core.ObjectHeader) ([]structures.GroupLink, error) {
	var (
		links []structures.GroupLink
		err   error
	)
	switch {
	case oh.Find(core.MsgSymbolTable) != nil:
		var st *core.SymbolTableMessage
		st, err = core.ParseSymbolTableMessage(oh.Find(core.MsgSymbolTable).Data, f.sb)
		if err == nil {
			links, err = structures.ReadSymbolTableGroup(f.r, st, f.sb)
		}
	case oh.Find(core.MsgLinkInfo) != nil:
		var li *core.LinkInfoMessage
		li, err = core.ParseLinkInfoMessage(oh.Find(core.MsgLinkInfo).Data, f.sb)
		if err != nil {
			break
		}
		if li.IsDense() {
			links, err = structures.ReadDenseLinks(f.r, li, f.sb)
		} else {
			links, err = structures.ReadCompactLinks(oh, f.sb)
		}
	default:
		links, err = structures.ReadCompactLinks(oh, f.sb)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	return links, nil
}

// resolve follows hard links from the root group to the object named by p.
func (f *File) resolve(p string) (uint64, error) {
	addr := f.sb.RootGroup
	cur := "/"
	for _, name := range strings.Split(path.Clean("/"+p), "/") {
		if name == "" {
			continue
		}
		oh, err := f.readHeader(addr)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", cur, err)
		}
		if oh.Type() != core.ObjectTypeGroup {
			return 0, fmt.Errorf("%w: %s is not a group", ErrNotFound, cur)
		}
		links, err := f.groupLinks(oh)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", cur, err)
		}
		i := sort.Search(len(links), func(i int) bool { return links[i].Name >= name })
		if i == len(links) || links[i].Name != name || !links[i].Hard {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path.Join(cur, name))
		}
		addr = links[i].Address
		cur = path.Join(cur, name)
	}
	return addr, nil
}
