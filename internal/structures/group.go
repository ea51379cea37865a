package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/h5chunk/internal/core"
	"github.com/scigolib/h5chunk/internal/utils"
)

// GroupLink is a resolved child of a group. Hard is false for soft and
// external links, which have no address in this file.
type GroupLink struct {
	Name    string
	Address uint64
	Hard    bool
}

func linkFromMessage(lm *core.LinkMessage) GroupLink {
	return GroupLink{Name: lm.Name, Address: lm.Address, Hard: lm.IsHard()}
}

// ReadCompactLinks returns the links stored as messages in a group's
// object header.
func ReadCompactLinks(header *core.ObjectHeader, sb *core.Superblock) ([]GroupLink, error) {
	msgs := header.FindAll(core.MsgLinkMessage)
	links := make([]GroupLink, 0, len(msgs))
	for i, msg := range msgs {
		lm, err := core.ParseLinkMessage(msg.Data, sb)
		if err != nil {
			return nil, utils.WrapErrorf(err, "link message %d", i)
		}
		links = append(links, linkFromMessage(lm))
	}
	return links, nil
}

// ReadDenseLinks returns the links of a group whose link messages live in
// a fractal heap indexed by a name B-tree (record type 5: name hash and
// heap ID).
func ReadDenseLinks(r io.ReaderAt, info *core.LinkInfoMessage, sb *core.Superblock) ([]GroupLink, error) {
	heap, err := OpenFractalHeap(r, info.FractalHeapAddress, sb)
	if err != nil {
		return nil, utils.WrapError("link heap", err)
	}
	bt, err := ReadBTreeV2Header(r, info.NameBTreeAddress, sb)
	if err != nil {
		return nil, utils.WrapError("link name index", err)
	}
	if bt.Type != BTreeV2LinkNameType {
		return nil, fmt.Errorf("link name index has record type %d", bt.Type)
	}
	if int(bt.RecordSize) < 4+1 {
		return nil, fmt.Errorf("link name record size %d too small", bt.RecordSize)
	}

	var links []GroupLink
	err = bt.Walk(r, sb, func(rec []byte) error {
		data, err := heap.ReadObject(rec[4:])
		if err != nil {
			return err
		}
		lm, err := core.ParseLinkMessage(data, sb)
		if err != nil {
			return err
		}
		links = append(links, linkFromMessage(lm))
		return nil
	})
	if err != nil {
		return nil, utils.WrapError("dense link walk failed", err)
	}
	return links, nil
}
