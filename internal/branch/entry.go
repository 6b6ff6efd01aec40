package branch

import (
	"fmt"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/keys"
	"github.com/norvik/vatn/internal/store"
	"github.com/norvik/vatn/internal/tree"
)

// Attribute names of a commit entry inside the branch record. The collapse
// condition and update expressions address these directly.
const (
	attrCommits = "commits"
	attrID      = "id"
	attrCommit  = "commit"
	attrParent  = "parent"
	attrDeltas  = "deltas"
	attrKeys    = "keys"
)

// UnsavedDelta describes a single slot change in the frontier, applied and
// reversed point-wise.
type UnsavedDelta struct {
	Position int
	OldID    id.ID
	NewID    id.ID
}

// Apply moves the frontier forward over this delta.
func (d UnsavedDelta) Apply(m tree.IdMap) tree.IdMap {
	return m.WithID(d.Position, d.NewID)
}

// Reverse undoes this delta.
func (d UnsavedDelta) Reverse(m tree.IdMap) tree.IdMap {
	return m.WithID(d.Position, d.OldID)
}

func (d UnsavedDelta) toEntity() store.Entity {
	return store.OfMap(map[string]store.Entity{
		"position": store.OfNumber(int64(d.Position)),
		"old":      store.OfBinary(d.OldID[:]),
		"new":      store.OfBinary(d.NewID[:]),
	})
}

func deltaFromEntity(e store.Entity) (UnsavedDelta, error) {
	pe, ok := e.Attr("position")
	if !ok {
		return UnsavedDelta{}, fmt.Errorf("delta missing position")
	}
	pos, ok := pe.AsNumber()
	if !ok {
		return UnsavedDelta{}, fmt.Errorf("delta position is not a number")
	}
	oldID, err := idAttr(e, "old")
	if err != nil {
		return UnsavedDelta{}, fmt.Errorf("delta: %w", err)
	}
	newID, err := idAttr(e, "new")
	if err != nil {
		return UnsavedDelta{}, fmt.Errorf("delta: %w", err)
	}
	return UnsavedDelta{Position: int(pos), OldID: oldID, NewID: newID}, nil
}

// CommitEntry is one element of a branch's commit log: either a Saved
// pointer at a persisted L1, or an Unsaved intention carrying the deltas
// needed to derive one.
type CommitEntry struct {
	saved     bool
	id        id.ID
	commit    id.ID
	parent    id.ID          // saved only
	deltas    []UnsavedDelta // unsaved only
	mutations keys.MutationList
}

// NewSavedEntry builds a Saved entry pointing at a persisted L1.
func NewSavedEntry(l1ID, commitID, parentID id.ID) CommitEntry {
	return CommitEntry{saved: true, id: l1ID, commit: commitID, parent: parentID}
}

// NewUnsavedEntry builds an Unsaved intention. The placeholder id must be
// random so racing writers never pin the same tail.
func NewUnsavedEntry(placeholder, commitID id.ID, deltas []UnsavedDelta, muts keys.MutationList) (CommitEntry, error) {
	if len(deltas) == 0 {
		return CommitEntry{}, fmt.Errorf("unsaved commit entry needs at least one delta")
	}
	c := make([]UnsavedDelta, len(deltas))
	copy(c, deltas)
	return CommitEntry{saved: false, id: placeholder, commit: commitID, deltas: c, mutations: muts}, nil
}

// Saved reports whether the entry points at a persisted L1.
func (c CommitEntry) Saved() bool { return c.saved }

// ID returns the L1 id (saved) or the placeholder (unsaved).
func (c CommitEntry) ID() id.ID { return c.id }

// CommitID returns the commit-metadata id.
func (c CommitEntry) CommitID() id.ID { return c.commit }

// ParentID returns the parent L1 id of a saved entry.
func (c CommitEntry) ParentID() id.ID { return c.parent }

// Deltas returns the unsaved entry's slot changes.
func (c CommitEntry) Deltas() []UnsavedDelta {
	out := make([]UnsavedDelta, len(c.deltas))
	copy(out, c.deltas)
	return out
}

// KeyMutations returns the unsaved entry's key mutations.
func (c CommitEntry) KeyMutations() keys.MutationList { return c.mutations }

// Equals compares entries; key mutation lists compare order-insensitively.
func (c CommitEntry) Equals(o CommitEntry) bool {
	if c.saved != o.saved || c.id != o.id || c.commit != o.commit || c.parent != o.parent {
		return false
	}
	if len(c.deltas) != len(o.deltas) {
		return false
	}
	for i := range c.deltas {
		if c.deltas[i] != o.deltas[i] {
			return false
		}
	}
	return c.mutations.EqualsIgnoreOrder(o.mutations)
}

func (c CommitEntry) toEntity() store.Entity {
	m := map[string]store.Entity{
		attrID:     store.OfBinary(c.id[:]),
		attrCommit: store.OfBinary(c.commit[:]),
	}
	if c.saved {
		m[attrParent] = store.OfBinary(c.parent[:])
	} else {
		deltas := make([]store.Entity, len(c.deltas))
		for i, d := range c.deltas {
			deltas[i] = d.toEntity()
		}
		m[attrDeltas] = store.OfList(deltas...)
		m[attrKeys] = c.mutations.ToEntity()
	}
	return store.OfMap(m)
}

// entryFromEntity decodes a commit entry; saved-ness is carried by the
// presence of the parent attribute, which is exactly what the collapse
// update rewrites.
func entryFromEntity(e store.Entity) (CommitEntry, error) {
	entryID, err := idAttr(e, attrID)
	if err != nil {
		return CommitEntry{}, fmt.Errorf("commit entry: %w", err)
	}
	commitID, err := idAttr(e, attrCommit)
	if err != nil {
		return CommitEntry{}, fmt.Errorf("commit entry: %w", err)
	}
	if pe, ok := e.Attr(attrParent); ok {
		parent, err := idFromBinaryEntity(pe)
		if err != nil {
			return CommitEntry{}, fmt.Errorf("commit entry parent: %w", err)
		}
		return NewSavedEntry(entryID, commitID, parent), nil
	}
	de, ok := e.Attr(attrDeltas)
	if !ok {
		return CommitEntry{}, fmt.Errorf("commit entry has neither parent nor deltas")
	}
	dlist, ok := de.AsList()
	if !ok {
		return CommitEntry{}, fmt.Errorf("commit entry deltas is not a list")
	}
	deltas := make([]UnsavedDelta, len(dlist))
	for i, el := range dlist {
		deltas[i], err = deltaFromEntity(el)
		if err != nil {
			return CommitEntry{}, err
		}
	}
	ke, ok := e.Attr(attrKeys)
	if !ok {
		return CommitEntry{}, fmt.Errorf("commit entry missing keys")
	}
	muts, err := keys.MutationListFromEntity(ke)
	if err != nil {
		return CommitEntry{}, fmt.Errorf("commit entry keys: %w", err)
	}
	return NewUnsavedEntry(entryID, commitID, deltas, muts)
}

func idAttr(e store.Entity, name string) (id.ID, error) {
	v, ok := e.Attr(name)
	if !ok {
		return id.Empty, fmt.Errorf("missing %q", name)
	}
	return idFromBinaryEntity(v)
}

func idFromBinaryEntity(e store.Entity) (id.ID, error) {
	b, ok := e.AsBinary()
	if !ok {
		return id.Empty, fmt.Errorf("entity is not binary")
	}
	return id.FromBytes(b)
}
