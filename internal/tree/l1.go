package tree

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/keys"
	"github.com/norvik/vatn/internal/store"
)

const (
	// L1Size is the width of an L1's frontier.
	L1Size = 43
	// L2Size is the width of an L2's child map.
	L2Size = 199

	// maxAncestors bounds the ancestry list carried by an L1. Past the
	// bound, older ancestors are summarised behind a checkpoint so walks
	// stay O(1) amortised.
	maxAncestors  = 20
	keepAncestors = 5
)

// ErrCorruption reports a stored entity whose content does not match its id,
// or an invariant violation while reconstructing state.
var ErrCorruption = errors.New("corruption detected")

// L1 summarises the tree state at a commit. Immutable; the zero value is not
// usable, construct via L1Empty or GetChildWithTree.
type L1 struct {
	empty      bool
	metadataID id.ID
	tree       IdMap
	parents    []id.ID // most recent first; parents[0] is the direct parent
	checkpoint id.ID
	mutations  keys.MutationList
}

var l1Empty = L1{empty: true, tree: NewIdMap(L1Size)}

// L1Empty returns the canonical empty L1. Its id is id.Empty.
func L1Empty() L1 {
	return l1Empty
}

// ID returns the content-derived id of the L1.
func (l L1) ID() id.ID {
	if l.empty {
		return id.Empty
	}
	return id.Build(l.ToEntity().Encode())
}

// MetadataID returns the commit-metadata id.
func (l L1) MetadataID() id.ID {
	return l.metadataID
}

// ParentID returns the direct parent id, or id.Empty for the first commit.
func (l L1) ParentID() id.ID {
	if len(l.parents) == 0 {
		return id.Empty
	}
	return l.parents[0]
}

// Ancestors returns the bounded ancestry list, most recent first.
func (l L1) Ancestors() []id.ID {
	c := make([]id.ID, len(l.parents))
	copy(c, l.parents)
	return c
}

// CheckpointID returns the checkpoint pointer, or id.Empty when the full
// ancestry fits in the list.
func (l L1) CheckpointID() id.ID {
	return l.checkpoint
}

// Map returns the L1's frontier.
func (l L1) Map() IdMap {
	return l.tree
}

// KeyMutations returns the key mutations recorded by the commit.
func (l L1) KeyMutations() keys.MutationList {
	return l.mutations
}

// GetChildWithTree builds the derived L1 for a new commit. The child's
// parent is this L1.
func (l L1) GetChildWithTree(commitID id.ID, t IdMap, m keys.MutationList) L1 {
	parents := make([]id.ID, 0, len(l.parents)+1)
	parents = append(parents, l.ID())
	parents = append(parents, l.parents...)
	return L1{
		metadataID: commitID,
		tree:       t,
		parents:    parents,
		checkpoint: l.checkpoint,
		mutations:  m,
	}
}

// WithCheckpointAsNecessary bounds the ancestry list. When the chain has
// grown past maxAncestors, the list is trimmed to the keepAncestors most
// recent entries and the next older ancestor becomes the checkpoint.
// unsaved lets a cascade of not yet
// persisted L1s resolve the checkpoint target without a store round trip.
func (l L1) WithCheckpointAsNecessary(ctx context.Context, s store.Store, unsaved map[id.ID]L1) (L1, error) {
	if len(l.parents) <= maxAncestors {
		return l, nil
	}
	cp := l.parents[keepAncestors]
	if _, ok := unsaved[cp]; !ok {
		if _, err := LoadL1(ctx, s, cp); err != nil {
			return L1{}, fmt.Errorf("resolve checkpoint %s: %w", cp, err)
		}
	}
	nl := l
	nl.parents = append([]id.ID(nil), l.parents[:keepAncestors]...)
	nl.checkpoint = cp
	return nl, nil
}

// ToEntity converts the L1 to its stored form.
func (l L1) ToEntity() store.Entity {
	parents := make([]store.Entity, len(l.parents))
	for i, p := range l.parents {
		parents[i] = store.OfBinary(p[:])
	}
	return store.OfMap(map[string]store.Entity{
		"metadata":   store.OfBinary(l.metadataID[:]),
		"tree":       l.tree.ToEntity(),
		"parents":    store.OfList(parents...),
		"checkpoint": store.OfBinary(l.checkpoint[:]),
		"keys":       l.mutations.ToEntity(),
	})
}

// SaveOp returns the save operation persisting this L1.
func (l L1) SaveOp() store.SaveOp {
	return store.SaveOp{Type: store.ValueTypeL1, ID: l.ID(), Entity: l.ToEntity()}
}

// L1FromEntity decodes a stored L1 and verifies its id.
func L1FromEntity(expected id.ID, e store.Entity) (L1, error) {
	attr := func(name string) (store.Entity, error) {
		v, ok := e.Attr(name)
		if !ok {
			return store.Entity{}, fmt.Errorf("l1 entity missing %q", name)
		}
		return v, nil
	}

	me, err := attr("metadata")
	if err != nil {
		return L1{}, err
	}
	metadataID, err := idFromBinary(me)
	if err != nil {
		return L1{}, fmt.Errorf("l1 metadata: %w", err)
	}
	te, err := attr("tree")
	if err != nil {
		return L1{}, err
	}
	t, err := IdMapFromEntity(te, L1Size)
	if err != nil {
		return L1{}, fmt.Errorf("l1 tree: %w", err)
	}
	pe, err := attr("parents")
	if err != nil {
		return L1{}, err
	}
	plist, ok := pe.AsList()
	if !ok {
		return L1{}, fmt.Errorf("l1 parents is not a list")
	}
	parents := make([]id.ID, len(plist))
	for i, el := range plist {
		parents[i], err = idFromBinary(el)
		if err != nil {
			return L1{}, fmt.Errorf("l1 parent %d: %w", i, err)
		}
	}
	ce, err := attr("checkpoint")
	if err != nil {
		return L1{}, err
	}
	checkpoint, err := idFromBinary(ce)
	if err != nil {
		return L1{}, fmt.Errorf("l1 checkpoint: %w", err)
	}
	ke, err := attr("keys")
	if err != nil {
		return L1{}, err
	}
	mutations, err := keys.MutationListFromEntity(ke)
	if err != nil {
		return L1{}, fmt.Errorf("l1 keys: %w", err)
	}

	l := L1{
		metadataID: metadataID,
		tree:       t,
		parents:    parents,
		checkpoint: checkpoint,
		mutations:  mutations,
	}
	if got := l.ID(); got != expected {
		return L1{}, fmt.Errorf("l1 id mismatch: stored %s, computed %s: %w", expected, got, ErrCorruption)
	}
	return l, nil
}

// LoadL1 loads an L1 by id. id.Empty resolves to the canonical empty L1
// without touching the store.
func LoadL1(ctx context.Context, s store.Store, i id.ID) (L1, error) {
	if i.IsEmpty() {
		return L1Empty(), nil
	}
	e, err := s.LoadSingle(ctx, store.ValueTypeL1, i)
	if err != nil {
		return L1{}, err
	}
	return L1FromEntity(i, e)
}

// L1Position routes a key to its L1 frontier slot.
func L1Position(k keys.Key) int {
	h := id.Build(k.Canonical())
	return int(binary.BigEndian.Uint64(h[:8]) % L1Size)
}

// L2Position routes a key to its slot inside an L2.
func L2Position(k keys.Key) int {
	h := id.Build(k.Canonical())
	return int(binary.BigEndian.Uint64(h[8:16]) % L2Size)
}

func idFromBinary(e store.Entity) (id.ID, error) {
	b, ok := e.AsBinary()
	if !ok {
		return id.Empty, fmt.Errorf("entity is not binary")
	}
	return id.FromBytes(b)
}
