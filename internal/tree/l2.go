package tree

import (
	"context"
	"fmt"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

// L2 is the middle tree tier: a fixed-width map of L3 ids.
type L2 struct {
	empty bool
	tree  IdMap
}

var l2Empty = L2{empty: true, tree: NewIdMap(L2Size)}

// L2Empty returns the canonical empty L2. Its id is id.Empty.
func L2Empty() L2 {
	return l2Empty
}

// ID returns the content-derived id of the L2.
func (l L2) ID() id.ID {
	if l.empty {
		return id.Empty
	}
	return id.Build(l.ToEntity().Encode())
}

// Map returns the child map.
func (l L2) Map() IdMap {
	return l.tree
}

// Get returns the L3 id at a slot.
func (l L2) Get(pos int) id.ID {
	return l.tree.Get(pos)
}

// WithID returns a new L2 with one child replaced.
func (l L2) WithID(pos int, i id.ID) L2 {
	return L2{tree: l.tree.WithID(pos, i)}
}

// ToEntity converts the L2 to its stored form.
func (l L2) ToEntity() store.Entity {
	return store.OfMap(map[string]store.Entity{
		"children": l.tree.ToEntity(),
	})
}

// SaveOp returns the save operation persisting this L2.
func (l L2) SaveOp() store.SaveOp {
	return store.SaveOp{Type: store.ValueTypeL2, ID: l.ID(), Entity: l.ToEntity()}
}

// L2FromEntity decodes a stored L2 and verifies its id.
func L2FromEntity(expected id.ID, e store.Entity) (L2, error) {
	ce, ok := e.Attr("children")
	if !ok {
		return L2{}, fmt.Errorf("l2 entity missing children")
	}
	t, err := IdMapFromEntity(ce, L2Size)
	if err != nil {
		return L2{}, fmt.Errorf("l2 children: %w", err)
	}
	l := L2{tree: t}
	if got := l.ID(); got != expected {
		return L2{}, fmt.Errorf("l2 id mismatch: stored %s, computed %s: %w", expected, got, ErrCorruption)
	}
	return l, nil
}

// LoadL2 loads an L2 by id, resolving id.Empty to the canonical empty L2.
func LoadL2(ctx context.Context, s store.Store, i id.ID) (L2, error) {
	if i.IsEmpty() {
		return L2Empty(), nil
	}
	e, err := s.LoadSingle(ctx, store.ValueTypeL2, i)
	if err != nil {
		return L2{}, err
	}
	return L2FromEntity(i, e)
}
