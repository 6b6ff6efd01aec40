// Package tree implements the immutable entity graph: the fixed-width IdMap
// frontier, the L1/L2/L3 tree tiers and commit metadata. Every tier has a
// canonical encoding; its id is the hash of that encoding, so identical
// subtrees deduplicate for free.
package tree

import (
	"fmt"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

// IdMap is a dense, fixed-width vector of child ids.
type IdMap struct {
	ids []id.ID
}

// NewIdMap creates a map of the given width with every slot empty.
func NewIdMap(size int) IdMap {
	return IdMap{ids: make([]id.ID, size)}
}

// Size returns the width of the map.
func (m IdMap) Size() int {
	return len(m.ids)
}

// Get returns the id at a slot.
func (m IdMap) Get(pos int) id.ID {
	return m.ids[pos]
}

// WithID returns a new map with one slot replaced.
func (m IdMap) WithID(pos int, i id.ID) IdMap {
	if pos < 0 || pos >= len(m.ids) {
		panic(fmt.Sprintf("idmap position %d out of range 0..%d", pos, len(m.ids)-1))
	}
	c := make([]id.ID, len(m.ids))
	copy(c, m.ids)
	c[pos] = i
	return IdMap{ids: c}
}

// Equals compares maps element-wise.
func (m IdMap) Equals(o IdMap) bool {
	if len(m.ids) != len(o.ids) {
		return false
	}
	for i := range m.ids {
		if m.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

// ToEntity converts the map to its stored form.
func (m IdMap) ToEntity() store.Entity {
	elems := make([]store.Entity, len(m.ids))
	for i, v := range m.ids {
		elems[i] = store.OfBinary(v[:])
	}
	return store.OfList(elems...)
}

// IdMapFromEntity inverts ToEntity and enforces the width invariant.
func IdMapFromEntity(e store.Entity, size int) (IdMap, error) {
	list, ok := e.AsList()
	if !ok {
		return IdMap{}, fmt.Errorf("idmap entity is not a list")
	}
	if len(list) != size {
		return IdMap{}, fmt.Errorf("idmap has %d slots, want %d", len(list), size)
	}
	ids := make([]id.ID, size)
	for i, el := range list {
		b, ok := el.AsBinary()
		if !ok {
			return IdMap{}, fmt.Errorf("idmap slot %d is not binary", i)
		}
		v, err := id.FromBytes(b)
		if err != nil {
			return IdMap{}, fmt.Errorf("idmap slot %d: %w", i, err)
		}
		ids[i] = v
	}
	return IdMap{ids: ids}, nil
}
