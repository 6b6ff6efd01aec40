package tree

import (
	"context"
	"fmt"
	"sort"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/keys"
	"github.com/norvik/vatn/internal/store"
)

// L3 is the leaf tier: a sorted key to value-id map.
type L3 struct {
	entries []l3Entry
}

type l3Entry struct {
	key     keys.Key
	valueID id.ID
}

// L3Empty returns the canonical empty L3. Its id is id.Empty.
func L3Empty() L3 {
	return L3{}
}

// ID returns the content-derived id of the L3.
func (l L3) ID() id.ID {
	if len(l.entries) == 0 {
		return id.Empty
	}
	return id.Build(l.ToEntity().Encode())
}

// Get returns the value id for a key, or id.Empty when absent.
func (l L3) Get(k keys.Key) id.ID {
	for _, e := range l.entries {
		if e.key.Equals(k) {
			return e.valueID
		}
	}
	return id.Empty
}

// With returns a new L3 with the key set to the value id. An empty value id
// removes the key.
func (l L3) With(k keys.Key, valueID id.ID) L3 {
	out := make([]l3Entry, 0, len(l.entries)+1)
	for _, e := range l.entries {
		if !e.key.Equals(k) {
			out = append(out, e)
		}
	}
	if !valueID.IsEmpty() {
		out = append(out, l3Entry{key: k, valueID: valueID})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].key.Compare(out[j].key) < 0
	})
	return L3{entries: out}
}

// Keys returns the keys present, in order.
func (l L3) Keys() []keys.Key {
	out := make([]keys.Key, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.key
	}
	return out
}

// ToEntity converts the L3 to its stored form.
func (l L3) ToEntity() store.Entity {
	elems := make([]store.Entity, len(l.entries))
	for i, e := range l.entries {
		elems[i] = store.OfMap(map[string]store.Entity{
			"key":   e.key.ToEntity(),
			"value": store.OfBinary(e.valueID[:]),
		})
	}
	return store.OfMap(map[string]store.Entity{
		"entries": store.OfList(elems...),
	})
}

// SaveOp returns the save operation persisting this L3.
func (l L3) SaveOp() store.SaveOp {
	return store.SaveOp{Type: store.ValueTypeL3, ID: l.ID(), Entity: l.ToEntity()}
}

// L3FromEntity decodes a stored L3 and verifies its id.
func L3FromEntity(expected id.ID, e store.Entity) (L3, error) {
	ee, ok := e.Attr("entries")
	if !ok {
		return L3{}, fmt.Errorf("l3 entity missing entries")
	}
	list, ok := ee.AsList()
	if !ok {
		return L3{}, fmt.Errorf("l3 entries is not a list")
	}
	entries := make([]l3Entry, len(list))
	for i, el := range list {
		ke, ok := el.Attr("key")
		if !ok {
			return L3{}, fmt.Errorf("l3 entry %d missing key", i)
		}
		k, err := keys.KeyFromEntity(ke)
		if err != nil {
			return L3{}, fmt.Errorf("l3 entry %d key: %w", i, err)
		}
		ve, ok := el.Attr("value")
		if !ok {
			return L3{}, fmt.Errorf("l3 entry %d missing value", i)
		}
		v, err := idFromBinary(ve)
		if err != nil {
			return L3{}, fmt.Errorf("l3 entry %d value: %w", i, err)
		}
		entries[i] = l3Entry{key: k, valueID: v}
	}
	l := L3{entries: entries}
	if got := l.ID(); got != expected {
		return L3{}, fmt.Errorf("l3 id mismatch: stored %s, computed %s: %w", expected, got, ErrCorruption)
	}
	return l, nil
}

// LoadL3 loads an L3 by id, resolving id.Empty to the canonical empty L3.
func LoadL3(ctx context.Context, s store.Store, i id.ID) (L3, error) {
	if i.IsEmpty() {
		return L3Empty(), nil
	}
	e, err := s.LoadSingle(ctx, store.ValueTypeL3, i)
	if err != nil {
		return L3{}, err
	}
	return L3FromEntity(i, e)
}
