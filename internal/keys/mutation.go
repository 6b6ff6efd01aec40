package keys

import (
	"fmt"
	"sort"

	"github.com/norvik/vatn/internal/store"
)

// MutationType distinguishes key additions from removals.
type MutationType uint8

const (
	Addition MutationType = iota + 1
	Removal
)

// Mutation records a key added to or removed from the tree by a commit.
type Mutation struct {
	Type MutationType
	Key  Key
}

// NewAddition builds an addition mutation.
func NewAddition(k Key) Mutation {
	return Mutation{Type: Addition, Key: k}
}

// NewRemoval builds a removal mutation.
func NewRemoval(k Key) Mutation {
	return Mutation{Type: Removal, Key: k}
}

// MutationList is a set-like list of key mutations.
type MutationList struct {
	mutations []Mutation
}

// NewMutationList builds a mutation list.
func NewMutationList(muts ...Mutation) MutationList {
	c := make([]Mutation, len(muts))
	copy(c, muts)
	return MutationList{mutations: c}
}

// Mutations returns a copy of the list.
func (l MutationList) Mutations() []Mutation {
	c := make([]Mutation, len(l.mutations))
	copy(c, l.mutations)
	return c
}

// Len returns the number of mutations.
func (l MutationList) Len() int {
	return len(l.mutations)
}

// EqualsIgnoreOrder compares lists as sets.
func (l MutationList) EqualsIgnoreOrder(o MutationList) bool {
	if len(l.mutations) != len(o.mutations) {
		return false
	}
	a := l.sorted()
	b := o.sorted()
	for i := range a {
		if a[i].Type != b[i].Type || !a[i].Key.Equals(b[i].Key) {
			return false
		}
	}
	return true
}

// sorted orders mutations by (type, key) so the canonical form is
// deterministic regardless of insertion order.
func (l MutationList) sorted() []Mutation {
	c := l.Mutations()
	sort.Slice(c, func(i, j int) bool {
		if c[i].Type != c[j].Type {
			return c[i].Type < c[j].Type
		}
		return c[i].Key.Compare(c[j].Key) < 0
	})
	return c
}

// ToEntity converts the list to its stored form, sorted by (type, key).
func (l MutationList) ToEntity() store.Entity {
	sorted := l.sorted()
	elems := make([]store.Entity, len(sorted))
	for i, m := range sorted {
		elems[i] = store.OfMap(map[string]store.Entity{
			"type": store.OfNumber(int64(m.Type)),
			"key":  m.Key.ToEntity(),
		})
	}
	return store.OfList(elems...)
}

// MutationListFromEntity inverts ToEntity.
func MutationListFromEntity(e store.Entity) (MutationList, error) {
	list, ok := e.AsList()
	if !ok {
		return MutationList{}, fmt.Errorf("mutation list entity is not a list")
	}
	muts := make([]Mutation, 0, len(list))
	for i, el := range list {
		t, ok := el.Attr("type")
		if !ok {
			return MutationList{}, fmt.Errorf("mutation %d has no type", i)
		}
		tn, ok := t.AsNumber()
		if !ok {
			return MutationList{}, fmt.Errorf("mutation %d type is not a number", i)
		}
		ke, ok := el.Attr("key")
		if !ok {
			return MutationList{}, fmt.Errorf("mutation %d has no key", i)
		}
		k, err := KeyFromEntity(ke)
		if err != nil {
			return MutationList{}, fmt.Errorf("mutation %d: %w", i, err)
		}
		mt := MutationType(tn)
		if mt != Addition && mt != Removal {
			return MutationList{}, fmt.Errorf("mutation %d has unknown type %d", i, tn)
		}
		muts = append(muts, Mutation{Type: mt, Key: k})
	}
	return NewMutationList(muts...), nil
}
