package branch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

// Ref is a named reference record: a branch with its intention log, or a
// plain tag. Reference ids derive from the name, so records are mutated in
// place through conditional updates rather than being content-addressed.
type Ref interface {
	ID() id.ID
	Name() string
	DT() int64
	ToEntity() store.Entity
}

const (
	refTypeBranch = "branch"
	refTypeTag    = "tag"
)

// Tag is a fixed pointer at an L1. No intention log.
type Tag struct {
	id       id.ID
	name     string
	commitID id.ID
	dt       int64
}

// NewTag creates a tag pointing at a persisted L1.
func NewTag(name string, commitID id.ID) *Tag {
	return &Tag{id: id.BuildString(name), name: name, commitID: commitID, dt: nowMicros()}
}

// ID implements Ref.
func (t *Tag) ID() id.ID { return t.id }

// Name implements Ref.
func (t *Tag) Name() string { return t.name }

// DT implements Ref.
func (t *Tag) DT() int64 { return t.dt }

// CommitID returns the L1 the tag points at.
func (t *Tag) CommitID() id.ID { return t.commitID }

// ToEntity implements Ref.
func (t *Tag) ToEntity() store.Entity {
	return store.OfMap(map[string]store.Entity{
		"type":   store.OfString(refTypeTag),
		"name":   store.OfString(t.name),
		"dt":     store.OfNumber(t.dt),
		"commit": store.OfBinary(t.commitID[:]),
	})
}

// RefFromEntity decodes a reference record, dispatching on its type tag.
func RefFromEntity(e store.Entity) (Ref, error) {
	te, ok := e.Attr("type")
	if !ok {
		return nil, fmt.Errorf("ref entity missing type")
	}
	typ, ok := te.AsString()
	if !ok {
		return nil, fmt.Errorf("ref type is not a string")
	}
	switch typ {
	case refTypeBranch:
		return BranchFromEntity(e)
	case refTypeTag:
		return tagFromEntity(e)
	default:
		return nil, fmt.Errorf("unknown ref type %q", typ)
	}
}

// LoadRef loads a reference by id. A missing record is ErrRefNotFound.
func LoadRef(ctx context.Context, s store.Store, i id.ID) (Ref, error) {
	e, err := s.LoadSingle(ctx, store.ValueTypeRef, i)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("ref %s: %w", i, ErrRefNotFound)
		}
		return nil, err
	}
	return RefFromEntity(e)
}

// LoadBranch loads a reference by name and requires it to be a branch.
func LoadBranch(ctx context.Context, s store.Store, name string) (*Branch, error) {
	ref, err := LoadRef(ctx, s, id.BuildString(name))
	if err != nil {
		return nil, err
	}
	b, ok := ref.(*Branch)
	if !ok {
		return nil, fmt.Errorf("ref %q is not a branch: %w", name, ErrRefNotFound)
	}
	return b, nil
}

func tagFromEntity(e store.Entity) (*Tag, error) {
	name, dt, err := refHeader(e)
	if err != nil {
		return nil, err
	}
	commitID, err := idAttr(e, "commit")
	if err != nil {
		return nil, fmt.Errorf("tag: %w", err)
	}
	return &Tag{id: id.BuildString(name), name: name, commitID: commitID, dt: dt}, nil
}

func refHeader(e store.Entity) (string, int64, error) {
	ne, ok := e.Attr("name")
	if !ok {
		return "", 0, fmt.Errorf("ref entity missing name")
	}
	name, ok := ne.AsString()
	if !ok {
		return "", 0, fmt.Errorf("ref name is not a string")
	}
	de, ok := e.Attr("dt")
	if !ok {
		return "", 0, fmt.Errorf("ref entity missing dt")
	}
	dt, ok := de.AsNumber()
	if !ok {
		return "", 0, fmt.Errorf("ref dt is not a number")
	}
	return name, dt, nil
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}
