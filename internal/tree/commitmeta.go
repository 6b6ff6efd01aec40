package tree

import (
	"fmt"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

// CommitMeta carries the human-facing description of a commit.
type CommitMeta struct {
	Committer        string
	Author           string
	Email            string
	Message          string
	CommitTimeMillis int64
	Properties       map[string]string
}

// ID returns the content-derived id of the metadata.
func (c CommitMeta) ID() id.ID {
	return id.Build(c.ToEntity().Encode())
}

// ToEntity converts the metadata to its stored form.
func (c CommitMeta) ToEntity() store.Entity {
	props := make(map[string]store.Entity, len(c.Properties))
	for k, v := range c.Properties {
		props[k] = store.OfString(v)
	}
	return store.OfMap(map[string]store.Entity{
		"committer":  store.OfString(c.Committer),
		"author":     store.OfString(c.Author),
		"email":      store.OfString(c.Email),
		"message":    store.OfString(c.Message),
		"commitTime": store.OfNumber(c.CommitTimeMillis),
		"properties": store.OfMap(props),
	})
}

// SaveOp returns the save operation persisting this metadata.
func (c CommitMeta) SaveOp() store.SaveOp {
	return store.SaveOp{Type: store.ValueTypeCommitMeta, ID: c.ID(), Entity: c.ToEntity()}
}

// CommitMetaFromEntity decodes stored metadata and verifies its id.
func CommitMetaFromEntity(expected id.ID, e store.Entity) (CommitMeta, error) {
	str := func(name string) (string, error) {
		v, ok := e.Attr(name)
		if !ok {
			return "", fmt.Errorf("commit meta missing %q", name)
		}
		s, ok := v.AsString()
		if !ok {
			return "", fmt.Errorf("commit meta %q is not a string", name)
		}
		return s, nil
	}

	var (
		c   CommitMeta
		err error
	)
	if c.Committer, err = str("committer"); err != nil {
		return CommitMeta{}, err
	}
	if c.Author, err = str("author"); err != nil {
		return CommitMeta{}, err
	}
	if c.Email, err = str("email"); err != nil {
		return CommitMeta{}, err
	}
	if c.Message, err = str("message"); err != nil {
		return CommitMeta{}, err
	}
	te, ok := e.Attr("commitTime")
	if !ok {
		return CommitMeta{}, fmt.Errorf("commit meta missing commitTime")
	}
	if c.CommitTimeMillis, ok = te.AsNumber(); !ok {
		return CommitMeta{}, fmt.Errorf("commit meta commitTime is not a number")
	}
	pe, ok := e.Attr("properties")
	if !ok {
		return CommitMeta{}, fmt.Errorf("commit meta missing properties")
	}
	pm, ok := pe.AsMap()
	if !ok {
		return CommitMeta{}, fmt.Errorf("commit meta properties is not a map")
	}
	c.Properties = make(map[string]string, len(pm))
	for k, v := range pm {
		s, ok := v.AsString()
		if !ok {
			return CommitMeta{}, fmt.Errorf("commit meta property %q is not a string", k)
		}
		c.Properties[k] = s
	}
	if got := c.ID(); got != expected {
		return CommitMeta{}, fmt.Errorf("commit meta id mismatch: stored %s, computed %s: %w", expected, got, ErrCorruption)
	}
	return c, nil
}
