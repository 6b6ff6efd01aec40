// Package memstore implements the Store contract in memory with thread-safe
// access. It backs tests and embedded use.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu   sync.RWMutex
	data map[store.ValueType]map[id.ID][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	data := make(map[store.ValueType]map[id.ID][]byte)
	for _, vt := range store.ValueTypes() {
		data[vt] = make(map[id.ID][]byte)
	}
	return &Store{data: data}
}

// LoadSingle implements store.Store.
func (s *Store) LoadSingle(ctx context.Context, vt store.ValueType, i id.ID) (store.Entity, error) {
	s.mu.RLock()
	raw, ok := s.data[vt][i]
	s.mu.RUnlock()
	if !ok {
		return store.Entity{}, fmt.Errorf("load %s %s: %w", vt, i, store.ErrNotFound)
	}
	return store.DecodeEntity(raw)
}

// LoadMulti implements store.Store.
func (s *Store) LoadMulti(ctx context.Context, vt store.ValueType, ids []id.ID) ([]store.Entity, error) {
	out := make([]store.Entity, 0, len(ids))
	for _, i := range ids {
		e, err := s.LoadSingle(ctx, vt, i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, ops []store.SaveOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		raw := op.Entity.Encode()
		if existing, ok := s.data[op.Type][op.ID]; ok {
			if bytes.Equal(existing, raw) {
				continue
			}
			return fmt.Errorf("save %s %s: %w", op.Type, op.ID, store.ErrAlreadyExists)
		}
		s.data[op.Type][op.ID] = raw
	}
	return nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, vt store.ValueType, i id.ID, update store.UpdateExpression, condition *store.ConditionExpression) (store.Entity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[vt][i]
	if !ok {
		return store.Entity{}, false, fmt.Errorf("update %s %s: %w", vt, i, store.ErrNotFound)
	}
	e, err := store.DecodeEntity(raw)
	if err != nil {
		return store.Entity{}, false, err
	}
	if condition != nil && !condition.Check(e) {
		return store.Entity{}, false, nil
	}
	updated, err := update.Apply(e)
	if err != nil {
		return store.Entity{}, false, fmt.Errorf("update %s %s: %w", vt, i, err)
	}
	s.data[vt][i] = updated.Encode()
	return updated, true, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, vt store.ValueType, i id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[vt][i]; !ok {
		return fmt.Errorf("delete %s %s: %w", vt, i, store.ErrNotFound)
	}
	delete(s.data[vt], i)
	return nil
}

// ScanRefs returns every reference record.
func (s *Store) ScanRefs(ctx context.Context) ([]store.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Entity, 0, len(s.data[store.ValueTypeRef]))
	for _, raw := range s.data[store.ValueTypeRef] {
		e, err := store.DecodeEntity(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Len returns the number of records of a kind, for tests.
func (s *Store) Len(vt store.ValueType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[vt])
}
