// Package boltstore implements the Store contract on bbolt. One bucket per
// record kind; conditional updates run inside a single write transaction,
// which gives the per-key atomicity the collapse protocol relies on.
package boltstore

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

// Store is a bbolt-backed store.Store.
type Store struct {
	db  *bbolt.DB
	log *zap.Logger
}

// Open opens (or creates) the store file and ensures all kind buckets exist.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := bbolt.Open(path, 0666, nil)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, vt := range store.ValueTypes() {
			if _, e := tx.CreateBucketIfNotExists([]byte(vt.String())); e != nil {
				return e
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadSingle implements store.Store.
func (s *Store) LoadSingle(ctx context.Context, vt store.ValueType, i id.ID) (store.Entity, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(vt.String())).Get(i[:])
		if v == nil {
			return fmt.Errorf("load %s %s: %w", vt, i, store.ErrNotFound)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return store.Entity{}, err
	}
	return store.DecodeEntity(raw)
}

// LoadMulti implements store.Store. Reads run concurrently; bbolt allows
// parallel read transactions.
func (s *Store) LoadMulti(ctx context.Context, vt store.ValueType, ids []id.ID) ([]store.Entity, error) {
	out := make([]store.Entity, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	for n, i := range ids {
		n, i := n, i
		g.Go(func() error {
			e, err := s.LoadSingle(ctx, vt, i)
			if err != nil {
				return err
			}
			out[n] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Save implements store.Store. The batch commits in one transaction; items
// already present with identical content are skipped.
func (s *Store) Save(ctx context.Context, ops []store.SaveOp) error {
	if len(ops) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.Type.String()))
			raw := op.Entity.Encode()
			if existing := b.Get(op.ID[:]); existing != nil {
				if bytes.Equal(existing, raw) {
					continue
				}
				return fmt.Errorf("save %s %s: %w", op.Type, op.ID, store.ErrAlreadyExists)
			}
			if err := b.Put(op.ID[:], raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug("saved batch", zap.Int("ops", len(ops)))
	return nil
}

// Update implements store.Store. Condition check and mutation happen inside
// one write transaction.
func (s *Store) Update(ctx context.Context, vt store.ValueType, i id.ID, update store.UpdateExpression, condition *store.ConditionExpression) (store.Entity, bool, error) {
	var (
		updated store.Entity
		applied bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(vt.String()))
		raw := b.Get(i[:])
		if raw == nil {
			return fmt.Errorf("update %s %s: %w", vt, i, store.ErrNotFound)
		}
		e, err := store.DecodeEntity(raw)
		if err != nil {
			return err
		}
		if condition != nil && !condition.Check(e) {
			return nil
		}
		ne, err := update.Apply(e)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", vt, i, err)
		}
		if err := b.Put(i[:], ne.Encode()); err != nil {
			return err
		}
		updated = ne
		applied = true
		return nil
	})
	if err != nil {
		return store.Entity{}, false, err
	}
	if !applied {
		s.log.Debug("conditional update missed", zap.Stringer("kind", vt), zap.Stringer("id", i))
	}
	return updated, applied, nil
}

// ScanRefs returns every reference record.
func (s *Store) ScanRefs(ctx context.Context) ([]store.Entity, error) {
	var out []store.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(store.ValueTypeRef.String())).ForEach(func(k, v []byte) error {
			e, err := store.DecodeEntity(v)
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, vt store.ValueType, i id.ID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(vt.String()))
		if b.Get(i[:]) == nil {
			return fmt.Errorf("delete %s %s: %w", vt, i, store.ErrNotFound)
		}
		return b.Delete(i[:])
	})
}
