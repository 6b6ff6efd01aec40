package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := store.OfMap(map[string]store.Entity{"v": store.OfNumber(7)})
	i := id.Build(e.Encode())
	require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeL1, ID: i, Entity: e}}))

	// Idempotent on identical content.
	require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeL1, ID: i, Entity: e}}))

	got, err := s.LoadSingle(ctx, store.ValueTypeL1, i)
	require.NoError(t, err)
	assert.True(t, e.Equals(got))
}

func TestSaveConflictingContentFails(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	i := id.BuildString("main")

	require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: i, Entity: store.OfString("a")}}))
	err := s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: i, Entity: store.OfString("b")}})
	assert.True(t, errors.Is(err, store.ErrAlreadyExists))
}

func TestConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	i := id.BuildString("main")
	rec := store.OfMap(map[string]store.Entity{"v": store.OfNumber(1)})
	require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: i, Entity: rec}}))

	var miss store.ConditionExpression
	miss = miss.AndEquals(store.NewPath("v"), store.OfNumber(9))
	var upd store.UpdateExpression
	upd = upd.AndSet(store.NewPath("v"), store.OfNumber(2))

	_, ok, err := s.Update(ctx, store.ValueTypeRef, i, upd, &miss)
	require.NoError(t, err)
	assert.False(t, ok)

	var hit store.ConditionExpression
	hit = hit.AndEquals(store.NewPath("v"), store.OfNumber(1))
	out, ok, err := s.Update(ctx, store.ValueTypeRef, i, upd, &hit)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := out.Attr("v")
	n, _ := v.AsNumber()
	assert.Equal(t, int64(2), n)
}

func TestLoadMulti(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var ids []id.ID
	var ops []store.SaveOp
	for n := int64(0); n < 5; n++ {
		e := store.OfNumber(n)
		i := id.Build(e.Encode())
		ids = append(ids, i)
		ops = append(ops, store.SaveOp{Type: store.ValueTypeValue, ID: i, Entity: e})
	}
	require.NoError(t, s.Save(ctx, ops))

	got, err := s.LoadMulti(ctx, store.ValueTypeValue, ids)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for n, e := range got {
		v, _ := e.AsNumber()
		assert.Equal(t, int64(n), v)
	}

	_, err = s.LoadMulti(ctx, store.ValueTypeValue, []id.ID{id.Build([]byte("missing"))})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestScanRefs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"main", "dev"} {
		e := store.OfMap(map[string]store.Entity{"name": store.OfString(name)})
		require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: id.BuildString(name), Entity: e}}))
	}
	refs, err := s.ScanRefs(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	i := id.BuildString("gone")
	require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: i, Entity: store.OfBool(true)}}))
	require.NoError(t, s.Delete(ctx, store.ValueTypeRef, i))
	err := s.Delete(ctx, store.ValueTypeRef, i)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
