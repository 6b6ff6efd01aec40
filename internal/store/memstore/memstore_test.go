package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
)

func TestSaveIsIdempotentPerItem(t *testing.T) {
	ctx := context.Background()
	s := New()
	i := id.Build([]byte("content"))
	op := store.SaveOp{Type: store.ValueTypeL1, ID: i, Entity: store.OfString("content")}

	require.NoError(t, s.Save(ctx, []store.SaveOp{op}))
	require.NoError(t, s.Save(ctx, []store.SaveOp{op}))
	assert.Equal(t, 1, s.Len(store.ValueTypeL1))
}

func TestSaveRejectsDifferentContentAtSameID(t *testing.T) {
	ctx := context.Background()
	s := New()
	i := id.BuildString("main")
	require.NoError(t, s.Save(ctx, []store.SaveOp{
		{Type: store.ValueTypeRef, ID: i, Entity: store.OfString("a")},
	}))
	err := s.Save(ctx, []store.SaveOp{
		{Type: store.ValueTypeRef, ID: i, Entity: store.OfString("b")},
	})
	assert.True(t, errors.Is(err, store.ErrAlreadyExists))
}

func TestLoadSingleNotFound(t *testing.T) {
	_, err := New().LoadSingle(context.Background(), store.ValueTypeL1, id.Build([]byte("missing")))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUpdateConditionMismatchReturnsFalse(t *testing.T) {
	ctx := context.Background()
	s := New()
	i := id.BuildString("main")
	rec := store.OfMap(map[string]store.Entity{"v": store.OfNumber(1)})
	require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: i, Entity: rec}}))

	var cond store.ConditionExpression
	cond = cond.AndEquals(store.NewPath("v"), store.OfNumber(99))
	var upd store.UpdateExpression
	upd = upd.AndSet(store.NewPath("v"), store.OfNumber(2))

	_, ok, err := s.Update(ctx, store.ValueTypeRef, i, upd, &cond)
	require.NoError(t, err)
	assert.False(t, ok)

	// The record is untouched.
	e, err := s.LoadSingle(ctx, store.ValueTypeRef, i)
	require.NoError(t, err)
	v, _ := e.Attr("v")
	n, _ := v.AsNumber()
	assert.Equal(t, int64(1), n)
}

func TestUpdateAppliesWhenConditionHolds(t *testing.T) {
	ctx := context.Background()
	s := New()
	i := id.BuildString("main")
	rec := store.OfMap(map[string]store.Entity{"v": store.OfNumber(1)})
	require.NoError(t, s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: i, Entity: rec}}))

	var cond store.ConditionExpression
	cond = cond.AndEquals(store.NewPath("v"), store.OfNumber(1))
	var upd store.UpdateExpression
	upd = upd.AndSet(store.NewPath("v"), store.OfNumber(2))

	out, ok, err := s.Update(ctx, store.ValueTypeRef, i, upd, &cond)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := out.Attr("v")
	n, _ := v.AsNumber()
	assert.Equal(t, int64(2), n)
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	err := New().Delete(context.Background(), store.ValueTypeRef, id.BuildString("gone"))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
