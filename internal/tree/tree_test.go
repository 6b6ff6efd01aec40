package tree

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/keys"
	"github.com/norvik/vatn/internal/store"
	"github.com/norvik/vatn/internal/store/memstore"
)

func TestIdMapWidthInvariant(t *testing.T) {
	m := NewIdMap(L1Size)
	assert.Equal(t, L1Size, m.Size())

	n := m.WithID(3, id.Build([]byte("child")))
	assert.Equal(t, L1Size, n.Size())
	assert.True(t, m.Get(3).IsEmpty(), "WithID must not mutate the receiver")
	assert.False(t, n.Get(3).IsEmpty())
}

func TestIdMapEntityRoundTrip(t *testing.T) {
	m := NewIdMap(L1Size).WithID(0, id.Build([]byte("a"))).WithID(42, id.Build([]byte("b")))
	back, err := IdMapFromEntity(m.ToEntity(), L1Size)
	require.NoError(t, err)
	assert.True(t, m.Equals(back))

	_, err = IdMapFromEntity(m.ToEntity(), L2Size)
	assert.Error(t, err, "width mismatch must be rejected")
}

func TestL1EmptyHasEmptyID(t *testing.T) {
	assert.True(t, L1Empty().ID().IsEmpty())
	assert.True(t, L1Empty().ParentID().IsEmpty())
	assert.Equal(t, L1Size, L1Empty().Map().Size())
}

func TestL1ChildLinksParent(t *testing.T) {
	metaID := id.Build([]byte("meta"))
	m := NewIdMap(L1Size).WithID(1, id.Build([]byte("l2")))
	child := L1Empty().GetChildWithTree(metaID, m, keys.MutationList{})

	assert.Equal(t, metaID, child.MetadataID())
	assert.True(t, child.ParentID().IsEmpty(), "first commit's parent is the empty L1")
	assert.False(t, child.ID().IsEmpty())

	grand := child.GetChildWithTree(metaID, m.WithID(2, id.Build([]byte("x"))), keys.MutationList{})
	assert.Equal(t, child.ID(), grand.ParentID())
}

func TestL1IDDeterministic(t *testing.T) {
	metaID := id.Build([]byte("meta"))
	m := NewIdMap(L1Size).WithID(1, id.Build([]byte("l2")))
	a := L1Empty().GetChildWithTree(metaID, m, keys.MutationList{})
	b := L1Empty().GetChildWithTree(metaID, m, keys.MutationList{})
	assert.Equal(t, a.ID(), b.ID())
}

func TestL1EntityRoundTrip(t *testing.T) {
	metaID := id.Build([]byte("meta"))
	m := NewIdMap(L1Size).WithID(7, id.Build([]byte("l2")))
	mut := keys.NewMutationList(keys.NewAddition(mustKey(t, "tbl")))
	l1 := L1Empty().GetChildWithTree(metaID, m, mut)

	back, err := L1FromEntity(l1.ID(), l1.ToEntity())
	require.NoError(t, err)
	assert.Equal(t, l1.ID(), back.ID())
	assert.True(t, l1.Map().Equals(back.Map()))
}

func TestL1CorruptionDetected(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	metaID := id.Build([]byte("meta"))
	m := NewIdMap(L1Size).WithID(7, id.Build([]byte("l2")))
	l1 := L1Empty().GetChildWithTree(metaID, m, keys.MutationList{})

	// Persist the entity under an id that is not its content hash.
	wrongID := id.Build([]byte("not the content"))
	require.NoError(t, s.Save(ctx, []store.SaveOp{
		{Type: store.ValueTypeL1, ID: wrongID, Entity: l1.ToEntity()},
	}))

	_, err := LoadL1(ctx, s, wrongID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruption))
}

func TestL1CheckpointBoundsAncestry(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	metaID := id.Build([]byte("meta"))
	unsaved := make(map[id.ID]L1)
	cur := L1Empty()
	m := NewIdMap(L1Size)
	for i := 0; i < maxAncestors+3; i++ {
		m = m.WithID(i%L1Size, id.Build([]byte{byte(i)}))
		unsaved[cur.ID()] = cur
		next := cur.GetChildWithTree(metaID, m, keys.MutationList{})
		var err error
		next, err = next.WithCheckpointAsNecessary(ctx, s, unsaved)
		require.NoError(t, err)
		cur = next
	}

	assert.LessOrEqual(t, len(cur.Ancestors()), maxAncestors)
	assert.False(t, cur.CheckpointID().IsEmpty(), "long chain must have a checkpoint")
}

func TestL3WithAndGet(t *testing.T) {
	k1 := mustKey(t, "db", "table1")
	k2 := mustKey(t, "db", "table2")
	v1 := id.Build([]byte("v1"))
	v2 := id.Build([]byte("v2"))

	l3 := L3Empty().With(k1, v1).With(k2, v2)
	assert.Equal(t, v1, l3.Get(k1))
	assert.Equal(t, v2, l3.Get(k2))

	removed := l3.With(k1, id.Empty)
	assert.True(t, removed.Get(k1).IsEmpty())
	assert.Equal(t, v2, removed.Get(k2))

	// Order of insertion does not change the content id.
	other := L3Empty().With(k2, v2).With(k1, v1)
	assert.Equal(t, l3.ID(), other.ID())
}

func TestL3EntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	l3 := L3Empty().With(mustKey(t, "a"), id.Build([]byte("v")))
	require.NoError(t, s.Save(ctx, []store.SaveOp{l3.SaveOp()}))

	back, err := LoadL3(ctx, s, l3.ID())
	require.NoError(t, err)
	assert.Equal(t, l3.ID(), back.ID())
}

func TestL2EntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	l2 := L2Empty().WithID(13, id.Build([]byte("l3")))
	require.NoError(t, s.Save(ctx, []store.SaveOp{l2.SaveOp()}))

	back, err := LoadL2(ctx, s, l2.ID())
	require.NoError(t, err)
	assert.Equal(t, l2.ID(), back.ID())
	assert.Equal(t, l2.Get(13), back.Get(13))
}

func TestCommitMetaRoundTrip(t *testing.T) {
	meta := CommitMeta{
		Committer:        "alice",
		Author:           "bob",
		Email:            "bob@example.com",
		Message:          "create table",
		CommitTimeMillis: 1700000000000,
		Properties:       map[string]string{"app": "etl"},
	}
	back, err := CommitMetaFromEntity(meta.ID(), meta.ToEntity())
	require.NoError(t, err)
	assert.Equal(t, meta.ID(), back.ID())
	assert.Equal(t, "create table", back.Message)
}

func TestKeyRoutingStable(t *testing.T) {
	k := mustKey(t, "db", "table")
	assert.Equal(t, L1Position(k), L1Position(k))
	assert.Equal(t, L2Position(k), L2Position(k))
	assert.Less(t, L1Position(k), L1Size)
	assert.Less(t, L2Position(k), L2Size)
}

func mustKey(t *testing.T, elems ...string) keys.Key {
	t.Helper()
	k, err := keys.New(elems...)
	require.NoError(t, err)
	return k
}
