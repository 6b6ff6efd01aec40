package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, elems ...string) Key {
	t.Helper()
	k, err := New(elems...)
	require.NoError(t, err)
	return k
}

func TestRejectZeroByteSegment(t *testing.T) {
	_, err := New("a\x00b")
	assert.Error(t, err)
}

func TestPathStringEncoding(t *testing.T) {
	k := mustKey(t, "a.b", "c")
	assert.Equal(t, "a\x00b.c", k.ToPathString())

	back, err := FromPathString(k.ToPathString())
	require.NoError(t, err)
	assert.True(t, k.Equals(back))
}

func TestPathStringRoundTrip(t *testing.T) {
	cases := [][]string{
		{"simple"},
		{"a", "b", "c"},
		{"dotted.name", "plain"},
		{"", "empty", ""},
		{"many.dots.here", "and.more"},
	}
	for _, elems := range cases {
		k := mustKey(t, elems...)
		back, err := FromPathString(k.ToPathString())
		require.NoError(t, err)
		assert.True(t, k.Equals(back), "round trip of %v", elems)
	}
}

func TestCompare(t *testing.T) {
	a := mustKey(t, "a", "b")
	b := mustKey(t, "a", "c")
	prefix := mustKey(t, "a")
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Negative(t, prefix.Compare(a))
	assert.Zero(t, a.Compare(a))
}

func TestCanonicalDeterministic(t *testing.T) {
	a := mustKey(t, "x", "y")
	b := mustKey(t, "x", "y")
	assert.Equal(t, a.Canonical(), b.Canonical())

	// Segment boundaries matter: ["ab"] != ["a","b"].
	ab := mustKey(t, "ab")
	a_b := mustKey(t, "a", "b")
	assert.NotEqual(t, ab.Canonical(), a_b.Canonical())
}

func TestMutationListEqualsIgnoreOrder(t *testing.T) {
	k1 := mustKey(t, "t1")
	k2 := mustKey(t, "t2")

	a := NewMutationList(NewAddition(k1), NewRemoval(k2))
	b := NewMutationList(NewRemoval(k2), NewAddition(k1))
	assert.True(t, a.EqualsIgnoreOrder(b))

	c := NewMutationList(NewAddition(k1), NewAddition(k2))
	assert.False(t, a.EqualsIgnoreOrder(c))
}

func TestMutationListCanonicalEncoding(t *testing.T) {
	k1 := mustKey(t, "t1")
	k2 := mustKey(t, "t2")

	// Insertion order must not leak into the stored form.
	a := NewMutationList(NewAddition(k1), NewRemoval(k2))
	b := NewMutationList(NewRemoval(k2), NewAddition(k1))
	assert.Equal(t, a.ToEntity().Encode(), b.ToEntity().Encode())

	back, err := MutationListFromEntity(a.ToEntity())
	require.NoError(t, err)
	assert.True(t, a.EqualsIgnoreOrder(back))
}
