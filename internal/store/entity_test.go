package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Entity {
	return OfMap(map[string]Entity{
		"name": OfString("main"),
		"dt":   OfNumber(1234567),
		"commits": OfList(
			OfMap(map[string]Entity{
				"id":     OfBinary([]byte{1, 2, 3}),
				"parent": OfBinary([]byte{4, 5, 6}),
			}),
			OfMap(map[string]Entity{
				"id":     OfBinary([]byte{7, 8, 9}),
				"deltas": OfList(OfNumber(1), OfNumber(2)),
			}),
		),
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := sampleRecord()
	decoded, err := DecodeEntity(orig.Encode())
	require.NoError(t, err)
	assert.True(t, orig.Equals(decoded))
}

func TestEncodingDeterministic(t *testing.T) {
	// Same logical map built in different insertion orders.
	a := OfMap(map[string]Entity{"x": OfNumber(1), "y": OfString("v"), "z": OfBool(true)})
	m := map[string]Entity{}
	m["z"] = OfBool(true)
	m["x"] = OfNumber(1)
	m["y"] = OfString("v")
	b := OfMap(m)
	assert.Equal(t, a.Encode(), b.Encode())
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	raw := append(OfNumber(7).Encode(), 0xff)
	_, err := DecodeEntity(raw)
	assert.Error(t, err)
}

func TestConditionCheck(t *testing.T) {
	rec := sampleRecord()
	commits := NewPath("commits")

	var cond ConditionExpression
	cond = cond.AndEquals(commits.Position(0).Name("id"), OfBinary([]byte{1, 2, 3}))
	assert.True(t, cond.Check(rec))

	var miss ConditionExpression
	miss = miss.AndEquals(commits.Position(0).Name("id"), OfBinary([]byte{9, 9, 9}))
	assert.False(t, miss.Check(rec))

	// A missing attribute fails the predicate, it does not error.
	var absent ConditionExpression
	absent = absent.AndEquals(commits.Position(0).Name("nope"), OfNumber(1))
	assert.False(t, absent.Check(rec))

	// Conjunction: one failing clause fails the whole condition.
	mixed := cond.AndEquals(commits.Position(1).Name("id"), OfBinary([]byte{0}))
	assert.False(t, mixed.Check(rec))
}

func TestConditionSizeEquals(t *testing.T) {
	rec := sampleRecord()
	commits := NewPath("commits")

	var cond ConditionExpression
	assert.True(t, cond.AndSizeEquals(commits, 2).Check(rec))
	assert.False(t, cond.AndSizeEquals(commits, 3).Check(rec))

	var notList ConditionExpression
	assert.False(t, notList.AndSizeEquals(NewPath("name"), 4).Check(rec))
}

func TestUpdateSetAndAppend(t *testing.T) {
	rec := sampleRecord()
	commits := NewPath("commits")

	var upd UpdateExpression
	upd = upd.
		AndSet(commits.Position(1).Name("parent"), OfBinary([]byte{1, 2, 3})).
		AndSet(commits.Position(2), OfMap(map[string]Entity{"id": OfBinary([]byte{0xaa})}))

	out, err := upd.Apply(rec)
	require.NoError(t, err)

	list, ok := out.Attr("commits")
	require.True(t, ok)
	elems, _ := list.AsList()
	require.Len(t, elems, 3)

	parent, ok := elems[1].Attr("parent")
	require.True(t, ok)
	b, _ := parent.AsBinary()
	assert.Equal(t, []byte{1, 2, 3}, b)
}

func TestUpdateRemovePositionsUseOriginalIndices(t *testing.T) {
	rec := OfMap(map[string]Entity{
		"commits": OfList(OfNumber(0), OfNumber(1), OfNumber(2), OfNumber(3)),
	})
	commits := NewPath("commits")

	// Removing 0 and 2 must leave elements 1 and 3, regardless of how the
	// removals shift the list.
	var upd UpdateExpression
	upd = upd.AndRemove(commits.Position(0)).AndRemove(commits.Position(2))

	out, err := upd.Apply(rec)
	require.NoError(t, err)
	le, _ := out.Attr("commits")
	list, _ := le.AsList()
	require.Len(t, list, 2)
	n0, _ := list[0].AsNumber()
	n1, _ := list[1].AsNumber()
	assert.Equal(t, int64(1), n0)
	assert.Equal(t, int64(3), n1)
}

func TestUpdateSetsSeeOriginalIndicesBeforeRemoves(t *testing.T) {
	rec := OfMap(map[string]Entity{
		"commits": OfList(
			OfMap(map[string]Entity{"id": OfNumber(0)}),
			OfMap(map[string]Entity{"id": OfNumber(1)}),
		),
	})
	commits := NewPath("commits")

	var upd UpdateExpression
	upd = upd.
		AndRemove(commits.Position(0)).
		AndSet(commits.Position(1).Name("id"), OfNumber(42))

	out, err := upd.Apply(rec)
	require.NoError(t, err)
	le, _ := out.Attr("commits")
	list, _ := le.AsList()
	require.Len(t, list, 1)
	idAttr, _ := list[0].Attr("id")
	n, _ := idAttr.AsNumber()
	assert.Equal(t, int64(42), n)
}

func TestRemoveAbsentAttributeIsNoop(t *testing.T) {
	rec := sampleRecord()
	commits := NewPath("commits")

	// Re-collapsing an already clean tail removes attributes that are no
	// longer present; that must not fail.
	var upd UpdateExpression
	upd = upd.AndRemove(commits.Position(0).Name("deltas"))
	_, err := upd.Apply(rec)
	assert.NoError(t, err)
}
