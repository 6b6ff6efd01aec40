package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/norvik/vatn/internal/id"
)

// ValueType identifies the kind of a persisted record. Each kind has its own
// keyspace.
type ValueType uint8

const (
	ValueTypeRef ValueType = iota + 1
	ValueTypeL1
	ValueTypeL2
	ValueTypeL3
	ValueTypeValue
	ValueTypeCommitMeta
)

var valueTypeNames = map[ValueType]string{
	ValueTypeRef:        "ref",
	ValueTypeL1:         "l1",
	ValueTypeL2:         "l2",
	ValueTypeL3:         "l3",
	ValueTypeValue:      "value",
	ValueTypeCommitMeta: "commit-meta",
}

// String returns the kind's bucket name.
func (v ValueType) String() string {
	if n, ok := valueTypeNames[v]; ok {
		return n
	}
	return fmt.Sprintf("value-type-%d", uint8(v))
}

// ValueTypes lists all record kinds, used by backends to initialise their
// keyspaces.
func ValueTypes() []ValueType {
	return []ValueType{
		ValueTypeRef, ValueTypeL1, ValueTypeL2, ValueTypeL3,
		ValueTypeValue, ValueTypeCommitMeta,
	}
}

// SaveOp is one item of a batched save.
type SaveOp struct {
	Type   ValueType
	ID     id.ID
	Entity Entity
}

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists reports a save of different content to an id already
// present. Content-addressed ids never hit this: identical content at the
// same id is a no-op.
var ErrAlreadyExists = errors.New("store: id already exists with different content")

// Store is the persistence contract the version store runs on. An
// implementation must provide strong per-key consistency and atomic
// conditional updates.
type Store interface {
	// LoadSingle returns the record of the given kind and id, or
	// ErrNotFound.
	LoadSingle(ctx context.Context, vt ValueType, i id.ID) (Entity, error)

	// LoadMulti returns one record per id, in order. Any missing id fails
	// the whole call with ErrNotFound.
	LoadMulti(ctx context.Context, vt ValueType, ids []id.ID) ([]Entity, error)

	// Save persists a batch. Writing identical content to an already
	// present id is a no-op; differing content at the same id is
	// ErrAlreadyExists.
	Save(ctx context.Context, ops []SaveOp) error

	// Update applies an update expression to the record if the condition
	// holds, atomically. It returns the updated record and true on
	// success, or false (with no error) on a condition mismatch.
	Update(ctx context.Context, vt ValueType, i id.ID, update UpdateExpression, condition *ConditionExpression) (Entity, bool, error)

	// Delete removes a record. Deleting a missing record is ErrNotFound.
	Delete(ctx context.Context, vt ValueType, i id.ID) error
}
