// Package id provides the 20-byte content hash that addresses every entity
// in the store, plus the random placeholder ids used by unsaved commit
// entries.
package id

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// Size is the width of an ID in bytes.
const Size = 20

// ID is a fixed-width content hash. The zero value is the distinguished
// empty id.
type ID [Size]byte

// Empty is the distinguished empty id.
var Empty ID

// Build computes the id of a canonical encoding.
func Build(canonical []byte) ID {
	h := blake3.New(Size, nil)
	h.Write(canonical)
	var out ID
	h.Sum(out[:0])
	return out
}

// BuildString computes the id of a string, used for name-derived ids such as
// branch identities.
func BuildString(s string) ID {
	return Build([]byte(s))
}

// Random returns a placeholder id for an unsaved commit entry. Two racing
// writers never share a placeholder, which is what makes the collapse
// condition deterministic.
func Random() ID {
	u := uuid.New()
	return Build(u[:])
}

// FromBytes converts a raw byte slice to an ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Empty, fmt.Errorf("id must be %d bytes, got %d", Size, len(b))
	}
	var out ID
	copy(out[:], b)
	return out, nil
}

// FromString parses a hex-encoded id.
func FromString(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Empty, fmt.Errorf("decode id %q: %w", s, err)
	}
	return FromBytes(b)
}

// IsEmpty reports whether the id is the empty id.
func (i ID) IsEmpty() bool {
	return i == Empty
}

// Bytes returns a copy of the raw id bytes.
func (i ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, i[:])
	return out
}

// Compare orders ids bytewise.
func (i ID) Compare(o ID) int {
	return bytes.Compare(i[:], o[:])
}

// String returns the hexadecimal representation of the id.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}
