// Package keys implements the ordered segment keys that identify catalog
// objects, their path-string codec, and the key mutation lists carried by
// commit entries.
//
// Path encoding joins segments with '.'; a '.' inside a segment is replaced
// with the zero byte. Segments therefore may not contain a literal zero
// byte.
package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/norvik/vatn/internal/store"
)

const zeroByte = "\x00"

// Key is an ordered list of string segments.
type Key struct {
	elements []string
}

// New builds a key from segments. Segments containing a zero byte are
// rejected.
func New(elements ...string) (Key, error) {
	for _, e := range elements {
		if strings.Contains(e, zeroByte) {
			return Key{}, fmt.Errorf("key segment %q contains a zero byte", e)
		}
	}
	c := make([]string, len(elements))
	copy(c, elements)
	return Key{elements: c}, nil
}

// Elements returns a copy of the key's segments.
func (k Key) Elements() []string {
	c := make([]string, len(k.elements))
	copy(c, k.elements)
	return c
}

// ToPathString renders the key for path use.
func (k Key) ToPathString() string {
	parts := make([]string, len(k.elements))
	for i, e := range k.elements {
		parts[i] = strings.ReplaceAll(e, ".", zeroByte)
	}
	return strings.Join(parts, ".")
}

// FromPathString inverts ToPathString exactly.
func FromPathString(encoded string) (Key, error) {
	parts := strings.Split(encoded, ".")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, zeroByte, ".")
	}
	return New(parts...)
}

// Canonical returns the deterministic byte encoding used for hashing and
// slot routing.
func (k Key) Canonical() []byte {
	var buf bytes.Buffer
	var n [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(n[:], uint64(len(k.elements)))
	buf.Write(n[:l])
	for _, e := range k.elements {
		l = binary.PutUvarint(n[:], uint64(len(e)))
		buf.Write(n[:l])
		buf.WriteString(e)
	}
	return buf.Bytes()
}

// Equals compares keys segment-wise.
func (k Key) Equals(o Key) bool {
	if len(k.elements) != len(o.elements) {
		return false
	}
	for i := range k.elements {
		if k.elements[i] != o.elements[i] {
			return false
		}
	}
	return true
}

// Compare orders keys lexicographically by segments.
func (k Key) Compare(o Key) int {
	n := len(k.elements)
	if len(o.elements) < n {
		n = len(o.elements)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(k.elements[i], o.elements[i]); c != 0 {
			return c
		}
	}
	return len(k.elements) - len(o.elements)
}

// String joins segments with '.' for display.
func (k Key) String() string {
	return strings.Join(k.elements, ".")
}

// ToEntity converts the key to its stored form.
func (k Key) ToEntity() store.Entity {
	elems := make([]store.Entity, len(k.elements))
	for i, e := range k.elements {
		elems[i] = store.OfString(e)
	}
	return store.OfList(elems...)
}

// KeyFromEntity inverts ToEntity.
func KeyFromEntity(e store.Entity) (Key, error) {
	list, ok := e.AsList()
	if !ok {
		return Key{}, fmt.Errorf("key entity is not a list")
	}
	elems := make([]string, len(list))
	for i, el := range list {
		s, ok := el.AsString()
		if !ok {
			return Key{}, fmt.Errorf("key segment %d is not a string", i)
		}
		elems[i] = s
	}
	return New(elems...)
}
