// Package store defines the typed value model persisted records are made of,
// the update/condition expression algebra evaluated against them, and the
// Store abstraction the version store runs on.
//
// Canonical Encoding:
// - String: 0x01 | uvarint(len) | bytes
// - Number: 0x02 | int64 big-endian
// - Binary: 0x03 | uvarint(len) | bytes
// - Bool:   0x04 | 0x00/0x01
// - List:   0x05 | uvarint(count) | element*
// - Map:    0x06 | uvarint(count) | (uvarint(keyLen) | key | element)* sorted by key
//
// The encoding is deterministic so content ids are stable: encoding the same
// entity twice always yields the same bytes.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// EntityType tags the variants of Entity.
type EntityType uint8

const (
	TypeString EntityType = iota + 1
	TypeNumber
	TypeBinary
	TypeBool
	TypeList
	TypeMap
)

// Entity is an immutable typed value. Records are entity maps; nested
// attributes are entities themselves.
type Entity struct {
	typ  EntityType
	str  string
	num  int64
	bin  []byte
	flag bool
	list []Entity
	m    map[string]Entity
}

// OfString creates a string entity.
func OfString(s string) Entity {
	return Entity{typ: TypeString, str: s}
}

// OfNumber creates a number entity.
func OfNumber(n int64) Entity {
	return Entity{typ: TypeNumber, num: n}
}

// OfBinary creates a binary entity. The slice is copied.
func OfBinary(b []byte) Entity {
	c := make([]byte, len(b))
	copy(c, b)
	return Entity{typ: TypeBinary, bin: c}
}

// OfBool creates a boolean entity.
func OfBool(b bool) Entity {
	return Entity{typ: TypeBool, flag: b}
}

// OfList creates a list entity. The slice is copied.
func OfList(elems ...Entity) Entity {
	c := make([]Entity, len(elems))
	copy(c, elems)
	return Entity{typ: TypeList, list: c}
}

// OfMap creates a map entity. The map is copied.
func OfMap(m map[string]Entity) Entity {
	c := make(map[string]Entity, len(m))
	for k, v := range m {
		c[k] = v
	}
	return Entity{typ: TypeMap, m: c}
}

// Type returns the entity's variant tag.
func (e Entity) Type() EntityType {
	return e.typ
}

// AsString returns the string value.
func (e Entity) AsString() (string, bool) {
	return e.str, e.typ == TypeString
}

// AsNumber returns the numeric value.
func (e Entity) AsNumber() (int64, bool) {
	return e.num, e.typ == TypeNumber
}

// AsBinary returns the binary value.
func (e Entity) AsBinary() ([]byte, bool) {
	if e.typ != TypeBinary {
		return nil, false
	}
	c := make([]byte, len(e.bin))
	copy(c, e.bin)
	return c, true
}

// AsBool returns the boolean value.
func (e Entity) AsBool() (bool, bool) {
	return e.flag, e.typ == TypeBool
}

// AsList returns the list elements.
func (e Entity) AsList() ([]Entity, bool) {
	if e.typ != TypeList {
		return nil, false
	}
	c := make([]Entity, len(e.list))
	copy(c, e.list)
	return c, true
}

// AsMap returns the map attributes.
func (e Entity) AsMap() (map[string]Entity, bool) {
	if e.typ != TypeMap {
		return nil, false
	}
	c := make(map[string]Entity, len(e.m))
	for k, v := range e.m {
		c[k] = v
	}
	return c, true
}

// Attr returns a named attribute of a map entity.
func (e Entity) Attr(name string) (Entity, bool) {
	if e.typ != TypeMap {
		return Entity{}, false
	}
	v, ok := e.m[name]
	return v, ok
}

// Equals compares entities structurally.
func (e Entity) Equals(o Entity) bool {
	return bytes.Equal(e.Encode(), o.Encode())
}

// Encode returns the canonical byte encoding of the entity.
func (e Entity) Encode() []byte {
	var buf bytes.Buffer
	e.encodeTo(&buf)
	return buf.Bytes()
}

func (e Entity) encodeTo(buf *bytes.Buffer) {
	buf.WriteByte(byte(e.typ))
	switch e.typ {
	case TypeString:
		writeUvarint(buf, uint64(len(e.str)))
		buf.WriteString(e.str)
	case TypeNumber:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(e.num))
		buf.Write(b[:])
	case TypeBinary:
		writeUvarint(buf, uint64(len(e.bin)))
		buf.Write(e.bin)
	case TypeBool:
		if e.flag {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TypeList:
		writeUvarint(buf, uint64(len(e.list)))
		for _, el := range e.list {
			el.encodeTo(buf)
		}
	case TypeMap:
		writeUvarint(buf, uint64(len(e.m)))
		names := make([]string, 0, len(e.m))
		for k := range e.m {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			writeUvarint(buf, uint64(len(k)))
			buf.WriteString(k)
			e.m[k].encodeTo(buf)
		}
	default:
		panic(fmt.Sprintf("unknown entity type %d", e.typ))
	}
}

// DecodeEntity parses a canonical encoding back into an Entity.
func DecodeEntity(data []byte) (Entity, error) {
	r := bytes.NewReader(data)
	e, err := decodeFrom(r)
	if err != nil {
		return Entity{}, err
	}
	if r.Len() != 0 {
		return Entity{}, fmt.Errorf("entity decode: %d trailing bytes", r.Len())
	}
	return e, nil
}

func decodeFrom(r *bytes.Reader) (Entity, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Entity{}, fmt.Errorf("entity decode: %w", err)
	}
	switch EntityType(tag) {
	case TypeString:
		b, err := readLenBytes(r)
		if err != nil {
			return Entity{}, err
		}
		return Entity{typ: TypeString, str: string(b)}, nil
	case TypeNumber:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Entity{}, fmt.Errorf("entity decode number: %w", err)
		}
		return Entity{typ: TypeNumber, num: int64(binary.BigEndian.Uint64(b[:]))}, nil
	case TypeBinary:
		b, err := readLenBytes(r)
		if err != nil {
			return Entity{}, err
		}
		return Entity{typ: TypeBinary, bin: b}, nil
	case TypeBool:
		v, err := r.ReadByte()
		if err != nil {
			return Entity{}, fmt.Errorf("entity decode bool: %w", err)
		}
		return Entity{typ: TypeBool, flag: v != 0}, nil
	case TypeList:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return Entity{}, fmt.Errorf("entity decode list count: %w", err)
		}
		list := make([]Entity, 0, n)
		for i := uint64(0); i < n; i++ {
			el, err := decodeFrom(r)
			if err != nil {
				return Entity{}, err
			}
			list = append(list, el)
		}
		return Entity{typ: TypeList, list: list}, nil
	case TypeMap:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return Entity{}, fmt.Errorf("entity decode map count: %w", err)
		}
		m := make(map[string]Entity, n)
		for i := uint64(0); i < n; i++ {
			k, err := readLenBytes(r)
			if err != nil {
				return Entity{}, err
			}
			v, err := decodeFrom(r)
			if err != nil {
				return Entity{}, err
			}
			m[string(k)] = v
		}
		return Entity{typ: TypeMap, m: m}, nil
	default:
		return Entity{}, fmt.Errorf("entity decode: unknown type tag %d", tag)
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func readLenBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("entity decode length: %w", err)
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("entity decode: length %d exceeds remaining %d", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("entity decode bytes: %w", err)
	}
	return b, nil
}
