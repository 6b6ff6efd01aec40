// Package values holds the opaque catalog payloads the store versions. The
// core never parses them: a payload has a canonical byte form, its id is the
// hash of that form, and it is kept zstd-compressed at rest.
//
// Canonical Encoding:
// - tag byte (payload kind) followed by the kind's fields, each as
//   uvarint(len) | bytes, lists prefixed with uvarint(count)
package values

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
	"github.com/norvik/vatn/internal/tree"
)

// Kind tags the payload variants.
type Kind uint8

const (
	Iceberg Kind = iota + 1
	DeltaLake
	HiveTable
	HiveDatabase
	SQLView
)

// Value is one opaque catalog payload.
type Value struct {
	kind Kind

	// Iceberg
	metadataLocation string

	// Delta Lake
	lastCheckpoint    string
	checkpointHistory []string
	metadataHistory   []string

	// Hive table
	tableBytes []byte
	partitions [][]byte

	// Hive database
	databaseBytes []byte

	// SQL view
	sqlText string
	dialect string
}

// NewIceberg builds an Iceberg table payload.
func NewIceberg(metadataLocation string) Value {
	return Value{kind: Iceberg, metadataLocation: metadataLocation}
}

// NewDeltaLake builds a Delta Lake payload.
func NewDeltaLake(lastCheckpoint string, checkpointHistory, metadataHistory []string) Value {
	return Value{
		kind:              DeltaLake,
		lastCheckpoint:    lastCheckpoint,
		checkpointHistory: append([]string(nil), checkpointHistory...),
		metadataHistory:   append([]string(nil), metadataHistory...),
	}
}

// NewHiveTable builds a Hive table payload.
func NewHiveTable(table []byte, partitions [][]byte) Value {
	c := make([][]byte, len(partitions))
	for i, p := range partitions {
		c[i] = append([]byte(nil), p...)
	}
	return Value{kind: HiveTable, tableBytes: append([]byte(nil), table...), partitions: c}
}

// NewHiveDatabase builds a Hive database payload.
func NewHiveDatabase(database []byte) Value {
	return Value{kind: HiveDatabase, databaseBytes: append([]byte(nil), database...)}
}

// NewSQLView builds a SQL view payload.
func NewSQLView(sqlText, dialect string) Value {
	return Value{kind: SQLView, sqlText: sqlText, dialect: dialect}
}

// Kind returns the payload variant.
func (v Value) Kind() Kind {
	return v.kind
}

// MetadataLocation returns the Iceberg metadata location.
func (v Value) MetadataLocation() string { return v.metadataLocation }

// SQL returns the view text and dialect.
func (v Value) SQL() (text, dialect string) { return v.sqlText, v.dialect }

// ID returns the content hash of the canonical bytes.
func (v Value) ID() id.ID {
	return id.Build(v.Canonical())
}

// Canonical returns the canonical byte form of the payload.
func (v Value) Canonical() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(v.kind))
	switch v.kind {
	case Iceberg:
		writeBytes(&buf, []byte(v.metadataLocation))
	case DeltaLake:
		writeBytes(&buf, []byte(v.lastCheckpoint))
		writeStringList(&buf, v.checkpointHistory)
		writeStringList(&buf, v.metadataHistory)
	case HiveTable:
		writeBytes(&buf, v.tableBytes)
		writeByteList(&buf, v.partitions)
	case HiveDatabase:
		writeBytes(&buf, v.databaseBytes)
	case SQLView:
		writeBytes(&buf, []byte(v.sqlText))
		writeBytes(&buf, []byte(v.dialect))
	default:
		panic(fmt.Sprintf("unknown value kind %d", v.kind))
	}
	return buf.Bytes()
}

// ToEntity converts the payload to its stored form: the canonical bytes,
// zstd-compressed.
func (v Value) ToEntity() (store.Entity, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return store.Entity{}, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := enc.Write(v.Canonical()); err != nil {
		return store.Entity{}, fmt.Errorf("zstd write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return store.Entity{}, fmt.Errorf("zstd close: %w", err)
	}
	return store.OfMap(map[string]store.Entity{
		"data": store.OfBinary(buf.Bytes()),
	}), nil
}

// SaveOp returns the save operation persisting this payload.
func (v Value) SaveOp() (store.SaveOp, error) {
	e, err := v.ToEntity()
	if err != nil {
		return store.SaveOp{}, err
	}
	return store.SaveOp{Type: store.ValueTypeValue, ID: v.ID(), Entity: e}, nil
}

// FromEntity decompresses and decodes a stored payload, verifying its id.
func FromEntity(expected id.ID, e store.Entity) (Value, error) {
	de, ok := e.Attr("data")
	if !ok {
		return Value{}, fmt.Errorf("value entity missing data")
	}
	compressed, ok := de.AsBinary()
	if !ok {
		return Value{}, fmt.Errorf("value data is not binary")
	}
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Value{}, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	canonical, err := io.ReadAll(dec)
	if err != nil {
		return Value{}, fmt.Errorf("read zstd payload: %w", err)
	}
	v, err := Decode(canonical)
	if err != nil {
		return Value{}, err
	}
	if got := v.ID(); got != expected {
		return Value{}, fmt.Errorf("value id mismatch: stored %s, computed %s: %w", expected, got, tree.ErrCorruption)
	}
	return v, nil
}

// Decode parses canonical payload bytes.
func Decode(canonical []byte) (Value, error) {
	r := bytes.NewReader(canonical)
	tag, err := r.ReadByte()
	if err != nil {
		return Value{}, fmt.Errorf("value decode: %w", err)
	}
	v := Value{kind: Kind(tag)}
	switch v.kind {
	case Iceberg:
		b, err := readBytes(r)
		if err != nil {
			return Value{}, err
		}
		v.metadataLocation = string(b)
	case DeltaLake:
		b, err := readBytes(r)
		if err != nil {
			return Value{}, err
		}
		v.lastCheckpoint = string(b)
		if v.checkpointHistory, err = readStringList(r); err != nil {
			return Value{}, err
		}
		if v.metadataHistory, err = readStringList(r); err != nil {
			return Value{}, err
		}
	case HiveTable:
		if v.tableBytes, err = readBytes(r); err != nil {
			return Value{}, err
		}
		if v.partitions, err = readByteList(r); err != nil {
			return Value{}, err
		}
	case HiveDatabase:
		if v.databaseBytes, err = readBytes(r); err != nil {
			return Value{}, err
		}
	case SQLView:
		b, err := readBytes(r)
		if err != nil {
			return Value{}, err
		}
		v.sqlText = string(b)
		if b, err = readBytes(r); err != nil {
			return Value{}, err
		}
		v.dialect = string(b)
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", tag)
	}
	if r.Len() != 0 {
		return Value{}, fmt.Errorf("value decode: %d trailing bytes", r.Len())
	}
	return v, nil
}

// Load fetches and decodes a payload by id.
func Load(ctx context.Context, s store.Store, i id.ID) (Value, error) {
	e, err := s.LoadSingle(ctx, store.ValueTypeValue, i)
	if err != nil {
		return Value{}, err
	}
	return FromEntity(i, e)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var n [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(n[:], uint64(len(b)))
	buf.Write(n[:l])
	buf.Write(b)
}

func writeStringList(buf *bytes.Buffer, list []string) {
	var n [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(n[:], uint64(len(list)))
	buf.Write(n[:l])
	for _, s := range list {
		writeBytes(buf, []byte(s))
	}
}

func writeByteList(buf *bytes.Buffer, list [][]byte) {
	var n [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(n[:], uint64(len(list)))
	buf.Write(n[:l])
	for _, b := range list {
		writeBytes(buf, b)
	}
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("value decode length: %w", err)
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("value decode: length %d exceeds remaining %d", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("value decode bytes: %w", err)
	}
	return b, nil
}

func readStringList(r *bytes.Reader) ([]string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("value decode count: %w", err)
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

func readByteList(r *bytes.Reader) ([][]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("value decode count: %w", err)
	}
	out := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
