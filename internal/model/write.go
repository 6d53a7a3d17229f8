package model

import (
	"fmt"
	"strings"

	"github.com/devrev/pairdb/indexcore/internal/codec"
)

// WriteType is the disposition of a staged write.
type WriteType uint8

const (
	WriteTypeAdd         WriteType = 1
	WriteTypeRemove      WriteType = 2
	WriteTypeNotStorable WriteType = 3
)

func (t WriteType) String() string {
	switch t {
	case WriteTypeAdd:
		return "add"
	case WriteTypeRemove:
		return "remove"
	case WriteTypeNotStorable:
		return "not_storable"
	default:
		return fmt.Sprintf("WriteType(%d)", uint8(t))
	}
}

// Write is a pre-commit mutation of (key, value, record). Writes are not
// persisted; once validated and stamped they become revisions in each index.
type Write struct {
	Type   WriteType
	Key    Text
	Value  Value
	Record RecordID
}

// WriteAdd stages adding value to key in record.
func WriteAdd(key string, value Value, record RecordID) Write {
	return Write{Type: WriteTypeAdd, Key: Text(key), Value: value, Record: record}
}

// WriteRemove stages removing value from key in record.
func WriteRemove(key string, value Value, record RecordID) Write {
	return Write{Type: WriteTypeRemove, Key: Text(key), Value: value, Record: record}
}

// WriteNotStorable marks a write that failed validation.
func WriteNotStorable(key string, value Value, record RecordID) Write {
	return Write{Type: WriteTypeNotStorable, Key: Text(key), Value: value, Record: record}
}

// IsStorable reports whether w may be converted into revisions.
func (w Write) IsStorable() bool {
	return w.Type == WriteTypeAdd || w.Type == WriteTypeRemove
}

// Action maps the disposition onto a revision direction.
func (w Write) Action() Action {
	switch w.Type {
	case WriteTypeAdd:
		return ActionAdd
	case WriteTypeRemove:
		return ActionRemove
	default:
		panic(fmt.Sprintf("model: %s write has no revision action", w.Type))
	}
}

// Matches compares key, value and record, ignoring the disposition.
func (w Write) Matches(other Write) bool {
	return w.Key == other.Key && w.Value.Equal(other.Value) && w.Record == other.Record
}

// ToPrimary converts w into its (record, key) -> value revision.
func (w Write) ToPrimary(timestamp int64) Revision {
	return NewPrimaryRevision(w.Record, w.Key, w.Value, timestamp, w.Action())
}

// ToSecondary converts w into its (key, value) -> record revision.
func (w Write) ToSecondary(timestamp int64) Revision {
	return NewSecondaryRevision(w.Key, w.Value, w.Record, timestamp, w.Action())
}

// ToSearch converts w into one (key, term) -> position revision per term of
// a string value. Positions carry the value, so each revision belongs to
// exactly one write. Other value types are not searchable and yield none.
func (w Write) ToSearch(timestamp int64) []Revision {
	action := w.Action()
	terms := Terms(w.Value)
	revisions := make([]Revision, 0, len(terms))
	for i, term := range terms {
		position := NewPosition(w.Record, uint32(i), w.Value)
		revisions = append(revisions, NewSearchRevision(w.Key, term, position, timestamp, action))
	}
	return revisions
}

// Terms splits a string value into lower-cased whitespace separated terms.
func Terms(v Value) []Text {
	s, ok := v.Text()
	if !ok {
		return nil
	}
	fields := strings.Fields(strings.ToLower(s))
	terms := make([]Text, len(fields))
	for i, f := range fields {
		terms[i] = Text(f)
	}
	return terms
}

// Size implements codec.Byteable.
func (w Write) Size() int {
	return 1 + w.Record.Size() + w.Key.Size() + w.Value.Size()
}

// EncodeTo implements codec.Byteable.
func (w Write) EncodeTo(dst []byte) []byte {
	dst = append(dst, byte(w.Type))
	dst = codec.Append(dst, w.Record)
	dst = codec.Append(dst, w.Key)
	return codec.Append(dst, w.Value)
}

func (w Write) String() string {
	return fmt.Sprintf("%s %s as %s in %d", strings.ToUpper(w.Type.String()), w.Value, w.Key, w.Record)
}
