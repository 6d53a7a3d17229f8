package model

import (
	"fmt"

	"github.com/devrev/pairdb/indexcore/internal/codec"
)

// RecordID identifies a record. Encoded as 8 big-endian bytes.
type RecordID int64

// Size implements codec.Byteable.
func (r RecordID) Size() int {
	return 8
}

// EncodeTo implements codec.Byteable.
func (r RecordID) EncodeTo(dst []byte) []byte {
	return codec.PutUint64(dst, uint64(r))
}

func (r RecordID) String() string {
	return fmt.Sprintf("%d", int64(r))
}

// Text is a column name or search term. Encoded with a length prefix.
type Text string

// Size implements codec.Byteable.
func (t Text) Size() int {
	return codec.StringSize(string(t))
}

// EncodeTo implements codec.Byteable.
func (t Text) EncodeTo(dst []byte) []byte {
	return codec.PutString(dst, string(t))
}

func (t Text) String() string {
	return string(t)
}

// Position points at the location of a term within one of a record's
// values. Source is the value the term was taken from, so equal terms at the
// same offset of different values stay distinct.
type Position struct {
	Record RecordID
	Index  uint32
	Source Value
}

// NewPosition creates a Position.
func NewPosition(record RecordID, index uint32, source Value) Position {
	return Position{Record: record, Index: index, Source: source}
}

// Size implements codec.Byteable.
func (p Position) Size() int {
	return p.Record.Size() + 4 + p.Source.Size()
}

// EncodeTo implements codec.Byteable.
func (p Position) EncodeTo(dst []byte) []byte {
	dst = p.Record.EncodeTo(dst)
	dst = codec.PutUint32(dst, p.Index)
	return p.Source.EncodeTo(dst)
}

func (p Position) String() string {
	return fmt.Sprintf("%d@%d", p.Record, p.Index)
}
