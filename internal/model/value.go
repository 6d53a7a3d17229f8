package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/devrev/pairdb/indexcore/internal/codec"
)

// ValueType tags the primitive boxed inside a Value.
type ValueType uint8

const (
	ValueTypeBoolean ValueType = 1
	ValueTypeInteger ValueType = 2
	ValueTypeLong    ValueType = 3
	ValueTypeFloat   ValueType = 4
	ValueTypeDouble  ValueType = 5
	ValueTypeLink    ValueType = 6
	ValueTypeString  ValueType = 7
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeBoolean:
		return "boolean"
	case ValueTypeInteger:
		return "integer"
	case ValueTypeLong:
		return "long"
	case ValueTypeFloat:
		return "float"
	case ValueTypeDouble:
		return "double"
	case ValueTypeLink:
		return "link"
	case ValueTypeString:
		return "string"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Value is a stored value: a type tag plus the big-endian payload of the
// boxed primitive. The zero Value is invalid.
type Value struct {
	typ  ValueType
	data string
}

// Bool boxes a boolean.
func Bool(v bool) Value {
	var b byte
	if v {
		b = 1
	}
	return Value{typ: ValueTypeBoolean, data: string([]byte{b})}
}

// Int boxes a 32-bit integer.
func Int(v int32) Value {
	return Value{typ: ValueTypeInteger, data: string(binary.BigEndian.AppendUint32(nil, uint32(v)))}
}

// Long boxes a 64-bit integer.
func Long(v int64) Value {
	return Value{typ: ValueTypeLong, data: string(binary.BigEndian.AppendUint64(nil, uint64(v)))}
}

// Float boxes a 32-bit float.
func Float(v float32) Value {
	return Value{typ: ValueTypeFloat, data: string(binary.BigEndian.AppendUint32(nil, math.Float32bits(v)))}
}

// Double boxes a 64-bit float.
func Double(v float64) Value {
	return Value{typ: ValueTypeDouble, data: string(binary.BigEndian.AppendUint64(nil, math.Float64bits(v)))}
}

// Link boxes a reference to another record.
func Link(r RecordID) Value {
	return Value{typ: ValueTypeLink, data: string(binary.BigEndian.AppendUint64(nil, uint64(r)))}
}

// String boxes a string.
func String(v string) Value {
	return Value{typ: ValueTypeString, data: v}
}

// Type returns the tag of the boxed primitive.
func (v Value) Type() ValueType {
	return v.typ
}

// IsZero reports whether v was never assigned.
func (v Value) IsZero() bool {
	return v.typ == 0
}

// Payload returns the encoded primitive without tag or length.
func (v Value) Payload() []byte {
	return []byte(v.data)
}

// PayloadSize is the length of the encoded primitive.
func (v Value) PayloadSize() int {
	return len(v.data)
}

// Text returns the boxed string, or false if v is not a string.
func (v Value) Text() (string, bool) {
	if v.typ != ValueTypeString {
		return "", false
	}
	return v.data, true
}

// Size implements codec.Byteable.
func (v Value) Size() int {
	return 1 + codec.StringSize(v.data)
}

// EncodeTo implements codec.Byteable.
func (v Value) EncodeTo(dst []byte) []byte {
	dst = append(dst, byte(v.typ))
	return codec.PutString(dst, v.data)
}

// Equal reports whether both values have the same type and payload.
func (v Value) Equal(other Value) bool {
	return v.typ == other.typ && v.data == other.data
}

func (v Value) String() string {
	b := []byte(v.data)
	switch v.typ {
	case ValueTypeBoolean:
		return strconv.FormatBool(len(b) == 1 && b[0] == 1)
	case ValueTypeInteger:
		return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(b))), 10)
	case ValueTypeLong:
		return strconv.FormatInt(int64(binary.BigEndian.Uint64(b)), 10)
	case ValueTypeFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(b))), 'g', -1, 32)
	case ValueTypeDouble:
		return strconv.FormatFloat(math.Float64frombits(binary.BigEndian.Uint64(b)), 'g', -1, 64)
	case ValueTypeLink:
		return "@" + strconv.FormatInt(int64(binary.BigEndian.Uint64(b)), 10)
	case ValueTypeString:
		return v.data
	default:
		return "<invalid>"
	}
}
