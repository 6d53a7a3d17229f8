// Package codec defines the canonical byte identity of domain values.
//
// Every value that participates in hashing, filtering, locking or persistence
// implements Byteable. The same value always produces the same bytes, and each
// encoding is fixed width or length prefixed so concatenations are unambiguous.
package codec

import (
	"encoding/binary"
	"fmt"
)

// LengthPrefixSize is the width of every length prefix written by this package.
const LengthPrefixSize = 4

// Byteable is a value with a deterministic canonical encoding.
type Byteable interface {
	// Size returns the exact number of bytes EncodeTo appends.
	Size() int

	// EncodeTo appends the canonical encoding to dst and returns the extended slice.
	EncodeTo(dst []byte) []byte
}

// Encode returns the canonical encoding of b.
func Encode(b Byteable) []byte {
	return Append(make([]byte, 0, b.Size()), b)
}

// Append encodes b onto dst and asserts that the number of bytes written
// matches b.Size(). A mismatch is a defect in the Byteable implementation.
func Append(dst []byte, b Byteable) []byte {
	before := len(dst)
	dst = b.EncodeTo(dst)
	if written := len(dst) - before; written != b.Size() {
		panic(fmt.Sprintf("codec: %T reported size %d but wrote %d bytes", b, b.Size(), written))
	}
	return dst
}

// PutLength appends a uint32 length prefix.
func PutLength(dst []byte, n int) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(n))
}

// PutUint32 appends v in big-endian order.
func PutUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

// PutUint64 appends v in big-endian order.
func PutUint64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

// PutString appends a length prefixed string.
func PutString(dst []byte, s string) []byte {
	dst = PutLength(dst, len(s))
	return append(dst, s...)
}

// StringSize is the encoded size of a length prefixed string.
func StringSize(s string) int {
	return LengthPrefixSize + len(s)
}
