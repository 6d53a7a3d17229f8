package codec

import (
	"bytes"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Composite is an ordered concatenation of Byteable components treated as a
// single logical key. Equality and hashing depend only on the encoded bytes,
// never on the identity of the component values.
type Composite struct {
	data []byte
}

// NewComposite encodes components in argument order behind a length prefix
// holding the combined component size.
func NewComposite(components ...Byteable) Composite {
	if len(components) == 0 {
		panic("codec: composite requires at least one component")
	}

	total := 0
	for _, c := range components {
		total += c.Size()
	}

	data := make([]byte, 0, LengthPrefixSize+total)
	data = PutLength(data, total)
	for _, c := range components {
		data = Append(data, c)
	}
	return Composite{data: data}
}

// Size implements Byteable.
func (c Composite) Size() int {
	return len(c.data)
}

// EncodeTo implements Byteable.
func (c Composite) EncodeTo(dst []byte) []byte {
	return append(dst, c.data...)
}

// Bytes returns the encoded key. Callers must not modify the result.
func (c Composite) Bytes() []byte {
	return c.data
}

// Key returns the encoded bytes as a string suitable for map keys.
func (c Composite) Key() string {
	return string(c.data)
}

// Equal reports whether both composites encode to the same bytes.
func (c Composite) Equal(other Composite) bool {
	return bytes.Equal(c.data, other.data)
}

// Compare orders composites by their encoded bytes.
func (c Composite) Compare(other Composite) int {
	return bytes.Compare(c.data, other.data)
}

// Hash returns the xxhash digest of the encoded bytes.
func (c Composite) Hash() uint64 {
	return xxhash.Sum64(c.data)
}

// String renders the encoded bytes in hex.
func (c Composite) String() string {
	return hex.EncodeToString(c.data)
}
