package model

import (
	"bytes"
	"fmt"

	"github.com/devrev/pairdb/indexcore/internal/codec"
)

// Action is the direction of a revision.
type Action uint8

const (
	// ActionAdd establishes an association.
	ActionAdd Action = 1
	// ActionRemove revokes an association.
	ActionRemove Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "ADD"
	case ActionRemove:
		return "REMOVE"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Kind identifies the index orientation a revision belongs to.
type Kind uint8

const (
	// KindPrimary is (record, column) -> value.
	KindPrimary Kind = 1
	// KindSecondary is (column, value) -> record.
	KindSecondary Kind = 2
	// KindSearch is (column, term) -> position.
	KindSearch Kind = 3
)

// Kinds lists every index orientation.
var Kinds = []Kind{KindPrimary, KindSecondary, KindSearch}

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindSecondary:
		return "secondary"
	case KindSearch:
		return "search"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Size implements codec.Byteable so a kind can prefix composite keys.
func (k Kind) Size() int { return 1 }

// EncodeTo implements codec.Byteable.
func (k Kind) EncodeTo(dst []byte) []byte { return append(dst, byte(k)) }

// revisionHeaderSize covers kind, action and timestamp.
const revisionHeaderSize = 1 + 1 + 8

// Revision is an immutable, timestamped record that an association between
// key, secondary and value was established or revoked.
type Revision struct {
	kind      Kind
	key       codec.Byteable
	secondary codec.Byteable
	value     codec.Byteable
	timestamp int64
	action    Action
}

// NewPrimaryRevision records (record, column) -> value.
func NewPrimaryRevision(record RecordID, column Text, value Value, timestamp int64, action Action) Revision {
	if value.IsZero() {
		panic("model: primary revision requires a value")
	}
	return newRevision(KindPrimary, record, column, value, timestamp, action)
}

// NewSecondaryRevision records (column, value) -> record.
func NewSecondaryRevision(column Text, value Value, record RecordID, timestamp int64, action Action) Revision {
	if value.IsZero() {
		panic("model: secondary revision requires a value")
	}
	return newRevision(KindSecondary, column, value, record, timestamp, action)
}

// NewSearchRevision records (column, term) -> position.
func NewSearchRevision(column Text, term Text, position Position, timestamp int64, action Action) Revision {
	return newRevision(KindSearch, column, term, position, timestamp, action)
}

func newRevision(kind Kind, key, secondary, value codec.Byteable, timestamp int64, action Action) Revision {
	if action != ActionAdd && action != ActionRemove {
		panic(fmt.Sprintf("model: invalid revision action %d", uint8(action)))
	}
	return Revision{
		kind:      kind,
		key:       key,
		secondary: secondary,
		value:     value,
		timestamp: timestamp,
		action:    action,
	}
}

// Kind returns the index orientation.
func (r Revision) Kind() Kind { return r.kind }

// Key returns the primary key slot.
func (r Revision) Key() codec.Byteable { return r.key }

// Secondary returns the secondary key slot.
func (r Revision) Secondary() codec.Byteable { return r.secondary }

// Value returns the value slot.
func (r Revision) Value() codec.Byteable { return r.value }

// Timestamp returns the commit version.
func (r Revision) Timestamp() int64 { return r.timestamp }

// Action returns the direction.
func (r Revision) Action() Action { return r.action }

// IsZero reports whether r was never constructed.
func (r Revision) IsZero() bool { return r.kind == 0 }

// Locator is the composite identity of (key, secondary).
func (r Revision) Locator() codec.Composite {
	return codec.NewComposite(r.key, r.secondary)
}

// Triple is the composite identity of (key, secondary, value). Revisions
// sharing a triple form one alternating ADD/REMOVE history.
func (r Revision) Triple() codec.Composite {
	return codec.NewComposite(r.key, r.secondary, r.value)
}

// Size implements codec.Byteable.
func (r Revision) Size() int {
	return revisionHeaderSize + r.key.Size() + r.secondary.Size() + r.value.Size()
}

// EncodeTo implements codec.Byteable.
func (r Revision) EncodeTo(dst []byte) []byte {
	dst = append(dst, byte(r.kind), byte(r.action))
	dst = codec.PutUint64(dst, uint64(r.timestamp))
	dst = codec.Append(dst, r.key)
	dst = codec.Append(dst, r.secondary)
	return codec.Append(dst, r.value)
}

// Bytes returns the full canonical encoding.
func (r Revision) Bytes() []byte {
	return codec.Encode(r)
}

// Equal compares the full encodings.
func (r Revision) Equal(other Revision) bool {
	return bytes.Equal(r.Bytes(), other.Bytes())
}

// Hash digests the full encoding.
func (r Revision) Hash() uint64 {
	return codec.NewComposite(r).Hash()
}

// Compare orders revisions by locator bytes, then timestamp, then action, and
// finally value bytes so that distinct triples never compare equal. Comparing
// revisions of different kinds is a programming error.
func (r Revision) Compare(other Revision) int {
	if r.kind != other.kind {
		panic(fmt.Sprintf("model: cannot compare %s revision with %s revision", r.kind, other.kind))
	}
	if c := r.Locator().Compare(other.Locator()); c != 0 {
		return c
	}
	switch {
	case r.timestamp < other.timestamp:
		return -1
	case r.timestamp > other.timestamp:
		return 1
	}
	switch {
	case r.action < other.action:
		return -1
	case r.action > other.action:
		return 1
	}
	return bytes.Compare(codec.Encode(r.value), codec.Encode(other.value))
}

func (r Revision) String() string {
	return fmt.Sprintf("%s %s %v/%v -> %v @ %d", r.kind, r.action, r.key, r.secondary, r.value, r.timestamp)
}

// SortKey encodes the Compare order as bytes: bytes.Compare over two sort keys
// of the same kind agrees with Compare.
func (r Revision) SortKey() []byte {
	locator := r.Locator()
	key := make([]byte, 0, locator.Size()+8+1+r.value.Size())
	key = locator.EncodeTo(key)
	key = codec.PutUint64(key, uint64(r.timestamp)^(1<<63))
	key = append(key, byte(r.action))
	return codec.Append(key, r.value)
}
