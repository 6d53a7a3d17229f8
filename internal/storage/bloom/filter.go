// Package bloom provides the existence filter consulted before index reads.
//
// A Filter answers "has this composite key definitely never been inserted?":
//   - MightContain false: the key was never put (no false negatives, ever)
//   - MightContain true: the key may have been put (bounded false positives)
//
// Elements are composite keys built from codec.Byteable components, so two
// independently constructed but value-equal component lists address the same
// bits. Put takes the filter's write lock; MightContain and Sync share the
// read lock, which keeps Sync from capturing a bit array mid-insertion.
package bloom

import (
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
	"github.com/tevino/abool"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexcore/internal/codec"
	"github.com/devrev/pairdb/indexcore/internal/metrics"
)

// DefaultFalsePositiveRate is the target probability of a false positive once
// the filter holds its expected number of insertions.
const DefaultFalsePositiveRate = 0.03

// secondHashSalt derives the second double-hashing function from the first.
var secondHashSalt = []byte("pairdb.bloom")

// Filter is a probabilistic set of composite keys. Overfilling it beyond its
// expected insertions saturates the bit array and the false positive rate
// rises sharply.
type Filter struct {
	mu     sync.RWMutex
	syncMu sync.Mutex

	bits               *bitset.BitSet
	numBits            uint64
	numHashes          uint32
	expectedInsertions int
	falsePositiveRate  float64
	count              uint64

	path  string
	dirty *abool.AtomicBool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger used for sync and open events.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Filter) {
		f.logger = logger
	}
}

// WithMetrics records filter activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) {
		f.metrics = m
	}
}

// WithFalsePositiveRate overrides DefaultFalsePositiveRate for new filters.
// Values outside (0, 1) are ignored.
func WithFalsePositiveRate(p float64) Option {
	return func(f *Filter) {
		if p > 0 && p < 1 {
			f.falsePositiveRate = p
		}
	}
}

// Create returns an empty filter sized for expectedInsertions that can be
// synced to path.
func Create(path string, expectedInsertions int, opts ...Option) *Filter {
	f := newFilter(expectedInsertions, opts...)
	f.path = path
	return f
}

// CreateInMemory returns an empty filter sized for expectedInsertions that
// has no backing file. Sync always fails on it.
func CreateInMemory(expectedInsertions int, opts ...Option) *Filter {
	return newFilter(expectedInsertions, opts...)
}

func newFilter(expectedInsertions int, opts ...Option) *Filter {
	f := &Filter{
		falsePositiveRate: DefaultFalsePositiveRate,
		dirty:             abool.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}

	if expectedInsertions <= 0 {
		expectedInsertions = 1
	}
	f.expectedInsertions = expectedInsertions
	f.numBits, f.numHashes = OptimalSize(expectedInsertions, f.falsePositiveRate)
	f.bits = bitset.New(uint(f.numBits))
	return f
}

// OptimalSize computes the bit count and hash count for n insertions at
// false positive probability p.
func OptimalSize(n int, p float64) (numBits uint64, numHashes uint32) {
	// m = -(n * ln(p)) / (ln(2)^2)
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	numBits = uint64(math.Ceil(m))
	if numBits < 64 {
		numBits = 64
	}

	// k = (m/n) * ln(2)
	k := math.Round(float64(numBits) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return numBits, uint32(k)
}

// Put inserts the composite key formed by components. It returns true if any
// bit changed, in which case this is definitely the first insertion of the
// key. false means the key may have been inserted before.
func (f *Filter) Put(components ...codec.Byteable) bool {
	h1, h2 := hashKey(codec.NewComposite(components...).Bytes())

	f.mu.Lock()
	changed := false
	for i := uint32(0); i < f.numHashes; i++ {
		idx := f.index(h1, h2, i)
		if !f.bits.Test(idx) {
			f.bits.Set(idx)
			changed = true
		}
	}
	if changed {
		f.count++
		f.dirty.Set()
	}
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.FilterPutsTotal.WithLabelValues(boolLabel(changed)).Inc()
	}
	return changed
}

// MightContain reports whether the composite key formed by components might
// have been put. false is definitive.
func (f *Filter) MightContain(components ...codec.Byteable) bool {
	h1, h2 := hashKey(codec.NewComposite(components...).Bytes())

	f.mu.RLock()
	found := true
	for i := uint32(0); i < f.numHashes; i++ {
		if !f.bits.Test(f.index(h1, h2, i)) {
			found = false
			break
		}
	}
	f.mu.RUnlock()

	if f.metrics != nil {
		result := "absent"
		if found {
			result = "maybe"
		}
		f.metrics.FilterQueriesTotal.WithLabelValues(result).Inc()
	}
	return found
}

// Path returns the backing file, or "" for in-memory filters.
func (f *Filter) Path() string {
	return f.path
}

// ExpectedInsertions returns the capacity the filter was sized for.
func (f *Filter) ExpectedInsertions() int {
	return f.expectedInsertions
}

// FalsePositiveRate returns the configured target probability.
func (f *Filter) FalsePositiveRate() float64 {
	return f.falsePositiveRate
}

// NumBits returns the size of the bit array.
func (f *Filter) NumBits() uint64 {
	return f.numBits
}

// NumHashes returns the number of hash functions.
func (f *Filter) NumHashes() uint32 {
	return f.numHashes
}

// ApproximateCount returns the number of puts that changed at least one bit.
func (f *Filter) ApproximateCount() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Dirty reports whether bits changed since the last successful Sync.
func (f *Filter) Dirty() bool {
	return f.dirty.IsSet()
}

// EstimatedFalsePositiveRate estimates the current false positive
// probability from the insertion count: (1 - e^(-k*n/m))^k.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.count == 0 {
		return 0
	}
	kn := float64(f.numHashes) * float64(f.count)
	return math.Pow(1-math.Exp(-kn/float64(f.numBits)), float64(f.numHashes))
}

func (f *Filter) index(h1, h2 uint64, i uint32) uint {
	return uint((h1 + uint64(i)*h2) % f.numBits)
}

// hashKey produces the two hashes for double hashing: h(i) = h1 + i*h2.
func hashKey(key []byte) (h1, h2 uint64) {
	d := xxhash.New()
	_, _ = d.Write(key)
	h1 = d.Sum64()
	_, _ = d.Write(secondHashSalt)
	h2 = d.Sum64() | 1
	return h1, h2
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
