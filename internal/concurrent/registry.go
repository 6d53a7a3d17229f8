package concurrent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexcore/internal/codec"
	"github.com/devrev/pairdb/indexcore/internal/errors"
	"github.com/devrev/pairdb/indexcore/internal/metrics"
)

// DefaultShards is the number of independently locked registry partitions.
const DefaultShards = 64

// Registry hands out one ReentrantRWLock per composite key value. Callers that
// build value-equal keys independently share the same lock for as long as at
// least one Handle for that key is open; once the last handle closes the
// entry is dropped, so the registry only grows with the set of keys in use.
type Registry struct {
	shards         []registryShard
	mask           uint64
	acquireTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
	entries        atomic.Int64
}

type registryShard struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	lock *ReentrantRWLock
	refs int
}

// Config holds registry configuration
type Config struct {
	// Shards is rounded up to a power of two.
	Shards int
	// AcquireTimeout bounds Lock and RLock when the caller's context has no
	// deadline. Zero waits indefinitely.
	AcquireTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *Config) *Registry {
	if cfg == nil {
		cfg = &Config{}
	}
	shards := DefaultShards
	if cfg.Shards > 0 {
		shards = 1
		for shards < cfg.Shards {
			shards <<= 1
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		shards:         make([]registryShard, shards),
		mask:           uint64(shards - 1),
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
		metrics:        cfg.Metrics,
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*registryEntry)
	}
	return r
}

// Handle is a reference to the shared lock for one key. The embedded lock is
// only guaranteed to be the shared one while the handle is open; release any
// holds before calling Close.
type Handle struct {
	*ReentrantRWLock
	key      codec.Composite
	registry *Registry
	closed   atomic.Bool
}

// Key returns the composite key the handle refers to.
func (h *Handle) Key() codec.Composite {
	return h.key
}

// Close drops the handle's reference. Closing twice panics.
func (h *Handle) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		panic("concurrent: Handle closed twice")
	}
	h.registry.release(h.key)
}

// For returns a handle to the lock identified by components. Every call must
// be paired with Handle.Close.
func (r *Registry) For(components ...codec.Byteable) *Handle {
	key := codec.NewComposite(components...)
	shard := r.shard(key)

	shard.mu.Lock()
	e, ok := shard.entries[key.Key()]
	if !ok {
		e = &registryEntry{lock: NewReentrantRWLock()}
		shard.entries[key.Key()] = e
	}
	e.refs++
	shard.mu.Unlock()

	if !ok {
		r.adjustEntries(1)
	}
	return &Handle{ReentrantRWLock: e.lock, key: key, registry: r}
}

// Lock acquires the write lock for components and returns the function that
// releases it. Calling the release function twice panics. A context that expires first yields a LockTimeout error and
// leaves no hold behind.
func (r *Registry) Lock(ctx context.Context, components ...codec.Byteable) (func(), error) {
	return r.acquire(ctx, true, components)
}

// RLock is Lock for the shared read lock.
func (r *Registry) RLock(ctx context.Context, components ...codec.Byteable) (func(), error) {
	return r.acquire(ctx, false, components)
}

// Len returns the number of keys with at least one open handle.
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

func (r *Registry) acquire(ctx context.Context, exclusive bool, components []codec.Byteable) (func(), error) {
	mode := "read"
	if exclusive {
		mode = "write"
	}

	h := r.For(components...)

	waitCtx := ctx
	if r.acquireTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, r.acquireTimeout)
			defer cancel()
		}
	}

	start := time.Now()
	var err error
	if exclusive {
		err = h.ReentrantRWLock.Lock(waitCtx)
	} else {
		err = h.ReentrantRWLock.RLock(waitCtx)
	}
	if r.metrics != nil {
		r.metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		h.Close()
		if r.metrics != nil {
			r.metrics.LockTimeoutsTotal.Inc()
		}
		owner := OwnerFrom(ctx).ID()
		r.logger.Warn("Lock acquisition abandoned",
			zap.String("mode", mode),
			zap.Uint64("owner", owner),
			zap.Stringer("key", h.key),
			zap.Duration("waited", time.Since(start)),
			zap.Error(err))
		return nil, errors.LockTimeout(err).
			WithDetail("key", h.key.String()).
			WithDetail("owner", owner)
	}

	if r.metrics != nil {
		r.metrics.LockAcquisitionsTotal.WithLabelValues(mode).Inc()
	}

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			panic(fmt.Sprintf("concurrent: %s lock on %s released twice", mode, h.key))
		}
		if exclusive {
			h.ReentrantRWLock.Unlock(ctx)
		} else {
			h.ReentrantRWLock.RUnlock(ctx)
		}
		h.Close()
	}, nil
}

func (r *Registry) release(key codec.Composite) {
	shard := r.shard(key)

	shard.mu.Lock()
	e, ok := shard.entries[key.Key()]
	if !ok {
		shard.mu.Unlock()
		panic(fmt.Sprintf("concurrent: release of unknown lock %s", key))
	}
	e.refs--
	removed := e.refs == 0
	if removed {
		if !e.lock.idle() {
			shard.mu.Unlock()
			panic(fmt.Sprintf("concurrent: last handle for %s closed while the lock is held", key))
		}
		delete(shard.entries, key.Key())
	}
	shard.mu.Unlock()

	if removed {
		r.adjustEntries(-1)
	}
}

func (r *Registry) shard(key codec.Composite) *registryShard {
	return &r.shards[key.Hash()&r.mask]
}

func (r *Registry) adjustEntries(delta int64) {
	n := r.entries.Add(delta)
	if r.metrics != nil {
		r.metrics.LockRegistryEntries.Set(float64(n))
	}
}
