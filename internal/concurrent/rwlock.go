package concurrent

import (
	"context"
	"sync"
)

// ReentrantRWLock is a read/write lock that an Owner may acquire repeatedly.
//
// Any number of owners may hold the read lock, or one owner may hold the
// write lock. The write holder may re-acquire the write lock and may also
// take the read lock. Upgrading a held read lock to a write lock would
// deadlock and panics instead. Waiting writers block new readers so a stream
// of readers cannot starve them.
//
// Acquisition blocks until the lock is available or ctx is done; an abandoned
// acquisition leaves no trace in the lock state.
type ReentrantRWLock struct {
	mu      sync.Mutex
	changed chan struct{}

	writer         *Owner
	writeHolds     int
	readers        map[*Owner]int
	waitingWriters int
}

// NewReentrantRWLock returns an unlocked lock.
func NewReentrantRWLock() *ReentrantRWLock {
	return &ReentrantRWLock{readers: make(map[*Owner]int)}
}

// Lock acquires the write lock for the owner in ctx.
func (l *ReentrantRWLock) Lock(ctx context.Context) error {
	return l.acquire(ctx, true)
}

// RLock acquires the read lock for the owner in ctx.
func (l *ReentrantRWLock) RLock(ctx context.Context) error {
	return l.acquire(ctx, false)
}

// TryLock acquires the write lock only if that needs no waiting.
func (l *ReentrantRWLock) TryLock(ctx context.Context) bool {
	owner := mustOwner(ctx)
	l.mu.Lock()
	ok := l.tryAcquireLocked(owner, true)
	l.mu.Unlock()
	return ok
}

// TryRLock acquires the read lock only if that needs no waiting.
func (l *ReentrantRWLock) TryRLock(ctx context.Context) bool {
	owner := mustOwner(ctx)
	l.mu.Lock()
	ok := l.tryAcquireLocked(owner, false)
	l.mu.Unlock()
	return ok
}

// Unlock releases one write hold. Releasing a write lock the caller does
// not hold panics.
func (l *ReentrantRWLock) Unlock(ctx context.Context) {
	owner := mustOwner(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != owner {
		panic("concurrent: Unlock of a write lock not held by the caller")
	}
	l.writeHolds--
	if l.writeHolds == 0 {
		l.writer = nil
		l.broadcastLocked()
	}
}

// RUnlock releases one read hold. Releasing a read lock the caller does not
// hold panics.
func (l *ReentrantRWLock) RUnlock(ctx context.Context) {
	owner := mustOwner(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.readers[owner]
	if n == 0 {
		panic("concurrent: RUnlock of a read lock not held by the caller")
	}
	if n == 1 {
		delete(l.readers, owner)
		l.broadcastLocked()
		return
	}
	l.readers[owner] = n - 1
}

// IsWriteLocked reports whether any owner holds the write lock.
func (l *ReentrantRWLock) IsWriteLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer != nil
}

// IsWriteLockedBy reports whether the owner in ctx holds the write lock.
func (l *ReentrantRWLock) IsWriteLockedBy(ctx context.Context) bool {
	owner := OwnerFrom(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	return owner != nil && l.writer == owner
}

// ReadHolds returns the total number of read holds across owners.
func (l *ReentrantRWLock) ReadHolds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.readers {
		total += n
	}
	return total
}

func (l *ReentrantRWLock) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer == nil && len(l.readers) == 0 && l.waitingWriters == 0
}

func (l *ReentrantRWLock) acquire(ctx context.Context, exclusive bool) error {
	owner := mustOwner(ctx)

	l.mu.Lock()
	if l.tryAcquireLocked(owner, exclusive) {
		l.mu.Unlock()
		return nil
	}
	if exclusive {
		l.waitingWriters++
	}

	for {
		wait := l.waitChanLocked()
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			l.mu.Lock()
			if exclusive {
				l.waitingWriters--
				// Readers held back for this writer may proceed.
				l.broadcastLocked()
			}
			l.mu.Unlock()
			return ctx.Err()
		}

		l.mu.Lock()
		if exclusive {
			l.waitingWriters--
		}
		acquired := l.tryAcquireLocked(owner, exclusive)
		if acquired {
			l.mu.Unlock()
			return nil
		}
		if exclusive {
			l.waitingWriters++
		}
	}
}

// tryAcquireLocked records a hold if one can be granted now. It releases
// l.mu before panicking on an upgrade attempt.
func (l *ReentrantRWLock) tryAcquireLocked(owner *Owner, exclusive bool) bool {
	if exclusive {
		switch {
		case l.writer == owner:
			l.writeHolds++
			return true
		case l.readers[owner] > 0:
			l.mu.Unlock()
			panic("concurrent: cannot upgrade a read lock to a write lock")
		case l.writer == nil && len(l.readers) == 0:
			l.writer = owner
			l.writeHolds = 1
			return true
		}
		return false
	}

	switch {
	case l.writer == owner, l.readers[owner] > 0:
		// Reentrant reads skip writer preference; waiting here would deadlock.
	case l.writer != nil, l.waitingWriters > 0:
		return false
	}
	l.readers[owner]++
	return true
}

func (l *ReentrantRWLock) waitChanLocked() chan struct{} {
	if l.changed == nil {
		l.changed = make(chan struct{})
	}
	return l.changed
}

func (l *ReentrantRWLock) broadcastLocked() {
	if l.changed != nil {
		close(l.changed)
		l.changed = nil
	}
}
