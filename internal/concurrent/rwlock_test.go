package concurrent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReentrantRWLock_WriteReentrancy(t *testing.T) {
	l := NewReentrantRWLock()
	ctx := WithOwner(context.Background())

	require.NoError(t, l.Lock(ctx))
	require.NoError(t, l.Lock(ctx))
	assert.True(t, l.IsWriteLockedBy(ctx))

	l.Unlock(ctx)
	assert.True(t, l.IsWriteLocked(), "one hold remains")

	l.Unlock(ctx)
	assert.False(t, l.IsWriteLocked())
	assert.True(t, l.idle())
}

func TestReentrantRWLock_ReadWhileHoldingWrite(t *testing.T) {
	l := NewReentrantRWLock()
	ctx := WithOwner(context.Background())

	require.NoError(t, l.Lock(ctx))
	require.NoError(t, l.RLock(ctx))
	assert.Equal(t, 1, l.ReadHolds())

	l.RUnlock(ctx)
	l.Unlock(ctx)
	assert.True(t, l.idle())
}

func TestReentrantRWLock_SharedReaders(t *testing.T) {
	l := NewReentrantRWLock()
	a := WithOwner(context.Background())
	b := WithOwner(context.Background())

	require.NoError(t, l.RLock(a))
	require.NoError(t, l.RLock(b))
	require.NoError(t, l.RLock(a))
	assert.Equal(t, 3, l.ReadHolds())

	assert.False(t, l.TryLock(b), "writers wait for readers")

	l.RUnlock(a)
	l.RUnlock(a)
	l.RUnlock(b)
	assert.True(t, l.TryLock(b))
	l.Unlock(b)
}

func TestReentrantRWLock_WriterExcludesOthers(t *testing.T) {
	l := NewReentrantRWLock()
	a := WithOwner(context.Background())
	b := WithOwner(context.Background())

	require.NoError(t, l.Lock(a))
	assert.False(t, l.TryLock(b))
	assert.False(t, l.TryRLock(b))

	acquired := make(chan struct{})
	go func() {
		if err := l.Lock(b); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second owner acquired a held write lock")
	case <-time.After(50 * time.Millisecond):
	}

	l.Unlock(a)
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiting writer was never woken")
	}
	l.Unlock(b)
}

func TestReentrantRWLock_WaitingWriterBlocksNewReaders(t *testing.T) {
	l := NewReentrantRWLock()
	reader := WithOwner(context.Background())
	writer := WithOwner(context.Background())
	late := WithOwner(context.Background())

	require.NoError(t, l.RLock(reader))

	writerDone := make(chan error, 1)
	go func() { writerDone <- l.Lock(writer) }()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.waitingWriters == 1
	}, 5*time.Second, time.Millisecond)

	assert.False(t, l.TryRLock(late), "new readers queue behind a waiting writer")
	assert.True(t, l.TryRLock(reader), "reentrant reads are not held back")
	l.RUnlock(reader)

	l.RUnlock(reader)
	require.NoError(t, <-writerDone)
	l.Unlock(writer)
	assert.True(t, l.TryRLock(late))
	l.RUnlock(late)
}

func TestReentrantRWLock_AbandonedAcquisition(t *testing.T) {
	l := NewReentrantRWLock()
	holder := WithOwner(context.Background())
	require.NoError(t, l.Lock(holder))

	waiter, cancel := context.WithTimeout(WithOwner(context.Background()), 20*time.Millisecond)
	defer cancel()

	err := l.Lock(waiter)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = l.RLock(waiter)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.Unlock(holder)
	assert.True(t, l.idle(), "abandoned waits leave no state")
}

func TestReentrantRWLock_AbandonedWriterReleasesReaders(t *testing.T) {
	l := NewReentrantRWLock()
	reader := WithOwner(context.Background())
	require.NoError(t, l.RLock(reader))

	writer, cancel := context.WithCancel(WithOwner(context.Background()))
	writerDone := make(chan error, 1)
	go func() { writerDone <- l.Lock(writer) }()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.waitingWriters == 1
	}, 5*time.Second, time.Millisecond)

	other := WithOwner(context.Background())
	readerDone := make(chan error, 1)
	go func() { readerDone <- l.RLock(other) }()

	cancel()
	assert.ErrorIs(t, <-writerDone, context.Canceled)
	require.NoError(t, <-readerDone)

	l.RUnlock(other)
	l.RUnlock(reader)
	assert.True(t, l.idle())
}

func TestReentrantRWLock_Misuse(t *testing.T) {
	t.Run("unlock not held", func(t *testing.T) {
		l := NewReentrantRWLock()
		ctx := WithOwner(context.Background())
		assert.Panics(t, func() { l.Unlock(ctx) })
		assert.Panics(t, func() { l.RUnlock(ctx) })
	})

	t.Run("unlock held by another owner", func(t *testing.T) {
		l := NewReentrantRWLock()
		a := WithOwner(context.Background())
		b := WithOwner(context.Background())
		require.NoError(t, l.Lock(a))
		assert.Panics(t, func() { l.Unlock(b) })
		l.Unlock(a)
	})

	t.Run("upgrade", func(t *testing.T) {
		l := NewReentrantRWLock()
		ctx := WithOwner(context.Background())
		require.NoError(t, l.RLock(ctx))
		assert.Panics(t, func() { _ = l.Lock(ctx) })
		l.RUnlock(ctx)
		assert.True(t, l.idle())
	})

	t.Run("missing owner", func(t *testing.T) {
		l := NewReentrantRWLock()
		assert.Panics(t, func() { _ = l.Lock(context.Background()) })
	})
}

func TestWithOwner_ReusesExisting(t *testing.T) {
	ctx := WithOwner(context.Background())
	nested := WithOwner(ctx)

	assert.Same(t, OwnerFrom(ctx), OwnerFrom(nested))
	assert.Nil(t, OwnerFrom(context.Background()))
	assert.NotEqual(t, NewOwner().ID(), NewOwner().ID())
}
