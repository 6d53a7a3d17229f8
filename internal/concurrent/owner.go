// Package concurrent provides reentrant read/write locks and a registry that
// hands out one shared lock per composite key value.
//
// Go has no notion of a thread that owns a lock, so reentrancy is tracked
// against an Owner carried in the context. A goroutine (or a logical task that
// spans goroutines) calls WithOwner once and passes the resulting context to
// every acquisition; nested acquisitions with the same owner never block on
// themselves.
package concurrent

import (
	"context"
	"sync/atomic"
)

// Owner identifies the holder of a lock for reentrancy purposes.
type Owner struct {
	id uint64
}

var ownerSeq atomic.Uint64

// NewOwner returns a fresh owner identity.
func NewOwner() *Owner {
	return &Owner{id: ownerSeq.Add(1)}
}

// ID returns a process-unique number for logging.
func (o *Owner) ID() uint64 {
	return o.id
}

type ownerKey struct{}

// WithOwner returns ctx carrying a new Owner, unless ctx already has one.
func WithOwner(ctx context.Context) context.Context {
	if OwnerFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, NewOwner())
}

// OwnerFrom returns the Owner carried by ctx, or nil.
func OwnerFrom(ctx context.Context) *Owner {
	o, _ := ctx.Value(ownerKey{}).(*Owner)
	return o
}

func mustOwner(ctx context.Context) *Owner {
	o := OwnerFrom(ctx)
	if o == nil {
		panic("concurrent: lock used without an owner; call concurrent.WithOwner first")
	}
	return o
}
