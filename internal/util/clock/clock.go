// Package clock hands out strictly increasing commit timestamps.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock issues microsecond timestamps that never repeat or go backwards, even
// when the wall clock does.
type Clock struct {
	last atomic.Int64
	now  func() int64
}

// New creates a Clock backed by the wall clock.
func New() *Clock {
	return &Clock{now: func() int64 { return time.Now().UnixMicro() }}
}

// NewWithSource creates a Clock backed by now, mostly for tests.
func NewWithSource(now func() int64) *Clock {
	return &Clock{now: now}
}

// Next returns a timestamp greater than every previously returned one.
func (c *Clock) Next() int64 {
	for {
		last := c.last.Load()
		next := c.now()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Val returns the most recent timestamp, or zero if none was issued.
func (c *Clock) Val() int64 {
	return c.last.Load()
}

// Set moves the clock forward to t. Smaller values are ignored so that a
// recovered high-water mark never rewinds issued timestamps.
func (c *Clock) Set(t int64) {
	for {
		last := c.last.Load()
		if t <= last || c.last.CompareAndSwap(last, t) {
			return
		}
	}
}
