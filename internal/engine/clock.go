package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a strictly increasing wall clock for snapshot timestamps.
//
// Two readings never return the same instant, even when the system clock
// stalls or steps backwards, so created_at alone orders snapshots written by
// one process. The store's id remains the tie-break across processes.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	last   atomic.Int64 // UnixNano of the previous reading
	source func() time.Time
}

// NewClock creates a clock reading the system time.
func NewClock() *Clock {
	return &Clock{source: time.Now}
}

// NewClockFrom creates a clock over another time source.
// Used by tests to drive timestamps deterministically.
func NewClockFrom(source func() time.Time) *Clock {
	return &Clock{source: source}
}

// Now returns max(source(), previous+1ns) in UTC.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Now() time.Time {
	for {
		prev := c.last.Load()
		next := c.source().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return time.Unix(0, next).UTC()
		}
	}
}

// Current returns the last reading without advancing.
func (c *Clock) Current() time.Time {
	return time.Unix(0, c.last.Load()).UTC()
}
