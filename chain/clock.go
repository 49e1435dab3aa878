package chain

import (
	"sync/atomic"
	"time"
)

// Clock supplies the current time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now() in unix seconds.
func (SystemClock) Now() int64 { return time.Now().Unix() }

// FixedClock returns a settable time. Safe for concurrent use.
type FixedClock struct {
	ts atomic.Int64
}

// NewFixedClock returns a clock stopped at ts.
func NewFixedClock(ts int64) *FixedClock {
	c := &FixedClock{}
	c.ts.Store(ts)
	return c
}

func (c *FixedClock) Now() int64 { return c.ts.Load() }

// Set moves the clock to ts, forwards or backwards.
func (c *FixedClock) Set(ts int64) { c.ts.Store(ts) }

// Advance moves the clock forward by d seconds.
func (c *FixedClock) Advance(d int64) { c.ts.Add(d) }
