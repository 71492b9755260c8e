package engine

import "sync/atomic"

// SeqClock stamps firings with strictly increasing sequence numbers.
type SeqClock interface {
	Next() int64
	Current() int64
}

// Clock is the default SeqClock: a monotonic logical counter.
//
// Firings are ordered by seq, never by wall time, so a replayed trace sorts
// identically. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, typically the last
// seq found in a trace store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
