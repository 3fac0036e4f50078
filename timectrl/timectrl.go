package timectrl

import (
	"sync"
	"time"
)

// SimClock is the time source used by the predictor and tracker. Depending on
// the interface rather than time.Now keeps both testable and lets a session
// run ahead of (or behind) wall-clock time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// OffsetClock is wall-clock time shifted by a signed offset. A zero offset
// means real time. It is safe for concurrent use: the tracker reads it every
// tick while a control path may step or set the offset.
type OffsetClock struct {
	mu     sync.RWMutex
	offset time.Duration
	wall   func() time.Time
}

// NewOffsetClock constructs a clock over time.Now with the given offset.
func NewOffsetClock(offset time.Duration) *OffsetClock {
	return NewOffsetClockWithSource(time.Now, offset)
}

// NewOffsetClockWithSource constructs a clock over an arbitrary wall source.
// Tests use it to freeze the underlying time.
func NewOffsetClockWithSource(wall func() time.Time, offset time.Duration) *OffsetClock {
	if wall == nil {
		wall = time.Now
	}
	return &OffsetClock{offset: offset, wall: wall}
}

// Now returns wall time plus the offset. Implements SimClock.
func (c *OffsetClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wall().Add(c.offset)
}

// Offset returns the current offset.
func (c *OffsetClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Step adds delta to the offset and returns the new offset.
func (c *OffsetClock) Step(delta time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += delta
	return c.offset
}

// Set replaces the offset.
func (c *OffsetClock) Set(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = offset
}

// ManualClock is a SimClock whose time only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the frozen time. Implements SimClock.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// SetTime moves the clock to t.
func (c *ManualClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
