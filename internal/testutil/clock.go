package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time for DeterministicClock:
// 2026-01-01T00:00:00Z.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe, monotonic wall clock for tests.
//
// Each call to Now advances the clock by a fixed step, so audit timestamps
// and payment times are reproducible across runs. Reset rewinds it for
// test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock starting at Epoch that advances
// one millisecond per call.
//
// The first call to Now() returns Epoch + 1ms.
func NewDeterministicClock() *DeterministicClock {
	return NewSteppingClock(Epoch, time.Millisecond)
}

// NewSteppingClock creates a clock that starts at start and advances by
// step on every call. A zero step yields a frozen clock.
func NewSteppingClock(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: start, step: step}
}

// Now advances the clock and returns the new time.
//
// Monotonic: never decreases for a non-negative step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// Ticks returns how many times Now has been called since the last Reset.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to its start.
//
// After Reset(), the next call to Now() returns start + step.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
