package ledger

import (
	"sync"
	"time"
)

// Timestamp is a point in time with microsecond precision.
type Timestamp int64

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time converts the timestamp back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts))
}

// Millis returns the timestamp in Unix milliseconds.
func (ts Timestamp) Millis() int64 {
	return int64(ts) / 1000
}

// Seconds returns the timestamp in Unix seconds.
func (ts Timestamp) Seconds() int64 {
	return int64(ts) / 1_000_000
}

// Add returns the timestamp shifted by d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return ts + Timestamp(d.Microseconds())
}

// Clock supplies timestamps for new records and links.
type Clock interface {
	Now() Timestamp
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() Timestamp {
	return FromTime(time.Now())
}

// ManualClock is a deterministic clock for tests and simulations.
// Every call to Now advances the clock by step, so successive writes
// never share a timestamp unless step is zero.
type ManualClock struct {
	mu   sync.Mutex
	now  Timestamp
	step time.Duration
}

// NewManualClock creates a clock starting at start.
func NewManualClock(start time.Time, step time.Duration) *ManualClock {
	return &ManualClock{now: FromTime(start), step: step}
}

// Now implements Clock.
func (c *ManualClock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now
	c.now = c.now.Add(c.step)
	return ts
}

// Peek returns the current time without advancing.
func (c *ManualClock) Peek() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to ts.
func (c *ManualClock) Set(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}
