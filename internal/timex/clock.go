// Package timex holds time helpers shared by the caches and the sync facade:
// an injectable wall clock and epoch-millisecond conversions.
package timex

import (
	"math"
	"sync"
	"time"
)

// Infinity is the sentinel "last update" of a type that has never been
// synced. It compares greater than every real timestamp or version.
const Infinity int64 = math.MaxInt64

// Clock abstracts time.Now so TTL logic can be driven from tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the real wall clock.
var System Clock = systemClock{}

// FakeClock is a manually advanced Clock.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// ToMillis returns milliseconds since the Unix epoch.
func ToMillis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis is the inverse of ToMillis. The result is in UTC.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
