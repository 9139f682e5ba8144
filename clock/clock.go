package clock

import (
	"sync"
	"time"
)

// A Clock reports monotonic time since boot. All deadlines and
// timestamps in the system are expressed against it so tests can
// drive time by hand.
type Clock interface {
	Now() time.Duration
}

// Wall is a Clock backed by the process monotonic clock.
type Wall struct {
	start time.Time
}

func NewWall() *Wall {
	return &Wall{start: time.Now()}
}

func (w *Wall) Now() time.Duration {
	return time.Since(w.start)
}

// Millis formats a monotonic timestamp as whole milliseconds,
// matching the operator log prefix.
func Millis(t time.Duration) int64 {
	return int64(t / time.Millisecond)
}

// Manual is a hand-advanced Clock for tests.
type Manual struct {
	mx  sync.Mutex
	now time.Duration
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Now() time.Duration {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mx.Lock()
	m.now += d
	m.mx.Unlock()
}

// A Deadline is a single armed timeout checked on tick boundaries.
type Deadline struct {
	at    time.Duration
	armed bool
}

func (d *Deadline) Set(now, after time.Duration) {
	d.at = now + after
	d.armed = true
}

func (d *Deadline) Clear() { d.armed = false }

func (d *Deadline) Armed() bool { return d.armed }

// Expired reports whether the deadline has passed. It stays true
// until cleared or re-armed.
func (d *Deadline) Expired(now time.Duration) bool {
	return d.armed && now >= d.at
}
