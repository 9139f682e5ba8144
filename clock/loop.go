package clock

import (
	"context"
	"time"
)

// A Task runs one cooperative slice of work. Implementations must not
// block; anything slow records a deadline and returns.
type Task interface {
	Tick(now time.Duration)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(now time.Duration)

func (f TaskFunc) Tick(now time.Duration) { f(now) }

// Loop drives all components from a single goroutine in a fixed
// order. Side effects of one task become visible to the others no
// later than the next tick.
type Loop struct {
	clock    Clock
	interval time.Duration
	tasks    []Task
}

func NewLoop(c Clock, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	return &Loop{clock: c, interval: interval}
}

// Register appends a task. Order of registration is order of
// execution within a tick.
func (l *Loop) Register(t Task) {
	l.tasks = append(l.tasks, t)
}

// Step runs one tick. Exposed for tests.
func (l *Loop) Step() {
	now := l.clock.Now()
	for _, t := range l.tasks {
		t.Tick(now)
	}
}

// Run ticks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	tick := time.NewTicker(l.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			l.Step()
		}
	}
}
