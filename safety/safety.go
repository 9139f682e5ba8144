// Package safety watches for conditions the coordinator cannot see
// about itself: a wedged controller, a runaway move, the hardware
// stop button. It never mutates state directly; it injects intents.
package safety

import (
	"time"

	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/input"
	"github.com/pumpbench/pumpd/pump"
)

const (
	// Heartbeat is the longest a moving state may go without a
	// non-Idle status frame.
	Heartbeat = 5000 * time.Millisecond
	// MaxMove bounds any single move.
	MaxMove = 30000 * time.Millisecond
)

// Intents is the slice of the coordinator the monitor uses.
type Intents interface {
	EStop(reason string)
	Snapshot() pump.Snapshot
}

// Monitor runs every tick, independent of the coordinator's state
// machine.
type Monitor struct {
	coord  Intents
	stop   input.Pin // hardware STOP level; true = pressed
	logger *zap.Logger

	stopHeld bool
}

func NewMonitor(coord Intents, stop input.Pin, logger *zap.Logger) *Monitor {
	return &Monitor{coord: coord, stop: stop, logger: logger}
}

func (m *Monitor) Tick(now time.Duration) {
	snap := m.coord.Snapshot()

	// The hardware stop path does not debounce: a glitch that
	// stops the pumps is the right failure direction.
	if m.stop != nil {
		pressed := m.stop.Get()
		if pressed && !m.stopHeld && snap.Mode != pump.ModeEmergency {
			m.logger.Warn("hardware stop pressed")
			m.coord.EStop("button")
		}
		m.stopHeld = pressed
	}

	if !snap.Mode.Dispensing() || !snap.SlotActive {
		return
	}

	ref := snap.SlotIssuedAt
	if snap.LastNonIdle > ref {
		ref = snap.LastNonIdle
	}
	if snap.SlotSeenRun && now-ref > Heartbeat {
		m.logger.Error("no status heartbeat from controller",
			zap.Duration("silent", now-ref))
		m.coord.EStop("heartbeat")
		return
	}

	if now-snap.SlotIssuedAt > MaxMove {
		m.logger.Error("move exceeded the runaway bound",
			zap.Duration("running", now-snap.SlotIssuedAt))
		m.coord.EStop("runaway")
	}
}
