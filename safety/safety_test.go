package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/input"
	"github.com/pumpbench/pumpd/pump"
)

type fakeCoord struct {
	snap  pump.Snapshot
	stops []string
}

func (f *fakeCoord) EStop(reason string)     { f.stops = append(f.stops, reason) }
func (f *fakeCoord) Snapshot() pump.Snapshot { return f.snap }

func TestStopButton(t *testing.T) {
	pressed := false
	coord := &fakeCoord{}
	m := NewMonitor(coord, input.PinFunc(func() bool { return pressed }), zap.NewNop())

	m.Tick(0)
	assert.Empty(t, coord.stops)

	pressed = true
	m.Tick(time.Millisecond)
	assert.Equal(t, []string{"button"}, coord.stops)

	// held: no repeat
	m.Tick(2 * time.Millisecond)
	assert.Len(t, coord.stops, 1)

	// already in emergency: no re-fire on a fresh press
	pressed = false
	m.Tick(3 * time.Millisecond)
	coord.snap.Mode = pump.ModeEmergency
	pressed = true
	m.Tick(4 * time.Millisecond)
	assert.Len(t, coord.stops, 1)
}

func TestHeartbeat(t *testing.T) {
	coord := &fakeCoord{snap: pump.Snapshot{
		Mode:         pump.ModeSingle,
		SlotActive:   true,
		SlotSeenRun:  true,
		SlotIssuedAt: 0,
		LastNonIdle:  time.Second,
	}}
	m := NewMonitor(coord, nil, zap.NewNop())

	m.Tick(time.Second + Heartbeat)
	assert.Empty(t, coord.stops)
	m.Tick(time.Second + Heartbeat + time.Millisecond)
	assert.Equal(t, []string{"heartbeat"}, coord.stops)
}

func TestRunaway(t *testing.T) {
	coord := &fakeCoord{snap: pump.Snapshot{
		Mode:         pump.ModeSequence,
		SlotActive:   true,
		SlotSeenRun:  true,
		SlotIssuedAt: 0,
		LastNonIdle:  MaxMove + time.Second, // controller still chatty
	}}
	m := NewMonitor(coord, nil, zap.NewNop())

	m.Tick(MaxMove + time.Second)
	assert.Equal(t, []string{"runaway"}, coord.stops)
}

func TestQuietWhenIdle(t *testing.T) {
	coord := &fakeCoord{snap: pump.Snapshot{Mode: pump.ModeIdle}}
	m := NewMonitor(coord, nil, zap.NewNop())
	m.Tick(MaxMove * 10)
	assert.Empty(t, coord.stops)
}
