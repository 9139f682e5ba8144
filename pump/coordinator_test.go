package pump

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/grbl"
	"github.com/pumpbench/pumpd/scale"
	"github.com/pumpbench/pumpd/units"
)

type fakeLink struct {
	lines      []string
	immediates []byte
	drops      int
	status     grbl.Status
	events     []grbl.Event
}

func (f *fakeLink) Enqueue(lines ...string) { f.lines = append(f.lines, lines...) }
func (f *fakeLink) DropQueue()              { f.drops++ }
func (f *fakeLink) Immediate(b byte) error {
	f.immediates = append(f.immediates, b)
	return nil
}
func (f *fakeLink) Status() grbl.Status   { return f.status }
func (f *fakeLink) Events() []grbl.Event  { return f.events }
func (f *fakeLink) Busy() bool            { return false }

// ctl returns the immediate bytes sent, minus routine '?' polls.
func (f *fakeLink) ctl() []byte {
	var out []byte
	for _, b := range f.immediates {
		if b != grbl.ByteStatus {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeLink) feed(state grbl.State, mpos [4]float64) {
	f.status = grbl.Status{State: state, MPos: mpos, NumAxes: 4}
	f.events = append(f.events, grbl.Event{Kind: grbl.EvStatus, Status: f.status})
}

type fakeScale struct {
	sample scale.Sample
	have   bool
	lost   bool
	polls  int
}

func (f *fakeScale) Poll() int {
	f.polls++
	return 0
}
func (f *fakeScale) Last() (scale.Sample, bool) { return f.sample, f.have }
func (f *fakeScale) Lost(time.Duration) bool    { return f.lost }

func (f *fakeScale) set(g float64, at time.Duration) {
	f.sample = scale.Sample{Value: g, Unit: "g", At: at}
	f.have = true
}

var testCals = [NumAxes]units.Calibration{
	{MLPerMM: 0.05, MaxFeed: 300},
	{MLPerMM: 0.05, MaxFeed: 300},
	{MLPerMM: 0.05, MaxFeed: 300},
	{MLPerMM: 0.05, MaxFeed: 300},
}

func newTestCoord(scl WeightSource) (*Coordinator, *fakeLink) {
	link := &fakeLink{}
	c := NewCoordinator(link, scl, testCals, zap.NewNop())
	return c, link
}

// tick clears consumed events afterwards, like the real link does.
func tick(c *Coordinator, link *fakeLink, now time.Duration) {
	c.Tick(now)
	link.events = nil
}

func TestSingleDispense_Nominal(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, 0)
	assert.Equal(t, []string{"G92 X0", "G1 X100.00 F150.0"}, link.lines)
	assert.Equal(t, ModeSingle, c.Snapshot().Mode)
	assert.True(t, c.Snapshot().Axes[AxisX].Running)
	assert.False(t, c.Snapshot().Clamped)

	link.feed(grbl.StateRun, [4]float64{40, 0, 0, 0})
	tick(c, link, 100*time.Millisecond)
	assert.Equal(t, ModeSingle, c.Snapshot().Mode)
	assert.InDelta(t, 2.0, c.Snapshot().Axes[AxisX].DispensedML, 1e-9)

	link.feed(grbl.StateIdle, [4]float64{100, 0, 0, 0})
	tick(c, link, 200*time.Millisecond)
	snap := c.Snapshot()
	assert.Equal(t, ModeIdle, snap.Mode)
	assert.False(t, snap.Axes[AxisX].Running)
	assert.Equal(t, 5.0, snap.Axes[AxisX].DispensedML)

	log := c.RunLog()
	require.Len(t, log, 1)
	assert.Equal(t, "X", log[0].Axis)
	assert.Equal(t, 5.0, log[0].VolumeML)
}

func TestSingleDispense_FlowClamped(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 30}))
	tick(c, link, 0)
	assert.Equal(t, []string{"G92 X0", "G1 X100.00 F300.0"}, link.lines)
	assert.True(t, c.Snapshot().Clamped)
}

func TestSingleDispense_ZeroVolumeIsNoop(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 0, FlowMLMin: 7.5}))
	tick(c, link, 0)
	assert.Empty(t, link.lines)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
}

func TestDispense_RejectsZeroFlow(t *testing.T) {
	c, _ := newTestCoord(nil)
	assert.ErrorIs(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5}), units.ErrZeroFlow)
}

func TestIntentRejectedWhileBusy(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, 0)
	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisY, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, 10*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, ModeSingle, snap.Mode)
	assert.Contains(t, snap.Warning, "rejected")
	assert.Len(t, link.lines, 2)
	// only one axis running, ever
	running := 0
	for _, a := range snap.Axes {
		if a.Running {
			running++
		}
	}
	assert.Equal(t, 1, running)
}

func TestEStopMidMove(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, 0)
	link.feed(grbl.StateRun, [4]float64{10, 0, 0, 0})
	tick(c, link, 50*time.Millisecond)

	c.EStop("button")
	tick(c, link, 60*time.Millisecond)
	snap := c.Snapshot()
	assert.Equal(t, ModeEmergency, snap.Mode)
	assert.Equal(t, "button", snap.Reason)
	for _, a := range snap.Axes {
		assert.False(t, a.Running)
	}
	assert.Equal(t, []byte{grbl.ByteHold}, link.ctl())
	assert.Equal(t, 1, link.drops)

	// soft reset byte follows after the delay, not before
	tick(c, link, 100*time.Millisecond)
	assert.Equal(t, []byte{grbl.ByteHold}, link.ctl())
	tick(c, link, 161*time.Millisecond)
	assert.Equal(t, []byte{grbl.ByteHold, grbl.ByteReset}, link.ctl())

	// reset unlocks and returns to idle on ok
	c.Reset()
	tick(c, link, 200*time.Millisecond)
	assert.Contains(t, link.lines, "$X")
	link.events = []grbl.Event{{Kind: grbl.EvAck}}
	tick(c, link, 210*time.Millisecond)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
}

func TestWeightTarget(t *testing.T) {
	scl := &fakeScale{}
	scl.set(0, time.Second)
	c, link := newTestCoord(scl)

	require.NoError(t, c.WeightTarget(AxisX, 10, 7.5))
	tick(c, link, 0)
	assert.Equal(t, []string{"G92 X0", "G1 X1000 F150.0"}, link.lines)
	assert.Equal(t, ModeWeight, c.Snapshot().Mode)

	link.feed(grbl.StateRun, [4]float64{50, 0, 0, 0})
	tick(c, link, time.Second)

	for i, g := range []float64{2.0, 5.0, 9.9} {
		scl.set(g, time.Second+time.Duration(i+1)*time.Second)
		tick(c, link, 2*time.Second+time.Duration(i)*time.Second)
		assert.Equal(t, ModeWeight, c.Snapshot().Mode, "at %.1f g", g)
		assert.Empty(t, link.ctl())
	}

	scl.set(10.1, 10*time.Second)
	tick(c, link, 10*time.Second)
	assert.Equal(t, []byte{grbl.ByteHold}, link.ctl())
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
}

func TestWeightTarget_ShortMoveWarns(t *testing.T) {
	scl := &fakeScale{}
	scl.set(0, time.Second)
	c, link := newTestCoord(scl)

	require.NoError(t, c.WeightTarget(AxisX, 10, 7.5))
	tick(c, link, 0)
	link.feed(grbl.StateRun, [4]float64{500, 0, 0, 0})
	tick(c, link, time.Second)
	link.feed(grbl.StateIdle, [4]float64{1000, 0, 0, 0})
	tick(c, link, 2*time.Second)

	snap := c.Snapshot()
	assert.Equal(t, ModeIdle, snap.Mode)
	assert.Contains(t, snap.Warning, "not reached")
}

func TestWeightTarget_ScaleLost(t *testing.T) {
	scl := &fakeScale{}
	scl.set(0, time.Second)
	c, link := newTestCoord(scl)

	require.NoError(t, c.WeightTarget(AxisX, 10, 7.5))
	tick(c, link, 0)
	link.feed(grbl.StateRun, [4]float64{50, 0, 0, 0})
	tick(c, link, time.Second)
	scl.lost = true
	tick(c, link, 12*time.Second)

	snap := c.Snapshot()
	assert.Equal(t, ModeIdle, snap.Mode)
	assert.Equal(t, "scale lost", snap.Warning)
	assert.Contains(t, string(link.ctl()), "!")
}

func TestWeightTarget_NeedsSample(t *testing.T) {
	scl := &fakeScale{}
	c, link := newTestCoord(scl)

	require.NoError(t, c.WeightTarget(AxisX, 10, 7.5))
	tick(c, link, 0)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
	assert.Empty(t, link.lines)
}

func TestSequenceRun(t *testing.T) {
	c, link := newTestCoord(nil)

	r := Recipe{Name: "Test Mix", Steps: []DispenseCommand{
		{Axis: AxisX, VolumeML: 10, FlowMLMin: 7.5},
		{Axis: AxisY, VolumeML: 5, FlowMLMin: 6},
		{Axis: AxisZ, VolumeML: 7.5, FlowMLMin: 4.5},
	}}
	require.NoError(t, c.RunSequence(r))
	tick(c, link, 0)
	assert.Equal(t, []string{"G92 X0", "G1 X200.00 F150.0"}, link.lines)
	snap := c.Snapshot()
	assert.Equal(t, ModeSequence, snap.Mode)
	assert.Equal(t, "Test Mix", snap.Recipe)
	assert.Equal(t, 0, snap.StepIdx)
	assert.Equal(t, 3, snap.StepCount)

	// step 1 completes; next step waits out the gap
	link.feed(grbl.StateRun, [4]float64{100, 0, 0, 0})
	tick(c, link, time.Second)
	link.feed(grbl.StateIdle, [4]float64{200, 0, 0, 0})
	tick(c, link, 2*time.Second)
	assert.Len(t, link.lines, 2)
	assert.Equal(t, 1, c.Snapshot().StepIdx)

	tick(c, link, 2*time.Second+400*time.Millisecond)
	assert.Len(t, link.lines, 2)
	tick(c, link, 2*time.Second+StepGap)
	assert.Equal(t, []string{
		"G92 X0", "G1 X200.00 F150.0",
		"G92 Y0", "G1 Y100.00 F120.0",
	}, link.lines)

	link.feed(grbl.StateRun, [4]float64{200, 50, 0, 0})
	tick(c, link, 3*time.Second)
	link.feed(grbl.StateIdle, [4]float64{200, 100, 0, 0})
	tick(c, link, 4*time.Second)
	tick(c, link, 4*time.Second+StepGap)
	assert.Equal(t, "G1 Z150.00 F90.0", link.lines[len(link.lines)-1])

	link.feed(grbl.StateRun, [4]float64{200, 100, 75, 0})
	tick(c, link, 5*time.Second)
	link.feed(grbl.StateIdle, [4]float64{200, 100, 150, 0})
	tick(c, link, 6*time.Second)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
	assert.Len(t, c.RunLog(), 3)
}

func TestSequence_StepIdxMonotone(t *testing.T) {
	c, link := newTestCoord(nil)
	require.NoError(t, c.RunRecipe(0)) // Water Flush, 4 steps
	tick(c, link, 0)

	prev := 0
	for i := 0; i < 10; i++ {
		now := time.Duration(i) * time.Second
		link.feed(grbl.StateRun, [4]float64{})
		tick(c, link, now)
		link.feed(grbl.StateIdle, [4]float64{})
		tick(c, link, now+500*time.Millisecond)
		tick(c, link, now+999*time.Millisecond)

		snap := c.Snapshot()
		assert.GreaterOrEqual(t, snap.StepIdx, prev)
		assert.LessOrEqual(t, snap.StepIdx, snap.StepCount)
		prev = snap.StepIdx
	}
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
}

func TestAlarmRecovery(t *testing.T) {
	c, link := newTestCoord(nil)

	link.events = []grbl.Event{{Kind: grbl.EvAlarm, Code: 9, Line: "ALARM:9"}}
	tick(c, link, 0)
	snap := c.Snapshot()
	assert.Equal(t, ModeAlarm, snap.Mode)
	assert.Equal(t, "ALARM:9", snap.Reason)

	// everything but reset is rejected
	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, 10*time.Millisecond)
	assert.Equal(t, ModeAlarm, c.Snapshot().Mode)
	assert.Empty(t, link.lines)

	c.Reset()
	tick(c, link, 20*time.Millisecond)
	assert.Equal(t, []string{"$X"}, link.lines)

	// unlock may be answered by an Idle frame instead of ok
	link.feed(grbl.StateIdle, [4]float64{})
	tick(c, link, 30*time.Millisecond)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
}

func TestAckTimeout_SmallMoveCompletes(t *testing.T) {
	c, link := newTestCoord(nil)

	// 0.02 ml at 0.05 ml/mm is a 0.4 mm move
	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 0.02, FlowMLMin: 7.5}))
	tick(c, link, 0)
	assert.Equal(t, ModeSingle, c.Snapshot().Mode)

	tick(c, link, StateAckTimeout)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
	assert.Empty(t, link.ctl())
}

func TestAckTimeout_BigMoveEscalates(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, 0)
	tick(c, link, StateAckTimeout)

	snap := c.Snapshot()
	assert.Equal(t, ModeEmergency, snap.Mode)
	assert.Equal(t, "no-ack", snap.Reason)
	assert.Equal(t, []byte{grbl.ByteHold}, link.ctl())
}

func TestControllerErrorAbortsMove(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, 0)
	link.events = []grbl.Event{{Kind: grbl.EvError, Code: 20, Line: "error:20"}}
	tick(c, link, 10*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, ModeIdle, snap.Mode)
	assert.Contains(t, snap.Warning, "error:20")
	for _, a := range snap.Axes {
		assert.False(t, a.Running)
	}
}

func TestJog(t *testing.T) {
	c, link := newTestCoord(nil)

	require.NoError(t, c.Jog(AxisY, -1))
	tick(c, link, 0)
	assert.Equal(t, []string{"G91", "G0 Y-0.50 F300.0", "G90"}, link.lines)
	assert.Equal(t, ModeManualJog, c.Snapshot().Mode)
	assert.Equal(t, "Y", c.Snapshot().JogAxis)

	// tiny move may never leave Idle; the timeout closes it out
	tick(c, link, StateAckTimeout)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
}

func TestResumeOnlyInEmergency(t *testing.T) {
	c, link := newTestCoord(nil)

	c.Resume()
	tick(c, link, 0)
	assert.Contains(t, c.Snapshot().Warning, "rejected")

	c.EStop("test")
	tick(c, link, 10*time.Millisecond)
	require.Equal(t, ModeEmergency, c.Snapshot().Mode)

	c.Resume()
	tick(c, link, 20*time.Millisecond)
	assert.Equal(t, ModeIdle, c.Snapshot().Mode)
	assert.Contains(t, string(link.ctl()), "~")
}

func TestStatusPollCadence(t *testing.T) {
	c, link := newTestCoord(nil)

	tick(c, link, 0)
	tick(c, link, 500*time.Millisecond)
	base := len(link.immediates)
	assert.Equal(t, 1, base) // idle cadence: 1 Hz

	require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
	tick(c, link, time.Second)
	tick(c, link, time.Second+100*time.Millisecond)
	tick(c, link, time.Second+200*time.Millisecond)
	// active cadence: every 100 ms
	assert.Equal(t, base+3, len(link.immediates))
}

func TestRunLogConcurrentReaders(t *testing.T) {
	c, link := newTestCoord(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			c.RunLog()
			c.Snapshot()
		}
	}()

	now := time.Duration(0)
	for i := 0; i < runLogCap+6; i++ {
		require.NoError(t, c.Dispense(DispenseCommand{Axis: AxisX, VolumeML: 5, FlowMLMin: 7.5}))
		tick(c, link, now)
		link.feed(grbl.StateRun, [4]float64{50, 0, 0, 0})
		tick(c, link, now+10*time.Millisecond)
		link.feed(grbl.StateIdle, [4]float64{100, 0, 0, 0})
		tick(c, link, now+20*time.Millisecond)
		now += time.Second
	}
	<-done

	// the ring stays capped no matter how many runs complete
	assert.Len(t, c.RunLog(), runLogCap)
}

func TestWeightBaselinePublishedTared(t *testing.T) {
	scl := &fakeScale{}
	scl.set(2.0, time.Second)
	c, link := newTestCoord(scl)

	c.Tare()
	tick(c, link, 0)

	scl.set(5.0, 2*time.Second)
	tick(c, link, 10*time.Millisecond)
	require.NoError(t, c.WeightTarget(AxisX, 10, 7.5))
	tick(c, link, 20*time.Millisecond)

	scl.set(7.5, 3*time.Second)
	tick(c, link, 30*time.Millisecond)

	// WeightG and WeightBaseline are both tare-adjusted, so their
	// difference is the dispensed mass regardless of the tare
	snap := c.Snapshot()
	assert.InDelta(t, 5.5, snap.WeightG, 1e-9)
	assert.InDelta(t, 3.0, snap.WeightBaseline, 1e-9)
	assert.InDelta(t, 2.5, snap.WeightG-snap.WeightBaseline, 1e-9)
}

func TestTare(t *testing.T) {
	scl := &fakeScale{}
	scl.set(12.5, time.Second)
	c, link := newTestCoord(scl)

	tick(c, link, 0)
	assert.Equal(t, 12.5, c.Snapshot().WeightG)

	c.Tare()
	tick(c, link, 10*time.Millisecond)
	assert.Equal(t, 0.0, c.Snapshot().WeightG)
}
