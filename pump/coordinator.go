package pump

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/clock"
	"github.com/pumpbench/pumpd/gcode"
	"github.com/pumpbench/pumpd/grbl"
	"github.com/pumpbench/pumpd/scale"
	"github.com/pumpbench/pumpd/units"
)

// Coordinator timing. All are deadlines tested on tick boundaries.
const (
	// StateAckTimeout bounds how long a step may sit with no
	// non-Idle status observed before it is presumed done (tiny
	// moves) or escalated (real ones).
	StateAckTimeout = 1500 * time.Millisecond
	// StepGap separates recipe steps.
	StepGap = 500 * time.Millisecond
	// EscalateOver is the commanded distance above which a missing
	// ack is treated as a fault instead of a too-small move.
	EscalateOver = 0.5 // mm
	// ResetByteDelay is the pause between the feed-hold byte and
	// the soft-reset byte on e-stop.
	ResetByteDelay = 100 * time.Millisecond

	JogStepMM    = 0.5
	JogFeed      = 300.0
	WeightMoveMM = 1000.0

	StatusPollActive = 100 * time.Millisecond
	StatusPollIdle   = 1000 * time.Millisecond
	ScalePollActive  = 200 * time.Millisecond
	ScalePollIdle    = 2 * time.Second

	runLogCap = 64
)

// MotionLink is the slice of the grbl link the coordinator drives.
type MotionLink interface {
	Enqueue(lines ...string)
	DropQueue()
	Immediate(b byte) error
	Status() grbl.Status
	Events() []grbl.Event
	Busy() bool
}

// WeightSource is the slice of the scale link the coordinator
// reads. May be absent entirely (nil).
type WeightSource interface {
	Poll() int
	Last() (scale.Sample, bool)
	Lost(now time.Duration) bool
}

var (
	ErrBadAxis   = errors.New("no such axis")
	ErrBadRecipe = errors.New("no such recipe")
)

type intentKind int

const (
	intentDispense intentKind = iota
	intentSequence
	intentWeight
	intentJog
	intentEStop
	intentResume
	intentReset
	intentRaw
	intentTare
)

type intent struct {
	kind   intentKind
	cmd    DispenseCommand
	recipe Recipe
	axis   AxisID
	dir    int
	target float64
	flow   float64
	reason string
	line   string
}

type cmdSlot struct {
	active   bool
	axis     AxisID
	issuedAt time.Duration
	distance float64
	seenRun  bool // the non-Idle latch, one per step
}

// Coordinator is the sole mutator of dispense state. All
// transitions happen inside Tick; intent methods only validate and
// queue.
type Coordinator struct {
	link   MotionLink
	scl    WeightSource
	logger *zap.Logger

	axes [NumAxes]Axis
	mode Mode

	reason  string
	warning string
	clamped bool

	slot cmdSlot

	recipe     Recipe
	stepIdx    int
	nextStepAt clock.Deadline

	wtAxis     AxisID
	wtTarget   float64
	wtBaseline float64
	wtFlow     float64
	lastSample time.Duration

	resetPulse clock.Deadline // pending 0x18 after '!'
	resetting  bool           // $X sent, waiting for ok/Idle

	jogAxis AxisID

	tare float64

	lastStatusReq time.Duration
	haveStatusReq bool
	lastScalePoll time.Duration
	haveScalePoll bool
	lastNonIdle   time.Duration
	moveStarted   time.Duration

	runLog []RunEntry

	mx      sync.Mutex
	intents []intent
	snap    Snapshot
}

func NewCoordinator(link MotionLink, scl WeightSource, cals [NumAxes]units.Calibration, logger *zap.Logger) *Coordinator {
	c := &Coordinator{link: link, scl: scl, logger: logger}
	for i := range c.axes {
		c.axes[i].Cal = cals[i]
	}
	return c
}

// --- intents (callable from any goroutine) ---

func (c *Coordinator) push(in intent) {
	c.mx.Lock()
	c.intents = append(c.intents, in)
	c.mx.Unlock()
}

func (c *Coordinator) Dispense(cmd DispenseCommand) error {
	if !cmd.Axis.Valid() {
		return ErrBadAxis
	}
	if cmd.FlowMLMin <= 0 {
		return units.ErrZeroFlow
	}
	if cmd.VolumeML < 0 {
		return units.ErrNegativeVol
	}
	c.push(intent{kind: intentDispense, cmd: cmd})
	return nil
}

func (c *Coordinator) RunRecipe(idx int) error {
	if idx < 0 || idx >= len(BuiltinRecipes) {
		return ErrBadRecipe
	}
	return c.RunSequence(BuiltinRecipes[idx])
}

func (c *Coordinator) RunSequence(r Recipe) error {
	for _, s := range r.Steps {
		if s.FlowMLMin <= 0 {
			return units.ErrZeroFlow
		}
		if !s.Axis.Valid() {
			return ErrBadAxis
		}
	}
	c.push(intent{kind: intentSequence, recipe: r})
	return nil
}

func (c *Coordinator) WeightTarget(axis AxisID, grams, flow float64) error {
	if !axis.Valid() {
		return ErrBadAxis
	}
	if flow <= 0 {
		return units.ErrZeroFlow
	}
	if grams <= 0 {
		return errors.New("target weight must be positive")
	}
	c.push(intent{kind: intentWeight, axis: axis, target: grams, flow: flow})
	return nil
}

func (c *Coordinator) Jog(axis AxisID, dir int) error {
	if !axis.Valid() {
		return ErrBadAxis
	}
	if dir >= 0 {
		dir = 1
	} else {
		dir = -1
	}
	c.push(intent{kind: intentJog, axis: axis, dir: dir})
	return nil
}

func (c *Coordinator) EStop(reason string) {
	c.push(intent{kind: intentEStop, reason: reason})
}

func (c *Coordinator) Resume() { c.push(intent{kind: intentResume}) }

func (c *Coordinator) Reset() { c.push(intent{kind: intentReset}) }

func (c *Coordinator) Tare() { c.push(intent{kind: intentTare}) }

// Raw queues a single already-validated G-code line, accepted only
// while idle.
func (c *Coordinator) Raw(line string) error {
	if line == "" {
		return errors.New("empty line")
	}
	c.push(intent{kind: intentRaw, line: line})
	return nil
}

// --- published state ---

func (c *Coordinator) Snapshot() Snapshot {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.snap
}

func (c *Coordinator) RunLog() []RunEntry {
	c.mx.Lock()
	defer c.mx.Unlock()
	out := make([]RunEntry, len(c.runLog))
	copy(out, c.runLog)
	return out
}

// --- tick ---

func (c *Coordinator) Tick(now time.Duration) {
	c.handleEvents(now)
	c.handleDeadlines(now)
	c.handleIntents(now)
	c.pollCadence(now)
	c.checkWeight(now)
	c.publish(now)
}

func (c *Coordinator) handleEvents(now time.Duration) {
	for _, ev := range c.link.Events() {
		switch ev.Kind {
		case grbl.EvStatus:
			c.onStatus(now, ev.Status)
		case grbl.EvAck:
			if c.resetting {
				c.finishReset()
			}
		case grbl.EvError:
			c.onError(ev.Code)
		case grbl.EvAlarm:
			c.enterAlarm(ev.Code)
		case grbl.EvReset:
			c.onBanner()
		}
	}
}

func (c *Coordinator) onStatus(now time.Duration, st grbl.Status) {
	if st.State != grbl.StateIdle && st.State != grbl.StateUnknown {
		c.lastNonIdle = now
		if c.slot.active {
			c.slot.seenRun = true
		}
	}

	// live progress for the running axis
	if c.slot.active {
		ax := &c.axes[c.slot.axis]
		if ax.Running && ax.TargetML > 0 {
			v := ax.Cal.Volume(math.Abs(st.MPos[c.slot.axis]))
			ax.DispensedML = math.Min(v, ax.TargetML)
		}
	}

	if st.State != grbl.StateIdle {
		return
	}
	if c.resetting {
		c.finishReset()
		return
	}
	// Idle with no move outstanding: position update only.
	if !c.slot.active || !c.slot.seenRun {
		return
	}
	if c.mode == ModeWeight {
		c.warning = "weight target not reached before move completed"
		c.logger.Warn(c.warning)
	}
	c.stepComplete(now)
}

func (c *Coordinator) onError(code int) {
	if c.mode == ModeAlarm {
		// already latched; the controller refuses lines while
		// alarmed, nothing new to act on
		return
	}
	msg := fmt.Sprintf("controller error:%d", code)
	c.logger.Warn(msg)
	if c.mode.Dispensing() {
		// the controller aborted the move
		c.warning = msg
		c.clearMotion()
		c.mode = ModeIdle
	}
}

func (c *Coordinator) enterAlarm(code int) {
	c.link.DropQueue()
	c.clearMotion()
	c.mode = ModeAlarm
	c.reason = fmt.Sprintf("ALARM:%d", code)
	c.resetting = false
	c.logger.Warn("alarm latched", zap.Int("code", code))
}

func (c *Coordinator) onBanner() {
	if c.mode == ModeEmergency || c.mode == ModeAlarm {
		// expected after our own soft reset
		return
	}
	if c.mode.Dispensing() {
		c.warning = "controller reset mid-move"
		c.logger.Warn(c.warning)
		c.clearMotion()
		c.mode = ModeIdle
	}
}

func (c *Coordinator) handleDeadlines(now time.Duration) {
	if c.resetPulse.Expired(now) {
		c.resetPulse.Clear()
		if err := c.link.Immediate(grbl.ByteReset); err != nil {
			c.logger.Error("send soft reset", zap.Error(err))
		}
	}

	if c.slot.active && !c.slot.seenRun && now-c.slot.issuedAt >= StateAckTimeout {
		if c.slot.distance > EscalateOver {
			c.logger.Error("no motion acknowledged for a non-trivial move",
				zap.Float64("distance_mm", c.slot.distance))
			c.doEStop(now, "no-ack")
			return
		}
		c.logger.Info("small move never left Idle, treating as done",
			zap.Float64("distance_mm", c.slot.distance))
		c.stepComplete(now)
	}

	if c.mode == ModeWeight && c.scl != nil && c.scl.Lost(now) {
		c.logger.Warn("scale lost during weight target")
		if err := c.link.Immediate(grbl.ByteHold); err != nil {
			c.logger.Error("send feed hold", zap.Error(err))
		}
		c.warning = "scale lost"
		c.clearMotion()
		c.mode = ModeIdle
	}

	if c.mode == ModeSequence && !c.slot.active && c.nextStepAt.Expired(now) {
		c.nextStepAt.Clear()
		c.issueStep(now)
	}
}

func (c *Coordinator) handleIntents(now time.Duration) {
	c.mx.Lock()
	pending := c.intents
	c.intents = nil
	c.mx.Unlock()

	for _, in := range pending {
		c.applyIntent(now, in)
	}
}

func (c *Coordinator) applyIntent(now time.Duration, in intent) {
	switch in.kind {
	case intentEStop:
		c.doEStop(now, in.reason)
		return
	case intentReset:
		if c.mode != ModeEmergency && c.mode != ModeAlarm {
			c.reject("reset only valid in emergency or alarm")
			return
		}
		c.link.Enqueue("$X")
		c.resetting = true
		return
	case intentResume:
		if c.mode != ModeEmergency {
			c.reject("resume only valid in emergency")
			return
		}
		if err := c.link.Immediate(grbl.ByteResume); err != nil {
			c.logger.Error("send resume", zap.Error(err))
		}
		c.mode = ModeIdle
		c.reason = ""
		return
	case intentTare:
		if c.scl == nil {
			c.reject("no scale")
			return
		}
		if last, ok := c.scl.Last(); ok {
			c.tare = last.Value
			c.logger.Info("scale tared", zap.Float64("offset_g", c.tare))
		}
		return
	}

	if c.mode != ModeIdle {
		c.reject("busy: " + c.mode.String())
		return
	}

	switch in.kind {
	case intentDispense:
		if c.startStep(now, in.cmd) {
			c.mode = ModeSingle
		}
	case intentSequence:
		if len(in.recipe.Steps) == 0 {
			return
		}
		c.recipe = in.recipe
		c.stepIdx = 0
		c.mode = ModeSequence
		c.issueStep(now)
	case intentWeight:
		c.startWeight(now, in)
	case intentJog:
		c.startJog(now, in.axis, in.dir)
	case intentRaw:
		c.link.Enqueue(in.line)
	}
}

func (c *Coordinator) reject(msg string) {
	c.warning = "rejected: " + msg
	c.logger.Info("intent rejected", zap.String("why", msg))
}

// startStep converts and issues one dispense; returns false on a
// no-op (zero volume) or rejection.
func (c *Coordinator) startStep(now time.Duration, cmd DispenseCommand) bool {
	ax := &c.axes[cmd.Axis]
	move, err := ax.Cal.Convert(cmd.VolumeML, cmd.FlowMLMin)
	if err != nil {
		c.reject(err.Error())
		return false
	}
	if move.Distance == 0 {
		c.logger.Info("zero volume, nothing to do", zap.String("axis", cmd.Axis.String()))
		return false
	}
	c.clamped = false
	c.warning = ""
	if move.Clamped {
		c.clamped = true
		c.warning = "flow clamped"
		c.logger.Info("feedrate clamped",
			zap.String("axis", cmd.Axis.String()),
			zap.Float64("feed_mm_min", move.Feed))
	}

	tag := cmd.Axis.Tag()
	c.link.Enqueue(
		gcode.Zero(tag).String(),
		gcode.Move(tag, move.Distance, move.Feed).String(),
	)
	c.openSlot(now, cmd.Axis, move.Distance)
	ax.Running = true
	ax.FlowMLMin = move.Feed * ax.Cal.MLPerMM
	ax.TargetML = cmd.VolumeML
	ax.DispensedML = 0
	return true
}

func (c *Coordinator) issueStep(now time.Duration) {
	if c.stepIdx >= len(c.recipe.Steps) {
		c.mode = ModeIdle
		return
	}
	if !c.startStep(now, c.recipe.Steps[c.stepIdx]) {
		// conversion failed or zero step: skip forward
		c.stepIdx++
		c.issueStep(now)
	}
}

func (c *Coordinator) startWeight(now time.Duration, in intent) {
	if c.scl == nil {
		c.reject("no scale")
		return
	}
	last, ok := c.scl.Last()
	if !ok {
		c.reject("no weight sample yet")
		return
	}
	ax := &c.axes[in.axis]
	move, err := ax.Cal.Convert(0, in.flow)
	if err != nil {
		c.reject(err.Error())
		return
	}
	c.clamped = false
	c.warning = ""
	if move.Clamped {
		c.clamped = true
		c.warning = "flow clamped"
	}

	c.wtAxis = in.axis
	c.wtTarget = in.target
	c.wtBaseline = last.Value
	c.wtFlow = in.flow
	c.lastSample = last.At

	tag := in.axis.Tag()
	c.link.Enqueue(
		gcode.Zero(tag).String(),
		gcode.Block{
			{W: 'G', Arg: 1},
			{W: tag, Arg: WeightMoveMM, Prec: -1},
			{W: 'F', Arg: move.Feed},
		}.String(),
	)
	c.openSlot(now, in.axis, WeightMoveMM)
	ax.Running = true
	ax.FlowMLMin = move.Feed * ax.Cal.MLPerMM
	ax.TargetML = 0
	ax.DispensedML = 0
	c.mode = ModeWeight
}

func (c *Coordinator) startJog(now time.Duration, axis AxisID, dir int) {
	delta := JogStepMM * float64(dir)
	c.link.Enqueue(gcode.Lines(gcode.Jog(axis.Tag(), delta, JogFeed)...)...)
	c.openSlot(now, axis, JogStepMM)
	c.axes[axis].Running = true
	c.axes[axis].TargetML = 0
	c.axes[axis].DispensedML = 0
	c.jogAxis = axis
	c.mode = ModeManualJog
}

func (c *Coordinator) openSlot(now time.Duration, axis AxisID, dist float64) {
	c.slot = cmdSlot{active: true, axis: axis, issuedAt: now, distance: dist}
	c.moveStarted = now
}

func (c *Coordinator) stepComplete(now time.Duration) {
	ax := &c.axes[c.slot.axis]
	took := now - c.slot.issuedAt
	if ax.TargetML > 0 {
		ax.DispensedML = ax.TargetML
		c.appendLog(RunEntry{
			At:       now,
			Axis:     c.slot.axis.String(),
			VolumeML: ax.TargetML,
			FlowML:   ax.FlowMLMin,
			Took:     took,
		})
	}
	ax.Running = false
	c.slot = cmdSlot{}

	switch c.mode {
	case ModeSequence:
		c.stepIdx++
		if c.stepIdx < len(c.recipe.Steps) {
			c.nextStepAt.Set(now, StepGap)
		} else {
			c.mode = ModeIdle
		}
	default:
		c.mode = ModeIdle
	}
}

func (c *Coordinator) checkWeight(now time.Duration) {
	if c.mode != ModeWeight || c.scl == nil {
		return
	}
	last, ok := c.scl.Last()
	if !ok || last.At == c.lastSample {
		return
	}
	c.lastSample = last.At
	if last.Value-c.wtBaseline < c.wtTarget {
		return
	}
	if err := c.link.Immediate(grbl.ByteHold); err != nil {
		c.logger.Error("send feed hold", zap.Error(err))
	}
	c.link.DropQueue()
	ax := &c.axes[c.wtAxis]
	c.appendLog(RunEntry{
		At:       now,
		Axis:     c.wtAxis.String(),
		VolumeML: ax.DispensedML,
		FlowML:   ax.FlowMLMin,
		Took:     now - c.slot.issuedAt,
	})
	c.clearMotion()
	c.mode = ModeIdle
	c.logger.Info("weight target reached",
		zap.Float64("delta_g", last.Value-c.wtBaseline),
		zap.Float64("target_g", c.wtTarget))
}

func (c *Coordinator) doEStop(now time.Duration, reason string) {
	if err := c.link.Immediate(grbl.ByteHold); err != nil {
		c.logger.Error("send feed hold", zap.Error(err))
	}
	c.link.DropQueue()
	c.resetPulse.Set(now, ResetByteDelay)
	c.clearMotion()
	c.nextStepAt.Clear()
	c.resetting = false
	c.mode = ModeEmergency
	c.reason = reason
	c.logger.Warn("emergency stop", zap.String("reason", reason))
}

// clearMotion stops all axes and closes the command slot. It does
// not touch the mode.
func (c *Coordinator) clearMotion() {
	for i := range c.axes {
		c.axes[i].Running = false
	}
	c.slot = cmdSlot{}
	c.nextStepAt.Clear()
}

func (c *Coordinator) finishReset() {
	c.resetting = false
	c.mode = ModeIdle
	c.reason = ""
	c.warning = ""
	c.logger.Info("unlocked, back to idle")
}

func (c *Coordinator) pollCadence(now time.Duration) {
	statusEvery := StatusPollIdle
	if c.mode.Dispensing() {
		statusEvery = StatusPollActive
	}
	if !c.haveStatusReq || now-c.lastStatusReq >= statusEvery {
		if err := c.link.Immediate(grbl.ByteStatus); err != nil {
			c.logger.Debug("status request", zap.Error(err))
		}
		c.lastStatusReq = now
		c.haveStatusReq = true
	}

	if c.scl == nil {
		return
	}
	scaleEvery := ScalePollIdle
	if c.mode == ModeWeight {
		scaleEvery = ScalePollActive
	}
	if !c.haveScalePoll || now-c.lastScalePoll >= scaleEvery {
		c.scl.Poll()
		c.lastScalePoll = now
		c.haveScalePoll = true
	}
}

func (c *Coordinator) appendLog(e RunEntry) {
	c.mx.Lock()
	c.runLog = append(c.runLog, e)
	if len(c.runLog) > runLogCap {
		c.runLog = c.runLog[len(c.runLog)-runLogCap:]
	}
	c.mx.Unlock()
}

func (c *Coordinator) publish(now time.Duration) {
	st := c.link.Status()
	snap := Snapshot{
		At:       now,
		Mode:     c.mode,
		ModeName: c.mode.String(),
		Reason:   c.reason,
		Warning:  c.warning,
		Clamped:  c.clamped,
		Machine:  st.State,
		MPos:     st.MPos,

		StepIdx:   c.stepIdx,
		StepCount: len(c.recipe.Steps),

		SlotActive:   c.slot.active,
		SlotSeenRun:  c.slot.seenRun,
		SlotIssuedAt: c.slot.issuedAt,
		LastNonIdle:  c.lastNonIdle,
	}
	if c.mode == ModeSequence {
		snap.Recipe = c.recipe.Name
	}
	if c.mode == ModeManualJog {
		snap.JogAxis = c.jogAxis.String()
	}
	if c.mode == ModeWeight {
		snap.WeightTargetG = c.wtTarget
		// published tare-adjusted, like WeightG, so readers can
		// subtract the two directly
		snap.WeightBaseline = c.wtBaseline - c.tare
	}
	for i := range c.axes {
		snap.Axes[i] = AxisSnapshot{
			Tag:         AxisID(i).String(),
			Running:     c.axes[i].Running,
			FlowMLMin:   c.axes[i].FlowMLMin,
			TargetML:    c.axes[i].TargetML,
			DispensedML: c.axes[i].DispensedML,
			MPos:        st.MPos[i],
		}
	}
	if c.scl != nil {
		if last, ok := c.scl.Last(); ok {
			snap.HaveWeight = true
			snap.WeightG = last.Value - c.tare
			snap.WeightUnit = last.Unit
		}
	}

	c.mx.Lock()
	c.snap = snap
	c.mx.Unlock()
}
