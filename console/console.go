// Package console is the line-oriented operator surface on the
// user-facing serial port (or stdin on a bench host). One command
// per line, answers prefixed with the monotonic millisecond stamp.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/joushou/gocnc/gcode"
	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/pump"
	"github.com/pumpbench/pumpd/scale"
)

// Commander is the slice of the coordinator the console drives.
type Commander interface {
	Dispense(cmd pump.DispenseCommand) error
	RunRecipe(idx int) error
	WeightTarget(axis pump.AxisID, grams, flow float64) error
	Jog(axis pump.AxisID, dir int) error
	EStop(reason string)
	Resume()
	Reset()
	Tare()
	Raw(line string) error
	Snapshot() pump.Snapshot
	RunLog() []pump.RunEntry
}

// Tuner is the scale auto-tune hook, nil when no scale is attached.
type Tuner interface {
	AutoTune() scale.TuneResult
}

type Console struct {
	coord  Commander
	tuner  Tuner
	w      io.Writer
	lines  chan string
	logger *zap.Logger
}

// New starts a reader goroutine on r; commands execute on Tick.
func New(coord Commander, tuner Tuner, r io.Reader, w io.Writer, logger *zap.Logger) *Console {
	c := &Console{
		coord:  coord,
		tuner:  tuner,
		w:      w,
		lines:  make(chan string, 16),
		logger: logger,
	}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case c.lines <- sc.Text():
			default:
				logger.Warn("console input overrun, line dropped")
			}
		}
		close(c.lines)
	}()
	return c
}

func (c *Console) Tick(now time.Duration) {
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return
			}
			c.exec(now, line)
		default:
			return
		}
	}
}

func (c *Console) printf(now time.Duration, format string, args ...interface{}) {
	fmt.Fprintf(c.w, "[%d] "+format+"\n",
		append([]interface{}{now / time.Millisecond}, args...)...)
}

func (c *Console) exec(now time.Duration, line string) {
	f := strings.Fields(strings.TrimSpace(line))
	if len(f) == 0 {
		return
	}

	var err error
	switch f[0] {
	case "d":
		err = c.dispense(f[1:])
	case "r-resume", "~":
		c.coord.Resume()
	case "r":
		err = c.recipe(f[1:])
	case "w":
		err = c.weight(f[1:])
	case "j":
		err = c.jog(f[1:])
	case "!", "e":
		c.coord.EStop("console")
	case "$":
		c.coord.Reset()
	case "?":
		c.status(now)
		return
	case "g":
		err = c.raw(f[1:])
	case "z":
		c.coord.Tare()
	case "l":
		c.log(now)
		return
	case "t":
		err = c.tune(now)
	case "h", "help":
		c.usage(now)
		return
	default:
		err = fmt.Errorf("unknown command %q, try h", f[0])
	}

	if err != nil {
		c.printf(now, "error: %v", err)
		return
	}
	c.printf(now, "ok")
}

func (c *Console) dispense(args []string) error {
	axis := pump.AxisX
	if len(args) == 3 {
		var err error
		if axis, err = parseAxis(args[0]); err != nil {
			return err
		}
		args = args[1:]
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: d [axis] <vol-ml> <flow-ml/min>")
	}
	vol, err := parseFloat(args[0], "volume")
	if err != nil {
		return err
	}
	flow, err := parseFloat(args[1], "flow")
	if err != nil {
		return err
	}
	return c.coord.Dispense(pump.DispenseCommand{Axis: axis, VolumeML: vol, FlowMLMin: flow})
}

func (c *Console) recipe(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: r <recipe-index>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad recipe index %q", args[0])
	}
	return c.coord.RunRecipe(idx)
}

func (c *Console) weight(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: w <axis> <grams> <flow-ml/min>")
	}
	axis, err := parseAxis(args[0])
	if err != nil {
		return err
	}
	grams, err := parseFloat(args[1], "grams")
	if err != nil {
		return err
	}
	flow, err := parseFloat(args[2], "flow")
	if err != nil {
		return err
	}
	return c.coord.WeightTarget(axis, grams, flow)
}

func (c *Console) jog(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: j <axis> <+|->")
	}
	axis, err := parseAxis(args[0])
	if err != nil {
		return err
	}
	switch args[1] {
	case "+", "+1":
		return c.coord.Jog(axis, 1)
	case "-", "-1":
		return c.coord.Jog(axis, -1)
	}
	return fmt.Errorf("bad jog direction %q", args[1])
}

// raw validates a G-code line before it goes anywhere near the
// controller.
func (c *Console) raw(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: g <gcode>")
	}
	line := strings.Join(args, " ")
	if _, err := gcode.Parse(line); err != nil {
		return fmt.Errorf("gcode: %w", err)
	}
	return c.coord.Raw(line)
}

func (c *Console) tune(now time.Duration) error {
	if c.tuner == nil {
		return fmt.Errorf("no scale attached")
	}
	if c.coord.Snapshot().Mode != pump.ModeIdle {
		return fmt.Errorf("tune only while idle")
	}
	c.printf(now, "tuning scale timing, this blocks for the sweep")
	res := c.tuner.AutoTune()
	c.printf(now, "best: repeat=%d charGap=%s lineGap=%s window=%s score=%d",
		res.Config.Repeat, res.Config.CharGap, res.Config.LineGap,
		res.Config.Window, res.Score)
	return nil
}

func (c *Console) status(now time.Duration) {
	s := c.coord.Snapshot()
	c.printf(now, "mode=%s machine=%s mpos=[%.2f %.2f %.2f %.2f]",
		s.ModeName, s.Machine, s.MPos[0], s.MPos[1], s.MPos[2], s.MPos[3])
	for _, ax := range s.Axes {
		if !ax.Running && ax.TargetML == 0 {
			continue
		}
		c.printf(now, "  pump %s running=%v %.1f/%.1f ml @ %.1f ml/min",
			ax.Tag, ax.Running, ax.DispensedML, ax.TargetML, ax.FlowMLMin)
	}
	if s.HaveWeight {
		c.printf(now, "  weight %.1f%s", s.WeightG, s.WeightUnit)
	}
	if s.Warning != "" {
		c.printf(now, "  warning: %s", s.Warning)
	}
	if s.Reason != "" {
		c.printf(now, "  reason: %s", s.Reason)
	}
}

func (c *Console) log(now time.Duration) {
	entries := c.coord.RunLog()
	if len(entries) == 0 {
		c.printf(now, "log empty")
		return
	}
	for _, e := range entries {
		c.printf(now, "%8dms pump %s %.1f ml @ %.1f ml/min in %s",
			e.At/time.Millisecond, e.Axis, e.VolumeML, e.FlowML, e.Took)
	}
}

func (c *Console) usage(now time.Duration) {
	c.printf(now, "d [axis] <vol> <flow>  single dispense")
	c.printf(now, "r <idx>                run recipe")
	c.printf(now, "w <axis> <g> <flow>    dispense to weight")
	c.printf(now, "j <axis> <+|->         jog one step")
	c.printf(now, "! | e                  emergency stop")
	c.printf(now, "~ | r-resume           resume from hold")
	c.printf(now, "$                      unlock / reset")
	c.printf(now, "? z l t h              status, tare, log, tune, help")
	c.printf(now, "g <gcode>              raw line (validated)")
}

func parseAxis(tok string) (pump.AxisID, error) {
	if len(tok) == 1 {
		if a, ok := pump.AxisFromTag(tok[0]); ok {
			return a, nil
		}
	}
	return 0, fmt.Errorf("bad axis %q, want X Y Z A", tok)
}

func parseFloat(tok, what string) (float64, error) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", what, tok)
	}
	return v, nil
}
