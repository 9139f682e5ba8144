package ui

import (
	"time"

	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/input"
	"github.com/pumpbench/pumpd/pump"
)

// Control is the slice of the coordinator the panel drives.
type Control interface {
	RunRecipe(idx int) error
	Jog(axis pump.AxisID, dir int) error
	EStop(reason string)
	Resume()
	Reset()
	Snapshot() pump.Snapshot
}

// Panel turns front-panel events into intents and owns the recipe
// menu state.
//
// Idle: the encoder jogs the current axis, MODE cycles the axis,
// SELECT opens the recipe menu. In the menu the encoder scrolls and
// START (or a second SELECT press) runs the highlighted recipe.
// STOP is an e-stop from anywhere. After an emergency or alarm,
// START resets; MODE resumes a hold.
type Panel struct {
	coord  Control
	bus    *input.Bus
	logger *zap.Logger

	selecting bool
	selIdx    int
	jogAxis   pump.AxisID
}

func NewPanel(coord Control, bus *input.Bus, logger *zap.Logger) *Panel {
	return &Panel{coord: coord, bus: bus, logger: logger}
}

// Selection reports the menu state for the renderer.
func (p *Panel) Selection() Selection {
	return Selection{Active: p.selecting, Idx: p.selIdx}
}

func (p *Panel) JogAxis() pump.AxisID { return p.jogAxis }

func (p *Panel) Tick(now time.Duration) {
	events := p.bus.Events()
	if len(events) == 0 {
		return
	}
	snap := p.coord.Snapshot()
	for _, ev := range events {
		p.handle(snap, ev)
	}
}

func (p *Panel) handle(snap pump.Snapshot, ev input.Event) {
	if ev.Kind == input.ButtonDown && ev.Button == input.BtnStop {
		p.selecting = false
		p.coord.EStop("button")
		return
	}

	switch snap.Mode {
	case pump.ModeEmergency, pump.ModeAlarm:
		if ev.Kind != input.ButtonDown {
			return
		}
		switch ev.Button {
		case input.BtnStart:
			p.coord.Reset()
		case input.BtnMode:
			if snap.Mode == pump.ModeEmergency {
				p.coord.Resume()
			}
		}

	case pump.ModeIdle:
		if p.selecting {
			p.handleMenu(ev)
			return
		}
		switch ev.Kind {
		case input.EncoderPress:
			p.selecting = true
		case input.EncoderTick:
			if err := p.coord.Jog(p.jogAxis, ev.Delta); err != nil {
				p.logger.Debug("jog rejected", zap.Error(err))
			}
		case input.ButtonDown:
			switch ev.Button {
			case input.BtnMode:
				p.jogAxis = (p.jogAxis + 1) % pump.NumAxes
			case input.BtnStart:
				p.runSelected()
			}
		}

	default:
		// mid-run the panel is inert apart from STOP
	}
}

func (p *Panel) handleMenu(ev input.Event) {
	switch ev.Kind {
	case input.EncoderTick:
		p.selIdx = input.Wrap(p.selIdx, ev.Delta, len(pump.BuiltinRecipes))
	case input.EncoderPress:
		p.runSelected()
	case input.ButtonDown:
		switch ev.Button {
		case input.BtnStart:
			p.runSelected()
		case input.BtnMode:
			p.selecting = false
		}
	}
}

func (p *Panel) runSelected() {
	p.selecting = false
	if err := p.coord.RunRecipe(p.selIdx); err != nil {
		p.logger.Warn("recipe start rejected", zap.Error(err))
	}
}
