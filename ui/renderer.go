package ui

import (
	"time"

	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/pump"
)

const (
	// FramePeriod holds the panel near 30 Hz regardless of the loop
	// tick rate.
	FramePeriod = 33 * time.Millisecond
	// FlashPeriod is one half of the 2 Hz emergency flash.
	FlashPeriod = 250 * time.Millisecond
)

// Renderer pushes snapshot-derived frames to the display and strip.
// It never blocks and never mutates coordinator state.
type Renderer struct {
	snap   func() pump.Snapshot
	sel    func() Selection
	disp   Display
	strip  Strip
	logger *zap.Logger

	// QuietRadios runs once before the first strip write. The LED
	// bit stream cannot tolerate the latency spikes some platforms'
	// radio stacks introduce.
	QuietRadios func()

	quieted  bool
	rendered bool
	last     time.Duration
	phase    int
	l1, l2   string
}

func NewRenderer(snap func() pump.Snapshot, sel func() Selection, disp Display, strip Strip, logger *zap.Logger) *Renderer {
	if sel == nil {
		sel = func() Selection { return Selection{} }
	}
	if disp == nil {
		disp = NullDisplay{}
	}
	if strip == nil {
		strip = NullStrip{}
	}
	return &Renderer{snap: snap, sel: sel, disp: disp, strip: strip, logger: logger}
}

func (r *Renderer) Tick(now time.Duration) {
	if r.rendered && now-r.last < FramePeriod {
		return
	}
	r.rendered = true
	r.last = now
	r.phase++

	snap := r.snap()
	flashOn := (now/FlashPeriod)%2 == 0

	l1, l2 := ComposeFrame(snap, r.sel(), flashOn)
	if l1 != r.l1 || l2 != r.l2 {
		r.l1, r.l2 = l1, l2
		if err := r.disp.Show(l1, l2); err != nil {
			r.logger.Warn("lcd write failed", zap.Error(err))
		}
	}

	if !r.quieted {
		if r.QuietRadios != nil {
			r.QuietRadios()
		}
		r.quieted = true
	}
	frame := LEDFrame(snap, r.phase, flashOn)
	if err := r.strip.Render(frame[:]); err != nil {
		r.logger.Warn("led write failed", zap.Error(err))
	}
}
