// Package input turns raw button levels and encoder edges into a
// per-tick event stream for menu navigation and run control.
package input

import (
	"sync/atomic"
	"time"
)

type ButtonID int

const (
	BtnStart ButtonID = iota
	BtnMode
	BtnStop
	BtnSelect // integrated encoder push-button
)

func (b ButtonID) String() string {
	switch b {
	case BtnStart:
		return "START"
	case BtnMode:
		return "MODE"
	case BtnStop:
		return "STOP"
	case BtnSelect:
		return "SELECT"
	}
	return "?"
}

type EventKind int

const (
	ButtonDown EventKind = iota
	ButtonUp
	EncoderTick
	EncoderPress
	EncoderRelease
)

type Event struct {
	Kind   EventKind
	Button ButtonID
	Held   time.Duration // ButtonUp / EncoderRelease
	Delta  int           // EncoderTick, ±1 per detent
}

// A Pin reports a debounce-raw input level; true means pressed.
// Hardware polarity (the physical buttons are active low) is the
// adapter's problem.
type Pin interface {
	Get() bool
}

// PinFunc adapts a closure to Pin.
type PinFunc func() bool

func (f PinFunc) Get() bool { return f() }

// DebounceHold is how long a level change must persist to count.
const DebounceHold = 50 * time.Millisecond

type debounced struct {
	stable   bool
	raw      bool
	rawSince time.Duration
	downAt   time.Duration
}

// update returns -1, 0 or +1 for release, no change, press.
func (d *debounced) update(raw bool, now time.Duration) int {
	if raw != d.raw {
		d.raw = raw
		d.rawSince = now
	}
	if raw == d.stable || now-d.rawSince < DebounceHold {
		return 0
	}
	d.stable = raw
	if raw {
		d.downAt = now
		return 1
	}
	return -1
}

// Encoder accumulates quadrature pulses. Feed may be called from an
// edge-watcher goroutine at any rate; the decoded delta is drained
// on the cooperative tick.
type Encoder struct {
	delta   atomic.Int64
	prevClk bool
	havePrv bool
}

// Feed consumes one sample of the two encoder signals. A clock
// falling edge while data is high is one CW detent; data low, CCW.
func (e *Encoder) Feed(clk, dt bool) {
	if e.havePrv && e.prevClk && !clk {
		if dt {
			e.delta.Add(1)
		} else {
			e.delta.Add(-1)
		}
	}
	e.prevClk = clk
	e.havePrv = true
}

func (e *Encoder) drain() int {
	return int(e.delta.Swap(0))
}

// Bus samples all inputs once per tick and queues events.
type Bus struct {
	pins    [4]Pin
	buttons [4]debounced
	enc     *Encoder
	events  []Event
}

// NewBus wires the four buttons and the encoder. Nil pins are
// treated as never pressed, so a bench setup without some buttons
// still runs.
func NewBus(start, mode, stop, sel Pin, enc *Encoder) *Bus {
	if enc == nil {
		enc = &Encoder{}
	}
	return &Bus{pins: [4]Pin{start, mode, stop, sel}, enc: enc}
}

func (b *Bus) Encoder() *Encoder { return b.enc }

// Events returns the events gathered during the current tick.
func (b *Bus) Events() []Event { return b.events }

func (b *Bus) Tick(now time.Duration) {
	b.events = b.events[:0]

	for i := range b.pins {
		if b.pins[i] == nil {
			continue
		}
		id := ButtonID(i)
		switch b.buttons[i].update(b.pins[i].Get(), now) {
		case 1:
			if id == BtnSelect {
				b.events = append(b.events, Event{Kind: EncoderPress, Button: id})
			} else {
				b.events = append(b.events, Event{Kind: ButtonDown, Button: id})
			}
		case -1:
			held := now - b.buttons[i].downAt
			if id == BtnSelect {
				b.events = append(b.events, Event{Kind: EncoderRelease, Button: id, Held: held})
			} else {
				b.events = append(b.events, Event{Kind: ButtonUp, Button: id, Held: held})
			}
		}
	}

	if d := b.enc.drain(); d != 0 {
		step := 1
		if d < 0 {
			step = -1
			d = -d
		}
		for i := 0; i < d; i++ {
			b.events = append(b.events, Event{Kind: EncoderTick, Delta: step})
		}
	}
}

// Wrap moves a menu index by delta within [0, n), wrapping at both
// ends.
func Wrap(i, delta, n int) int {
	if n <= 0 {
		return 0
	}
	i = (i + delta) % n
	if i < 0 {
		i += n
	}
	return i
}
