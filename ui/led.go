package ui

import "github.com/pumpbench/pumpd/pump"

const (
	PixelsPerAxis = 8
	NumPixels     = pump.NumAxes * PixelsPerAxis
)

// Color is one RGB pixel at full scale.
type Color struct {
	R, G, B uint8
}

// Strip is the LED chain behind the four axis groups, addressed as
// one contiguous frame.
type Strip interface {
	Render(px []Color) error
}

// NullStrip drops every frame.
type NullStrip struct{}

func (NullStrip) Render([]Color) error { return nil }

var (
	colOff   = Color{}
	colRed   = Color{R: 255}
	colGreen = Color{G: 255}

	axisColors = [pump.NumAxes]Color{
		{G: 255, B: 255},         // X cyan
		{R: 255, B: 255},         // Y magenta
		{R: 255, G: 255},         // Z yellow
		{R: 255, G: 255, B: 255}, // A white
	}
)

// dim scales a colour to pct percent.
func dim(c Color, pct int) Color {
	return Color{
		R: uint8(int(c.R) * pct / 100),
		G: uint8(int(c.G) * pct / 100),
		B: uint8(int(c.B) * pct / 100),
	}
}

// LEDFrame builds the 32-pixel frame for a snapshot. phase advances
// once per rendered frame and drives the scroll on a running axis;
// flashOn is the shared 2 Hz phase.
func LEDFrame(snap pump.Snapshot, phase int, flashOn bool) [NumPixels]Color {
	var px [NumPixels]Color

	fill := func(axis int, c Color) {
		for j := 0; j < PixelsPerAxis; j++ {
			px[axis*PixelsPerAxis+j] = c
		}
	}

	switch snap.Mode {
	case pump.ModeEmergency:
		c := colOff
		if flashOn {
			c = colRed
		}
		for i := 0; i < pump.NumAxes; i++ {
			fill(i, c)
		}
	case pump.ModeAlarm:
		for i := 0; i < pump.NumAxes; i++ {
			fill(i, colRed)
		}
	case pump.ModeIdle:
		for i := 0; i < pump.NumAxes; i++ {
			fill(i, dim(colGreen, 30))
		}
	default:
		for i := 0; i < pump.NumAxes; i++ {
			base := axisColors[i]
			if !snap.Axes[i].Running {
				fill(i, dim(base, 10))
				continue
			}
			fill(i, base)
			// one dark pixel chasing along the group reads as motion
			px[i*PixelsPerAxis+phase%PixelsPerAxis] = dim(base, 25)
		}
	}
	return px
}
