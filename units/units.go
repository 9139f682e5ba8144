// Package units converts between fluid quantities and the motion
// units the controller understands. Each pump axis is calibrated as
// millilitres moved per millimetre of (virtual) axis travel.
package units

import (
	"errors"
	"fmt"
)

// Global feedrate bounds, mm/min. Axis calibration may clamp lower
// but never below MinFeedrate.
const (
	MinFeedrate = 10.0
	MaxFeedrate = 5000.0
)

var (
	ErrZeroFlow    = errors.New("flow rate must be positive")
	ErrNegativeVol = errors.New("volume must not be negative")
)

// Calibration is the per-axis conversion factor and safety limit.
type Calibration struct {
	MLPerMM float64 // > 0
	MaxFeed float64 // mm/min, > 0
}

func (c Calibration) Validate() error {
	if c.MLPerMM <= 0 {
		return fmt.Errorf("ml_per_mm must be positive, got %v", c.MLPerMM)
	}
	if c.MaxFeed <= 0 {
		return fmt.Errorf("max feedrate must be positive, got %v", c.MaxFeed)
	}
	return nil
}

// Move is a converted dispense: distance and feedrate ready for a
// G1 line. Clamped is set when the requested flow exceeded a limit,
// so the UI can report it.
type Move struct {
	Distance float64 // mm
	Feed     float64 // mm/min
	Clamped  bool
}

// Convert turns a volume and flow request into axis motion.
// volume 0 is legal and yields a zero-distance Move (the caller
// treats it as a no-op); flow must be positive.
func (c Calibration) Convert(volumeML, flowMLMin float64) (Move, error) {
	if err := c.Validate(); err != nil {
		return Move{}, err
	}
	if flowMLMin <= 0 {
		return Move{}, ErrZeroFlow
	}
	if volumeML < 0 {
		return Move{}, ErrNegativeVol
	}

	m := Move{
		Distance: volumeML / c.MLPerMM,
		Feed:     flowMLMin / c.MLPerMM,
	}
	if m.Feed > c.MaxFeed {
		m.Feed = c.MaxFeed
		m.Clamped = true
	}
	if m.Feed > MaxFeedrate {
		m.Feed = MaxFeedrate
		m.Clamped = true
	}
	if m.Feed < MinFeedrate {
		m.Feed = MinFeedrate
		m.Clamped = true
	}
	return m, nil
}

// Volume converts axis travel back to millilitres.
func (c Calibration) Volume(distanceMM float64) float64 {
	return distanceMM * c.MLPerMM
}
