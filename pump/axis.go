// Package pump holds the dispense coordinator: the single owner of
// all dispense state. User intents come in, ordered motion commands
// go out, and a snapshot of everything is republished every tick.
package pump

import (
	"github.com/pumpbench/pumpd/units"
)

// AxisID names one pump channel. The motion controller drives each
// pump as a kinematic axis.
type AxisID int

const (
	AxisX AxisID = iota
	AxisY
	AxisZ
	AxisA

	NumAxes = 4
)

var axisTags = [NumAxes]byte{'X', 'Y', 'Z', 'A'}

func (a AxisID) Valid() bool { return a >= 0 && a < NumAxes }

// Tag is the G-code word letter for the axis.
func (a AxisID) Tag() byte { return axisTags[a] }

func (a AxisID) String() string { return string(axisTags[a]) }

// AxisFromTag resolves 'X'..'A' (either case) to an AxisID.
func AxisFromTag(tag byte) (AxisID, bool) {
	if tag >= 'a' && tag <= 'z' {
		tag -= 'a' - 'A'
	}
	for i, t := range axisTags {
		if t == tag {
			return AxisID(i), true
		}
	}
	return 0, false
}

// Axis is the per-pump state. Created at boot, mutated only by the
// Coordinator.
type Axis struct {
	Cal         units.Calibration
	Running     bool
	FlowMLMin   float64
	TargetML    float64
	DispensedML float64
}

// DispenseCommand is one volumetric dispense request. Immutable
// once built.
type DispenseCommand struct {
	Axis      AxisID
	VolumeML  float64
	FlowMLMin float64
}
