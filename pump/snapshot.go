package pump

import (
	"time"

	"github.com/pumpbench/pumpd/grbl"
)

// AxisSnapshot is the published per-axis view.
type AxisSnapshot struct {
	Tag         string  `json:"tag"`
	Running     bool    `json:"running"`
	FlowMLMin   float64 `json:"flow_ml_min"`
	TargetML    float64 `json:"target_ml"`
	DispensedML float64 `json:"dispensed_ml"`
	MPos        float64 `json:"mpos_mm"`
}

// RunEntry is one completed dispense in the in-memory run log.
type RunEntry struct {
	At       time.Duration `json:"at_ms"`
	Axis     string        `json:"axis"`
	VolumeML float64       `json:"volume_ml"`
	FlowML   float64       `json:"flow_ml_min"`
	Took     time.Duration `json:"took_ms"`
}

// Snapshot is the coordinator's state published by value at the end
// of each tick. Every other component reads this, never the
// coordinator's internals.
type Snapshot struct {
	At       time.Duration `json:"at_ms"`
	Mode     Mode          `json:"-"`
	ModeName string        `json:"mode"`
	Reason   string        `json:"reason,omitempty"`
	Warning  string        `json:"warning,omitempty"`
	Clamped  bool          `json:"clamped"`

	Machine grbl.State           `json:"machine_state"`
	MPos    [NumAxes]float64     `json:"mpos"`
	Axes    [NumAxes]AxisSnapshot `json:"axes"`

	JogAxis string `json:"jog_axis,omitempty"`

	Recipe    string `json:"recipe,omitempty"`
	StepIdx   int    `json:"step_idx"`
	StepCount int    `json:"step_count"`

	HaveWeight     bool    `json:"have_weight"`
	WeightG        float64 `json:"weight_g"`
	WeightUnit     string  `json:"weight_unit,omitempty"`
	WeightTargetG  float64 `json:"weight_target_g,omitempty"`
	WeightBaseline float64 `json:"weight_baseline_g,omitempty"`

	// fields the safety monitor watches
	SlotActive   bool          `json:"-"`
	SlotSeenRun  bool          `json:"-"`
	SlotIssuedAt time.Duration `json:"-"`
	LastNonIdle  time.Duration `json:"-"`
}
