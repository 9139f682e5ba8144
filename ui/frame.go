package ui

import (
	"fmt"

	"github.com/pumpbench/pumpd/pump"
)

// Selection is the panel's recipe menu state, overlaid on the idle
// frame while the operator is scrolling.
type Selection struct {
	Active bool
	Idx    int
}

// ComposeFrame builds the two LCD lines for a snapshot. flashOn is
// the 2 Hz phase used by the emergency frame. Pure so it can be
// tested without a display.
func ComposeFrame(snap pump.Snapshot, sel Selection, flashOn bool) (string, string) {
	switch snap.Mode {
	case pump.ModeEmergency, pump.ModeAlarm:
		if !flashOn {
			return pad(""), pad("")
		}
		l1 := "EMERGENCY"
		if snap.Mode == pump.ModeAlarm {
			l1 = "ALARM"
			if snap.Reason != "" {
				l1 = snap.Reason
			}
		}
		return pad(l1), pad("Press RESET")

	case pump.ModeManualJog:
		mpos := 0.0
		if id, ok := pump.AxisFromTag(tag0(snap.JogAxis)); ok {
			mpos = snap.MPos[id]
		}
		return pad("Manual: " + snap.JogAxis),
			pad(fmt.Sprintf("%.2f mm", mpos))

	case pump.ModeSingle:
		ax := runningAxis(snap)
		return pad(fmt.Sprintf("Pump %s dispensing", ax.Tag)),
			pad(fmt.Sprintf("%.1f/%.1f ml", ax.DispensedML, ax.TargetML))

	case pump.ModeSequence:
		ax := runningAxis(snap)
		return pad(fmt.Sprintf("%s %d/%d", snap.Recipe, snap.StepIdx+1, snap.StepCount)),
			pad(fmt.Sprintf("Pump %s: %.1f ml", ax.Tag, ax.TargetML))

	case pump.ModeWeight:
		l2 := "Now --"
		if snap.HaveWeight {
			l2 = fmt.Sprintf("Now %.1fg", snap.WeightG-snap.WeightBaseline)
		}
		return pad(fmt.Sprintf("W-target %.1fg", snap.WeightTargetG)), pad(l2)
	}

	if sel.Active {
		name := ""
		if sel.Idx >= 0 && sel.Idx < len(pump.BuiltinRecipes) {
			name = pump.BuiltinRecipes[sel.Idx].Name
		}
		return pad(fmt.Sprintf("Recipe %d/%d", sel.Idx+1, len(pump.BuiltinRecipes))),
			pad(name)
	}
	return pad("Pump System"), pad("Press SELECT")
}

func tag0(s string) byte {
	if s == "" {
		return 0
	}
	return s[0]
}

func runningAxis(snap pump.Snapshot) pump.AxisSnapshot {
	for _, ax := range snap.Axes {
		if ax.Running {
			return ax
		}
	}
	// between steps nothing runs; show the last non-empty target
	for i := len(snap.Axes) - 1; i >= 0; i-- {
		if snap.Axes[i].TargetML > 0 {
			return snap.Axes[i]
		}
	}
	return snap.Axes[0]
}
