package pump

// Mode is the coordinator's top-level state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeManualJog
	ModeSingle
	ModeSequence
	ModeWeight
	ModeEmergency
	ModeAlarm
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeManualJog:
		return "ManualJog"
	case ModeSingle:
		return "SingleDispense"
	case ModeSequence:
		return "SequenceRun"
	case ModeWeight:
		return "WeightTarget"
	case ModeEmergency:
		return "Emergency"
	case ModeAlarm:
		return "AlarmLatched"
	}
	return "?"
}

// Dispensing reports whether a motion command may be outstanding.
func (m Mode) Dispensing() bool {
	switch m {
	case ModeManualJog, ModeSingle, ModeSequence, ModeWeight:
		return true
	}
	return false
}
