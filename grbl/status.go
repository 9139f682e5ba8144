package grbl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// State is the machine state name reported in the first field of a
// status frame.
type State string

const (
	StateUnknown State = "Unknown"
	StateIdle    State = "Idle"
	StateRun     State = "Run"
	StateJog     State = "Jog"
	StateHold    State = "Hold"
	StateAlarm   State = "Alarm"
	StateDoor    State = "Door"
	StateCheck   State = "Check"
	StateHome    State = "Home"
	StateSleep   State = "Sleep"
)

var knownStates = map[string]State{
	"Idle": StateIdle, "Run": StateRun, "Jog": StateJog,
	"Hold": StateHold, "Alarm": StateAlarm, "Door": StateDoor,
	"Check": StateCheck, "Home": StateHome, "Sleep": StateSleep,
}

// Moving reports whether the state implies commanded motion.
func (s State) Moving() bool {
	switch s {
	case StateRun, StateJog, StateHome:
		return true
	}
	return false
}

// Status is a decoded <State|MPos:...> frame. NumAxes records how
// many MPos fields the controller reported (3 or 4).
type Status struct {
	State   State
	MPos    [4]float64
	NumAxes int
}

func parseMPos(data string) (p [4]float64, n int, err error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return p, 0, errors.New("invalid number of MPos elements")
	}
	for i, s := range parts {
		p[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return p, 0, err
		}
	}
	return p, len(parts), nil
}

// ParseStatus decodes a status frame against the previous status.
// Fields other than the state name and MPos are ignored; an unknown
// state name yields StateUnknown without failing the parse. The
// state name may carry a sub-code ("Hold:0") which is dropped.
func ParseStatus(prev Status, line string) (Status, error) {
	data := strings.TrimSpace(line)
	if !strings.HasPrefix(data, "<") || !strings.HasSuffix(data, ">") {
		return prev, errors.New("not a status frame")
	}
	data = strings.TrimSuffix(strings.TrimPrefix(data, "<"), ">")
	parts := strings.Split(data, "|")
	name, _, _ := strings.Cut(parts[0], ":")
	if name == "" {
		return prev, errors.New("empty state name")
	}

	stat := prev
	st, ok := knownStates[name]
	if !ok {
		st = StateUnknown
	}
	stat.State = st
	for _, s := range parts[1:] {
		k, v, _ := strings.Cut(s, ":")
		if k != "MPos" {
			continue
		}
		p, n, err := parseMPos(v)
		if err != nil {
			return prev, err
		}
		stat.MPos = p
		stat.NumAxes = n
	}
	return stat, nil
}

// String renders the frame the way the controller would.
func (s Status) String() string {
	n := s.NumAxes
	if n < 3 {
		n = 3
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = strconv.FormatFloat(s.MPos[i], 'f', 3, 64)
	}
	return fmt.Sprintf("<%s|MPos:%s>", s.State, strings.Join(parts, ","))
}
