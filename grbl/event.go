package grbl

import (
	"strconv"
	"strings"
)

// EventKind classifies a received line.
type EventKind int

const (
	// EvStatus is a <State|MPos:...> frame.
	EvStatus EventKind = iota
	// EvAck is a bare "ok".
	EvAck
	// EvError is "error:<n>".
	EvError
	// EvAlarm is "ALARM:<n>".
	EvAlarm
	// EvReset is the controller banner seen after power-up or soft
	// reset.
	EvReset
	// EvPush is a bracketed push message such as [MSG:...] or [VER:...].
	EvPush
	// EvJunk is anything that failed to classify.
	EvJunk
)

// Event is one classified line from the controller.
type Event struct {
	Kind   EventKind
	Code   int
	Status Status
	Line   string
}

func classify(prev Status, line string) Event {
	switch {
	case strings.HasPrefix(line, "<"):
		stat, err := ParseStatus(prev, line)
		if err != nil {
			return Event{Kind: EvJunk, Line: line}
		}
		return Event{Kind: EvStatus, Status: stat, Line: line}
	case line == "ok":
		return Event{Kind: EvAck, Line: line}
	case strings.HasPrefix(line, "error:"):
		code, err := strconv.Atoi(strings.TrimPrefix(line, "error:"))
		if err != nil {
			return Event{Kind: EvJunk, Line: line}
		}
		return Event{Kind: EvError, Code: code, Line: line}
	case strings.HasPrefix(line, "ALARM:"):
		code, err := strconv.Atoi(strings.TrimPrefix(line, "ALARM:"))
		if err != nil {
			return Event{Kind: EvJunk, Line: line}
		}
		return Event{Kind: EvAlarm, Code: code, Line: line}
	case strings.HasPrefix(line, "Grbl") || strings.HasPrefix(line, "FluidNC"):
		return Event{Kind: EvReset, Line: line}
	case strings.HasPrefix(line, "["):
		return Event{Kind: EvPush, Line: line}
	}
	return Event{Kind: EvJunk, Line: line}
}
