// Package ui renders the coordinator snapshot onto the front panel:
// a 2x16 character LCD and four 8-pixel LED strips. It also owns the
// panel controls that turn button and encoder events into intents.
package ui

import "go.uber.org/zap"

const (
	Cols = 16
	Rows = 2
)

// Display is a two-line character display.
type Display interface {
	Show(line1, line2 string) error
}

// NullDisplay drops every frame. Used on headless bench setups.
type NullDisplay struct{}

func (NullDisplay) Show(string, string) error { return nil }

// LogDisplay mirrors frames to the debug log instead of hardware.
type LogDisplay struct {
	Logger *zap.Logger
}

func (d LogDisplay) Show(line1, line2 string) error {
	d.Logger.Debug("lcd", zap.String("line1", line1), zap.String("line2", line2))
	return nil
}

// pad truncates or space-fills s to the display width so stale
// characters never survive a shorter frame.
func pad(s string) string {
	if len(s) >= Cols {
		return s[:Cols]
	}
	b := make([]byte, Cols)
	copy(b, s)
	for i := len(s); i < Cols; i++ {
		b[i] = ' '
	}
	return string(b)
}
