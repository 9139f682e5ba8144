package gcode

import (
	"strconv"
	"strings"
)

// A Word is a single letter-plus-argument pair within a block.
//
// Prec controls how many decimal places the argument is printed
// with: 0 selects the default for the letter (2 for axis words, 1
// for feedrate), and -1 trims trailing zeros. The motion controller
// accepts either, but dispense moves are always emitted with fixed
// precision so the same command renders the same bytes every time.
type Word struct {
	W    byte
	Arg  float64
	Prec int
}

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z', 'A':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	return strings.TrimRight(s, ".")
}

func (w Word) String() string {
	prec := w.Prec
	if prec == 0 {
		switch {
		case w.IsAxis():
			prec = 2
		case w.W == 'F':
			prec = 1
		default:
			prec = -1
		}
	}
	if prec < 0 {
		return string(w.W) + formatFloat(w.Arg, 3)
	}
	return string(w.W) + strconv.FormatFloat(w.Arg, 'f', prec, 64)
}
