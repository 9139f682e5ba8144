//go:build !linux

package main

import (
	"errors"

	"github.com/pumpbench/pumpd/ui"
)

func openLCD(dev string, addr uint8) (ui.Display, error) {
	return nil, errors.New("lcd needs linux i2c-dev")
}

func openStrip(dev string) (ui.Strip, error) {
	return nil, errors.New("led strip needs linux spidev")
}
