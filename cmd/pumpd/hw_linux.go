//go:build linux

package main

import "github.com/pumpbench/pumpd/ui"

// ws2812EncodingHz matches the 3-SPI-bits-per-LED-bit encoding.
const ws2812EncodingHz = 2400000

func openLCD(dev string, addr uint8) (ui.Display, error) {
	bus, err := ui.OpenI2C(dev)
	if err != nil {
		return nil, err
	}
	return ui.NewCharLCD(bus, addr)
}

func openStrip(dev string) (ui.Strip, error) {
	spi, err := ui.OpenSPI(dev, ws2812EncodingHz)
	if err != nil {
		return nil, err
	}
	return ui.NewSPIStrip(spi), nil
}
