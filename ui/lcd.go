package ui

import (
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"
)

// DefaultLCDAddr is the usual PCF8574 backpack address.
const DefaultLCDAddr = 0x27

// CharLCD drives a HD44780 behind an I2C backpack.
type CharLCD struct {
	dev hd44780i2c.Device
}

func NewCharLCD(bus drivers.I2C, addr uint8) (*CharLCD, error) {
	dev := hd44780i2c.New(bus, addr)
	err := dev.Configure(hd44780i2c.Config{Width: Cols, Height: Rows})
	if err != nil {
		return nil, err
	}
	return &CharLCD{dev: dev}, nil
}

func (l *CharLCD) Show(line1, line2 string) error {
	if err := l.dev.ClearDisplay(); err != nil {
		return err
	}
	l.dev.SetCursor(0, 0)
	if err := l.dev.Print([]byte(pad(line1))); err != nil {
		return err
	}
	l.dev.SetCursor(0, 1)
	return l.dev.Print([]byte(pad(line2)))
}
