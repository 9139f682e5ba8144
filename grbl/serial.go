package grbl

import (
	"io"

	"github.com/tarm/serial"
)

// DefaultBaud is the FluidNC UART rate.
const DefaultBaud = 115200

// OpenPort opens the motion controller's serial port, 8N1.
func OpenPort(path string, baud int) (io.ReadWriteCloser, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	return serial.OpenPort(&serial.Config{Name: path, Baud: baud})
}
