package scale

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud is the most common scale rate.
const DefaultBaud = 9600

// Open opens the scale port 8N1 with a short read timeout so the
// poll window can spin on Read without blocking past its deadline.
func Open(path string, baud int) (io.ReadWriteCloser, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	err = p.SetReadTimeout(20 * time.Millisecond)
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}
