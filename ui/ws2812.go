package ui

import "io"

// WS2812 pixels are driven off a SPI MOSI line clocked at 2.4 MHz:
// each protocol bit becomes three SPI bits, 0b110 for a one and
// 0b100 for a zero, which lands the high time inside the part's
// tolerance band. A run of zero bytes afterwards holds the line low
// past the 80 us latch.

const latchBytes = 32

// SPIStrip encodes frames for a WS2812 chain on a SPI writer.
type SPIStrip struct {
	w   io.Writer
	buf []byte
}

func NewSPIStrip(w io.Writer) *SPIStrip {
	return &SPIStrip{w: w, buf: make([]byte, 0, NumPixels*9+latchBytes)}
}

func (s *SPIStrip) Render(px []Color) error {
	s.buf = s.buf[:0]
	for _, c := range px {
		// GRB on the wire
		s.buf = appendByte(s.buf, c.G)
		s.buf = appendByte(s.buf, c.R)
		s.buf = appendByte(s.buf, c.B)
	}
	for i := 0; i < latchBytes; i++ {
		s.buf = append(s.buf, 0)
	}
	_, err := s.w.Write(s.buf)
	return err
}

// appendByte expands one colour byte to its 24-bit SPI pattern.
func appendByte(buf []byte, b byte) []byte {
	var acc uint32
	for i := 7; i >= 0; i-- {
		acc <<= 3
		if b&(1<<i) != 0 {
			acc |= 0b110
		} else {
			acc |= 0b100
		}
	}
	return append(buf, byte(acc>>16), byte(acc>>8), byte(acc))
}
