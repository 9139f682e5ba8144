//go:build linux

package ui

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// i2c-dev ioctl; sets the slave address for plain read/write.
const i2cSlave = 0x0703

// spidev ioctls
const (
	spiWrMode       = 0x40016b01
	spiWrMaxSpeedHz = 0x40046b04
)

// I2CDev is a Linux i2c-dev bus usable as a tinygo drivers.I2C.
type I2CDev struct {
	fd int
}

func OpenI2C(dev string) (*I2CDev, error) {
	fd, err := unix.Open(dev, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev, err)
	}
	return &I2CDev{fd: fd}, nil
}

func (d *I2CDev) Tx(addr uint16, w, r []byte) error {
	if err := unix.IoctlSetInt(d.fd, i2cSlave, int(addr)); err != nil {
		return fmt.Errorf("i2c addr %#x: %w", addr, err)
	}
	if len(w) > 0 {
		if _, err := unix.Write(d.fd, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := unix.Read(d.fd, r); err != nil {
			return err
		}
	}
	return nil
}

func (d *I2CDev) Close() error { return unix.Close(d.fd) }

// SPIDev is a Linux spidev port for the LED strip.
type SPIDev struct {
	fd int
}

// OpenSPI opens dev in mode 0 at hz. The WS2812 encoding assumes
// 2.4 MHz.
func OpenSPI(dev string, hz int) (*SPIDev, error) {
	fd, err := unix.Open(dev, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev, err)
	}
	if err := unix.IoctlSetPointerInt(fd, spiWrMode, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spi mode: %w", err)
	}
	if err := unix.IoctlSetPointerInt(fd, spiWrMaxSpeedHz, hz); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spi speed: %w", err)
	}
	return &SPIDev{fd: fd}, nil
}

func (d *SPIDev) Write(p []byte) (int, error) { return unix.Write(d.fd, p) }

func (d *SPIDev) Close() error { return unix.Close(d.fd) }
