package scale

import (
	"bytes"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/clock"
)

// Config holds the burst-poll timing knobs. The burst pattern is
// empirical: many scales only answer a poll command that arrives
// paced, repeated, and followed by a quiet listen window.
type Config struct {
	Command string        // poll request, sent byte by byte
	Repeat  int           // burst repetitions
	CharGap time.Duration // pause between bytes
	LineGap time.Duration // pause between repetitions
	Window  time.Duration // read window after the last byte
}

func DefaultConfig() Config {
	return Config{
		Command: "@P\r\n",
		Repeat:  13,
		CharGap: 7 * time.Millisecond,
		LineGap: 9 * time.Millisecond,
		Window:  160 * time.Millisecond,
	}
}

// LostAfter is how long without a parsed weight before the scale is
// considered lost.
const LostAfter = 10 * time.Second

// Link polls a serial scale and keeps the newest parsed weight.
//
// Poll blocks for roughly Repeat*(len(Command)*CharGap+LineGap) +
// Window (about 300 ms at defaults) and is therefore only called at
// the coordinator's poll cadence, never per tick. The port must be
// opened with a short read timeout so the window loop can spin.
type Link struct {
	port   io.ReadWriter
	cfg    Config
	clk    clock.Clock
	logger *zap.Logger

	last      Sample
	have      bool
	misses    int
	lastHeard time.Duration
}

func NewLink(port io.ReadWriter, cfg Config, clk clock.Clock, logger *zap.Logger) *Link {
	if cfg.Command == "" {
		cfg = DefaultConfig()
	}
	return &Link{port: port, cfg: cfg, clk: clk, logger: logger}
}

// Config returns the active timing configuration.
func (l *Link) Config() Config { return l.cfg }

// SetConfig swaps the timing configuration (used by the tuner).
func (l *Link) SetConfig(cfg Config) { l.cfg = cfg }

// Last returns the newest parsed sample, if any.
func (l *Link) Last() (Sample, bool) { return l.last, l.have }

// Misses counts polls that parsed nothing.
func (l *Link) Misses() int { return l.misses }

// Lost reports whether no weight has parsed for LostAfter.
func (l *Link) Lost(now time.Duration) bool {
	return l.have && now-l.lastHeard > LostAfter
}

// Poll runs one burst-and-window cycle and returns how many weight
// lines parsed.
func (l *Link) Poll() int {
	l.transmitBurst()
	parsed, newest := l.readWindow()
	if parsed == 0 {
		l.misses++
		l.logger.Debug("scale poll missed", zap.Int("misses", l.misses))
		return 0
	}
	newest.At = l.clk.Now()
	l.last = newest
	l.have = true
	l.lastHeard = newest.At
	return parsed
}

func (l *Link) transmitBurst() {
	cmd := []byte(l.cfg.Command)
	for rep := 0; rep < l.cfg.Repeat; rep++ {
		for i, b := range cmd {
			if _, err := l.port.Write([]byte{b}); err != nil {
				l.logger.Warn("scale write", zap.Error(err))
				return
			}
			if i < len(cmd)-1 {
				time.Sleep(l.cfg.CharGap)
			}
		}
		time.Sleep(l.cfg.LineGap)
	}
}

func (l *Link) readWindow() (parsed int, newest Sample) {
	deadline := time.Now().Add(l.cfg.Window)
	var acc bytes.Buffer
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := l.port.Read(buf)
		if err != nil && err != io.EOF {
			l.logger.Warn("scale read", zap.Error(err))
			break
		}
		if n > 0 {
			acc.Write(buf[:n])
			continue
		}
		if err == io.EOF {
			break
		}
	}
	for {
		line, err := acc.ReadString('\n')
		if err != nil {
			break
		}
		val, unit, ok := ParseWeight(line)
		if !ok {
			continue
		}
		parsed++
		newest = Sample{Value: val, Unit: unit}
	}
	return parsed, newest
}
