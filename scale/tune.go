package scale

import (
	"time"

	"go.uber.org/zap"
)

// TuneGrid is the parameter sweep used by AutoTune. Values bracket
// the defaults that worked on the bench.
var TuneGrid = struct {
	Repeat  []int
	CharGap []time.Duration
	LineGap []time.Duration
	Window  []time.Duration
}{
	Repeat:  []int{7, 10, 13, 16},
	CharGap: []time.Duration{3 * time.Millisecond, 5 * time.Millisecond, 7 * time.Millisecond, 9 * time.Millisecond},
	LineGap: []time.Duration{5 * time.Millisecond, 9 * time.Millisecond, 13 * time.Millisecond},
	Window:  []time.Duration{120 * time.Millisecond, 160 * time.Millisecond, 220 * time.Millisecond},
}

// TuneResult is one scored candidate.
type TuneResult struct {
	Config Config
	Score  int // parsed lines across the scoring polls
}

const tunePolls = 3

// AutoTune sweeps TuneGrid, scores each candidate by parsed lines
// per burst, applies the best configuration, and returns it. It
// blocks for the whole sweep; only run it from the operator console
// while idle.
func (l *Link) AutoTune() TuneResult {
	orig := l.cfg
	best := TuneResult{Config: orig, Score: -1}
	for _, rep := range TuneGrid.Repeat {
		for _, cg := range TuneGrid.CharGap {
			for _, lg := range TuneGrid.LineGap {
				for _, win := range TuneGrid.Window {
					cand := Config{
						Command: orig.Command,
						Repeat:  rep,
						CharGap: cg,
						LineGap: lg,
						Window:  win,
					}
					l.cfg = cand
					score := 0
					for i := 0; i < tunePolls; i++ {
						score += l.Poll()
					}
					if score > best.Score {
						best = TuneResult{Config: cand, Score: score}
					}
				}
			}
		}
	}
	l.cfg = best.Config
	l.logger.Info("scale tuned",
		zap.Int("repeat", best.Config.Repeat),
		zap.Duration("charGap", best.Config.CharGap),
		zap.Duration("lineGap", best.Config.LineGap),
		zap.Duration("window", best.Config.Window),
		zap.Int("score", best.Score))
	return best
}
