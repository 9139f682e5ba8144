package grbl

import (
	"bufio"
	"io"
	"time"

	"go.uber.org/zap"
)

// Immediate control bytes. These bypass the line queue entirely.
const (
	ByteHold   = '!'
	ByteResume = '~'
	ByteReset  = 0x18
	ByteStatus = '?'
)

// DefaultAckTimeout bounds how long a sent line may go unanswered
// before the send slot is freed.
const DefaultAckTimeout = 2000 * time.Millisecond

// Link is the line-framed channel to the motion controller.
//
// Received bytes are framed into lines by a reader goroutine and
// handed to the cooperative loop through a buffered channel; all
// protocol logic runs inside Tick. At most one queued line is
// outstanding at a time: the next is released when a response
// arrives, Idle is observed, or the ack timeout expires.
type Link struct {
	rw     io.ReadWriter
	logger *zap.Logger

	lines chan string

	queue      []string
	pending    bool
	issuedAt   time.Duration
	ackTimeout time.Duration

	status    Status
	junk      int
	events    []Event
	scanErrCh chan error
}

func NewLink(rw io.ReadWriter, logger *zap.Logger) *Link {
	l := &Link{
		rw:         rw,
		logger:     logger,
		lines:      make(chan string, 256),
		ackTimeout: DefaultAckTimeout,
		scanErrCh:  make(chan error, 1),
	}
	go l.readLoop()
	return l
}

// SetAckTimeout overrides the per-line response timeout.
func (l *Link) SetAckTimeout(d time.Duration) { l.ackTimeout = d }

func (l *Link) readLoop() {
	scan := bufio.NewScanner(l.rw)
	for scan.Scan() {
		line := scan.Text()
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if line == "" {
			continue
		}
		l.lines <- line
	}
	l.scanErrCh <- scan.Err()
}

// Enqueue appends whole command lines (without LF) to the TX queue.
func (l *Link) Enqueue(lines ...string) {
	l.queue = append(l.queue, lines...)
}

// DropQueue discards all queued lines and the outstanding command
// slot. Used on e-stop and controller reset.
func (l *Link) DropQueue() {
	l.queue = l.queue[:0]
	l.pending = false
}

// Immediate writes a single control byte, bypassing the queue.
func (l *Link) Immediate(b byte) error {
	_, err := l.rw.Write([]byte{b})
	return err
}

// RequestStatus asks for a status frame. No LF follows the byte.
func (l *Link) RequestStatus() error { return l.Immediate(ByteStatus) }

// Status returns the most recently parsed machine status.
func (l *Link) Status() Status { return l.status }

// Busy reports whether a line is outstanding or queued.
func (l *Link) Busy() bool { return l.pending || len(l.queue) > 0 }

// JunkLines counts received lines that failed to parse.
func (l *Link) JunkLines() int { return l.junk }

// Events returns the lines classified during the current tick.
func (l *Link) Events() []Event { return l.events }

// Tick drains received lines, updates status, and pumps the TX
// queue. It never blocks.
func (l *Link) Tick(now time.Duration) {
	l.events = l.events[:0]

drain:
	for {
		select {
		case line := <-l.lines:
			l.consume(line)
		default:
			break drain
		}
	}

	if l.pending && now-l.issuedAt >= l.ackTimeout {
		l.logger.Warn("command ack timeout", zap.Duration("waited", now-l.issuedAt))
		l.pending = false
	}
	if !l.pending && len(l.queue) > 0 {
		line := l.queue[0]
		l.queue = l.queue[1:]
		if _, err := l.rw.Write([]byte(line + "\n")); err != nil {
			l.logger.Error("write line", zap.String("line", line), zap.Error(err))
			return
		}
		l.logger.Debug("sent", zap.String("line", line))
		l.pending = true
		l.issuedAt = now
	}
}

func (l *Link) consume(line string) {
	ev := classify(l.status, line)
	switch ev.Kind {
	case EvStatus:
		l.status = ev.Status
		if ev.Status.State == StateIdle {
			// Line-oriented flow control: Idle proves the
			// previous command was consumed even if its "ok"
			// was missed.
			l.pending = false
		}
	case EvAck, EvError:
		l.pending = false
	case EvReset:
		l.logger.Info("controller banner", zap.String("line", line))
		l.DropQueue()
	case EvJunk:
		l.junk++
		l.logger.Debug("unparsed line", zap.String("line", line))
		return
	}
	l.events = append(l.events, ev)
}
