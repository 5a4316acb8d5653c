package transfer

import (
	"log/slog"

	"github.com/google/uuid"
)

// Direction tells whether a transfer is leaving or arriving at this node
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Progress is emitted whenever a chunk is confirmed or stored
type Progress struct {
	SessionID string
	FileName  string
	Direction Direction
	Done      int
	Total     int
	State     string
}

// Percentage returns completion in the 0-100 range
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total) * 100
}

// Outcome is emitted once per transfer when it reaches a terminal state
type Outcome struct {
	SessionID string
	FileName  string
	Direction Direction
	Path      string // Written file, inbound only
	Hash      string
	Err       error
}

// StatusListener receives transfer events from a Registry. Implementations
// must not block.
type StatusListener interface {
	ID() string
	OnProgress(p Progress)
	OnOutcome(o Outcome)
}

// ChannelListener forwards events to buffered channels. Progress events are
// dropped when nobody keeps up; outcomes are dropped with a warning.
type ChannelListener struct {
	id       string
	progress chan Progress
	outcomes chan Outcome
}

// NewChannelListener creates a listener with the given channel capacity
func NewChannelListener(buffer int) *ChannelListener {
	return &ChannelListener{
		id:       uuid.New().String(),
		progress: make(chan Progress, buffer),
		outcomes: make(chan Outcome, buffer),
	}
}

func (l *ChannelListener) ID() string {
	return l.id
}

func (l *ChannelListener) OnProgress(p Progress) {
	select {
	case l.progress <- p:
	default:
	}
}

func (l *ChannelListener) OnOutcome(o Outcome) {
	select {
	case l.outcomes <- o:
	default:
		slog.Warn("Dropping transfer outcome, listener is full", "listener", l.id, "file", o.FileName)
	}
}

// Progress returns the channel of progress events
func (l *ChannelListener) Progress() <-chan Progress {
	return l.progress
}

// Outcomes returns the channel of terminal outcomes
func (l *ChannelListener) Outcomes() <-chan Outcome {
	return l.outcomes
}

type eventSink interface {
	progress(p Progress)
	outcome(o Outcome)
}

type nopSink struct{}

func (nopSink) progress(Progress) {}
func (nopSink) outcome(Outcome)   {}
