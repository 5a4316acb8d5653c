// Package transport binds the transfer protocol to a concrete short-message
// link. Every implementation delivers whole text messages of bounded size and
// reports the originating node with each one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxMessageSize is the text payload ceiling of one Meshtastic packet
const DefaultMaxMessageSize = 228

var (
	// ErrMessageTooLarge is returned when a message exceeds the link ceiling
	ErrMessageTooLarge = errors.New("message exceeds link ceiling")

	// ErrClosed is returned by operations on a closed transport
	ErrClosed = errors.New("transport closed")

	// ErrNoDevice is returned when no serial device can be found
	ErrNoDevice = errors.New("no serial device found")
)

// Message is one text message received from the mesh
type Message struct {
	Text string
	From string // Originating node, empty when the link does not say
	To   string // Addressed node, empty for broadcast
}

// Handler receives every inbound message. It is called from the listen loop
// and must not block for long.
type Handler func(Message)

// Transport is a bidirectional short-message link.
type Transport interface {
	// Send transmits text. An empty dest broadcasts.
	Send(ctx context.Context, text, dest string) error

	// Listen delivers inbound messages to handler until ctx is done or the
	// link fails.
	Listen(ctx context.Context, handler Handler) error

	// NodeID identifies this end of the link
	NodeID() string

	// MaxMessageSize is the largest text a single Send accepts
	MaxMessageSize() int

	Close() error
}

// NewNodeID returns a Meshtastic-style node ID such as "!1a2b3c4d".
func NewNodeID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "!" + id[:8]
}

func checkSize(text string, limit int) error {
	if limit > 0 && len(text) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(text), limit)
	}
	return nil
}

// lossy drops outbound messages at random, emulating a radio link.
type lossy struct {
	Transport
	rate float64
}

// WithDropRate wraps t so that each Send is silently lost with probability
// rate. A rate of zero or less returns t unchanged.
func WithDropRate(t Transport, rate float64) Transport {
	if rate <= 0 {
		return t
	}
	return &lossy{Transport: t, rate: min(rate, 1)}
}

func (l *lossy) Send(ctx context.Context, text, dest string) error {
	if err := checkSize(text, l.MaxMessageSize()); err != nil {
		return err
	}
	if rand.Float64() < l.rate {
		slog.Debug("Dropping outbound message", "node", l.NodeID(), "dest", dest, "length", len(text))
		return nil
	}
	return l.Transport.Send(ctx, text, dest)
}
