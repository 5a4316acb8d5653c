package transfer

import (
	"context"
	"strings"
	"sync"
	"time"
)

type sentMessage struct {
	Text string
	Dest string
}

// recordingTransmitter records every message and optionally reacts to it.
type recordingTransmitter struct {
	mu     sync.Mutex
	sent   []sentMessage
	onSend func(text, dest string) error
}

func (t *recordingTransmitter) Send(_ context.Context, text, dest string) error {
	t.mu.Lock()
	t.sent = append(t.sent, sentMessage{Text: text, Dest: dest})
	hook := t.onSend
	t.mu.Unlock()

	if hook != nil {
		return hook(text, dest)
	}
	return nil
}

func (t *recordingTransmitter) messages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.sent...)
}

// framesOf returns the parsed frames of the given kind, in send order.
func (t *recordingTransmitter) framesOf(kind FrameKind) []Frame {
	var out []Frame
	for _, m := range t.messages() {
		if f := Parse(m.Text); f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func chunkIndices(frames []Frame) []int {
	out := make([]int, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Index)
	}
	return out
}

// fastConfig keeps the protocol semantics but shrinks every wait.
func fastConfig() *TransferConfig {
	cfg := DefaultTransferConfig()
	cfg.RetryPolicy = RetryPolicy{
		MaxRetries:          9,
		ConfirmationTimeout: 5 * time.Millisecond,
		ResendEvery:         3,
	}
	cfg.AnnounceDelay = 0
	cfg.EndLinger = 0
	return cfg
}

// compressibleText returns n bytes of repetitive ASCII.
func compressibleText(n int) []byte {
	return []byte(strings.Repeat("mesh radio ", n/11+1)[:n])
}

// incompressible returns n bytes that zlib cannot shrink.
func incompressible(n int) []byte {
	out := make([]byte, n)
	var x uint32 = 2463534242
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}
