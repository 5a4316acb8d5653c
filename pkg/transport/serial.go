package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 115200
	serialReadPoll  = 100 * time.Millisecond
)

// senderPrefix matches the "!1a2b3c4d: " prefix a node may put in front of
// relayed text messages.
var senderPrefix = regexp.MustCompile(`^(![0-9a-fA-F]{8}): `)

// SerialConfig selects the radio attached over USB serial
type SerialConfig struct {
	Device         string // Empty means scan for the first available port
	BaudRate       int
	NodeID         string
	MaxMessageSize int
}

// SerialTransport talks to a Meshtastic node whose serial module runs in
// text-message mode: each written line is broadcast as one text message and
// each received text message arrives as one line.
type SerialTransport struct {
	port    serial.Port
	device  string
	nodeID  string
	maxSize int

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenSerial opens cfg.Device, falling back to the first port that opens
// when the configured one is empty or fails. Device reports which was used.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.NodeID == "" {
		cfg.NodeID = NewNodeID()
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	candidates, err := deviceCandidates(cfg.Device)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, device := range candidates {
		port, err := serial.Open(device, mode)
		if err != nil {
			slog.Warn("Failed to open serial device", "device", device, "error", err)
			lastErr = err
			continue
		}
		if err := port.SetReadTimeout(serialReadPoll); err != nil {
			port.Close()
			lastErr = err
			continue
		}

		slog.Info("Opened serial device", "device", device, "baud", cfg.BaudRate)
		return &SerialTransport{
			port:    port,
			device:  device,
			nodeID:  cfg.NodeID,
			maxSize: cfg.MaxMessageSize,
			closed:  make(chan struct{}),
		}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoDevice, lastErr)
}

func deviceCandidates(configured string) ([]string, error) {
	var candidates []string
	if configured != "" {
		candidates = append(candidates, configured)
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		if len(candidates) > 0 {
			return candidates, nil
		}
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	for _, p := range ports {
		if p != configured {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoDevice
	}
	return candidates, nil
}

// Device returns the path of the opened port
func (t *SerialTransport) Device() string {
	return t.device
}

// Send writes text as one line. The serial text module has no addressing, so
// dest is only logged.
func (t *SerialTransport) Send(ctx context.Context, text, dest string) error {
	if err := checkSize(text, t.maxSize); err != nil {
		return err
	}
	if strings.ContainsAny(text, "\r\n") {
		return errors.New("message contains a line break")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	if _, err := t.port.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	slog.Debug("Sent text message", "device", t.device, "dest", dest, "length", len(text))
	return nil
}

// Listen reads lines until ctx is done. A read returning no data is the poll
// timeout, not end of stream.
func (t *SerialTransport) Listen(ctx context.Context, handler Handler) error {
	buf := make([]byte, 512)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return ErrClosed
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			select {
			case <-t.closed:
				return ErrClosed
			default:
			}
			return fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimRight(string(pending[:i]), "\r")
			pending = pending[i+1:]
			if line == "" {
				continue
			}
			handler(splitSender(line))
		}
	}
}

// splitSender separates an optional node prefix from the message text.
func splitSender(line string) Message {
	if m := senderPrefix.FindStringSubmatch(line); m != nil {
		return Message{Text: line[len(m[0]):], From: m[1]}
	}
	return Message{Text: line}
}

func (t *SerialTransport) NodeID() string {
	return t.nodeID
}

func (t *SerialTransport) MaxMessageSize() int {
	return t.maxSize
}

func (t *SerialTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.port.Close()
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("close %s: %w", t.device, err)
	}
	return nil
}
