package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// DefaultGroup is the multicast group nodes of the LAN mesh share
const DefaultGroup = "239.0.0.77:4403"

// UDPConfig describes a LAN mesh emulation link
type UDPConfig struct {
	Group          string // host:port of the IPv4 multicast group
	Interface      string // Empty selects the first multicast-capable interface
	NodeID         string
	MaxMessageSize int
}

// envelope is the datagram carried on the group. Text keeps the frame intact.
type envelope struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
	Text string `json:"text"`
}

// UDPTransport emulates a broadcast radio channel on an IPv4 multicast group.
// Every node receives every datagram and drops those addressed elsewhere.
type UDPTransport struct {
	conn    *net.UDPConn
	group   *net.UDPAddr
	nodeID  string
	maxSize int

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenUDP joins the multicast group described by cfg
func OpenUDP(cfg UDPConfig) (*UDPTransport, error) {
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.NodeID == "" {
		cfg.NodeID = NewNodeID()
	}

	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("invalid multicast group %q: %w", cfg.Group, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", group.IP)
	}

	iface, err := multicastInterface(cfg.Interface)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, group)
	if err != nil {
		return nil, fmt.Errorf("failed to join %s: %w", group, err)
	}

	pc := ipv4.NewPacketConn(conn)
	// One hop keeps the emulated mesh on the local segment.
	if err := pc.SetMulticastTTL(1); err != nil {
		slog.Warn("Failed to set multicast TTL", "error", err)
	}
	// Several nodes may share one host; own datagrams are filtered by node ID.
	if err := pc.SetMulticastLoopback(true); err != nil {
		slog.Warn("Failed to enable multicast loopback", "error", err)
	}
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			slog.Warn("Failed to select multicast interface", "interface", iface.Name, "error", err)
		}
	}

	ifaceName := "any"
	if iface != nil {
		ifaceName = iface.Name
	}
	slog.Info("Joined mesh group", "group", group.String(), "interface", ifaceName, "node", cfg.NodeID)

	return &UDPTransport{
		conn:    conn,
		group:   group,
		nodeID:  cfg.NodeID,
		maxSize: cfg.MaxMessageSize,
		closed:  make(chan struct{}),
	}, nil
}

// multicastInterface resolves name, or picks the first interface that is up,
// not loopback, and multicast capable. A nil result lets the kernel choose.
func multicastInterface(name string) (*net.Interface, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", name, err)
		}
		return iface, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return &iface, nil
			}
		}
	}
	return nil, nil
}

func (t *UDPTransport) Send(ctx context.Context, text, dest string) error {
	if err := checkSize(text, t.maxSize); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(envelope{From: t.nodeID, To: dest, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	if _, err := t.conn.WriteToUDP(data, t.group); err != nil {
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

// Listen delivers datagrams addressed to this node or broadcast, skipping its
// own.
func (t *UDPTransport) Listen(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() {
		// Unblocks the pending read.
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-t.closed:
				return ErrClosed
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("udp read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(buf[:n], &env); err != nil {
			slog.Debug("Ignoring foreign datagram", "error", err)
			continue
		}
		if env.From == t.nodeID || (env.To != "" && env.To != t.nodeID) {
			continue
		}
		handler(Message{Text: env.Text, From: env.From, To: env.To})
	}
}

func (t *UDPTransport) NodeID() string {
	return t.nodeID
}

func (t *UDPTransport) MaxMessageSize() int {
	return t.maxSize
}

// Port returns the UDP port of the group, used when announcing the node
func (t *UDPTransport) Port() int {
	return t.group.Port
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
