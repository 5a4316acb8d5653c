package transport

import (
	"context"
	"fmt"
	"sync"
)

// MemoryHub connects in-process transports as if they shared one radio
// channel. Delivery is ordered per receiving node.
type MemoryHub struct {
	mu      sync.RWMutex
	nodes   map[string]*MemoryTransport
	drop    func(Message) bool
	maxSize int
}

// NewMemoryHub creates a hub whose links accept maxSize bytes per message
func NewMemoryHub(maxSize int) *MemoryHub {
	return &MemoryHub{
		nodes:   make(map[string]*MemoryTransport),
		maxSize: maxSize,
	}
}

// SetDrop installs a hook deciding which messages are lost in flight
func (h *MemoryHub) SetDrop(drop func(Message) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = drop
}

// Join attaches a new node to the hub
func (h *MemoryHub) Join(nodeID string) (*MemoryTransport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[nodeID]; exists {
		return nil, fmt.Errorf("node %s already joined", nodeID)
	}
	t := &MemoryTransport{
		hub:    h,
		nodeID: nodeID,
		inbox:  make(chan Message, 1024),
		done:   make(chan struct{}),
	}
	h.nodes[nodeID] = t
	return t, nil
}

func (h *MemoryHub) leave(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, nodeID)
}

func (h *MemoryHub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.drop != nil && h.drop(msg) {
		return
	}
	for id, node := range h.nodes {
		if id == msg.From || (msg.To != "" && msg.To != id) {
			continue
		}
		node.enqueue(msg)
	}
}

// MemoryTransport is one node on a MemoryHub
type MemoryTransport struct {
	hub    *MemoryHub
	nodeID string
	inbox  chan Message

	closeOnce sync.Once
	done      chan struct{}
}

func (t *MemoryTransport) enqueue(msg Message) {
	select {
	case t.inbox <- msg:
	case <-t.done:
	}
}

func (t *MemoryTransport) Send(ctx context.Context, text, dest string) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if err := checkSize(text, t.hub.maxSize); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.hub.deliver(Message{Text: text, From: t.nodeID, To: dest})
	return nil
}

func (t *MemoryTransport) Listen(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrClosed
		case msg := <-t.inbox:
			handler(msg)
		}
	}
}

func (t *MemoryTransport) NodeID() string {
	return t.nodeID
}

func (t *MemoryTransport) MaxMessageSize() int {
	return t.hub.maxSize
}

func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.hub.leave(t.nodeID)
	})
	return nil
}
