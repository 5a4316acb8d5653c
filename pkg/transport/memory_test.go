package transport

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func listen(t *testing.T, tr Transport) *collector {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Listen(ctx, c.handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestMemoryHub_BroadcastAndAddressing(t *testing.T) {
	hub := NewMemoryHub(DefaultMaxMessageSize)
	a, err := hub.Join("!aaaaaaaa")
	require.NoError(t, err)
	b, err := hub.Join("!bbbbbbbb")
	require.NoError(t, err)
	c, err := hub.Join("!cccccccc")
	require.NoError(t, err)

	gotB := listen(t, b)
	gotC := listen(t, c)
	gotA := listen(t, a)

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, "hello all", ""))
	require.NoError(t, a.Send(ctx, "just b", "!bbbbbbbb"))

	assert.Eventually(t, func() bool { return len(gotB.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(gotC.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	msgs := gotB.snapshot()
	assert.Equal(t, Message{Text: "hello all", From: "!aaaaaaaa"}, msgs[0])
	assert.Equal(t, Message{Text: "just b", From: "!aaaaaaaa", To: "!bbbbbbbb"}, msgs[1])
	assert.Equal(t, "hello all", gotC.snapshot()[0].Text)
	assert.Empty(t, gotA.snapshot())
}

func TestMemoryHub_Drop(t *testing.T) {
	hub := NewMemoryHub(0)
	hub.SetDrop(func(m Message) bool { return strings.HasPrefix(m.Text, "lost") })

	a, err := hub.Join("a")
	require.NoError(t, err)
	b, err := hub.Join("b")
	require.NoError(t, err)
	got := listen(t, b)

	require.NoError(t, a.Send(context.Background(), "lost one", ""))
	require.NoError(t, a.Send(context.Background(), "kept", ""))

	assert.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "kept", got.snapshot()[0].Text)
}

func TestMemoryTransport_Limits(t *testing.T) {
	hub := NewMemoryHub(10)
	a, err := hub.Join("a")
	require.NoError(t, err)

	_, err = hub.Join("a")
	assert.Error(t, err)

	err = a.Send(context.Background(), strings.Repeat("x", 11), "")
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Equal(t, 10, a.MaxMessageSize())

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(context.Background(), "x", ""), ErrClosed)
	assert.ErrorIs(t, a.Listen(context.Background(), func(Message) {}), ErrClosed)
}

func TestWithDropRate(t *testing.T) {
	hub := NewMemoryHub(0)
	a, err := hub.Join("a")
	require.NoError(t, err)
	b, err := hub.Join("b")
	require.NoError(t, err)
	got := listen(t, b)

	assert.Same(t, Transport(a), WithDropRate(a, 0))

	lossyA := WithDropRate(a, 1)
	assert.Equal(t, "a", lossyA.NodeID())
	for range 20 {
		require.NoError(t, lossyA.Send(context.Background(), "gone", ""))
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.snapshot())
}

func TestSplitSender(t *testing.T) {
	m := splitSender("!1a2b3c4d: CHUNK 1/2 a.txt AAAA")
	assert.Equal(t, "!1a2b3c4d", m.From)
	assert.Equal(t, "CHUNK 1/2 a.txt AAAA", m.Text)

	// An ack is not a sender prefix.
	m = splitSender("a.txt: 1/2 confirmed")
	assert.Empty(t, m.From)
	assert.Equal(t, "a.txt: 1/2 confirmed", m.Text)
}

func TestNewNodeID(t *testing.T) {
	id := NewNodeID()
	assert.Len(t, id, 9)
	assert.True(t, strings.HasPrefix(id, "!"))
	assert.True(t, senderPrefix.MatchString(id+": x"))
	assert.NotEqual(t, id, NewNodeID())
}
