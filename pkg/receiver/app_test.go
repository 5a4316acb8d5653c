package receiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rescp17/meshxfer/internal/app_events/receiver"
	"github.com/rescp17/meshxfer/pkg/transfer"
	"github.com/rescp17/meshxfer/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startReceiver(t *testing.T, hub *transport.MemoryHub, outDir string) *App {
	t.Helper()
	tr, err := hub.Join("!0000000b")
	require.NoError(t, err)

	cfg := transfer.DefaultTransferConfig()
	cfg.RetryPolicy.ConfirmationTimeout = 10 * time.Millisecond
	app, err := NewApp(tr, cfg, outDir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return app
}

func nextMsg[T any](t *testing.T, app *App) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-app.UIMessages():
			if m, ok := msg.(T); ok {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func TestReceiverRejectsCorruptedFile(t *testing.T) {
	hub := transport.NewMemoryHub(transport.DefaultMaxMessageSize)
	outDir := t.TempDir()
	app := startReceiver(t, hub, outDir)

	listening := nextMsg[receiver.ListeningMsg](t, app)
	assert.Equal(t, "!0000000b", listening.NodeID)

	peer, err := hub.Join("!0000000a")
	require.NoError(t, err)
	acks := make(chan transport.Message, 16)
	go func() { _ = peer.Listen(context.Background(), func(m transport.Message) { acks <- m }) }()
	t.Cleanup(func() { peer.Close() })

	// The announced hash belongs to different content.
	enc, err := transfer.Encode([]byte("hello"))
	require.NoError(t, err)
	f := transfer.NewFramer(transport.DefaultMaxMessageSize)
	start, err := f.BuildStart("hi.txt", 1, transfer.ContentHash([]byte("bye")), enc.Mode)
	require.NoError(t, err)
	chunk, err := f.BuildChunk("hi.txt", 1, 1, enc.Text)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, peer.Send(ctx, start, "!0000000b"))
	require.NoError(t, peer.Send(ctx, chunk, "!0000000b"))

	failed := nextMsg[receiver.FileFailedMsg](t, app)
	assert.Equal(t, "hi.txt", failed.FileName)
	assert.ErrorIs(t, failed.Err, transfer.ErrIntegrityMismatch)

	_, err = os.Stat(filepath.Join(outDir, "hi.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	select {
	case m := <-acks:
		assert.Equal(t, "hi.txt: 1/1 confirmed", m.Text)
		assert.Equal(t, "!0000000b", m.From)
	case <-time.After(time.Second):
		t.Fatal("chunk was not acknowledged")
	}
}

func TestNewAppCreatesOutputDir(t *testing.T) {
	hub := transport.NewMemoryHub(0)
	tr, err := hub.Join("!0000000b")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "a", "b")
	_, err = NewApp(tr, nil, dir)
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewApp(tr, nil, file)
	assert.Error(t, err)
}
