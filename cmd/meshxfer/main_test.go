package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	senderEvent "github.com/rescp17/meshxfer/internal/app_events/sender"
	"github.com/rescp17/meshxfer/internal/config"
	"github.com/rescp17/meshxfer/pkg/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintSenderMessage(t *testing.T) {
	done, err := printSenderMessage(senderEvent.ProgressUpdateMsg{FileName: "a", Confirmed: 1, Total: 2})
	assert.False(t, done)
	assert.NoError(t, err)

	done, err = printSenderMessage(senderEvent.TransferCompleteMsg{Result: transfer.SendResult{FileName: "a"}})
	assert.True(t, done)
	assert.NoError(t, err)

	exhausted := &transfer.RetryExhaustedError{FileName: "a", Index: 2, LastConfirmed: 1}
	done, err = printSenderMessage(senderEvent.TransferFailedMsg{FileName: "a", Err: exhausted, ResumeFrom: 1})
	assert.True(t, done)
	assert.ErrorIs(t, err, transfer.ErrRetryBudgetExhausted)

	done, err = printSenderMessage(senderEvent.TransferCancelledMsg{})
	assert.True(t, done)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "meshxfer.log")
	closer, err := setupLogging(path, true, true)
	require.NoError(t, err)

	slog.Debug("Debug line", "file", "a.txt")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Debug line")
	assert.Contains(t, string(data), "file=a.txt")
}

func TestRootCommandAppliesFlags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"transport": "udp"}`), 0o644))

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	c := &cli{}
	root := c.rootCommand()
	require.NoError(t, root.ParseFlags([]string{
		"--config", cfgPath,
		"--log-file", filepath.Join(dir, "x.log"),
		"--retries", "5",
	}))
	require.NoError(t, c.setup(root))
	t.Cleanup(func() { c.logFile.Close() })

	assert.Equal(t, config.TransportUDP, c.cfg.Transport)
	assert.Equal(t, 5, c.cfg.Transfer.RetryPolicy.MaxRetries)
}
