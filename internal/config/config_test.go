package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "meshxfer.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, TransportSerial, cfg.Transport)
	assert.Equal(t, 180, cfg.Transfer.ChunkSize)
	assert.Equal(t, 27, cfg.Transfer.RetryPolicy.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Transfer.RetryPolicy.ConfirmationTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), `{
		"transport": "udp",
		"device_path": "/dev/ttyACM0",
		"drop_rate": 0.2,
		"chunk_size": 120,
		"max_chunks": 64,
		"confirmation_timeout": "500ms",
		"end_linger": 1000000000
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportUDP, cfg.Transport)
	assert.Equal(t, "/dev/ttyACM0", cfg.Device)
	assert.InDelta(t, 0.2, cfg.DropRate, 1e-9)
	assert.Equal(t, 120, cfg.Transfer.ChunkSize)
	assert.Equal(t, 64, cfg.Transfer.MaxChunks)
	assert.Equal(t, 500*time.Millisecond, cfg.Transfer.RetryPolicy.ConfirmationTimeout)
	assert.Equal(t, time.Second, cfg.Transfer.EndLinger)
	// Absent keys keep their defaults.
	assert.Equal(t, 9, cfg.Transfer.RetryPolicy.ResendEvery)
	assert.Equal(t, "received", cfg.OutputDir)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err, "an explicit path must exist")

	_, err = Load(writeFile(t, dir, `{"confirmation_timeout": "soon"}`))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, `not json`))
	assert.Error(t, err)
}

func TestFlagsWinOverFile(t *testing.T) {
	cfg, err := Load(writeFile(t, t.TempDir(), `{"transport": "udp", "device_path": "/dev/a"}`))
	require.NoError(t, err)

	var flags Flags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Register(fs)
	require.NoError(t, fs.Parse([]string{"--device", "/dev/b", "--ack-timeout", "3s"}))

	cfg.ApplyFlags(fs, &flags)
	assert.Equal(t, "/dev/b", cfg.Device)
	assert.Equal(t, TransportUDP, cfg.Transport, "unset flags must not clobber the file")
	assert.Equal(t, 3*time.Second, cfg.Transfer.RetryPolicy.ConfirmationTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DropRate = 1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transfer.ChunkSize = 0
	assert.Error(t, cfg.Validate())
}

func TestSaveDevicePreservesOtherKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), `{"transport": "serial", "chunk_size": 100}`)

	require.NoError(t, SaveDevice(path, "/dev/ttyUSB1"))

	var doc map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "/dev/ttyUSB1", doc["device_path"])
	assert.Equal(t, "serial", doc["transport"])
	assert.EqualValues(t, 100, doc["chunk_size"])

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Device)
}

func TestSaveDeviceCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.json")
	require.NoError(t, SaveDevice(path, "COM3"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "COM3", cfg.Device)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, json.Unmarshal([]byte(`2000000`), &d))
	assert.Equal(t, 2*time.Millisecond, d.Duration)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration{Duration: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}
