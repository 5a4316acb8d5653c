// Package config loads node settings. Sources are applied in order:
// defaults, the JSON file, then command-line flags, later ones winning.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rescp17/meshxfer/pkg/transfer"
	"github.com/rescp17/meshxfer/pkg/transport"
	"github.com/spf13/pflag"
)

const (
	// DefaultPath is read from the working directory when --config is not given
	DefaultPath = "meshxfer.json"

	TransportSerial = "serial"
	TransportUDP    = "udp"
)

// Config holds runtime settings for a node.
type Config struct {
	Transport string
	Device    string
	BaudRate  int
	Group     string
	Interface string
	NodeID    string
	DropRate  float64
	LogFile   string
	OutputDir string

	Transfer *transfer.TransferConfig
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Transport: TransportSerial,
		BaudRate:  transport.DefaultBaudRate,
		Group:     transport.DefaultGroup,
		LogFile:   "meshxfer.log",
		OutputDir: "received",
		Transfer:  transfer.DefaultTransferConfig(),
	}
}

// fileConfig is the on-disk shape. Pointers tell absent keys from zero values.
type fileConfig struct {
	Transport *string  `json:"transport,omitempty"`
	Device    *string  `json:"device_path,omitempty"`
	BaudRate  *int     `json:"baud_rate,omitempty"`
	Group     *string  `json:"group,omitempty"`
	Interface *string  `json:"interface,omitempty"`
	NodeID    *string  `json:"node_id,omitempty"`
	DropRate  *float64 `json:"drop_rate,omitempty"`
	LogFile   *string  `json:"log_file,omitempty"`
	OutputDir *string  `json:"output_dir,omitempty"`

	ChunkSize           *int      `json:"chunk_size,omitempty"`
	MaxMessageSize      *int      `json:"max_message_size,omitempty"`
	MaxChunks           *int      `json:"max_chunks,omitempty"`
	MaxRetries          *int      `json:"max_retries,omitempty"`
	ConfirmationTimeout *Duration `json:"confirmation_timeout,omitempty"`
	ResendEvery         *int      `json:"resend_every,omitempty"`
	AnnounceDelay       *Duration `json:"announce_delay,omitempty"`
	EndLinger           *Duration `json:"end_linger,omitempty"`
}

// Load applies the JSON file at path over the defaults. A missing file is not
// an error when path is the default location.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.apply(cfg)
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.Transport, fc.Transport)
	setString(&cfg.Device, fc.Device)
	setString(&cfg.Group, fc.Group)
	setString(&cfg.Interface, fc.Interface)
	setString(&cfg.NodeID, fc.NodeID)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.OutputDir, fc.OutputDir)
	setInt(&cfg.BaudRate, fc.BaudRate)
	if fc.DropRate != nil {
		cfg.DropRate = *fc.DropRate
	}

	tc := cfg.Transfer
	setInt(&tc.ChunkSize, fc.ChunkSize)
	setInt(&tc.MaxMessageSize, fc.MaxMessageSize)
	setInt(&tc.MaxChunks, fc.MaxChunks)
	setInt(&tc.RetryPolicy.MaxRetries, fc.MaxRetries)
	setInt(&tc.RetryPolicy.ResendEvery, fc.ResendEvery)
	setDuration(&tc.RetryPolicy.ConfirmationTimeout, fc.ConfirmationTimeout)
	setDuration(&tc.AnnounceDelay, fc.AnnounceDelay)
	setDuration(&tc.EndLinger, fc.EndLinger)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

// Validate checks the settings that the transfer layer does not cover
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSerial, TransportUDP:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportSerial, TransportUDP)
	}
	if c.DropRate < 0 || c.DropRate >= 1 {
		return errors.New("drop_rate must be in [0, 1)")
	}
	if c.BaudRate <= 0 {
		return errors.New("baud_rate must be positive")
	}
	return c.Transfer.Validate()
}

// Flags are the command-line overrides
type Flags struct {
	Transport string
	Device    string
	Group     string
	Interface string
	NodeID    string
	DropRate  float64
	LogFile   string
	Timeout   time.Duration
	Retries   int
}

// Register adds the override flags to fs
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Transport, "transport", "", "link to use: serial or udp")
	fs.StringVar(&f.Device, "device", "", "serial device path (scans when unset)")
	fs.StringVar(&f.Group, "group", "", "multicast group for the udp link")
	fs.StringVar(&f.Interface, "interface", "", "network interface for the udp link")
	fs.StringVar(&f.NodeID, "node", "", "node ID on the udp link")
	fs.Float64Var(&f.DropRate, "drop-rate", 0, "fraction of outgoing messages to drop")
	fs.StringVar(&f.LogFile, "log-file", "", "log file path")
	fs.DurationVar(&f.Timeout, "ack-timeout", 0, "time to wait for each confirmation")
	fs.IntVar(&f.Retries, "retries", 0, "waits allowed per chunk")
}

// ApplyFlags copies the flags the user actually set
func (c *Config) ApplyFlags(fs *pflag.FlagSet, f *Flags) {
	if fs.Changed("transport") {
		c.Transport = f.Transport
	}
	if fs.Changed("device") {
		c.Device = f.Device
	}
	if fs.Changed("group") {
		c.Group = f.Group
	}
	if fs.Changed("interface") {
		c.Interface = f.Interface
	}
	if fs.Changed("node") {
		c.NodeID = f.NodeID
	}
	if fs.Changed("drop-rate") {
		c.DropRate = f.DropRate
	}
	if fs.Changed("log-file") {
		c.LogFile = f.LogFile
	}
	if fs.Changed("ack-timeout") {
		c.Transfer.RetryPolicy.ConfirmationTimeout = f.Timeout
	}
	if fs.Changed("retries") {
		c.Transfer.RetryPolicy.MaxRetries = f.Retries
	}
}

// SaveDevice records the serial device that worked so the next run tries it
// first. Other keys in the file are preserved.
func SaveDevice(path, device string) error {
	if path == "" {
		path = DefaultPath
	}

	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read config %s: %w", path, err)
	}

	value, err := json.Marshal(device)
	if err != nil {
		return err
	}
	doc["device_path"] = value

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".meshxfer-*.json")
	if err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("save device: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}
