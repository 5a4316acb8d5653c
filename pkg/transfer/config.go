package transfer

import (
	"errors"
	"fmt"
	"time"
)

// TransferConfig holds all configuration for the transfer protocol
type TransferConfig struct {
	// Chunk configuration
	ChunkSize      int `json:"chunk_size"`       // Encoded characters per chunk
	MaxMessageSize int `json:"max_message_size"` // Transport ceiling for a whole frame
	MaxChunks      int `json:"max_chunks"`       // Largest total either side accepts

	// Retry policy shared by both directions
	RetryPolicy RetryPolicy `json:"retry_policy"`

	// Pacing
	AnnounceDelay time.Duration `json:"announce_delay"` // Pause after START before the first chunk
	EndLinger     time.Duration `json:"end_linger"`     // How long a finished sender keeps serving REQ frames
}

// Chunk size constants
const (
	DefaultChunkSize = 180
	// DefaultMaxMessageSize matches the text payload limit of a Meshtastic packet
	DefaultMaxMessageSize = 228
	// DefaultMaxChunks bounds a transfer to about 700 KB of encoded text,
	// already many hours of airtime on a LoRa channel
	DefaultMaxChunks = 4096
)

// DefaultTransferConfig returns a configuration with sensible defaults
func DefaultTransferConfig() *TransferConfig {
	return &TransferConfig{
		ChunkSize:      DefaultChunkSize,
		MaxMessageSize: DefaultMaxMessageSize,
		MaxChunks:      DefaultMaxChunks,
		RetryPolicy:    DefaultRetryPolicy(),
		AnnounceDelay:  time.Second,
		EndLinger:      30 * time.Second,
	}
}

// Validate checks if the configuration values are valid
func (tc *TransferConfig) Validate() error {
	if tc.ChunkSize < MinChunkPayload {
		return fmt.Errorf("chunk_size must be at least %d", MinChunkPayload)
	}
	if tc.MaxMessageSize < 0 {
		return errors.New("max_message_size cannot be negative")
	}
	if tc.MaxMessageSize > 0 && tc.ChunkSize >= tc.MaxMessageSize {
		return errors.New("chunk_size must leave room for the frame header within max_message_size")
	}
	if tc.MaxChunks < 1 {
		return errors.New("max_chunks must be at least 1")
	}
	if err := tc.RetryPolicy.Validate(); err != nil {
		return err
	}
	if tc.AnnounceDelay < 0 {
		return errors.New("announce_delay cannot be negative")
	}
	if tc.EndLinger < 0 {
		return errors.New("end_linger cannot be negative")
	}
	return nil
}

// Framer returns the framer bounded by this configuration's message ceiling
func (tc *TransferConfig) Framer() Framer {
	return NewFramer(tc.MaxMessageSize)
}

func validConfig(cfg *TransferConfig) (*TransferConfig, error) {
	if cfg == nil {
		return DefaultTransferConfig(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return cfg, nil
}
