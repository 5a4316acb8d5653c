package transfer

import (
	"errors"
	"fmt"
)

// This file defines the lifecycle states of both session kinds and the error
// values that surface from them. It is complementary to frame.go:
//
// frame.go (FrameKind):        what travels over the mesh
// status.go (SenderState etc): where a session is in its lifecycle
//
// A Start frame moves a receiver to Collecting, an End frame moves it to
// Reconstructing or MissingChunks, and so on.

// SenderState represents the current state of an outbound transfer
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderAnnounced
	SenderSendingChunk
	SenderAwaitingAck
	SenderRetryingChunk
	SenderCompleting
	SenderDone
	SenderAborted
)

// String returns a human-readable string representation of the sender state
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderAnnounced:
		return "announced"
	case SenderSendingChunk:
		return "sending_chunk"
	case SenderAwaitingAck:
		return "awaiting_ack"
	case SenderRetryingChunk:
		return "retrying_chunk"
	case SenderCompleting:
		return "completing"
	case SenderDone:
		return "done"
	case SenderAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the sender will make no further progress
func (s SenderState) IsTerminal() bool {
	return s == SenderDone || s == SenderAborted
}

// ReceiverState represents the current state of an inbound transfer
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverCollecting
	ReceiverMissingChunks
	ReceiverReconstructing
	ReceiverVerified
	ReceiverCorrupted
	ReceiverFailed
)

// String returns a human-readable string representation of the receiver state
func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "idle"
	case ReceiverCollecting:
		return "collecting"
	case ReceiverMissingChunks:
		return "missing_chunks"
	case ReceiverReconstructing:
		return "reconstructing"
	case ReceiverVerified:
		return "verified"
	case ReceiverCorrupted:
		return "corrupted"
	case ReceiverFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the receiver session has reached a final outcome
func (s ReceiverState) IsTerminal() bool {
	return s == ReceiverVerified || s == ReceiverCorrupted || s == ReceiverFailed
}

// Error types for transfer sessions
var (
	// ErrTransportSend is returned when a frame could not be handed to the transport
	ErrTransportSend = errors.New("transport send failed")

	// ErrDecode is returned when an encoded payload cannot be decoded
	ErrDecode = errors.New("payload decode failed")

	// ErrIntegrityMismatch is returned when the reconstructed content hash differs from the announced one
	ErrIntegrityMismatch = errors.New("content hash mismatch")

	// ErrRetryBudgetExhausted is returned when a chunk was not confirmed within the retry limit
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrMalformedFrame is used when an inbound message cannot be parsed
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrIncomplete is returned when chunks are still missing after their retry budget ran out
	ErrIncomplete = errors.New("transfer incomplete")

	// ErrSessionNotFound is returned when no active session matches a file name
	ErrSessionNotFound = errors.New("session not found")

	// ErrTransferAlreadyExists is returned when an outbound transfer for the same name is running
	ErrTransferAlreadyExists = errors.New("transfer already exists")

	// ErrInvalidConfiguration is returned when configuration validation fails
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIsDir is returned when a directory is offered for sending
	ErrIsDir = errors.New("cannot send a directory")

	// ErrInvalidResumePoint is returned when a chunk start lies outside 0..totalChunks
	ErrInvalidResumePoint = errors.New("invalid resume point")

	// ErrTooManyChunks is returned when a transfer would exceed MaxChunks
	ErrTooManyChunks = errors.New("too many chunks")
)

// IntegrityError reports both digests of a failed verification.
type IntegrityError struct {
	FileName string
	Expected string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %v: expected %s, computed %s", e.FileName, ErrIntegrityMismatch, e.Expected, e.Computed)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityMismatch
}

// RetryExhaustedError reports where a transfer gave up. LastConfirmed is the
// resume point to pass as chunk start on the next attempt.
type RetryExhaustedError struct {
	FileName      string
	Index         int
	LastConfirmed int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: chunk %d: %v (resume from %d)", e.FileName, e.Index, ErrRetryBudgetExhausted, e.LastConfirmed)
}

func (e *RetryExhaustedError) Unwrap() error {
	return ErrRetryBudgetExhausted
}

// IncompleteError lists the chunks that never arrived. Exhausted holds the
// indices whose request budget ran out.
type IncompleteError struct {
	FileName  string
	Missing   []int
	Exhausted []int
	Total     int
}

func (e *IncompleteError) Error() string {
	msg := fmt.Sprintf("%s: %v: %d of %d chunks missing %v", e.FileName, ErrIncomplete, len(e.Missing), e.Total, e.Missing)
	if len(e.Exhausted) > 0 {
		msg += fmt.Sprintf(", no answer to requests for %v", e.Exhausted)
	}
	return msg
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncomplete
}
