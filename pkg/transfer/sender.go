package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transmitter hands one message to the mesh. An empty dest broadcasts.
type Transmitter interface {
	Send(ctx context.Context, text, dest string) error
}

// SendResult describes a finished outbound transfer
type SendResult struct {
	SessionID     string
	FileName      string
	TotalChunks   int
	ChunkSize     int
	Mode          EncodingMode
	Hash          string
	LastConfirmed int
	Served        int // Chunks re-sent on REQ after END
}

// SenderSession drives one outbound transfer: announce, stop-and-wait per
// chunk, then END carrying the content hash.
type SenderSession struct {
	id       string
	fileName string
	dest     string
	config   *TransferConfig
	framer   Framer
	tx       Transmitter
	handler  ErrorHandler
	sink     eventSink

	encoded   Encoded
	chunkSize int
	chunks    []string

	acks  *AckSet
	retry *RetryManager

	mu     sync.Mutex
	state  SenderState
	served int
}

// NewSenderSession encodes data and cuts it into chunks that fit the
// configured message ceiling. A nil config uses the defaults.
func NewSenderSession(fileName string, data []byte, dest string, config *TransferConfig, tx Transmitter) (*SenderSession, error) {
	config, err := validConfig(config)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.New("transmitter cannot be nil")
	}
	if err := checkName(fileName); err != nil {
		return nil, err
	}

	encoded, err := Encode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", fileName, err)
	}

	framer := config.Framer()
	chunkSize, err := framer.FitChunkSize(fileName, len(encoded.Text), config.ChunkSize)
	if err != nil {
		return nil, err
	}

	chunks := SplitChunks(encoded.Text, chunkSize)
	if len(chunks) > config.MaxChunks {
		return nil, fmt.Errorf("%w: %s needs %d chunks, limit is %d", ErrTooManyChunks, fileName, len(chunks), config.MaxChunks)
	}

	return &SenderSession{
		id:        uuid.New().String(),
		fileName:  fileName,
		dest:      dest,
		config:    config,
		framer:    framer,
		tx:        tx,
		handler:   NewDefaultErrorHandler(config.RetryPolicy),
		sink:      nopSink{},
		encoded:   encoded,
		chunkSize: chunkSize,
		chunks:    chunks,
		acks:      NewAckSet(),
		retry:     NewRetryManager(config.RetryPolicy),
		state:     SenderIdle,
	}, nil
}

// ID returns the session ID used in logs
func (s *SenderSession) ID() string {
	return s.id
}

// FileName returns the name announced on the wire
func (s *SenderSession) FileName() string {
	return s.fileName
}

// TotalChunks returns the number of chunks the transfer announces
func (s *SenderSession) TotalChunks() int {
	return len(s.chunks)
}

// Encoded returns the encoded payload and its metadata
func (s *SenderSession) Encoded() Encoded {
	return s.encoded
}

// State returns the current lifecycle state
func (s *SenderSession) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SenderSession) setState(state SenderState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run performs the transfer. Chunks 1..chunkStart are treated as confirmed by
// an earlier attempt and are not sent. On an exhausted retry budget the error
// is a *RetryExhaustedError carrying the resume point.
func (s *SenderSession) Run(ctx context.Context, chunkStart int) (SendResult, error) {
	total := len(s.chunks)
	if chunkStart < 0 || chunkStart > total {
		return SendResult{}, fmt.Errorf("%w: %d outside 0..%d", ErrInvalidResumePoint, chunkStart, total)
	}
	for i := 1; i <= chunkStart; i++ {
		s.acks.Confirm(i)
	}

	slog.Info("Starting transfer",
		"session", s.id,
		"file", s.fileName,
		"dest", s.dest,
		"mode", s.encoded.Mode.String(),
		"encoded_size", len(s.encoded.Text),
		"chunk_size", s.chunkSize,
		"total_chunks", total,
		"chunk_start", chunkStart)

	start, err := s.framer.BuildStart(s.fileName, total, s.encoded.Hash, s.encoded.Mode)
	if err != nil {
		return SendResult{}, err
	}
	if err := s.transmitControl(ctx, start); err != nil {
		return s.abort(err)
	}
	s.setState(SenderAnnounced)

	if err := sleepContext(ctx, s.config.AnnounceDelay); err != nil {
		return s.abort(err)
	}

	for i := chunkStart + 1; i <= total; i++ {
		if err := s.deliverChunk(ctx, i); err != nil {
			return s.abort(err)
		}
		s.emitProgress()
	}

	s.setState(SenderCompleting)
	end, err := s.framer.BuildEnd(s.fileName, s.encoded.Hash)
	if err != nil {
		return SendResult{}, err
	}
	if err := s.transmitControl(ctx, end); err != nil {
		return s.abort(err)
	}
	s.setState(SenderDone)
	s.emitProgress()
	slog.Info("Transfer complete", "session", s.id, "file", s.fileName, "hash", s.encoded.Hash)

	// Keep answering REQ frames from a receiver that lost chunks.
	if s.config.EndLinger > 0 {
		if err := sleepContext(ctx, s.config.EndLinger); err != nil {
			slog.Debug("Linger interrupted", "session", s.id, "error", err)
		}
	}

	return s.result(), nil
}

// deliverChunk sends chunk index and blocks until it is confirmed or the
// retry budget for it is spent.
func (s *SenderSession) deliverChunk(ctx context.Context, index int) error {
	frame, err := s.framer.BuildChunk(s.fileName, index, len(s.chunks), s.chunks[index-1])
	if err != nil {
		return err
	}

	s.setState(SenderSendingChunk)
	needSend := true
	for {
		if needSend {
			if err := s.tx.Send(ctx, frame, s.dest); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				sendErr := fmt.Errorf("%w: chunk %d: %v", ErrTransportSend, index, err)
				action := s.handler.HandleError(s.fileName, sendErr, s.retry.Count(index))
				s.handler.LogError(s.fileName, sendErr, action, s.retry.Count(index))
				if action == ErrorActionFail {
					return sendErr
				}
			} else {
				needSend = false
				slog.Debug("Sent chunk", "session", s.id, "file", s.fileName, "index", index, "total", len(s.chunks))
			}
		}

		attempt, ok := s.retry.Attempt(index)
		if !ok {
			return &RetryExhaustedError{FileName: s.fileName, Index: index, LastConfirmed: s.acks.Contiguous()}
		}

		s.setState(SenderAwaitingAck)
		acked, err := s.retry.Await(ctx, func() bool { return s.acks.Has(index) })
		if err != nil {
			return err
		}
		if acked {
			s.retry.Succeed(index)
			return nil
		}

		if policy := s.retry.Policy(); attempt < policy.MaxRetries && policy.ShouldResend(attempt) {
			needSend = true
			s.setState(SenderRetryingChunk)
			slog.Warn("No confirmation, re-sending chunk",
				"session", s.id, "file", s.fileName, "index", index, "attempt", attempt)
		}
	}
}

// transmitControl sends START or END, retrying failed hand-offs within the
// retry budget.
func (s *SenderSession) transmitControl(ctx context.Context, frame string) error {
	policy := s.retry.Policy()
	for attempt := 0; ; attempt++ {
		err := s.tx.Send(ctx, frame, s.dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sendErr := fmt.Errorf("%w: %v", ErrTransportSend, err)
		action := s.handler.HandleError(s.fileName, sendErr, attempt)
		s.handler.LogError(s.fileName, sendErr, action, attempt)
		if action != ErrorActionRetry {
			return sendErr
		}
		if err := sleepContext(ctx, policy.ConfirmationTimeout); err != nil {
			return err
		}
	}
}

func (s *SenderSession) abort(err error) (SendResult, error) {
	s.setState(SenderAborted)
	res := s.result()

	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		slog.Error("Transfer aborted",
			"session", s.id,
			"file", s.fileName,
			"chunk", exhausted.Index,
			"resume_from", exhausted.LastConfirmed)
		return res, err
	}

	slog.Error("Transfer aborted", "session", s.id, "file", s.fileName, "resume_from", res.LastConfirmed, "error", err)
	return res, fmt.Errorf("%s aborted after chunk %d: %w", s.fileName, res.LastConfirmed, err)
}

func (s *SenderSession) result() SendResult {
	s.mu.Lock()
	served := s.served
	s.mu.Unlock()

	return SendResult{
		SessionID:     s.id,
		FileName:      s.fileName,
		TotalChunks:   len(s.chunks),
		ChunkSize:     s.chunkSize,
		Mode:          s.encoded.Mode,
		Hash:          s.encoded.Hash,
		LastConfirmed: s.acks.Contiguous(),
		Served:        served,
	}
}

// HandleFrame applies an ack or a retransmission request addressed to this
// transfer. Acks are honoured in every state, so a late ack is never lost.
func (s *SenderSession) HandleFrame(ctx context.Context, frame Frame) {
	total := len(s.chunks)
	if frame.Total != total {
		slog.Debug("Ignoring frame for a different transfer",
			"session", s.id, "file", s.fileName, "kind", frame.Kind.String(), "total", frame.Total, "expected", total)
		return
	}

	switch frame.Kind {
	case FrameAck:
		if s.acks.Confirm(frame.Index) {
			slog.Debug("Chunk confirmed", "session", s.id, "file", s.fileName, "index", frame.Index, "total", total)
		}
		s.retry.Notify()
	case FrameRequestMissing:
		s.serveRequest(ctx, frame.Index)
	}
}

func (s *SenderSession) serveRequest(ctx context.Context, index int) {
	chunk, err := s.framer.BuildChunk(s.fileName, index, len(s.chunks), s.chunks[index-1])
	if err != nil {
		slog.Error("Cannot rebuild requested chunk", "session", s.id, "index", index, "error", err)
		return
	}
	if err := s.tx.Send(ctx, chunk, s.dest); err != nil {
		s.handler.LogError(s.fileName, fmt.Errorf("%w: requested chunk %d: %v", ErrTransportSend, index, err), ErrorActionIgnore, 0)
		return
	}

	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	slog.Info("Re-sent requested chunk", "session", s.id, "file", s.fileName, "index", index)
}

func (s *SenderSession) emitProgress() {
	s.sink.progress(Progress{
		SessionID: s.id,
		FileName:  s.fileName,
		Direction: Outbound,
		Done:      s.acks.Len(),
		Total:     len(s.chunks),
		State:     s.State().String(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
