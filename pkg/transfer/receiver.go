package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReceiverSession collects the chunks of one inbound transfer, acknowledges
// each, and rebuilds the file once complete and verified.
type ReceiverSession struct {
	id        string
	fileName  string
	outputDir string
	config    *TransferConfig
	framer    Framer
	tx        Transmitter
	handler   ErrorHandler
	sink      eventSink
	retry     *RetryManager

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	peer       string
	state      ReceiverState
	total      int
	hash       string
	mode       EncodingMode
	chunks     map[int]string
	endSeen    bool
	recovering bool
	outcome    *Outcome
	lastSeen   time.Time
	done       chan struct{}
}

func newReceiverSession(parent context.Context, fileName, peer, outputDir string, config *TransferConfig, tx Transmitter, sink eventSink) *ReceiverSession {
	ctx, cancel := context.WithCancel(parent)
	if sink == nil {
		sink = nopSink{}
	}
	return &ReceiverSession{
		id:        uuid.New().String(),
		fileName:  fileName,
		outputDir: outputDir,
		config:    config,
		framer:    config.Framer(),
		tx:        tx,
		handler:   NewDefaultErrorHandler(config.RetryPolicy),
		sink:      sink,
		retry:     NewRetryManager(config.RetryPolicy),
		ctx:       ctx,
		cancel:    cancel,
		peer:      peer,
		state:     ReceiverIdle,
		chunks:    make(map[int]string),
		lastSeen:  time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the session ID used in logs
func (r *ReceiverSession) ID() string {
	return r.id
}

// State returns the current lifecycle state
func (r *ReceiverSession) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Received returns how many distinct chunks are stored and the expected total
func (r *ReceiverSession) Received() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks), r.total
}

// Peer returns the node acks are addressed to
func (r *ReceiverSession) Peer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer
}

// Missing returns the absent indices, ascending
func (r *ReceiverSession) Missing() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.missingLocked()
}

// Done is closed once the session reaches a terminal state
func (r *ReceiverSession) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the terminal outcome, or nil while the transfer is open
func (r *ReceiverSession) Outcome() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

func (r *ReceiverSession) announce(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total = frame.Total
	r.hash = frame.Hash
	r.mode = frame.Mode
	r.state = ReceiverCollecting
	r.lastSeen = time.Now()
	slog.Info("Receiving file",
		"session", r.id,
		"file", r.fileName,
		"from", r.peer,
		"total_chunks", frame.Total,
		"mode", frame.Mode.String(),
		"expected_hash", frame.Hash)
}

// applyChunk stores a chunk and acknowledges it. Storing the same index twice
// leaves the store unchanged.
func (r *ReceiverSession) applyChunk(frame Frame, from string) {
	r.mu.Lock()
	if r.state.IsTerminal() {
		verified := r.state == ReceiverVerified && frame.Total == r.total
		peer := r.peer
		r.mu.Unlock()
		if verified {
			r.sendAck(frame.Index, frame.Total, peer)
		}
		return
	}
	if r.total == 0 {
		r.total = frame.Total
	}
	if frame.Total != r.total {
		r.mu.Unlock()
		slog.Warn("Ignoring chunk with conflicting total",
			"session", r.id, "file", r.fileName, "index", frame.Index, "total", frame.Total, "expected", r.total)
		return
	}
	if r.peer == "" {
		r.peer = from
	}
	if r.state == ReceiverIdle {
		r.state = ReceiverCollecting
	}
	r.chunks[frame.Index] = frame.Payload
	r.lastSeen = time.Now()
	received, total, peer := len(r.chunks), r.total, r.peer
	// With the hash known from START there is no need to wait for END.
	complete := received == total && (r.endSeen || r.hash != "") && !r.recovering &&
		r.state != ReceiverReconstructing
	if complete {
		r.state = ReceiverReconstructing
	}
	r.mu.Unlock()

	// Clears the counter and wakes the missing-chunk loop, if any.
	r.retry.Succeed(frame.Index)

	slog.Info(fmt.Sprintf("%s: %d/%d confirmed", r.fileName, received, total), "session", r.id, "index", frame.Index)
	r.sink.progress(Progress{
		SessionID: r.id,
		FileName:  r.fileName,
		Direction: Inbound,
		Done:      received,
		Total:     total,
		State:     r.State().String(),
	})

	r.sendAck(frame.Index, total, peer)

	if complete {
		r.reconstruct()
	}
}

func (r *ReceiverSession) sendAck(index, total int, peer string) {
	ack, err := r.framer.BuildAck(r.fileName, index, total)
	if err != nil {
		slog.Error("Cannot build ack", "session", r.id, "error", err)
		return
	}
	if err := r.tx.Send(r.ctx, ack, peer); err != nil {
		r.handler.LogError(r.fileName, fmt.Errorf("%w: ack %d: %v", ErrTransportSend, index, err), ErrorActionIgnore, 0)
	}
}

// applyEnd either reconstructs the file or starts asking for what is missing.
func (r *ReceiverSession) applyEnd(frame Frame) {
	r.mu.Lock()
	if r.state.IsTerminal() || r.state == ReceiverReconstructing {
		r.mu.Unlock()
		return
	}
	if frame.Hash != "" {
		if r.hash != "" && !strings.EqualFold(r.hash, frame.Hash) {
			slog.Warn("END hash differs from announced hash, using END",
				"session", r.id, "file", r.fileName, "announced", r.hash, "end", frame.Hash)
		}
		r.hash = frame.Hash
	}
	r.endSeen = true
	r.lastSeen = time.Now()

	if r.total == 0 {
		r.mu.Unlock()
		r.finish(ReceiverFailed, Outcome{Err: &IncompleteError{FileName: r.fileName}})
		return
	}
	if len(r.missingLocked()) == 0 {
		r.state = ReceiverReconstructing
		r.mu.Unlock()
		r.reconstruct()
		return
	}
	if r.recovering {
		r.mu.Unlock()
		return
	}
	r.recovering = true
	r.state = ReceiverMissingChunks
	r.mu.Unlock()

	go r.recoverMissing()
}

// recoverMissing requests every absent chunk once per round and waits one
// confirmation timeout for them, until complete or a budget runs out.
func (r *ReceiverSession) recoverMissing() {
	for {
		missing := r.Missing()
		if len(missing) == 0 {
			r.mu.Lock()
			r.state = ReceiverReconstructing
			r.mu.Unlock()
			r.reconstruct()
			return
		}

		slog.Warn("Chunks missing, requesting retransmission", "session", r.id, "file", r.fileName, "missing", missing)
		for _, index := range missing {
			attempt, ok := r.retry.Attempt(index)
			if !ok {
				_, total := r.Received()
				exhausted := r.retry.ExhaustedKeys()
				slog.Error("Chunks failed to arrive",
					"session", r.id, "file", r.fileName, "missing", missing, "exhausted", exhausted,
					"retry_limit", r.retry.Policy().MaxRetries)
				r.finish(ReceiverFailed, Outcome{Err: &IncompleteError{
					FileName:  r.fileName,
					Missing:   missing,
					Exhausted: exhausted,
					Total:     total,
				}})
				return
			}
			r.request(index, attempt)
		}

		if _, err := r.retry.Await(r.ctx, func() bool { return len(r.Missing()) == 0 }); err != nil {
			slog.Debug("Missing-chunk recovery stopped", "session", r.id, "file", r.fileName, "error", err)
			return
		}
	}
}

func (r *ReceiverSession) request(index, attempt int) {
	r.mu.Lock()
	total, peer := r.total, r.peer
	r.mu.Unlock()

	req, err := r.framer.BuildRequest(r.fileName, index, total)
	if err != nil {
		slog.Error("Cannot build request", "session", r.id, "error", err)
		return
	}
	if err := r.tx.Send(r.ctx, req, peer); err != nil {
		r.handler.LogError(r.fileName, fmt.Errorf("%w: request %d: %v", ErrTransportSend, index, err), ErrorActionRetry, attempt)
		return
	}
	slog.Info("Requested chunk", "session", r.id, "file", r.fileName, "index", index,
		"attempt", attempt, "retry_limit", r.retry.Policy().MaxRetries)
}

// reconstruct joins the chunks in index order, decodes and verifies them.
// Nothing is written unless the hash matches.
func (r *ReceiverSession) reconstruct() {
	r.mu.Lock()
	var sb strings.Builder
	for i := 1; i <= r.total; i++ {
		sb.WriteString(r.chunks[i])
	}
	text, mode, expected := sb.String(), r.mode, r.hash
	r.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if mode == ModeUnknown {
		data, mode, err = DecodeAuto(text, expected)
	} else {
		data, err = Decode(text, mode)
	}
	if err != nil {
		r.handler.LogError(r.fileName, err, ErrorActionFail, 0)
		r.finish(ReceiverCorrupted, Outcome{Err: fmt.Errorf("%s: %w", r.fileName, err)})
		return
	}

	computed := ContentHash(data)
	if expected == "" {
		slog.Warn("No content hash announced, skipping verification", "session", r.id, "file", r.fileName)
	} else if !Verify(data, expected) {
		integrityErr := &IntegrityError{FileName: r.fileName, Expected: expected, Computed: computed}
		slog.Error("Hash mismatch, file may be corrupted",
			"session", r.id, "file", r.fileName, "expected", expected, "computed", computed)
		r.finish(ReceiverCorrupted, Outcome{Hash: computed, Err: integrityErr})
		return
	}

	path, err := writeOutput(r.outputDir, r.fileName, data)
	if err != nil {
		r.handler.LogError(r.fileName, err, ErrorActionFail, 0)
		r.finish(ReceiverFailed, Outcome{Hash: computed, Err: err})
		return
	}

	slog.Info("File successfully reconstructed",
		"session", r.id, "file", r.fileName, "path", path, "mode", mode.String(), "hash", computed)
	r.finish(ReceiverVerified, Outcome{Path: path, Hash: computed})
}

func (r *ReceiverSession) finish(state ReceiverState, outcome Outcome) {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return
	}
	outcome.SessionID = r.id
	outcome.FileName = r.fileName
	outcome.Direction = Inbound
	r.state = state
	r.outcome = &outcome
	close(r.done)
	r.mu.Unlock()

	r.sink.outcome(outcome)
}

// idle reports how long the session has gone without inbound traffic
func (r *ReceiverSession) idle(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.lastSeen)
}

// stop ends the session without an outcome, used when a new START replaces it.
func (r *ReceiverSession) stop() {
	r.cancel()
}

func (r *ReceiverSession) missingLocked() []int {
	var missing []int
	for i := 1; i <= r.total; i++ {
		if _, ok := r.chunks[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// writeOutput places data at outputDir/fileName via a temporary file and a
// rename, so a reader never sees a partial file.
func writeOutput(outputDir, fileName string, data []byte) (string, error) {
	cleanName := SanitizeFileName(fileName)
	if cleanName == "" || cleanName == ".." {
		return "", fmt.Errorf("invalid output name %q", fileName)
	}
	outputPath := filepath.Join(outputDir, cleanName)
	if !strings.HasPrefix(outputPath, filepath.Clean(outputDir)) {
		return "", fmt.Errorf("invalid output path: %s", outputPath)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	tmp, err := os.CreateTemp(outputDir, "."+cleanName+".part-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove temporary file", "path", tmpName, "error", err)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	if err := tmp.Sync(); err != nil {
		slog.Warn("Failed to sync file to disk", "error", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return outputPath, nil
}
