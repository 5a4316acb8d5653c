package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// cleanupInterval is how often finished and stale sessions are pruned
	cleanupInterval = 30 * time.Second
	// finishedRetention is how long a completed inbound name keeps answering
	// duplicate chunks with acks
	finishedRetention = 10 * time.Minute
	// staleAfter fails an inbound session that has heard nothing for this long
	staleAfter = 5 * time.Minute
)

type finishedTransfer struct {
	total    int
	peer     string
	verified bool
	at       time.Time
}

// Registry owns every transfer of one node. All inbound traffic enters through
// HandleInbound, which routes acks and requests to senders and the rest to
// receivers keyed by file name.
type Registry struct {
	config    *TransferConfig
	framer    Framer
	tx        Transmitter
	handler   ErrorHandler
	outputDir string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	senders   map[string]*SenderSession
	receivers map[string]*ReceiverSession
	finished  map[string]finishedTransfer

	listenerMu sync.RWMutex
	listeners  map[string]StatusListener
}

// NewRegistry creates a registry sending through tx. Inbound transfers are
// written to outputDir; an empty outputDir refuses them.
func NewRegistry(config *TransferConfig, tx Transmitter, outputDir string) (*Registry, error) {
	config, err := validConfig(config)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.New("transmitter cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		config:    config,
		framer:    config.Framer(),
		tx:        tx,
		handler:   NewDefaultErrorHandler(config.RetryPolicy),
		outputDir: outputDir,
		ctx:       ctx,
		cancel:    cancel,
		senders:   make(map[string]*SenderSession),
		receivers: make(map[string]*ReceiverSession),
		finished:  make(map[string]finishedTransfer),
		listeners: make(map[string]StatusListener),
	}, nil
}

// Config returns the configuration shared by every session
func (r *Registry) Config() *TransferConfig {
	return r.config
}

// AddListener subscribes l to progress and outcome events
func (r *Registry) AddListener(l StatusListener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners[l.ID()] = l
}

func (r *Registry) progress(p Progress) {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	for _, l := range r.listeners {
		l.OnProgress(p)
	}
}

func (r *Registry) outcome(o Outcome) {
	if o.Direction == Inbound {
		r.retire(o)
	}

	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	for _, l := range r.listeners {
		l.OnOutcome(o)
	}
}

// retire moves a finished receiver out of the live table, unless a newer
// START already replaced it.
func (r *Registry) retire(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.receivers[o.FileName]
	if !ok || session.ID() != o.SessionID {
		return
	}
	delete(r.receivers, o.FileName)

	_, total := session.Received()
	r.finished[o.FileName] = finishedTransfer{
		total:    total,
		peer:     session.Peer(),
		verified: o.Err == nil,
		at:       time.Now(),
	}
}

// Send runs one outbound transfer to dest and blocks until it finishes. The
// file is announced under SanitizeFileName(fileName), which SendResult
// reports. Only one outbound transfer per name may run at a time.
func (r *Registry) Send(ctx context.Context, fileName string, data []byte, dest string, chunkStart int) (SendResult, error) {
	name := SanitizeFileName(fileName)
	if name == "" {
		return SendResult{}, fmt.Errorf("%w: file name %q", ErrInvalidFrameField, fileName)
	}
	if name != fileName {
		slog.Info("Announcing file under a wire-safe name", "file", fileName, "name", name)
	}
	fileName = name

	session, err := NewSenderSession(fileName, data, dest, r.config, r.tx)
	if err != nil {
		return SendResult{}, err
	}
	session.sink = r

	r.mu.Lock()
	if _, exists := r.senders[fileName]; exists {
		r.mu.Unlock()
		return SendResult{}, fmt.Errorf("%w: %s", ErrTransferAlreadyExists, fileName)
	}
	r.senders[fileName] = session
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.senders, fileName)
		r.mu.Unlock()
	}()

	res, err := session.Run(ctx, chunkStart)
	r.outcome(Outcome{
		SessionID: session.ID(),
		FileName:  fileName,
		Direction: Outbound,
		Hash:      res.Hash,
		Err:       err,
	})
	return res, err
}

// HandleInbound parses one received message and dispatches it. from is the
// originating node, used as the destination of acks and requests.
func (r *Registry) HandleInbound(text, from string) {
	frame := Parse(text)
	if frame.Total > r.config.MaxChunks {
		slog.Warn("Ignoring frame over the chunk limit",
			"file", frame.FileName, "kind", frame.Kind.String(), "from", from,
			"total_chunks", frame.Total, "max_chunks", r.config.MaxChunks)
		return
	}

	switch frame.Kind {
	case FrameUnrecognized:
		r.handler.LogError("", fmt.Errorf("%w: %s", ErrMalformedFrame, frame.Reason), ErrorActionIgnore, 0)
	case FrameAck, FrameRequestMissing:
		r.mu.Lock()
		session, ok := r.senders[frame.FileName]
		r.mu.Unlock()
		if !ok {
			slog.Debug("No outbound transfer for frame", "file", frame.FileName, "kind", frame.Kind.String(), "from", from)
			return
		}
		session.HandleFrame(r.ctx, frame)
	case FrameStart:
		r.handleStart(frame, from)
	case FrameChunk:
		r.handleChunk(frame, from)
	case FrameEnd:
		r.mu.Lock()
		session, ok := r.receivers[frame.FileName]
		_, finished := r.finished[frame.FileName]
		r.mu.Unlock()
		if !ok {
			if finished {
				slog.Debug("END for finished transfer", "file", frame.FileName, "from", from)
			} else {
				slog.Warn("END for unknown transfer", "file", frame.FileName, "from", from)
			}
			return
		}
		session.applyEnd(frame)
	}
}

func (r *Registry) handleStart(frame Frame, from string) {
	if r.outputDir == "" {
		slog.Debug("Inbound transfers disabled, ignoring START", "file", frame.FileName, "from", from)
		return
	}

	session := newReceiverSession(r.ctx, frame.FileName, from, r.outputDir, r.config, r.tx, r)

	r.mu.Lock()
	previous := r.receivers[frame.FileName]
	r.receivers[frame.FileName] = session
	delete(r.finished, frame.FileName)
	r.mu.Unlock()

	if previous != nil {
		slog.Warn("New START replaces running transfer", "file", frame.FileName, "previous_session", previous.ID(), "session", session.ID())
		previous.stop()
	}
	session.announce(frame)
}

func (r *Registry) handleChunk(frame Frame, from string) {
	if r.outputDir == "" {
		return
	}

	r.mu.Lock()
	session, ok := r.receivers[frame.FileName]
	if !ok {
		if done, seen := r.finished[frame.FileName]; seen {
			r.mu.Unlock()
			r.reack(frame, done)
			return
		}
		// START was lost; the chunk itself carries enough to begin collecting.
		session = newReceiverSession(r.ctx, frame.FileName, from, r.outputDir, r.config, r.tx, r)
		r.receivers[frame.FileName] = session
		slog.Warn("Chunk without START, opening transfer", "file", frame.FileName, "from", from, "total_chunks", frame.Total)
	}
	r.mu.Unlock()

	session.applyChunk(frame, from)
}

// reack answers a duplicate chunk of an already verified transfer, whose
// sender evidently missed the original ack.
func (r *Registry) reack(frame Frame, done finishedTransfer) {
	if !done.verified || frame.Total != done.total {
		return
	}
	ack, err := r.framer.BuildAck(frame.FileName, frame.Index, frame.Total)
	if err != nil {
		return
	}
	if err := r.tx.Send(r.ctx, ack, done.peer); err != nil {
		r.handler.LogError(frame.FileName, fmt.Errorf("%w: %v", ErrTransportSend, err), ErrorActionIgnore, 0)
	}
}

// Receivers returns the file names of inbound transfers still in progress
func (r *Registry) Receivers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.receivers))
	for name := range r.receivers {
		names = append(names, name)
	}
	return names
}

// Receiver returns the live inbound session for fileName
func (r *Registry) Receiver(fileName string) (*ReceiverSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.receivers[fileName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, fileName)
	}
	return session, nil
}

// Start begins background pruning of finished and stale sessions
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.cleanupLoop()
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.prune(now)
		}
	}
}

func (r *Registry) prune(now time.Time) {
	r.mu.Lock()
	for name, done := range r.finished {
		if now.Sub(done.at) > finishedRetention {
			delete(r.finished, name)
		}
	}
	var stale []*ReceiverSession
	for _, session := range r.receivers {
		if session.idle(now) > staleAfter {
			stale = append(stale, session)
		}
	}
	r.mu.Unlock()

	for _, session := range stale {
		received, total := session.Received()
		slog.Warn("Inbound transfer went quiet, giving up",
			"session", session.ID(), "file", session.fileName, "received", received, "total_chunks", total)
		session.finish(ReceiverFailed, Outcome{Err: &IncompleteError{
			FileName: session.fileName,
			Missing:  session.Missing(),
			Total:    total,
		}})
		session.stop()
	}
}

// Close stops every inbound session and the cleanup loop. Running Send calls
// end when their own context does.
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	for _, session := range r.receivers {
		session.stop()
	}
	r.mu.Unlock()

	r.wg.Wait()
}
