package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/meshxfer/internal/app_events"
	"github.com/rescp17/meshxfer/internal/app_events/sender"
	"github.com/rescp17/meshxfer/pkg/concurrency"
	"github.com/rescp17/meshxfer/pkg/discovery"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
	"github.com/rescp17/meshxfer/pkg/transfer"
	"github.com/rescp17/meshxfer/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// App is the main application logic controller for the sender.
type App struct {
	guard      *concurrency.ConcurrencyGuard
	tx         transport.Transport
	registry   *transfer.Registry
	listener   *transfer.ChannelListener
	discoverer discovery.Adapter       // nil on links without a LAN presence
	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App
	transferWG sync.WaitGroup          // Track active transfer goroutines

	mu             sync.Mutex
	cancelTransfer context.CancelFunc
}

// NewApp creates a sender bound to tx. Inbound frames only serve the running
// transfer, so the registry has no output directory.
func NewApp(tx transport.Transport, config *transfer.TransferConfig, discoverer discovery.Adapter) (*App, error) {
	registry, err := transfer.NewRegistry(config, tx, "")
	if err != nil {
		return nil, err
	}
	listener := transfer.NewChannelListener(64)
	registry.AddListener(listener)

	return &App{
		guard:      concurrency.NewConcurrencyGuard(),
		tx:         tx,
		registry:   registry,
		listener:   listener,
		discoverer: discoverer,
		uiMessages: make(chan tea.Msg, 16),
		appEvents:  make(chan appevents.AppEvent),
	}, nil
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// NodeID returns this node's address on the link
func (a *App) NodeID() string {
	return a.tx.NodeID()
}

// Run starts the application's main event loop. It returns once ctx is done
// and any running transfer has settled.
func (a *App) Run(ctx context.Context) error {
	a.registry.Start()
	defer a.registry.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.listen(ctx)
	})

	g.Go(func() error {
		a.forwardProgress(ctx)
		return nil
	})

	if a.discoverer != nil {
		g.Go(func() error {
			a.runDiscovery(ctx)
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				// Wait for any active transfers to complete gracefully
				a.transferWG.Wait()
				return nil
			case event := <-a.appEvents:
				switch e := event.(type) {
				case sender.SendFileMsg:
					a.StartSendProcess(ctx, e)
				case sender.CancelTransferMsg:
					a.cancelActive()
				default:
					slog.Warn("Received unhandled app event", "event", event)
				}
			}
		}
	})
	return g.Wait()
}

// listen feeds every message heard on the link into the registry
func (a *App) listen(ctx context.Context) error {
	err := a.tx.Listen(ctx, func(m transport.Message) {
		a.registry.HandleInbound(m.Text, m.From)
	})
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("link closed: %w", err)
}

func (a *App) forwardProgress(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-a.listener.Progress():
			if p.Direction != transfer.Outbound {
				continue
			}
			a.notify(ctx, sender.ProgressUpdateMsg{
				FileName:  p.FileName,
				Confirmed: p.Done,
				Total:     p.Total,
				Percent:   p.Percentage() / 100,
			})
		case o := <-a.listener.Outcomes():
			slog.Debug("Transfer settled", "file", o.FileName, "direction", o.Direction, "error", o.Err)
		}
	}
}

// runDiscovery publishes the mesh nodes announced on the LAN.
func (a *App) runDiscovery(ctx context.Context) {
	results := a.discoverer.Discover(ctx, discovery.ServiceName(discovery.DefaultServerType, discovery.DefaultDomain))
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if res.Error != nil {
				a.sendAndLogError(ctx, "Peer discovery failed", res.Error)
				return
			}
			a.notify(ctx, sender.FoundPeersMsg{Peers: res.Services})
		}
	}
}

func (a *App) notify(ctx context.Context, msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-ctx.Done():
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(ctx context.Context, baseMessage string, err error) {
	slog.Error(baseMessage, "error", err)
	a.notify(ctx, appevents.ErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}

// StartSendProcess runs one transfer in the background and reports its end
// to the UI.
func (a *App) StartSendProcess(ctx context.Context, req sender.SendFileMsg) {
	a.transferWG.Add(1)
	go func() {
		defer a.transferWG.Done()

		a.notify(ctx, sender.TransferStartedMsg{File: req.File, Dest: req.Dest})
		result, err := a.SendFile(ctx, req.File, req.Dest, req.ChunkStart)
		switch {
		case err == nil:
			a.notify(ctx, sender.TransferCompleteMsg{Result: result})
		case errors.Is(err, concurrency.ErrBusy):
			a.sendAndLogError(ctx, "Cannot start "+req.File.Name, err)
		case errors.Is(err, context.Canceled):
			slog.Info("Transfer cancelled", "file", req.File.Name, "resume_from", result.LastConfirmed)
			a.notify(ctx, sender.TransferCancelledMsg{})
		default:
			a.notify(ctx, sender.TransferFailedMsg{
				FileName:   req.File.Name,
				Err:        err,
				ResumeFrom: ResumePoint(result, err, req.ChunkStart),
			})
		}
	}()
}

// SendFile transfers one file and blocks until it is confirmed or abandoned.
// Only one file is sent at a time; a second call returns ErrBusy.
func (a *App) SendFile(ctx context.Context, file fileInfo.FileNode, dest string, chunkStart int) (transfer.SendResult, error) {
	var result transfer.SendResult
	err := a.guard.ExecuteWithContext(ctx, func(ctx context.Context) error {
		data, err := file.ReadContent()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		a.setCancel(cancel)
		defer a.setCancel(nil)

		slog.Info("Sending file", "file", file.Name, "size", file.Size, "dest", dest, "chunk_start", chunkStart)
		result, err = a.registry.Send(ctx, file.Name, data, dest, chunkStart)
		return err
	})
	return result, err
}

func (a *App) setCancel(cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancelTransfer = cancel
	a.mu.Unlock()
}

func (a *App) cancelActive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelTransfer != nil {
		a.cancelTransfer()
	}
}

// ResumePoint returns the chunk start that continues a failed transfer
func ResumePoint(result transfer.SendResult, err error, chunkStart int) int {
	var exhausted *transfer.RetryExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.LastConfirmed
	}
	if result.LastConfirmed > chunkStart {
		return result.LastConfirmed
	}
	return chunkStart
}
