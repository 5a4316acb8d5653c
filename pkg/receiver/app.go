package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/meshxfer/internal/app_events"
	"github.com/rescp17/meshxfer/internal/app_events/receiver"
	"github.com/rescp17/meshxfer/internal/util"
	"github.com/rescp17/meshxfer/pkg/discovery"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
	"github.com/rescp17/meshxfer/pkg/transfer"
	"github.com/rescp17/meshxfer/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// App is the main application logic controller for the receiver.
type App struct {
	tx         transport.Transport
	registry   *transfer.Registry
	listener   *transfer.ChannelListener
	outputDir  string
	registrar  discovery.Adapter
	port       int
	uiMessages chan tea.Msg
}

// NewApp creates a receiver writing verified files to outputDir, which is
// created when missing.
func NewApp(tx transport.Transport, config *transfer.TransferConfig, outputDir string) (*App, error) {
	if err := util.EnsureDirectory(outputDir); err != nil {
		return nil, err
	}
	registry, err := transfer.NewRegistry(config, tx, outputDir)
	if err != nil {
		return nil, err
	}
	listener := transfer.NewChannelListener(64)
	registry.AddListener(listener)

	return &App{
		tx:         tx,
		registry:   registry,
		listener:   listener,
		outputDir:  outputDir,
		uiMessages: make(chan tea.Msg, 16),
	}, nil
}

// EnableAnnouncement publishes this node over mDNS while Run is active so
// senders on the LAN can find its node ID.
func (a *App) EnableAnnouncement(registrar discovery.Adapter, port int) {
	discovery.Quiet()
	a.registrar = registrar
	a.port = port
}

func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// Run handles inbound frames until ctx is done or the link fails.
func (a *App) Run(ctx context.Context) error {
	a.registry.Start()
	defer a.registry.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.tx.Listen(ctx, func(m transport.Message) {
			a.registry.HandleInbound(m.Text, m.From)
		})
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("link closed: %w", err)
	})

	g.Go(func() error {
		a.forwardEvents(ctx)
		return nil
	})

	if a.registrar != nil {
		g.Go(func() error {
			a.startRegistration(ctx)
			return nil
		})
	}

	slog.Info("Receiver listening", "node", a.tx.NodeID(), "output_dir", a.outputDir)
	a.notify(ctx, receiver.ListeningMsg{NodeID: a.tx.NodeID(), OutputDir: a.outputDir})
	return g.Wait()
}

func (a *App) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-a.listener.Progress():
			if p.Direction != transfer.Inbound {
				continue
			}
			a.notify(ctx, receiver.ProgressUpdateMsg{
				FileName: p.FileName,
				Received: p.Done,
				Total:    p.Total,
				State:    p.State,
			})
		case o := <-a.listener.Outcomes():
			if o.Direction != transfer.Inbound {
				continue
			}
			a.handleOutcome(ctx, o)
		}
	}
}

func (a *App) handleOutcome(ctx context.Context, o transfer.Outcome) {
	if o.Err != nil {
		a.notify(ctx, receiver.FileFailedMsg{FileName: o.FileName, Err: o.Err})
		return
	}
	node, err := fileInfo.CreateNode(o.Path)
	if err != nil {
		a.sendAndLogError(ctx, "Received file is unreadable", err)
		return
	}
	slog.Info("File saved", "file", node.Name, "path", node.Path, "size", node.Size, "mime", node.MimeType)
	a.notify(ctx, receiver.FileReceivedMsg{File: node})
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

func (a *App) startRegistration(ctx context.Context) {
	hostname, err := os.Hostname()
	if err != nil {
		a.sendAndLogError(ctx, "Could not get hostname", err)
		return
	}

	serviceInfo := discovery.ServiceInfo{
		Name:   fmt.Sprintf("%s-%s", hostname, strings.TrimPrefix(a.tx.NodeID(), "!")),
		Type:   discovery.DefaultServerType,
		Domain: discovery.DefaultDomain,
		Port:   a.port,
		NodeID: a.tx.NodeID(),
	}

	// Announcement failures leave the node reachable by explicit --dest.
	if err := a.registrar.Announce(ctx, serviceInfo); err != nil {
		a.sendAndLogError(ctx, "Failed to start mDNS announcement", err)
	}
}
