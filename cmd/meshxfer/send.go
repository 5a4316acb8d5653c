package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	appevents "github.com/rescp17/meshxfer/internal/app_events"
	senderEvent "github.com/rescp17/meshxfer/internal/app_events/sender"
	"github.com/rescp17/meshxfer/internal/config"
	"github.com/rescp17/meshxfer/internal/util"
	"github.com/rescp17/meshxfer/pkg/discovery"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
	senderApp "github.com/rescp17/meshxfer/pkg/sender"
	"github.com/rescp17/meshxfer/pkg/ui"
)

func (c *cli) sendCommand() *cobra.Command {
	var (
		dest       string
		chunkStart int
		tui        bool
		watchDir   string
		settle     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send a file, or every new file in a watched directory",
		Long:  "Send a file to one node or to everyone on the mesh. With --tui and no file, browse for one.",
		Args: func(cmd *cobra.Command, args []string) error {
			switch {
			case watchDir != "":
				return cobra.NoArgs(cmd, args)
			case tui:
				return cobra.MaximumNArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if watchDir != "" {
				return c.runWatch(cmd.Context(), watchDir, dest, settle)
			}

			req := senderEvent.SendFileMsg{Dest: dest, ChunkStart: chunkStart}
			if len(args) == 1 {
				node, err := fileInfo.CreateNode(args[0])
				if err != nil {
					return err
				}
				req.File = node
			}
			if tui {
				return c.runSendTUI(cmd.Context(), req)
			}
			return c.runSend(cmd.Context(), req)
		},
	}

	f := cmd.Flags()
	f.StringVar(&dest, "dest", "", "destination node ID (broadcast when empty)")
	f.IntVar(&chunkStart, "chunk-start", 0, "resume after this many confirmed chunks")
	f.BoolVar(&tui, "tui", false, "show an interactive progress view")
	f.StringVar(&watchDir, "watch", "", "send every file that appears in this directory")
	f.DurationVar(&settle, "settle", senderApp.DefaultSettle, "quiet time before a watched file is sent")
	return cmd
}

func (c *cli) newSender(discover bool) (*senderApp.App, func(), error) {
	tx, _, err := c.openLink()
	if err != nil {
		return nil, nil, err
	}
	var adapter discovery.Adapter
	if discover {
		discovery.Quiet()
		adapter = &discovery.MDNSAdapter{}
	}
	app, err := senderApp.NewApp(tx, c.cfg.Transfer, adapter)
	if err != nil {
		tx.Close()
		return nil, nil, err
	}
	return app, func() {
		if err := tx.Close(); err != nil {
			slog.Warn("Failed to close link", "error", err)
		}
	}, nil
}

// startApp runs app until the returned stop function is called.
func startApp(ctx context.Context, run func(context.Context) error) (context.Context, func() error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
		cancel()
	}()
	return ctx, func() error {
		cancel()
		return <-done
	}
}

func (c *cli) runSend(ctx context.Context, req senderEvent.SendFileMsg) error {
	app, closeLink, err := c.newSender(false)
	if err != nil {
		return err
	}
	defer closeLink()

	ctx, stop := startApp(ctx, app.Run)
	defer stop()

	fmt.Printf("Sending %s (%s) from %s\n", req.File.Name, util.FormatSize(req.File.Size), app.NodeID())
	select {
	case app.AppEvents() <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-app.UIMessages():
			done, err := printSenderMessage(msg)
			if done {
				return err
			}
		}
	}
}

// printSenderMessage reports one app message on stdout. It returns true once
// the transfer has ended.
func printSenderMessage(msg tea.Msg) (bool, error) {
	switch m := msg.(type) {
	case senderEvent.ProgressUpdateMsg:
		fmt.Printf("%s: %d/%d confirmed\n", m.FileName, m.Confirmed, m.Total)
	case senderEvent.TransferCompleteMsg:
		r := m.Result
		fmt.Printf("%s delivered: %d chunks, %s, sha256 %s\n", r.FileName, r.TotalChunks, r.Mode, r.Hash)
		return true, nil
	case senderEvent.TransferFailedMsg:
		fmt.Printf("%s failed; resume with --chunk-start %d\n", m.FileName, m.ResumeFrom)
		return true, m.Err
	case senderEvent.TransferCancelledMsg:
		return true, context.Canceled
	case appevents.ErrorMsg:
		return true, m.Err
	}
	return false, nil
}

func (c *cli) runSendTUI(ctx context.Context, req senderEvent.SendFileMsg) error {
	discover := req.Dest == "" && c.cfg.Transport == config.TransportUDP
	app, closeLink, err := c.newSender(discover)
	if err != nil {
		return err
	}
	defer closeLink()

	ctx, stop := startApp(ctx, app.Run)
	p := tea.NewProgram(ui.NewSenderModel(app, req, discover), tea.WithContext(ctx))
	_, runErr := p.Run()
	if err := stop(); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}

func (c *cli) runWatch(ctx context.Context, dir, dest string, settle time.Duration) error {
	app, closeLink, err := c.newSender(false)
	if err != nil {
		return err
	}
	defer closeLink()

	ctx, stop := startApp(ctx, app.Run)
	defer stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-app.UIMessages():
				if _, err := printSenderMessage(msg); err != nil {
					fmt.Printf("error: %v\n", err)
				}
			}
		}
	}()

	err = app.Watch(ctx, dir, dest, settle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
