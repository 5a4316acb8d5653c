package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	appevents "github.com/rescp17/meshxfer/internal/app_events"
	receiverEvent "github.com/rescp17/meshxfer/internal/app_events/receiver"
	"github.com/rescp17/meshxfer/internal/config"
	"github.com/rescp17/meshxfer/internal/util"
	"github.com/rescp17/meshxfer/pkg/discovery"
	receiverApp "github.com/rescp17/meshxfer/pkg/receiver"
	"github.com/rescp17/meshxfer/pkg/ui"
)

func (c *cli) receiveCommand() *cobra.Command {
	var (
		outputDir string
		tui       bool
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive files until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("out") {
				c.cfg.OutputDir = outputDir
			}
			return c.runReceive(cmd.Context(), tui)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "out", "o", "", "directory for received files (default from config)")
	cmd.Flags().BoolVar(&tui, "tui", false, "show an interactive transfer list")
	return cmd
}

func (c *cli) runReceive(ctx context.Context, tui bool) error {
	tx, port, err := c.openLink()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Close(); err != nil {
			slog.Warn("Failed to close link", "error", err)
		}
	}()

	app, err := receiverApp.NewApp(tx, c.cfg.Transfer, c.cfg.OutputDir)
	if err != nil {
		return err
	}
	if c.cfg.Transport == config.TransportUDP {
		app.EnableAnnouncement(&discovery.MDNSAdapter{}, port)
	}

	ctx, stop := startApp(ctx, app.Run)

	if tui {
		p := tea.NewProgram(ui.NewReceiverModel(app), tea.WithContext(ctx))
		_, runErr := p.Run()
		if err := stop(); err != nil {
			return err
		}
		if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
			return fmt.Errorf("tui: %w", runErr)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return stop()
		case msg := <-app.UIMessages():
			printReceiverMessage(msg)
		}
	}
}

func printReceiverMessage(msg tea.Msg) {
	switch m := msg.(type) {
	case receiverEvent.ListeningMsg:
		fmt.Printf("Listening as %s, saving to %s\n", m.NodeID, m.OutputDir)
	case receiverEvent.ProgressUpdateMsg:
		fmt.Printf("%s: %d/%d confirmed\n", m.FileName, m.Received, m.Total)
	case receiverEvent.FileReceivedMsg:
		fmt.Printf("Saved %s (%s, %s) sha256 %s\n", m.File.Path, util.FormatSize(m.File.Size), m.File.MimeType, m.File.Checksum)
	case receiverEvent.FileFailedMsg:
		fmt.Printf("%s not saved: %v\n", m.FileName, m.Err)
	case appevents.ErrorMsg:
		fmt.Printf("error: %v\n", m.Err)
	}
}
