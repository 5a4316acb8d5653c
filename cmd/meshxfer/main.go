package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/meshxfer/internal/config"
	"github.com/rescp17/meshxfer/pkg/transport"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	verbose    bool
	flags      config.Flags

	cfg     *config.Config
	logFile io.Closer
}

func main() {
	c := &cli{}
	root := c.rootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fang.Execute(ctx, root)
	stop()
	if c.logFile != nil {
		if cerr := c.logFile.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", cerr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meshxfer",
		Short: "Reliable file transfer over a lossy short-message mesh",
		Long: "meshxfer splits a file into small text frames, sends them one at a time over a\n" +
			"Meshtastic serial link or a LAN multicast emulation, and waits for each chunk to be\n" +
			"confirmed. The receiver verifies the SHA-256 of the rebuilt file before saving it.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "JSON config file (default ./"+config.DefaultPath+" when present)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "log debug output")
	c.flags.Register(pf)

	cmd.AddCommand(c.sendCommand(), c.receiveCommand(), c.peersCommand())
	return cmd
}

// setup resolves configuration and installs the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyFlags(cmd.Flags(), &c.flags)
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	tui, _ := cmd.Flags().GetBool("tui")
	closer, err := setupLogging(cfg.LogFile, c.verbose, tui)
	if err != nil {
		return err
	}
	c.logFile = closer
	return nil
}

// setupLogging writes to the log file and, unless a TUI owns the terminal,
// to stderr as well.
func setupLogging(path string, verbose, tui bool) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	var w io.Writer = f
	if !tui {
		w = io.MultiWriter(f, os.Stderr)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	log.SetOutput(w)
	return f, nil
}

// openLink opens the configured transport. A serial device found by scanning
// is saved so the next run tries it first. The returned port is non-zero only
// for the udp link.
func (c *cli) openLink() (transport.Transport, int, error) {
	cfg := c.cfg
	var (
		tx   transport.Transport
		port int
	)

	switch cfg.Transport {
	case config.TransportUDP:
		ut, err := transport.OpenUDP(transport.UDPConfig{
			Group:          cfg.Group,
			Interface:      cfg.Interface,
			NodeID:         cfg.NodeID,
			MaxMessageSize: cfg.Transfer.MaxMessageSize,
		})
		if err != nil {
			return nil, 0, err
		}
		tx, port = ut, ut.Port()
	default:
		st, err := transport.OpenSerial(transport.SerialConfig{
			Device:         cfg.Device,
			BaudRate:       cfg.BaudRate,
			NodeID:         cfg.NodeID,
			MaxMessageSize: cfg.Transfer.MaxMessageSize,
		})
		if err != nil {
			return nil, 0, err
		}
		if st.Device() != cfg.Device {
			if err := config.SaveDevice(c.configPath, st.Device()); err != nil {
				slog.Warn("Failed to save device path", "device", st.Device(), "error", err)
			} else {
				slog.Info("Device path saved to config", "device", st.Device())
			}
		}
		tx = st
	}

	if cfg.DropRate > 0 {
		slog.Warn("Injecting outbound loss", "drop_rate", cfg.DropRate)
	}
	return transport.WithDropRate(tx, cfg.DropRate), port, nil
}
