package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescp17/meshxfer/internal/style"
	"github.com/rescp17/meshxfer/internal/util"
	"github.com/rescp17/meshxfer/pkg/discovery"
)

func (c *cli) peersCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List receivers announced on the LAN (udp link)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			discovery.Quiet()
			peers, err := discovery.CollectPeers(cmd.Context(), &discovery.MDNSAdapter{}, timeout)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Println(style.HelpStyle.Render("No receivers found."))
				return nil
			}

			fmt.Println(style.TitleStyle.Render(util.PadRight("NODE", 12) + util.PadRight("NAME", 28) + "ADDRESS"))
			for _, p := range peers {
				addr := "-"
				if p.Addr != nil {
					addr = fmt.Sprintf("%s:%d", p.Addr, p.Port)
				}
				fmt.Println(util.PadRight(p.NodeID, 12) + util.PadRight(p.Name, 28) + addr)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to browse")
	return cmd
}
