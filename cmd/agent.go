// File: cmd/agent.go
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/notify"
	"github.com/xkilldash9x/claimpilot/internal/pagehost"
)

// newAgentCmd runs the page agent in the foreground. `start` launches it in
// the background when no agent answers.
func newAgentCmd(d deps) *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the page agent that drives the browser tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			cfg := e.cfg
			openTab := func(ctx context.Context) (pagehost.Tab, error) {
				return d.openTab(ctx, cfg.Browser(), cfg.Page().SiteMarker, e.logger)
			}
			host := pagehost.New(cfg, e.state, openTab, notify.New(cfg.Notify(), e.logger), e.logger)

			e.logger.Info("Starting page agent.",
				zap.String("socket", cfg.Control().SocketPath),
				zap.String("store", cfg.Store().Driver))
			return host.Run(cmd.Context())
		},
	}
	agentCmd.Flags().Bool("headless", false, "run the browser without a window")
	agentCmd.Flags().String("remote", "", "attach to a running Chrome at this debugging URL")
	agentCmd.Flags().String("store", "", "work store driver (sqlite, postgres, memory)")
	return agentCmd
}
