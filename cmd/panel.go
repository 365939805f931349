// File: cmd/panel.go
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/claimpilot/internal/tui"
)

func newPanelCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "panel",
		Short: "Open the live operator panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			changes, err := e.store.Subscribe(ctx)
			if err != nil {
				return err
			}

			snap, err := e.state.Load(ctx)
			if err != nil {
				return err
			}
			initial := snap.SelectedCategory
			if initial == "" {
				initial = e.cfg.Control().Category
			}

			panel := tui.NewPanel(ctx, e.surface(d), changes, e.cfg.Control().Categories, initial)
			return d.runProgram(ctx, panel)
		},
	}
}
