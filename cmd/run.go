// File: cmd/run.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStartCmd(d deps) *cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start filing the queued records",
		Long: `Start checks that records are loaded, makes sure a page agent is running
and that its tab shows the entry list or the entry form, then begins the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			category := e.cfg.Control().Category
			if err := e.surface(d).Start(cmd.Context(), category); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run started for category %q.\n", category)
			return nil
		},
	}
	startCmd.Flags().String("category", "", "category selected on every entry (required)")
	return startCmd
}

func newStopCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			if err := e.surface(d).Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Run stopped.")
			return nil
		},
	}
}
