// File: cmd/report.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/reporting"
)

// newReportCmd creates and configures the `report` command.
func newReportCmd(d deps) *cobra.Command {
	var outputPath string
	var format string
	var runOnly bool
	var reset bool

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Export submitted and remaining records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			snap, err := e.state.Load(cmd.Context())
			if err != nil {
				return err
			}
			if outputPath == "" && format == "xlsx" {
				outputPath = fmt.Sprintf("claimpilot-%s.xlsx", time.Now().Format("20060102-150405"))
			}

			reporter, err := reporting.New(format, outputPath)
			if err != nil {
				return err
			}
			report := reporting.FromSnapshot(snap, runOnly, time.Now())
			if err := reporter.Write(report); err != nil {
				_ = reporter.Close()
				return fmt.Errorf("failed to write report: %w", err)
			}
			if err := reporter.Close(); err != nil {
				return fmt.Errorf("failed to finalize report: %w", err)
			}

			e.logger.Info("Report written.",
				zap.String("format", format),
				zap.String("output", outputPath),
				zap.Int("submitted", len(report.Submitted)),
				zap.Int("remaining", len(report.Remaining)))
			if outputPath != "" && outputPath != "stdout" {
				fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s (%d submitted, %d remaining).\n", outputPath, len(report.Submitted), len(report.Remaining))
			}

			// Only reached once the report is safely on disk.
			if reset {
				if err := e.state.ClearJournal(cmd.Context()); err != nil {
					return err
				}
				e.logger.Info("Submission journal cleared.", zap.Int("entries", len(snap.Journal)))
				fmt.Fprintf(cmd.ErrOrStderr(), "Cleared %d journal entries.\n", len(snap.Journal))
			}
			return nil
		},
	}

	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (xlsx defaults to a timestamped file, json to stdout)")
	reportCmd.Flags().StringVarP(&format, "format", "f", "xlsx", "report format (xlsx, json)")
	reportCmd.Flags().BoolVar(&runOnly, "run", false, "only include submissions of the current run")
	reportCmd.Flags().BoolVar(&reset, "reset", false, "clear the submission journal after the report is written")
	return reportCmd
}
