// File: cmd/queue.go
package cmd

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/claimpilot/internal/records"
)

func newLoadCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "load [file]",
		Short: "Replace the queue with the records in a JSON file",
		Long:  "Load parses and validates the file before touching the queue. Without an argument the default records file is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			path := e.cfg.Control().DefaultRecordsFile
			if len(args) == 1 {
				path = args[0]
			}
			batch, err := e.surface(d).Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			printBatch(cmd, batch)
			return nil
		},
	}
}

func newClearCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the queue and reload the default records file if present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			batch, loaded, err := e.surface(d).Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Queue cleared.")
			if loaded {
				printBatch(cmd, batch)
			}
			return nil
		},
	}
}

func printBatch(cmd *cobra.Command, b records.Batch) {
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d records.\n", len(b.Records))
	if b.Incomplete > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: %d records are missing a code or title.\n", b.Incomplete)
	}
}

func newStatusCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd, d)
			if err != nil {
				return err
			}
			defer e.cleanup()

			st, err := e.surface(d).Status(cmd.Context())
			if err != nil {
				return err
			}

			running := "no"
			if st.Running {
				running = "yes"
			}
			rows := [][]string{
				{"Running", running},
				{"Category", st.Category},
				{"Remaining", strconv.Itoa(st.Remaining)},
				{"Submitted", strconv.Itoa(st.Submitted)},
				{"Fill armed", strconv.FormatBool(st.ShouldFill)},
			}
			if st.Head != nil {
				rows = append(rows, []string{"Next", st.Head.Code})
			}
			if st.Pending != nil {
				rows = append(rows, []string{"Submitting", fmt.Sprintf("%s (since %s)", st.Pending.Code, st.Pending.At.Local().Format("15:04:05"))})
			}
			if st.RunID != "" {
				rows = append(rows, []string{"Run", st.RunID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func newQueueCmd(d deps) *cobra.Command {
	var limit int
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "List the queued records",
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
			if len(snap.Queue) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}

			shown := snap.Queue
			if limit > 0 && len(shown) > limit {
				shown = shown[:limit]
			}
			rows := make([][]string, 0, len(shown))
			for i, r := range shown {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					r.Code,
					r.Title,
					records.NormalizeDate(r.ApplicationDate),
					r.PrimaryHolder(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Code", "Title", "Filed", "Holder"},
				rows,
				[]text.Align{text.AlignRight},
			))
			if len(shown) < len(snap.Queue) {
				fmt.Fprintf(cmd.OutOrStdout(), "... and %d more.\n", len(snap.Queue)-len(shown))
			}
			return nil
		},
	}
	queueCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records to show (0 for all)")
	return queueCmd
}

func renderTable(headers []string, rows [][]string, aligns []text.Align) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(aligns))
	for i, a := range aligns {
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: a, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
