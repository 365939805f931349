// Package reporting exports the submission journal and the records still
// queued, for the operator's own bookkeeping.
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xkilldash9x/claimpilot/internal/records"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

// Report is the content of one export.
type Report struct {
	GeneratedAt time.Time                `json:"generatedAt"`
	RunID       string                   `json:"runId,omitempty"`
	Category    string                   `json:"category,omitempty"`
	Submitted   []workstore.JournalEntry `json:"submitted"`
	Remaining   []records.Record         `json:"remaining"`
}

// FromSnapshot builds a report from a store snapshot. With runOnly set only
// journal entries of the current run are included.
func FromSnapshot(snap workstore.Snapshot, runOnly bool, now time.Time) Report {
	r := Report{
		GeneratedAt: now,
		RunID:       snap.RunID,
		Category:    snap.SelectedCategory,
		Submitted:   []workstore.JournalEntry{},
		Remaining:   append([]records.Record{}, snap.Queue...),
	}
	for _, j := range snap.Journal {
		if runOnly && j.RunID != snap.RunID {
			continue
		}
		r.Submitted = append(r.Submitted, j)
	}
	return r
}

// Reporter writes a report to an output.
type Reporter interface {
	Write(r Report) error
	// Close finalizes the output and releases the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("xlsx" or "json") writing to
// outputPath, or to stdout when the path is empty or "stdout".
func New(format, outputPath string) (Reporter, error) {
	switch format {
	case "xlsx", "json":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "xlsx" {
		return NewXLSXReporter(writer), nil
	}
	return NewJSONReporter(writer), nil
}
