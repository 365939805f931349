package reporting

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/xkilldash9x/claimpilot/internal/records"
)

// Sheet names.
const (
	SubmittedSheet = "Submitted"
	RemainingSheet = "Remaining"
)

var (
	submittedHeaders = []string{"Code", "Title", "Category", "Submitted At", "Strategy", "Activation", "Fallback", "Reconciled", "Run"}
	remainingHeaders = []string{"Code", "Title", "Registration No.", "Application Date", "Registration Date", "Holder", "Contributors"}
)

// XLSXReporter writes a two-sheet workbook.
type XLSXReporter struct {
	w io.WriteCloser
}

// NewXLSXReporter takes ownership of w.
func NewXLSXReporter(w io.WriteCloser) *XLSXReporter {
	return &XLSXReporter{w: w}
}

func (x *XLSXReporter) Write(r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the submitted sheet.
	if err := f.SetSheetName(f.GetSheetName(0), SubmittedSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(RemainingSheet); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	writeRow(f, SubmittedSheet, 1, toCells(submittedHeaders))
	for i, j := range r.Submitted {
		writeRow(f, SubmittedSheet, i+2, []interface{}{
			j.Code,
			j.Title,
			j.Category,
			j.SubmittedAt.Format("2006-01-02 15:04:05"),
			j.Strategy,
			j.Activation,
			j.Fallback,
			j.Reconciled,
			j.RunID,
		})
	}

	writeRow(f, RemainingSheet, 1, toCells(remainingHeaders))
	for i, rec := range r.Remaining {
		writeRow(f, RemainingSheet, i+2, []interface{}{
			rec.Code,
			rec.Title,
			rec.RegistrationCode,
			records.NormalizeDate(rec.ApplicationDate),
			records.NormalizeDate(rec.RegistrationDate),
			rec.PrimaryHolder(),
			rec.ContributorNames(),
		})
	}

	_ = f.SetColWidth(SubmittedSheet, "A", "A", 18)
	_ = f.SetColWidth(SubmittedSheet, "B", "B", 48)
	_ = f.SetColWidth(SubmittedSheet, "C", "F", 16)
	_ = f.SetColWidth(RemainingSheet, "A", "A", 18)
	_ = f.SetColWidth(RemainingSheet, "B", "B", 48)
	_ = f.SetColWidth(RemainingSheet, "C", "E", 16)
	_ = f.SetColWidth(RemainingSheet, "F", "G", 32)

	if err := f.Write(x.w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func (x *XLSXReporter) Close() error {
	return x.w.Close()
}

func toCells(headers []string) []interface{} {
	cells := make([]interface{}, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
