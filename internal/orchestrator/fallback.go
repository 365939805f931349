package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/records"
)

var (
	changeOnly     = []string{"change"}
	inputAndChange = []string{"input", "change"}
)

// assignment is one output field value taken from the record.
type assignment struct {
	Field  string
	Value  string
	Events []string
}

// fallbackValues maps rec onto the output fields. A field is only assigned
// when the record carries its source data; category and status always are.
func fallbackValues(rec records.Record, category, status string) []assignment {
	out := []assignment{{page.FieldCategory, category, changeOnly}}
	add := func(ok bool, field, value string, events []string) {
		if ok {
			out = append(out, assignment{field, value, events})
		}
	}
	add(rec.ApplicationDate != "", page.FieldApplicationYear, rec.ApplicationYear(), changeOnly)
	add(len(rec.Holders) > 0, page.FieldHolder, rec.PrimaryHolder(), inputAndChange)
	add(len(rec.Contributors) > 0, page.FieldInventor, rec.ContributorNames(), inputAndChange)
	add(rec.Title != "", page.FieldTitle, rec.Title, inputAndChange)
	add(true, page.FieldStatus, status, inputAndChange)
	add(rec.RegistrationCode != "", page.FieldPublicationNo, rec.RegistrationCode, inputAndChange)
	add(rec.RegistrationDate != "", page.FieldPublicationDate, records.NormalizeDate(rec.RegistrationDate), inputAndChange)
	add(rec.ApplicationDate != "", page.FieldFilingDate, records.NormalizeDate(rec.ApplicationDate), inputAndChange)
	add(rec.RegistrationDate != "", page.FieldReceptionDate, records.NormalizeDate(rec.RegistrationDate), inputAndChange)
	add(rec.RegistrationCode != "", page.FieldRegistrationNo, rec.RegistrationCode, inputAndChange)
	add(rec.RegistrationDate != "", page.FieldRegistrationDate, records.NormalizeDate(rec.RegistrationDate), inputAndChange)
	return out
}

// fillFallback writes the record's own data into the output fields and lifts
// the read-only restrictions the lookup would normally have cleared. Fields
// missing from the page are skipped.
func (o *Orchestrator) fillFallback(ctx context.Context, rec records.Record, category string) error {
	if category == "" {
		category = o.wf.DefaultCategory
	}
	for _, a := range fallbackValues(rec, category, o.wf.FallbackStatus) {
		sel := page.Field{ID: a.Field}.Selector()
		err := o.doc.SetValue(ctx, sel, a.Value, a.Events...)
		switch {
		case errors.Is(err, page.ErrNotFound):
			o.logger.Debug("Output field missing; skipped.", zap.String("field", a.Field))
		case err != nil:
			return fmt.Errorf("fill %s: %w", a.Field, err)
		}
	}
	for _, f := range page.OutputFields {
		err := o.doc.ClearRestrictions(ctx, f.Selector(), f.IsSelect)
		if err != nil && !errors.Is(err, page.ErrNotFound) {
			return fmt.Errorf("unrestrict %s: %w", f.ID, err)
		}
	}
	return nil
}
