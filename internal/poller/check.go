package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/claimpilot/internal/page"
	"golang.org/x/net/html"
)

// CheckProbe watches the site's lookup trigger. It reports Done when the
// trigger is gone, or shows its idle label with no spinner and no busy label.
// Independently, a populated data field counts as Done once more than Grace
// attempts have passed, since the trigger's own feedback is unreliable.
type CheckProbe struct {
	Doc       page.Document
	Trigger   string
	IdleLabel string
	BusyLabel string
	DataField string
	Grace     int
}

// Probe implements the Probe signature.
func (p CheckProbe) Probe(ctx context.Context, attempt int) (Outcome, error) {
	present, err := p.Doc.Exists(ctx, p.Trigger)
	if err != nil {
		return Pending, fmt.Errorf("probe trigger: %w", err)
	}
	if !present {
		return Done, nil
	}

	text, err := p.Doc.Text(ctx, p.Trigger)
	if err != nil && !errors.Is(err, page.ErrNotFound) {
		return Pending, fmt.Errorf("read trigger label: %w", err)
	}
	markup, err := p.Doc.Markup(ctx, p.Trigger)
	if err != nil && !errors.Is(err, page.ErrNotFound) {
		return Pending, fmt.Errorf("read trigger markup: %w", err)
	}

	busy := HasSpinner(markup) || (p.BusyLabel != "" && strings.Contains(text, p.BusyLabel))
	if !busy && text == p.IdleLabel {
		return Done, nil
	}

	if attempt > p.Grace && p.DataField != "" {
		v, err := p.Doc.Value(ctx, p.DataField)
		switch {
		case errors.Is(err, page.ErrNotFound):
		case err != nil:
			return Pending, fmt.Errorf("read data field: %w", err)
		case strings.TrimSpace(v) != "":
			return Done, nil
		}
	}
	return Pending, nil
}

// HasSpinner reports whether markup contains a loading indicator element:
// any element whose class mentions "spinner".
func HasSpinner(markup string) bool {
	if !strings.Contains(markup, "spinner") {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "class" && strings.Contains(string(val), "spinner") {
					return true
				}
			}
		}
	}
}
