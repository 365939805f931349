// Package page knows what the target site looks like: which addresses
// belong to the workflow, which output fields the claim form carries, and the
// operations the automation performs on a rendered page.
package page

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Document operations when no element matches.
var ErrNotFound = errors.New("page: element not found")

// Kind is the workflow state implied by the current address.
type Kind int

const (
	Unknown Kind = iota
	// EntryList lists existing entries; new entries are created from here.
	EntryList
	// EntryForm holds the fillable claim form.
	EntryForm
)

func (k Kind) String() string {
	switch k {
	case EntryList:
		return "entry-list"
	case EntryForm:
		return "entry-form"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	switch s {
	case "entry-list":
		return EntryList
	case "entry-form":
		return EntryForm
	default:
		return Unknown
	}
}

// Classifier maps an address to a Kind by substring markers.
type Classifier struct {
	FormMarker string
	ListMarker string
}

// Classify is pure and total. The form marker is tested first because the
// list address is not guaranteed to be disjoint from it.
func (c Classifier) Classify(address string) Kind {
	switch {
	case c.FormMarker != "" && strings.Contains(address, c.FormMarker):
		return EntryForm
	case c.ListMarker != "" && strings.Contains(address, c.ListMarker):
		return EntryList
	default:
		return Unknown
	}
}

// Document is the rendered target page. Selectors are CSS selectors; every
// element operation returns ErrNotFound when nothing matches.
type Document interface {
	// Location is the page's current address.
	Location(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	// Value is the form control's current value.
	Value(ctx context.Context, selector string) (string, error)
	// SetValue assigns the value and dispatches the given DOM events
	// (bubbling) in order.
	SetValue(ctx context.Context, selector, value string, events ...string) error
	// Text is the element's trimmed text content.
	Text(ctx context.Context, selector string) (string, error)
	// Markup is the element's inner HTML.
	Markup(ctx context.Context, selector string) (string, error)
	// Enable removes the disabled state.
	Enable(ctx context.Context, selector string) error
	// ClearRestrictions removes readonly and, for selects, the
	// "disable-click" class.
	ClearRestrictions(ctx context.Context, selector string, isSelect bool) error
	// FindByText returns a selector addressing the first element matching
	// selector whose text contains text.
	FindByText(ctx context.Context, selector, text string) (string, error)
	ScrollIntoView(ctx context.Context, selector string) error
	// Click performs the element's native activation.
	Click(ctx context.Context, selector string) error
	// DispatchClick fires a synthetic bubbling, cancelable click event.
	DispatchClick(ctx context.Context, selector string) error
	// DispatchSubmit fires a synthetic submit event at the closest form and
	// reports whether a listener cancelled it.
	DispatchSubmit(ctx context.Context, selector string) (cancelled bool, err error)
	// SubmitForm invokes native submission of the closest enclosing form.
	SubmitForm(ctx context.Context, selector string) error
}

// Field is one of the claim form's output fields.
type Field struct {
	ID       string
	IsSelect bool
}

// Selector addresses the field by id.
func (f Field) Selector() string { return "#" + f.ID }

// Output field ids.
const (
	FieldCategory         = "kategori"
	FieldApplicationYear  = "tahun_permohonan"
	FieldHolder           = "pemegang_paten"
	FieldInventor         = "inventor"
	FieldTitle            = "title"
	FieldStatus           = "status_ipr"
	FieldPublicationNo    = "no_publikasi"
	FieldPublicationDate  = "tgl_publikasi"
	FieldFilingDate       = "filling_date"
	FieldReceptionDate    = "reception_date"
	FieldRegistrationNo   = "no_registrasi"
	FieldRegistrationDate = "tgl_registrasi"
)

// OutputFields is the fixed set of fields populated by the site's lookup.
var OutputFields = []Field{
	{ID: FieldCategory, IsSelect: true},
	{ID: FieldApplicationYear},
	{ID: FieldHolder},
	{ID: FieldInventor},
	{ID: FieldTitle},
	{ID: FieldStatus},
	{ID: FieldPublicationNo},
	{ID: FieldPublicationDate},
	{ID: FieldFilingDate},
	{ID: FieldReceptionDate},
	{ID: FieldRegistrationNo},
	{ID: FieldRegistrationDate},
}

// IsEmptyValue reports whether a field value counts as not populated: blank
// after trimming, or the sentinel "0".
func IsEmptyValue(v string) bool {
	t := strings.TrimSpace(v)
	return t == "" || t == "0"
}

// CountEmpty returns how many output fields are missing or hold an empty
// value, and their ids.
func CountEmpty(ctx context.Context, doc Document) (int, []string, error) {
	var empty []string
	for _, f := range OutputFields {
		v, err := doc.Value(ctx, f.Selector())
		switch {
		case errors.Is(err, ErrNotFound):
			empty = append(empty, f.ID)
		case err != nil:
			return 0, nil, fmt.Errorf("read field %s: %w", f.ID, err)
		case IsEmptyValue(v):
			empty = append(empty, f.ID)
		}
	}
	return len(empty), empty, nil
}
