// Package pagetest provides an in-memory page.Document for tests.
package pagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/claimpilot/internal/page"
)

// Element is a fake DOM element.
type Element struct {
	Value    string
	Text     string
	HTML     string
	Disabled bool
	ReadOnly bool
	Classes  []string
	// InForm reports whether the element has an enclosing form.
	InForm bool
	// SubmitCancelled makes DispatchSubmit report a cancelled event.
	SubmitCancelled bool

	ClickErr         error
	DispatchClickErr error
	SubmitErr        error
}

// HasClass reports whether the class list contains c.
func (e *Element) HasClass(c string) bool {
	for _, x := range e.Classes {
		if x == c {
			return true
		}
	}
	return false
}

// Document is a scriptable page.Document. Elements are keyed by the exact
// selector the code under test uses.
type Document struct {
	mu         sync.Mutex
	url        string
	elements   map[string]*Element
	candidates map[string][]string
	actions    []string
	onClick    map[string]func(*Document)
	onValue    map[string]func(*Document)

	// LocationErr, when set, is returned by Location.
	LocationErr error
}

var _ page.Document = (*Document)(nil)

// New returns a document at url.
func New(url string) *Document {
	return &Document{
		url:        url,
		elements:   make(map[string]*Element),
		candidates: make(map[string][]string),
		onClick:    make(map[string]func(*Document)),
		onValue:    make(map[string]func(*Document)),
	}
}

// Put adds or replaces an element.
func (d *Document) Put(selector string, el *Element) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[selector] = el
	return d
}

// Delete removes an element.
func (d *Document) Delete(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, selector)
}

// Element returns a copy of the element, or nil.
func (d *Document) Element(selector string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.elements[selector]
	if !ok {
		return nil
	}
	cp := *el
	cp.Classes = append([]string(nil), el.Classes...)
	return &cp
}

// Update mutates an element in place under the document lock.
func (d *Document) Update(selector string, fn func(*Element)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[selector]; ok {
		fn(el)
	}
}

// Candidates registers the element keys, in document order, that a group
// selector matches for FindByText.
func (d *Document) Candidates(selector string, keys ...string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidates[selector] = keys
	return d
}

// OnClick runs fn after a successful native click on selector.
func (d *Document) OnClick(selector string, fn func(*Document)) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClick[selector] = fn
	return d
}

// OnValue runs fn before every Value read of selector.
func (d *Document) OnValue(selector string, fn func(*Document)) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onValue[selector] = fn
	return d
}

// Navigate changes the address.
func (d *Document) Navigate(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Actions returns the log of mutating operations, e.g. "set #title=T1".
func (d *Document) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.actions...)
}

// HasAction reports whether an action with the given prefix was logged.
func (d *Document) HasAction(prefix string) bool {
	for _, a := range d.Actions() {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

func (d *Document) record(format string, args ...interface{}) {
	d.actions = append(d.actions, fmt.Sprintf(format, args...))
}

func (d *Document) lookup(selector string) (*Element, error) {
	el, ok := d.elements[selector]
	if !ok {
		return nil, fmt.Errorf("%s: %w", selector, page.ErrNotFound)
	}
	return el, nil
}

func (d *Document) Location(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LocationErr != nil {
		return "", d.LocationErr
	}
	return d.url, nil
}

func (d *Document) Exists(_ context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.elements[selector]
	return ok, nil
}

func (d *Document) Value(_ context.Context, selector string) (string, error) {
	d.mu.Lock()
	hook := d.onValue[selector]
	d.mu.Unlock()
	if hook != nil {
		hook(d)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (d *Document) SetValue(_ context.Context, selector, value string, events ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return err
	}
	el.Value = value
	d.record("set %s=%s", selector, value)
	for _, ev := range events {
		d.record("event %s %s", ev, selector)
	}
	return nil
}

func (d *Document) Text(_ context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(el.Text), nil
}

func (d *Document) Markup(_ context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return "", err
	}
	if el.HTML == "" {
		return el.Text, nil
	}
	return el.HTML, nil
}

func (d *Document) Enable(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return err
	}
	el.Disabled = false
	d.record("enable %s", selector)
	return nil
}

func (d *Document) ClearRestrictions(_ context.Context, selector string, isSelect bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return err
	}
	el.ReadOnly = false
	if isSelect {
		kept := el.Classes[:0]
		for _, c := range el.Classes {
			if c != "disable-click" {
				kept = append(kept, c)
			}
		}
		el.Classes = kept
	}
	d.record("unrestrict %s", selector)
	return nil
}

func (d *Document) FindByText(_ context.Context, selector, text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range d.candidates[selector] {
		if el, ok := d.elements[key]; ok && strings.Contains(el.Text, text) {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s containing %q: %w", selector, text, page.ErrNotFound)
}

func (d *Document) ScrollIntoView(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.lookup(selector); err != nil {
		return err
	}
	d.record("scroll %s", selector)
	return nil
}

func (d *Document) Click(_ context.Context, selector string) error {
	d.mu.Lock()
	el, err := d.lookup(selector)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if el.ClickErr != nil {
		d.mu.Unlock()
		return el.ClickErr
	}
	d.record("click %s", selector)
	hook := d.onClick[selector]
	d.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return nil
}

func (d *Document) DispatchClick(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return err
	}
	if el.DispatchClickErr != nil {
		return el.DispatchClickErr
	}
	d.record("dispatch-click %s", selector)
	return nil
}

func (d *Document) DispatchSubmit(_ context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return false, err
	}
	d.record("dispatch-submit %s", selector)
	return el.SubmitCancelled, nil
}

func (d *Document) SubmitForm(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.lookup(selector)
	if err != nil {
		return err
	}
	if !el.InForm {
		return fmt.Errorf("%s has no enclosing form: %w", selector, page.ErrNotFound)
	}
	if el.SubmitErr != nil {
		return el.SubmitErr
	}
	d.record("submit %s", selector)
	return nil
}
