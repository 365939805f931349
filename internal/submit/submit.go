// Package submit finds and activates the claim form's submit control.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/timing"
	"go.uber.org/zap"
)

var (
	// ErrNotSubmitted means a control was found but every activation failed.
	ErrNotSubmitted = errors.New("submit: all activation methods failed")
	// ErrNoControl means no locator matched; only the bare form was submitted.
	ErrNoControl = errors.New("submit: submit control not found")
)

// Activation methods, in escalation order.
const (
	ActivationClick          = "click"
	ActivationDispatchClick  = "dispatch-click"
	ActivationFormSubmit     = "form-submit"
	ActivationDispatchSubmit = "dispatch-submit"
	ActivationNone           = "none"
)

// Locator is one strategy for finding the submit control.
type Locator struct {
	Name string
	// Find returns a selector for the control, or page.ErrNotFound.
	Find func(ctx context.Context, doc page.Document) (string, error)
}

// BySelector matches a fixed selector.
func BySelector(name, selector string) Locator {
	return Locator{
		Name: name,
		Find: func(ctx context.Context, doc page.Document) (string, error) {
			ok, err := doc.Exists(ctx, selector)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", page.ErrNotFound
			}
			return selector, nil
		},
	}
}

// ByText matches the first element of selector whose text contains one of
// labels, trying the labels in order. Empty labels are skipped.
func ByText(name, selector string, labels ...string) Locator {
	return Locator{
		Name: name,
		Find: func(ctx context.Context, doc page.Document) (string, error) {
			for _, label := range labels {
				if label == "" {
					continue
				}
				sel, err := doc.FindByText(ctx, selector, label)
				if !errors.Is(err, page.ErrNotFound) {
					return sel, err
				}
			}
			return "", page.ErrNotFound
		},
	}
}

// DefaultLocators are tried in order: the stable name attribute, the form's
// own submit button, any submit button carrying either label, then the fixed
// value attribute.
func DefaultLocators(cfg config.PageConfig) []Locator {
	return []Locator{
		BySelector("by-name", cfg.SubmitByName),
		BySelector("form-button", cfg.Form+" "+cfg.SubmitTypeOnly),
		ByText("by-label", cfg.SubmitTypeOnly, cfg.SubmitLabel, cfg.SubmitAltLabel),
		BySelector("by-value", cfg.SubmitByValue),
	}
}

// Result describes one commit attempt.
type Result struct {
	Strategy   string
	Selector   string
	Activation string
	// Attempted lists the activation methods that reached the page, in order.
	Attempted []string
	// Submitted is true only when a located control was activated by click,
	// synthetic click or native form submission.
	Submitted bool
}

// Committer activates the submit control.
type Committer struct {
	Doc             page.Document
	Locators        []Locator
	Form            string
	ActivationDelay time.Duration
	Sleep           timing.SleepFunc
	// Guard, when set, is consulted before every activation; an error aborts
	// the commit without touching the page.
	Guard func(ctx context.Context) error
	log   *zap.Logger
}

// NewCommitter builds a Committer from configuration.
func NewCommitter(doc page.Document, pageCfg config.PageConfig, activationDelay time.Duration, logger *zap.Logger) *Committer {
	return &Committer{
		Doc:             doc,
		Locators:        DefaultLocators(pageCfg),
		Form:            pageCfg.Form,
		ActivationDelay: activationDelay,
		Sleep:           timing.Sleep,
		log:             logger.Named("submit"),
	}
}

func (c *Committer) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Guard == nil {
		return nil
	}
	return c.Guard(ctx)
}

// Locate runs the locators in order and returns the first match.
func (c *Committer) Locate(ctx context.Context) (Locator, string, error) {
	for _, l := range c.Locators {
		sel, err := l.Find(ctx, c.Doc)
		switch {
		case err == nil:
			return l, sel, nil
		case errors.Is(err, page.ErrNotFound):
			c.log.Debug("Submit locator found nothing.", zap.String("strategy", l.Name))
		default:
			return Locator{}, "", fmt.Errorf("locator %s: %w", l.Name, err)
		}
	}
	return Locator{}, "", page.ErrNotFound
}

// Commit locates and activates the submit control. The returned error wraps
// ErrNotSubmitted or ErrNoControl when Result.Submitted is false for those
// reasons; context and Guard errors are returned as-is.
func (c *Committer) Commit(ctx context.Context) (Result, error) {
	loc, sel, err := c.Locate(ctx)
	if errors.Is(err, page.ErrNotFound) {
		return c.submitBareForm(ctx)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Strategy: loc.Name, Selector: sel, Activation: ActivationNone}
	c.log.Info("Submit control found.", zap.String("strategy", loc.Name), zap.String("selector", sel))

	if err := c.Doc.Enable(ctx, sel); err != nil {
		c.log.Debug("Could not enable submit control.", zap.Error(err))
	}
	if err := c.Doc.ScrollIntoView(ctx, sel); err != nil {
		c.log.Debug("Could not scroll submit control into view.", zap.Error(err))
	}
	if err := c.Sleep(ctx, c.ActivationDelay); err != nil {
		return res, err
	}

	attempts := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{ActivationClick, c.Doc.Click},
		{ActivationDispatchClick, c.Doc.DispatchClick},
		{ActivationFormSubmit, c.Doc.SubmitForm},
	}
	var errs []error
	for _, a := range attempts {
		if err := c.guard(ctx); err != nil {
			c.log.Info("Submit aborted before activation.", zap.String("method", a.name), zap.Error(err))
			return res, err
		}
		res.Attempted = append(res.Attempted, a.name)
		if err := a.fn(ctx, sel); err != nil {
			c.log.Warn("Submit activation failed, escalating.", zap.String("method", a.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
			continue
		}
		res.Activation = a.name
		res.Submitted = true
		c.log.Info("Form submitted.", zap.String("strategy", loc.Name), zap.String("activation", a.name))
		return res, nil
	}

	c.log.Error("Every submit activation failed; the queue will not advance.", zap.String("strategy", loc.Name))
	return res, fmt.Errorf("%w: %w", ErrNotSubmitted, errors.Join(errs...))
}

// submitBareForm is the last resort when no submit control was located: a
// synthetic submit event, then native submission unless a listener cancelled
// it. The form may still post, but without the control's name/value the
// claim is not considered submitted.
func (c *Committer) submitBareForm(ctx context.Context) (Result, error) {
	res := Result{Strategy: "form-only", Selector: c.Form, Activation: ActivationNone}
	c.log.Warn("Submit control not found; submitting the form directly.")

	if err := c.guard(ctx); err != nil {
		return res, err
	}
	res.Attempted = append(res.Attempted, ActivationDispatchSubmit)
	cancelled, err := c.Doc.DispatchSubmit(ctx, c.Form)
	if err != nil {
		c.log.Error("Form not found either.", zap.Error(err))
		return res, fmt.Errorf("%w: %w", ErrNoControl, err)
	}
	res.Activation = ActivationDispatchSubmit
	if !cancelled {
		if err := c.guard(ctx); err != nil {
			return res, err
		}
		res.Attempted = append(res.Attempted, ActivationFormSubmit)
		if err := c.Doc.SubmitForm(ctx, c.Form); err != nil {
			c.log.Warn("Native form submission failed.", zap.Error(err))
		} else {
			res.Activation = ActivationFormSubmit
		}
	}
	return res, ErrNoControl
}
