// File: internal/orchestrator/orchestrator.go
// Description: Drives one record at a time from the entry list, through the
// entry form's lookup, to submission. Every entry point re-derives its state
// from a fresh store read, so a restart on any page picks up where the queue
// says the run is.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/poller"
	"github.com/xkilldash9x/claimpilot/internal/records"
	"github.com/xkilldash9x/claimpilot/internal/submit"
	"github.com/xkilldash9x/claimpilot/internal/timing"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

var (
	// ErrBusy is returned by FillRecord when a step already holds the marker.
	ErrBusy = errors.New("orchestrator: a step is already in progress")
	// ErrPageNotReady means the entry form never showed its primary field.
	ErrPageNotReady = errors.New("orchestrator: entry form did not become ready")

	errNotReady = errors.New("primary field not present yet")
)

// Notifier tells the operator about events that need attention.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the pause used between steps, including the committer's.
func WithSleep(fn timing.SleepFunc) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
		o.committer.Sleep = fn
	}
}

// Orchestrator runs the fill-and-submit workflow against one page.
type Orchestrator struct {
	doc        page.Document
	state      *workstore.State
	classifier page.Classifier
	committer  *submit.Committer
	pageCfg    config.PageConfig
	wf         config.WorkflowConfig
	notifier   Notifier
	logger     *zap.Logger
	sleep      timing.SleepFunc

	// marker holds the token of the step that owns the page, 0 when free.
	marker atomic.Uint64
	tokens atomic.Uint64
	// fenced is set once the current page has been submitted.
	fenced     atomic.Bool
	readyTries atomic.Int32

	mu        sync.Mutex
	interrupt context.CancelFunc
	wg        sync.WaitGroup
}

// New wires an orchestrator. notifier may be nil.
func New(
	doc page.Document,
	state *workstore.State,
	pageCfg config.PageConfig,
	wf config.WorkflowConfig,
	notifier Notifier,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		doc:        doc,
		state:      state,
		classifier: page.Classifier{FormMarker: pageCfg.FormMarker, ListMarker: pageCfg.ListMarker},
		committer:  submit.NewCommitter(doc, pageCfg, wf.ActivationDelay, logger),
		pageCfg:    pageCfg,
		wf:         wf,
		notifier:   notifier,
		logger:     logger.Named("orchestrator"),
		sleep:      timing.Sleep,
	}
	o.committer.Guard = o.ensureRunning
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Step is the single entry point used on load, after navigation and by
// retries. It returns immediately when another step holds the marker. A stop
// or an interruption is not an error.
func (o *Orchestrator) Step(ctx context.Context) error {
	token, ok := o.acquire()
	if !ok {
		o.logger.Debug("Step skipped; another step is in progress.")
		return nil
	}
	stepCtx, done := o.track(ctx)
	err := o.step(stepCtx)
	done()
	o.release(token)

	if errors.Is(err, errNotReady) {
		o.retryLater(ctx, o.wf.ReadyBackoff)
		return nil
	}
	return o.settle(ctx, err)
}

// FillRecord fills and submits rec, which sits at index in the queue. It is
// the message-driven counterpart of Step for a page already on the form.
func (o *Orchestrator) FillRecord(ctx context.Context, rec records.Record, index int) error {
	token, ok := o.acquire()
	if !ok {
		return ErrBusy
	}
	defer o.release(token)
	stepCtx, done := o.track(ctx)
	defer done()

	snap, err := o.state.Load(stepCtx)
	if err != nil {
		return err
	}
	if !snap.Running {
		o.logger.Info("Fill requested while no run is active; ignoring.", zap.String("code", rec.Code))
		return nil
	}
	if err := o.state.SetShouldFill(stepCtx, false); err != nil {
		return err
	}
	err = o.fill(stepCtx, rec, index, snap.SelectedCategory)
	if latchRestoring(err) {
		o.restoreLatch(stepCtx)
	}
	return o.settle(ctx, err)
}

// OpenNewEntry clicks the control that opens a blank entry form.
func (o *Orchestrator) OpenNewEntry(ctx context.Context) error {
	sel, err := o.findAddEntry(ctx)
	if err != nil {
		o.logger.Warn("Add-entry control not found.", zap.Error(err))
		return err
	}
	o.logger.Info("Opening a new entry.", zap.String("selector", sel))
	if err := o.sleep(ctx, o.wf.AddEntryDelay); err != nil {
		return err
	}
	if err := o.doc.Click(ctx, sel); err != nil {
		return fmt.Errorf("click add-entry control: %w", err)
	}
	return nil
}

// Classify reports the kind of the page currently loaded.
func (o *Orchestrator) Classify(ctx context.Context) (page.Kind, error) {
	loc, err := o.doc.Location(ctx)
	if err != nil {
		return page.Unknown, fmt.Errorf("read location: %w", err)
	}
	return o.classifier.Classify(loc), nil
}

// Reset is called when the page navigates: the in-flight step is
// interrupted, the marker is released and the submission fence lifted.
func (o *Orchestrator) Reset() {
	o.Interrupt()
	o.marker.Store(0)
	o.fenced.Store(false)
	o.readyTries.Store(0)
}

// Interrupt cancels the in-flight step, if any.
func (o *Orchestrator) Interrupt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.interrupt != nil {
		o.interrupt()
	}
}

// Fenced reports whether the current page was already submitted.
func (o *Orchestrator) Fenced() bool { return o.fenced.Load() }

// Wait blocks until scheduled retries have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) acquire() (uint64, bool) {
	token := o.tokens.Add(1)
	return token, o.marker.CompareAndSwap(0, token)
}

// release frees the marker only if it still belongs to token; a Reset may
// already have handed it to a newer step.
func (o *Orchestrator) release(token uint64) {
	o.marker.CompareAndSwap(token, 0)
}

func (o *Orchestrator) track(ctx context.Context) (context.Context, func()) {
	child, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.interrupt = cancel
	o.mu.Unlock()
	return child, func() {
		o.mu.Lock()
		o.interrupt = nil
		o.mu.Unlock()
		cancel()
	}
}

func (o *Orchestrator) settle(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, workstore.ErrStopped):
		o.logger.Info("Run stopped; abandoning the current step.")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.Canceled):
		o.logger.Info("Step interrupted.")
		return nil
	default:
		o.logger.Error("Step failed.", zap.Error(err))
		return err
	}
}

func (o *Orchestrator) step(ctx context.Context) error {
	snap, err := o.state.Load(ctx)
	if err != nil {
		return err
	}
	kind, err := o.Classify(ctx)
	if err != nil {
		return err
	}
	st := Derive(kind, snap, o.fenced.Load())
	o.logger.Debug("State derived.",
		zap.Stringer("state", st),
		zap.Stringer("page", kind),
		zap.Int("remaining", len(snap.Queue)))

	switch st {
	case QueueEmpty:
		return o.finish(ctx)
	case AwaitingListPage:
		return o.onListPage(ctx, snap)
	case AwaitingFormReady:
		return o.onFormPage(ctx)
	default:
		return nil
	}
}

func (o *Orchestrator) finish(ctx context.Context) error {
	if err := o.state.Halt(ctx); err != nil {
		return err
	}
	if err := o.state.SetShouldFill(ctx, true); err != nil {
		return err
	}
	o.logger.Info("All records processed; run complete.")
	o.alert(ctx, "Run complete", "All entries have been processed.")
	return nil
}

func (o *Orchestrator) onListPage(ctx context.Context, snap workstore.Snapshot) error {
	if snap.Pending != nil {
		reconciled, err := o.reconcile(ctx, snap)
		if err != nil {
			return err
		}
		if reconciled {
			if snap, err = o.state.Load(ctx); err != nil {
				return err
			}
			if len(snap.Queue) == 0 {
				return o.finish(ctx)
			}
		}
	}
	if err := o.sleep(ctx, o.wf.ListPageDelay); err != nil {
		return err
	}
	if err := o.ensureRunning(ctx); err != nil {
		return err
	}
	return o.OpenNewEntry(ctx)
}

// reconcile resolves a pending-submission hint left by an interrupted step.
// Landing back on the list with the hinted record still queued means the
// site accepted the claim, so the record is advanced rather than refilled.
func (o *Orchestrator) reconcile(ctx context.Context, snap workstore.Snapshot) (bool, error) {
	p := snap.Pending
	if p.Index < 0 || p.Index >= len(snap.Queue) || snap.Queue[p.Index].Code != p.Code {
		o.logger.Info("Discarding stale pending submission.", zap.String("code", p.Code))
		return false, o.state.ClearSubmitting(ctx)
	}
	remaining, err := o.state.Advance(ctx, snap.Queue[p.Index], p.Index, workstore.Submission{Reconciled: true})
	if err != nil {
		return false, err
	}
	o.logger.Info("Reconciled a submission that was not recorded.",
		zap.String("code", p.Code),
		zap.Int("remaining", remaining))
	return true, nil
}

func (o *Orchestrator) onFormPage(ctx context.Context) error {
	if err := o.sleep(ctx, o.wf.FormSettleDelay); err != nil {
		return err
	}
	if err := o.ensureRunning(ctx); err != nil {
		return err
	}

	ready, err := o.doc.Exists(ctx, o.pageCfg.PrimaryField)
	if err != nil {
		return fmt.Errorf("probe primary field: %w", err)
	}
	if !ready {
		tries := o.readyTries.Add(1)
		if int(tries) >= o.wf.ReadyAttempts {
			o.readyTries.Store(0)
			o.alert(ctx, "Entry form not ready",
				fmt.Sprintf("The primary field %s did not appear after %d attempts.", o.pageCfg.PrimaryField, tries))
			return ErrPageNotReady
		}
		o.logger.Info("Primary field not present yet; will retry.", zap.Int32("attempt", tries))
		return errNotReady
	}
	o.readyTries.Store(0)

	// The run may have moved on during the settle delay.
	snap, err := o.state.Load(ctx)
	if err != nil {
		return err
	}
	if !snap.Running {
		return workstore.ErrStopped
	}
	if !snap.ShouldFillForm {
		o.logger.Debug("Fill latch already claimed.")
		return nil
	}
	head, ok := snap.Head()
	if !ok {
		return o.finish(ctx)
	}

	if err := o.state.SetShouldFill(ctx, false); err != nil {
		return err
	}
	if err := o.sleep(ctx, o.wf.PrefillDelay); err != nil {
		o.restoreLatch(ctx)
		return err
	}
	if err := o.ensureRunning(ctx); err != nil {
		o.restoreLatch(ctx)
		return err
	}

	err = o.fill(ctx, head, 0, snap.SelectedCategory)
	if latchRestoring(err) {
		o.restoreLatch(ctx)
	}
	return err
}

// latchRestoring reports whether a failed fill should re-arm the latch. Stops,
// interruptions and submit outcomes leave it alone.
func latchRestoring(err error) bool {
	if err == nil {
		return false
	}
	for _, keep := range []error{workstore.ErrStopped, context.Canceled, submit.ErrNotSubmitted, submit.ErrNoControl} {
		if errors.Is(err, keep) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) restoreLatch(ctx context.Context) {
	if err := o.state.SetShouldFill(context.WithoutCancel(ctx), true); err != nil {
		o.logger.Warn("Could not re-arm the fill latch.", zap.Error(err))
	}
}

func (o *Orchestrator) ensureRunning(ctx context.Context) error {
	running, err := o.state.Running(ctx)
	if err != nil {
		return err
	}
	if !running {
		return workstore.ErrStopped
	}
	return nil
}

func (o *Orchestrator) fill(ctx context.Context, rec records.Record, index int, category string) error {
	if err := o.ensureRunning(ctx); err != nil {
		return err
	}
	o.logger.Info("Filling record.", zap.String("code", rec.Code), zap.Int("index", index))

	if err := o.doc.SetValue(ctx, o.pageCfg.PrimaryField, rec.Code, "input", "change"); err != nil {
		return fmt.Errorf("fill primary field: %w", err)
	}
	if err := o.sleep(ctx, o.wf.FieldSettle); err != nil {
		return err
	}
	if err := o.ensureRunning(ctx); err != nil {
		return err
	}
	if err := o.triggerCheck(ctx); err != nil {
		return err
	}

	outcome, err := poller.Await(ctx, o.wf.CheckAttempts, o.wf.CheckInterval, o.checkProbe())
	if err != nil {
		return err
	}
	settle := o.wf.CompletionSettle
	if outcome != poller.Done {
		o.logger.Warn("Lookup completion was not observed; continuing.", zap.Stringer("outcome", outcome))
		settle = o.wf.TimeoutSettle
	}
	if err := o.sleep(ctx, settle); err != nil {
		return err
	}
	if err := o.ensureRunning(ctx); err != nil {
		return err
	}

	n, empty, err := page.CountEmpty(ctx, o.doc)
	if err != nil {
		return err
	}
	fallback := n > o.wf.EmptyFieldThreshold
	if fallback {
		o.logger.Info("Lookup left most fields empty; filling from the record.",
			zap.Int("empty", n), zap.Strings("fields", empty))
		if err := o.ensureRunning(ctx); err != nil {
			return err
		}
		if err := o.fillFallback(ctx, rec, category); err != nil {
			return err
		}
		err = o.sleep(ctx, o.wf.FallbackSettle)
	} else {
		o.logger.Debug("Lookup populated the form.", zap.Int("empty", n))
		err = o.sleep(ctx, o.wf.SubmitDelay)
	}
	if err != nil {
		return err
	}
	if err := o.ensureRunning(ctx); err != nil {
		return err
	}
	return o.commit(ctx, rec, index, fallback)
}

func (o *Orchestrator) triggerCheck(ctx context.Context) error {
	sel := o.pageCfg.CheckButton
	ok, err := o.doc.Exists(ctx, sel)
	if err != nil {
		return fmt.Errorf("probe check control: %w", err)
	}
	if !ok {
		return fmt.Errorf("check control %s: %w", sel, page.ErrNotFound)
	}
	if err := o.doc.Enable(ctx, sel); err != nil {
		o.logger.Debug("Could not enable check control.", zap.Error(err))
	}
	if err := o.doc.Click(ctx, sel); err != nil {
		return fmt.Errorf("click check control: %w", err)
	}
	return nil
}

// checkProbe wraps the lookup probe with a stop check on every attempt.
func (o *Orchestrator) checkProbe() poller.Probe {
	p := poller.CheckProbe{
		Doc:       o.doc,
		Trigger:   o.pageCfg.CheckButton,
		IdleLabel: o.pageCfg.CheckIdleLabel,
		BusyLabel: o.pageCfg.CheckBusyLabel,
		DataField: o.pageCfg.DataField,
		Grace:     o.wf.DataSignalGrace,
	}
	return func(ctx context.Context, attempt int) (poller.Outcome, error) {
		if err := o.ensureRunning(ctx); err != nil {
			return poller.Pending, err
		}
		return p.Probe(ctx, attempt)
	}
}

func (o *Orchestrator) commit(ctx context.Context, rec records.Record, index int, fallback bool) error {
	if err := o.state.MarkSubmitting(ctx, rec.Code, index); err != nil {
		return err
	}
	res, err := o.committer.Commit(ctx)
	if !res.Submitted {
		switch {
		case errors.Is(err, submit.ErrNotSubmitted), errors.Is(err, submit.ErrNoControl):
			// The outcome is known, so the hint would only mislead a restart.
			o.clearPending(ctx)
			o.alert(ctx, "Submission not confirmed",
				fmt.Sprintf("Record %s was not submitted; the queue was not advanced: %v", rec.Code, err))
		case len(res.Attempted) == 0 && (errors.Is(err, workstore.ErrStopped) || errors.Is(err, context.Canceled)):
			// Nothing reached the page, so there is no submission to reconcile.
			o.logger.Info("Run stopped before submission.", zap.String("code", rec.Code))
			o.clearPending(ctx)
		}
		return err
	}

	o.fenced.Store(true)
	sub := workstore.Submission{Strategy: res.Strategy, Activation: res.Activation, Fallback: fallback}
	// The claim is already on its way; record it even if the step is cancelled.
	remaining, err := o.state.Advance(context.WithoutCancel(ctx), rec, index, sub)
	switch {
	case errors.Is(err, workstore.ErrHeadMoved):
		o.logger.Warn("Queue changed during submission; not advancing.", zap.String("code", rec.Code))
		o.clearPending(ctx)
		return nil
	case err != nil:
		return err
	}
	if remaining == 0 {
		o.logger.Info("Last record submitted.", zap.String("code", rec.Code))
	}
	return nil
}

func (o *Orchestrator) clearPending(ctx context.Context) {
	if err := o.state.ClearSubmitting(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("Could not clear pending submission.", zap.Error(err))
	}
}

func (o *Orchestrator) findAddEntry(ctx context.Context) (string, error) {
	ok, err := o.doc.Exists(ctx, o.pageCfg.AddEntryLink)
	if err != nil {
		return "", err
	}
	if ok {
		return o.pageCfg.AddEntryLink, nil
	}
	for _, label := range labelVariants(o.pageCfg.AddEntryLabel) {
		sel, err := o.doc.FindByText(ctx, o.pageCfg.AddEntryCandidate, label)
		switch {
		case err == nil:
			return sel, nil
		case !errors.Is(err, page.ErrNotFound):
			return "", err
		}
	}
	return "", fmt.Errorf("add-entry control: %w", page.ErrNotFound)
}

// labelVariants returns label and, if different, label with a lowercase
// first letter.
func labelVariants(label string) []string {
	if label == "" {
		return nil
	}
	lower := strings.ToLower(label[:1]) + label[1:]
	if lower == label {
		return []string{label}
	}
	return []string{label, lower}
}

func (o *Orchestrator) alert(ctx context.Context, title, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(context.WithoutCancel(ctx), title, message); err != nil {
		o.logger.Warn("Could not notify operator.", zap.String("title", title), zap.Error(err))
	}
}

func (o *Orchestrator) retryLater(ctx context.Context, delay time.Duration) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sleep(ctx, delay); err != nil {
			return
		}
		if err := o.Step(ctx); err != nil {
			o.logger.Warn("Retried step failed.", zap.Error(err))
		}
	}()
}
