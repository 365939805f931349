// Package navmonitor watches the tab's address and re-enters the workflow
// after every navigation.
package navmonitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/timing"
)

// Locator reads the current address.
type Locator interface {
	Location(ctx context.Context) (string, error)
}

// Stepper is the workflow entry point. Reset is called on every address
// change, before the settle delay starts.
type Stepper interface {
	Step(ctx context.Context) error
	Reset()
}

// Latch arms the fill latch when the entry form is loaded.
type Latch interface {
	SetShouldFill(ctx context.Context, v bool) error
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithHistory makes the monitor re-check immediately whenever a value
// arrives on ch, e.g. on same-document history navigation.
func WithHistory(ch <-chan struct{}) Option {
	return func(m *Monitor) { m.history = ch }
}

// WithSleep replaces the settle pause.
func WithSleep(fn timing.SleepFunc) Option {
	return func(m *Monitor) { m.sleep = fn }
}

// Monitor polls the address and schedules a step after each change.
type Monitor struct {
	loc        Locator
	stepper    Stepper
	latch      Latch
	classifier page.Classifier
	interval   time.Duration
	settle     time.Duration
	history    <-chan struct{}
	sleep      timing.SleepFunc
	logger     *zap.Logger

	last          string
	cancelPending context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a Monitor polling every interval and stepping settle after a
// change.
func New(loc Locator, stepper Stepper, latch Latch, classifier page.Classifier, interval, settle time.Duration, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		loc:        loc,
		stepper:    stepper,
		latch:      latch,
		classifier: classifier,
		interval:   interval,
		settle:     settle,
		sleep:      timing.Sleep,
		logger:     logger.Named("navmonitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks until ctx is cancelled. Scheduled steps are cancelled with ctx
// and joined before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	if loc, err := m.loc.Location(ctx); err == nil {
		m.last = loc
	}
	m.logger.Info("Navigation monitor started.", zap.String("address", m.last), zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.logger.Info("Navigation monitor stopped.")
			return nil
		case <-ticker.C:
			m.check(ctx)
		case _, ok := <-m.history:
			if !ok {
				m.history = nil
				continue
			}
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	loc, err := m.loc.Location(ctx)
	if err != nil {
		m.logger.Debug("Could not read address.", zap.Error(err))
		return
	}
	if loc == m.last {
		return
	}
	m.logger.Info("Address changed.", zap.String("from", m.last), zap.String("to", loc))
	m.last = loc
	m.stepper.Reset()

	if m.classifier.Classify(loc) == page.EntryForm {
		if err := m.latch.SetShouldFill(ctx, true); err != nil {
			m.logger.Warn("Could not arm the fill latch.", zap.Error(err))
		}
	}
	m.schedule(ctx)
}

// schedule runs a step after the settle delay. A newer navigation supersedes
// a step that has not started yet.
func (m *Monitor) schedule(ctx context.Context) {
	if m.cancelPending != nil {
		m.cancelPending()
	}
	timerCtx, cancel := context.WithCancel(ctx)
	m.cancelPending = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		if err := m.sleep(timerCtx, m.settle); err != nil {
			return
		}
		if err := m.stepper.Step(ctx); err != nil {
			m.logger.Warn("Step after navigation failed.", zap.Error(err))
		}
	}()
}
