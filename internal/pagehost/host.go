// Package pagehost runs the page agent: the process that owns the browser
// tab, drives the form orchestrator and answers the control surface over the
// messaging channel.
package pagehost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/claimpilot/internal/channel"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/navmonitor"
	"github.com/xkilldash9x/claimpilot/internal/orchestrator"
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/records"
	"github.com/xkilldash9x/claimpilot/internal/timing"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

// ErrAlreadyRunning is returned when another agent holds the lock.
var ErrAlreadyRunning = errors.New("another page agent is already running")

// Tab is the browser tab the agent drives.
type Tab interface {
	page.Document
	History() <-chan struct{}
	Close()
}

// OpenTabFunc opens the tab once the agent holds its lock.
type OpenTabFunc func(ctx context.Context) (Tab, error)

// Option customizes a Host.
type Option func(*Host)

// WithSleep replaces every workflow pause.
func WithSleep(fn timing.SleepFunc) Option {
	return func(h *Host) { h.sleep = fn }
}

// Host owns one agent lifecycle.
type Host struct {
	cfg      config.Interface
	state    *workstore.State
	openTab  OpenTabFunc
	notifier orchestrator.Notifier
	logger   *zap.Logger
	sleep    timing.SleepFunc
	lock     *flock.Flock
}

// New builds a Host.
func New(cfg config.Interface, state *workstore.State, openTab OpenTabFunc, notifier orchestrator.Notifier, logger *zap.Logger, opts ...Option) *Host {
	h := &Host{
		cfg:      cfg,
		state:    state,
		openTab:  openTab,
		notifier: notifier,
		logger:   logger.Named("pagehost"),
		sleep:    timing.Sleep,
		lock:     flock.New(cfg.Control().LockPath),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run holds the agent lock, opens the tab and serves until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	lockPath := h.cfg.Control().LockPath
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := h.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := h.lock.Unlock(); err != nil {
			h.logger.Warn("Failed to release agent lock.", zap.Error(err))
		}
	}()

	tab, err := h.openTab(ctx)
	if err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	defer tab.Close()

	pageCfg := h.cfg.Page()
	wf := h.cfg.Workflow()
	orch := orchestrator.New(tab, h.state, pageCfg, wf, h.notifier, h.logger, orchestrator.WithSleep(h.sleep))
	mon := navmonitor.New(tab, orch, h.state,
		page.Classifier{FormMarker: pageCfg.FormMarker, ListMarker: pageCfg.ListMarker},
		wf.PollInterval, wf.SettleDelay, h.logger,
		navmonitor.WithHistory(tab.History()),
		navmonitor.WithSleep(h.sleep),
	)

	srv, err := channel.NewServer(ctx, h.cfg.Control().SocketPath, &agent{orch: orch, state: h.state, logger: h.logger}, h.logger)
	if err != nil {
		return err
	}
	srv.Serve()
	h.logger.Info("Page agent ready.", zap.String("lock", lockPath))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return h.watchStop(gctx, orch) })
	g.Go(func() error {
		if err := orch.Step(gctx); err != nil {
			h.logger.Warn("Initial step failed.", zap.Error(err))
		}
		return nil
	})
	err = g.Wait()

	srv.Close()
	orch.Interrupt()
	orch.Wait()
	h.logger.Info("Page agent stopped.")
	return err
}

// watchStop interrupts the step in flight whenever the run is halted through
// the store, which covers surfaces that never reach the channel.
func (h *Host) watchStop(ctx context.Context, orch *orchestrator.Orchestrator) error {
	changes, err := h.state.Store().Subscribe(ctx)
	if err != nil {
		h.logger.Warn("Store changes unavailable; stops take effect at the next check.", zap.Error(err))
		return nil
	}
	for ch := range changes {
		if ch.Key != workstore.KeyRunning || string(ch.NewValue) == "true" {
			continue
		}
		h.logger.Info("Run halted; interrupting the current step.")
		orch.Interrupt()
	}
	return nil
}

// agent answers channel requests with the orchestrator.
type agent struct {
	orch   *orchestrator.Orchestrator
	state  *workstore.State
	logger *zap.Logger
}

var _ channel.Handler = (*agent)(nil)

func (a *agent) FillForm(ctx context.Context, rec records.Record, index int) error {
	return a.orch.FillRecord(ctx, rec, index)
}

func (a *agent) ClickAddEntry(ctx context.Context) error {
	return a.orch.OpenNewEntry(ctx)
}

func (a *agent) CheckPage(ctx context.Context) (page.Kind, error) {
	return a.orch.Classify(ctx)
}

// Stop halts the run and abandons the step in flight.
func (a *agent) Stop(ctx context.Context) error {
	if err := a.state.Halt(ctx); err != nil {
		return err
	}
	a.orch.Interrupt()
	a.logger.Info("Stop received.")
	return nil
}
