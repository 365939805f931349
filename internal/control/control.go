// Package control is the operator's side of a claim run: it loads record
// files, starts and stops runs and reports progress. It talks to the page
// agent through the messaging channel and starts one when none answers.
package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/channel"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/records"
	"github.com/xkilldash9x/claimpilot/internal/timing"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

var (
	ErrEmptyQueue = errors.New("no records loaded")
	ErrNoCategory = errors.New("no category selected")
	// ErrAgentUnavailable means the page agent never answered a ping.
	ErrAgentUnavailable = errors.New("page agent is not reachable")
	// ErrUnrecognisedPage means the tab is on neither the list nor the form.
	ErrUnrecognisedPage = errors.New("the browser tab is not on the entry list or entry form")
)

const pingTimeout = 2 * time.Second

// Agent is the subset of the channel client the surface uses.
type Agent interface {
	Ping(ctx context.Context) error
	FillForm(ctx context.Context, rec records.Record, index int) error
	ClickAddEntry(ctx context.Context) error
	CheckPage(ctx context.Context) (page.Kind, error)
	Stop(ctx context.Context) error
	Close() error
}

// DialFunc connects to the agent socket.
type DialFunc func(ctx context.Context, path string) (Agent, error)

// Injector makes a page agent available when none answers.
type Injector interface {
	Inject(ctx context.Context) error
}

// Option customizes a Surface.
type Option func(*Surface)

// WithDialer replaces the channel dialer.
func WithDialer(d DialFunc) Option {
	return func(s *Surface) { s.dial = d }
}

// WithSleep replaces the retry pauses.
func WithSleep(fn timing.SleepFunc) Option {
	return func(s *Surface) { s.sleep = fn }
}

// Surface implements the operator commands.
type Surface struct {
	state    *workstore.State
	cfg      config.ControlConfig
	injector Injector
	dial     DialFunc
	sleep    timing.SleepFunc
	logger   *zap.Logger
}

// New builds a Surface. injector may be nil, in which case an absent agent
// is reported instead of started.
func New(state *workstore.State, cfg config.ControlConfig, injector Injector, logger *zap.Logger, opts ...Option) *Surface {
	s := &Surface{
		state:    state,
		cfg:      cfg,
		injector: injector,
		dial: func(ctx context.Context, path string) (Agent, error) {
			return channel.Dial(ctx, path)
		},
		sleep:  timing.Sleep,
		logger: logger.Named("control"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status summarises the store for display.
type Status struct {
	Running    bool
	Remaining  int
	Submitted  int
	Category   string
	ShouldFill bool
	RunID      string
	Pending    *workstore.Pending
	Head       *records.Record
}

// Start begins a run for category. The agent must answer and the tab must be
// on a recognised page before the running flag is set. Any failure after
// that rolls the flag back.
func (s *Surface) Start(ctx context.Context, category string) error {
	snap, err := s.state.Load(ctx)
	if err != nil {
		return err
	}
	head, ok := snap.Head()
	if !ok {
		return ErrEmptyQueue
	}
	if category == "" {
		return ErrNoCategory
	}

	agent, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer agent.Close()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	kind, err := agent.CheckPage(callCtx)
	if err != nil {
		return fmt.Errorf("check page: %w", err)
	}
	if kind == page.Unknown {
		return ErrUnrecognisedPage
	}

	runID, err := s.state.Begin(ctx, category)
	if err != nil {
		return err
	}
	s.logger.Info("Starting run.",
		zap.String("run_id", runID),
		zap.String("page", kind.String()),
		zap.Int("records", len(snap.Queue)))

	switch kind {
	case page.EntryList:
		err = agent.ClickAddEntry(callCtx)
	case page.EntryForm:
		err = agent.FillForm(callCtx, head, 0)
	}
	if err != nil {
		if haltErr := s.state.Halt(context.WithoutCancel(ctx)); haltErr != nil {
			s.logger.Error("Failed to roll back the running flag.", zap.Error(haltErr))
		}
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// Stop clears the running flag and tells a reachable agent to abandon its
// current step. Only the flag write can fail the call.
func (s *Surface) Stop(ctx context.Context) error {
	if err := s.state.Halt(ctx); err != nil {
		return err
	}
	s.logger.Info("Run stopped.")

	dialCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	agent, err := s.dial(dialCtx, s.cfg.SocketPath)
	if err != nil {
		s.logger.Debug("No agent to notify of stop.", zap.Error(err))
		return nil
	}
	defer agent.Close()
	if err := agent.Stop(dialCtx); err != nil {
		s.logger.Warn("Agent did not acknowledge stop.", zap.Error(err))
	}
	return nil
}

// Load parses path and replaces the queue. On any parse error the queue is
// left as it was.
func (s *Surface) Load(ctx context.Context, path string) (records.Batch, error) {
	batch, err := records.ParseFile(path)
	if err != nil {
		return records.Batch{}, err
	}
	if err := s.state.ReplaceQueue(ctx, batch.Records); err != nil {
		return records.Batch{}, err
	}
	if batch.Incomplete > 0 {
		s.logger.Warn("Some records are missing a code or title.",
			zap.Int("incomplete", batch.Incomplete),
			zap.Int("total", len(batch.Records)))
	}
	s.logger.Info("Records loaded.", zap.String("path", path), zap.Int("count", len(batch.Records)))
	return batch, nil
}

// Clear empties the queue and then loads the default record file when one
// exists. loaded reports whether it did.
func (s *Surface) Clear(ctx context.Context) (batch records.Batch, loaded bool, err error) {
	if err := s.state.ClearQueue(ctx); err != nil {
		return records.Batch{}, false, err
	}
	s.logger.Info("Queue cleared.")

	path := s.cfg.DefaultRecordsFile
	if path == "" {
		return records.Batch{}, false, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return records.Batch{}, false, nil
		}
		return records.Batch{}, false, fmt.Errorf("stat default records: %w", statErr)
	}
	batch, err = s.Load(ctx, path)
	if err != nil {
		return records.Batch{}, false, fmt.Errorf("load default records: %w", err)
	}
	return batch, true, nil
}

// Status reads the store.
func (s *Surface) Status(ctx context.Context) (Status, error) {
	snap, err := s.state.Load(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Running:    snap.Running,
		Remaining:  len(snap.Queue),
		Category:   snap.SelectedCategory,
		ShouldFill: snap.ShouldFillForm,
		RunID:      snap.RunID,
		Pending:    snap.Pending,
	}
	for _, j := range snap.Journal {
		if j.RunID == snap.RunID {
			st.Submitted++
		}
	}
	if head, ok := snap.Head(); ok {
		st.Head = &head
	}
	return st, nil
}

// connect returns an agent that answered a ping, starting one between
// attempts. Each attempt after a successful injection waits InjectBackoff;
// after a failed injection it waits RetryBackoff.
func (s *Surface) connect(ctx context.Context) (Agent, error) {
	policy := backoff.NewConstantBackOff(s.cfg.RetryBackoff)
	var retries uint64
	if s.cfg.MaxRetries > 1 {
		retries = uint64(s.cfg.MaxRetries - 1)
	}

	attempt := 0
	operation := func() (Agent, error) {
		attempt++
		agent, err := s.ping(ctx)
		if err != nil && attempt < s.cfg.MaxRetries {
			policy.Interval = s.inject(ctx)
		}
		return agent, err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("Agent did not answer.", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	agent, err := backoff.RetryNotifyWithTimerAndData[Agent](operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx),
		notify, timing.NewTimer(ctx, s.sleep))
	switch {
	case err == nil:
		return agent, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrAgentUnavailable, attempt, err)
	}
}

// inject starts an agent and returns how long to wait before the next ping.
func (s *Surface) inject(ctx context.Context) time.Duration {
	if s.injector == nil {
		return s.cfg.RetryBackoff
	}
	if err := s.injector.Inject(ctx); err != nil {
		s.logger.Warn("Failed to start page agent.", zap.Error(err))
		return s.cfg.RetryBackoff
	}
	return s.cfg.InjectBackoff
}

func (s *Surface) ping(ctx context.Context) (Agent, error) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	agent, err := s.dial(pingCtx, s.cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	if err := agent.Ping(pingCtx); err != nil {
		_ = agent.Close()
		return nil, err
	}
	return agent, nil
}

func (s *Surface) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}
