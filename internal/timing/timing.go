// Package timing holds the context-aware pauses shared by the workflow.
package timing

import (
	"context"
	"sync"
	"time"
)

// SleepFunc pauses for d or until ctx ends, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Instant is a SleepFunc for tests: it never waits but still honours ctx.
func Instant(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Recorder is a SleepFunc for tests that logs requested durations.
type Recorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

// Sleep records d and returns immediately.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Slept returns the recorded durations.
func (r *Recorder) Slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

// Timer drives a SleepFunc through the Start/Stop/C shape retry loops expect,
// so their pauses can be swapped out in tests like every other pause.
type Timer struct {
	ctx    context.Context
	sleep  SleepFunc
	c      chan time.Time
	cancel context.CancelFunc
}

// NewTimer returns a Timer whose pauses end early when ctx does.
func NewTimer(ctx context.Context, sleep SleepFunc) *Timer {
	return &Timer{ctx: ctx, sleep: sleep}
}

// Start begins a pause of d. C fires when it completes.
func (t *Timer) Start(d time.Duration) {
	ctx, cancel := context.WithCancel(t.ctx)
	c := make(chan time.Time, 1)
	t.cancel, t.c = cancel, c
	go func() {
		defer cancel()
		if err := t.sleep(ctx, d); err == nil {
			c <- time.Now()
		}
	}()
}

// Stop abandons the current pause.
func (t *Timer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// C is signalled once the pause begun by Start has elapsed.
func (t *Timer) C() <-chan time.Time { return t.c }
