// Package poller waits for operations that give no completion callback.
package poller

import (
	"context"
	"time"
)

// Outcome is what a probe observed.
type Outcome int

const (
	Pending Outcome = iota
	Done
	// Indeterminate means the attempt budget ran out without a signal. The
	// operation may still have completed.
	Indeterminate
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Indeterminate:
		return "indeterminate"
	default:
		return "pending"
	}
}

// Probe inspects the world once. attempt starts at 1. Returning an error
// aborts the wait.
type Probe func(ctx context.Context, attempt int) (Outcome, error)

// Await calls probe every interval, up to maxAttempts times, and returns Done
// as soon as the probe does. Running out of attempts yields Indeterminate
// with a nil error. A probe error or a cancelled context ends the wait with
// that error.
func Await(ctx context.Context, maxAttempts int, interval time.Duration, probe Probe) (Outcome, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Pending, ctx.Err()
		case <-ticker.C:
		}

		outcome, err := probe(ctx, attempt)
		if err != nil {
			return Pending, err
		}
		if outcome == Done {
			return Done, nil
		}
	}
	return Indeterminate, nil
}
