// Package workstore is the durable key/value state shared by every process
// taking part in a claim run. It survives page reloads and process restarts,
// and broadcasts every change to subscribers in any process.
package workstore

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
)

// Keys held in the store.
const (
	KeyQueue             = "queue"
	KeyRunning           = "running"
	KeyShouldFillForm    = "should_fill_form"
	KeySelectedCategory  = "selected_category"
	KeyProcessedEntries  = "processed_entries"
	KeyPendingSubmission = "pending_submission"
	KeyJournal           = "journal"
	KeyRunID             = "run_id"
)

// AllKeys lists every key the typed protocol reads.
var AllKeys = []string{
	KeyQueue,
	KeyRunning,
	KeyShouldFillForm,
	KeySelectedCategory,
	KeyProcessedEntries,
	KeyPendingSubmission,
	KeyJournal,
	KeyRunID,
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("workstore: store is closed")

// Change describes one key's transition. A nil OldValue means the key was
// created; a nil NewValue means it was removed.
type Change struct {
	Key      string
	OldValue []byte
	NewValue []byte
}

// Store is a durable JSON key/value store with change notification.
// Values are JSON documents.
type Store interface {
	// Get returns the stored values for the requested keys. Missing keys are
	// absent from the result.
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	// Set writes all values atomically.
	Set(ctx context.Context, values map[string][]byte) error
	// Remove deletes the keys. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
	// Subscribe delivers every change until ctx is done or the store closes,
	// after which the channel is closed. A subscriber that falls behind misses
	// changes; consumers treat a change as a hint to re-read.
	Subscribe(ctx context.Context) (<-chan Change, error)
	Close() error
}

const subscriberBuffer = 64

// hub fans changes out to subscribers.
type hub struct {
	mu     sync.Mutex
	subs   map[chan Change]struct{}
	done   chan struct{}
	closed bool
}

func newHub() *hub {
	return &hub{
		subs: make(map[chan Change]struct{}),
		done: make(chan struct{}),
	}
}

func (h *hub) subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		h.drop(ch)
	}()
	return ch, nil
}

func (h *hub) drop(ch chan Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		for _, c := range changes {
			select {
			case ch <- c:
			default:
			}
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// diff returns the changes that turn before into after.
func diff(before, after map[string][]byte) []Change {
	var changes []Change
	for k, nv := range after {
		ov, ok := before[k]
		if !ok {
			changes = append(changes, Change{Key: k, NewValue: nv})
			continue
		}
		if !bytes.Equal(ov, nv) {
			changes = append(changes, Change{Key: k, OldValue: ov, NewValue: nv})
		}
	}
	for k, ov := range before {
		if _, ok := after[k]; !ok {
			changes = append(changes, Change{Key: k, OldValue: ov})
		}
	}
	return changes
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
