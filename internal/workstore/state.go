package workstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/claimpilot/internal/records"
	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when a run-scoped mutation finds running=false.
	ErrStopped = errors.New("workstore: run is not active")
	// ErrHeadMoved is returned when the record being advanced is no longer at
	// the expected queue position.
	ErrHeadMoved = errors.New("workstore: queue no longer holds the record at that index")
)

// Pending is the hint written just before a submit activation.
type Pending struct {
	Code  string    `json:"code"`
	Index int       `json:"index"`
	At    time.Time `json:"at"`
}

// Submission describes how a record left the queue.
type Submission struct {
	Strategy   string `json:"strategy,omitempty"`
	Activation string `json:"activation,omitempty"`
	Fallback   bool   `json:"fallback"`
	// Reconciled marks records advanced from a pending hint after a restart.
	Reconciled bool `json:"reconciled,omitempty"`
}

// JournalEntry records one completed submission.
type JournalEntry struct {
	RunID       string    `json:"runId"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	SubmittedAt time.Time `json:"submittedAt"`
	Submission
}

// Snapshot is a decoded read of every key.
type Snapshot struct {
	Queue            []records.Record
	Running          bool
	ShouldFillForm   bool
	SelectedCategory string
	ProcessedEntries []int
	Pending          *Pending
	Journal          []JournalEntry
	RunID            string
}

// Head returns the record at index 0.
func (s Snapshot) Head() (records.Record, bool) {
	if len(s.Queue) == 0 {
		return records.Record{}, false
	}
	return s.Queue[0], true
}

// State is the typed queue protocol over a Store. Read-modify-write
// operations are serialized within one process; across processes the running
// flag and the should-fill latch keep writers apart.
type State struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
	mu    sync.Mutex
}

// NewState wraps store.
func NewState(store Store, logger *zap.Logger) *State {
	return &State{
		store: store,
		log:   logger.Named("state"),
		now:   time.Now,
	}
}

// Store exposes the underlying store, mainly for subscriptions.
func (s *State) Store() Store { return s.store }

// Load reads a fresh snapshot. should_fill_form defaults to true when unset.
func (s *State) Load(ctx context.Context) (Snapshot, error) {
	raw, err := s.store.Get(ctx, AllKeys...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load state: %w", err)
	}

	snap := Snapshot{ShouldFillForm: true}
	fields := []struct {
		key string
		dst interface{}
	}{
		{KeyQueue, &snap.Queue},
		{KeyRunning, &snap.Running},
		{KeyShouldFillForm, &snap.ShouldFillForm},
		{KeySelectedCategory, &snap.SelectedCategory},
		{KeyProcessedEntries, &snap.ProcessedEntries},
		{KeyPendingSubmission, &snap.Pending},
		{KeyJournal, &snap.Journal},
		{KeyRunID, &snap.RunID},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", f.key, err)
		}
	}
	return snap, nil
}

func encode(values map[string]interface{}) (map[string][]byte, error) {
	out := make(map[string][]byte, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

func (s *State) set(ctx context.Context, values map[string]interface{}) error {
	enc, err := encode(values)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, enc)
}

// Begin starts a run for category and arms the fill latch.
func (s *State) Begin(ctx context.Context, category string) (string, error) {
	runID := uuid.NewString()
	err := s.set(ctx, map[string]interface{}{
		KeyRunning:          true,
		KeySelectedCategory: category,
		KeyShouldFillForm:   true,
		KeyRunID:            runID,
	})
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	s.log.Info("Run started.", zap.String("run_id", runID), zap.String("category", category))
	return runID, nil
}

// Halt clears the running flag.
func (s *State) Halt(ctx context.Context) error {
	if err := s.set(ctx, map[string]interface{}{KeyRunning: false}); err != nil {
		return fmt.Errorf("halt run: %w", err)
	}
	return nil
}

// SetShouldFill writes the single-flight fill latch.
func (s *State) SetShouldFill(ctx context.Context, v bool) error {
	if err := s.set(ctx, map[string]interface{}{KeyShouldFillForm: v}); err != nil {
		return fmt.Errorf("set fill latch: %w", err)
	}
	return nil
}

// ReplaceQueue installs a new queue and resets the processed list.
func (s *State) ReplaceQueue(ctx context.Context, recs []records.Record) error {
	if recs == nil {
		recs = []records.Record{}
	}
	err := s.set(ctx, map[string]interface{}{
		KeyQueue:             recs,
		KeyProcessedEntries:  []int{},
		KeyPendingSubmission: nil,
	})
	if err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}

// ClearQueue removes the queue and its bookkeeping.
func (s *State) ClearQueue(ctx context.Context) error {
	if err := s.store.Remove(ctx, KeyQueue, KeyProcessedEntries, KeyPendingSubmission); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// MarkSubmitting writes the pending-submission hint for the record at index.
func (s *State) MarkSubmitting(ctx context.Context, code string, index int) error {
	p := Pending{Code: code, Index: index, At: s.now().UTC()}
	if err := s.set(ctx, map[string]interface{}{KeyPendingSubmission: p}); err != nil {
		return fmt.Errorf("mark submitting: %w", err)
	}
	return nil
}

// ClearSubmitting drops the pending-submission hint.
func (s *State) ClearSubmitting(ctx context.Context) error {
	if err := s.set(ctx, map[string]interface{}{KeyPendingSubmission: nil}); err != nil {
		return fmt.Errorf("clear submitting: %w", err)
	}
	return nil
}

// Advance removes rec from the queue at index after a successful submission.
// It refuses when the run was stopped (ErrStopped) or when the queue no
// longer holds rec's code at index (ErrHeadMoved). On success the processed
// list, the journal and the fill latch are updated and the pending hint is
// cleared, all in one write.
func (s *State) Advance(ctx context.Context, rec records.Record, index int, sub Submission) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !snap.Running {
		return len(snap.Queue), ErrStopped
	}
	if index < 0 || index >= len(snap.Queue) || snap.Queue[index].Code != rec.Code {
		return len(snap.Queue), ErrHeadMoved
	}

	queue := append(append([]records.Record{}, snap.Queue[:index]...), snap.Queue[index+1:]...)
	processed := shiftProcessed(snap.ProcessedEntries, index)
	journal := append(snap.Journal, JournalEntry{
		RunID:       snap.RunID,
		Code:        rec.Code,
		Title:       rec.Title,
		Category:    snap.SelectedCategory,
		SubmittedAt: s.now().UTC(),
		Submission:  sub,
	})

	err = s.set(ctx, map[string]interface{}{
		KeyQueue:             queue,
		KeyProcessedEntries:  processed,
		KeyJournal:           journal,
		KeyShouldFillForm:    true,
		KeyPendingSubmission: nil,
	})
	if err != nil {
		return len(snap.Queue), fmt.Errorf("advance queue: %w", err)
	}
	s.log.Info("Record submitted and removed from queue.",
		zap.String("code", rec.Code),
		zap.Int("index", index),
		zap.Int("remaining", len(queue)))
	return len(queue), nil
}

// ClearJournal empties the submission journal. The queue and run flags are
// left alone.
func (s *State) ClearJournal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Remove(ctx, KeyJournal); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}

// shiftProcessed records index as processed and moves every later index down
// by one to account for the removed record.
func shiftProcessed(processed []int, index int) []int {
	out := make([]int, 0, len(processed)+1)
	seen := false
	for _, p := range processed {
		if p == index {
			seen = true
		}
		out = append(out, p)
	}
	if !seen {
		out = append(out, index)
	}
	for i, p := range out {
		if p > index {
			out[i] = p - 1
		}
	}
	return out
}

// Running reads only the running flag.
func (s *State) Running(ctx context.Context) (bool, error) {
	raw, err := s.store.Get(ctx, KeyRunning)
	if err != nil {
		return false, fmt.Errorf("read running flag: %w", err)
	}
	var running bool
	if v, ok := raw[KeyRunning]; ok {
		if err := json.Unmarshal(v, &running); err != nil {
			return false, fmt.Errorf("decode %s: %w", KeyRunning, err)
		}
	}
	return running, nil
}
