package workstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite is the default Store: a single table in a WAL-mode database file.
// Changes made by other processes are picked up by watching the database
// directory and diffing against the last snapshot.
type SQLite struct {
	db    *sql.DB
	path  string
	table string
	log   *zap.Logger
	hub   *hub

	watcher *fsnotify.Watcher
	poke    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the store at path.
func OpenSQLite(ctx context.Context, path, table string, logger *zap.Logger) (*SQLite, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &SQLite{
		db:    db,
		path:  path,
		table: table,
		log:   logger.Named("workstore.sqlite"),
		hub:   newHub(),
		poke:  make(chan struct{}, 1),
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, table)
	if err := retryOnBusy(ctx, func() error {
		_, execErr := db.ExecContext(ctx, schema)
		return execErr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		_ = db.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher

	initial, err := s.readAll(ctx)
	if err != nil {
		_ = watcher.Close()
		_ = db.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.watch(watchCtx, initial)

	return s, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs op, retrying with exponential backoff while SQLite reports
// the database as busy. Other errors are returned immediately.
func retryOnBusy(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = busyRetryInitialBackoff
	b.MaxInterval = busyRetryMaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	operation := func() error {
		err := op()
		if err != nil && !isSQLiteBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, busyRetryAttempts-1), ctx))
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := fmt.Sprintf(`SELECT key, value FROM %s WHERE key IN (%s)`, s.table, placeholders)
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				k string
				v []byte
			)
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			out[k] = v
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get %v: %w", keys, err)
	}
	return out, nil
}

func (s *SQLite) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	upsert := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, s.table)

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, upsert, k, v); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	s.signal()
	return nil
}

func (s *SQLite) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE key IN (%s)`, s.table, placeholders)
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, stmt, args...)
		return err
	}); err != nil {
		return fmt.Errorf("remove %v: %w", keys, err)
	}
	s.signal()
	return nil
}

func (s *SQLite) Subscribe(ctx context.Context) (<-chan Change, error) {
	return s.hub.subscribe(ctx)
}

// Close stops the watcher and closes the database.
func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.hub.close()
		if werr := s.watcher.Close(); werr != nil {
			s.log.Debug("Closing watcher failed.", zap.Error(werr))
		}
		err = s.db.Close()
	})
	return err
}

func (s *SQLite) signal() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

func (s *SQLite) readAll(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	query := fmt.Sprintf(`SELECT key, value FROM %s`, s.table)
	err := retryOnBusy(ctx, func() error {
		for k := range out {
			delete(out, k)
		}
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				k string
				v []byte
			)
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			out[k] = v
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return out, nil
}

// relevant reports whether a filesystem event touched the database or its
// WAL. The shared-memory index is ignored since readers touch it too.
func (s *SQLite) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	base := filepath.Base(s.path)
	name := filepath.Base(ev.Name)
	return name == base || name == base+"-wal"
}

func (s *SQLite) watch(ctx context.Context, last map[string][]byte) {
	defer s.wg.Done()

	reload := func() {
		next, err := s.readAll(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("Failed to refresh snapshot.", zap.Error(err))
			}
			return
		}
		s.hub.publish(diff(last, next))
		last = next
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.poke:
			reload()
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if s.relevant(ev) {
				reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("Store watcher error.", zap.Error(err))
		}
	}
}
