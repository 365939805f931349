package workstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the backend can be driven by pgxmock.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Listener delivers NOTIFY payloads for one LISTEN session.
type Listener interface {
	// Next blocks until a notification arrives and returns its payload.
	Next(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// ListenFunc opens a LISTEN session on channel.
type ListenFunc func(ctx context.Context, channel string) (Listener, error)

// Postgres is a Store for runs shared across machines. Every write is
// followed by pg_notify with the key as payload; subscribers re-read the
// value, so payload size never matters.
type Postgres struct {
	pool    DBPool
	listen  ListenFunc
	channel string
	table   string
	log     *zap.Logger

	mu      sync.Mutex
	closing chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

var _ Store = (*Postgres)(nil)

// NewPostgres builds the backend over an existing pool. listen may be nil,
// in which case Subscribe is unsupported.
func NewPostgres(pool DBPool, listen ListenFunc, channel, table string, logger *zap.Logger) (*Postgres, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{
		pool:    pool,
		listen:  listen,
		channel: channel,
		table:   table,
		log:     logger.Named("workstore.postgres"),
		closing: make(chan struct{}),
	}, nil
}

// EnsureSchema creates the backing table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, p.table)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", p.table, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`SELECT key, value FROM %s WHERE key = ANY($1)`, p.table)
	rows, err := p.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			k string
			v []byte
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	upsert := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, p.table)

	return p.inTx(ctx, func(tx pgx.Tx) error {
		for _, k := range sortedKeys(values) {
			if _, err := tx.Exec(ctx, upsert, k, values[k]); err != nil {
				return fmt.Errorf("failed to upsert %s: %w", k, err)
			}
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, k); err != nil {
				return fmt.Errorf("failed to notify %s: %w", k, err)
			}
		}
		return nil
	})
}

func (p *Postgres) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	del := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.table)
	return p.inTx(ctx, func(tx pgx.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(ctx, del, k); err != nil {
				return fmt.Errorf("failed to delete %s: %w", k, err)
			}
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, k); err != nil {
				return fmt.Errorf("failed to notify %s: %w", k, err)
			}
		}
		return nil
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated LISTEN session. Notified keys are re-read and
// compared with the subscriber's last seen value.
func (p *Postgres) Subscribe(ctx context.Context) (<-chan Change, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()
	if p.listen == nil {
		return nil, errors.New("workstore: postgres backend has no listener")
	}

	l, err := p.listen(ctx, p.channel)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", p.channel, err)
	}
	seen, err := p.Get(ctx, AllKeys...)
	if err != nil {
		_ = l.Close(context.Background())
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Change, subscriberBuffer)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		select {
		case <-subCtx.Done():
		case <-p.closing:
			cancel()
		}
	}()
	go func() {
		defer p.wg.Done()
		defer close(out)
		defer cancel()
		defer func() { _ = l.Close(context.Background()) }()

		for {
			key, err := l.Next(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					p.log.Warn("Listener stopped.", zap.Error(err))
				}
				return
			}
			current, err := p.Get(subCtx, key)
			if err != nil {
				p.log.Warn("Failed to re-read notified key.", zap.String("key", key), zap.Error(err))
				continue
			}
			for _, c := range diff(pick(seen, key), current) {
				select {
				case out <- c:
				case <-subCtx.Done():
					return
				}
			}
			if v, ok := current[key]; ok {
				seen[key] = v
			} else {
				delete(seen, key)
			}
		}
	}()
	return out, nil
}

// Close stops every subscriber. The pool belongs to the caller.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func pick(m map[string][]byte, key string) map[string][]byte {
	out := make(map[string][]byte, 1)
	if v, ok := m[key]; ok {
		out[key] = v
	}
	return out
}

// PoolListener returns a ListenFunc that holds one pooled connection per
// LISTEN session.
func PoolListener(pool *pgxpool.Pool) ListenFunc {
	return func(ctx context.Context, channel string) (Listener, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, err
		}
		return &poolListener{conn: conn, channel: channel}, nil
	}
}

type poolListener struct {
	conn    *pgxpool.Conn
	channel string
}

func (l *poolListener) Next(ctx context.Context) (string, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (l *poolListener) Close(ctx context.Context) error {
	defer l.conn.Release()
	_, err := l.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{l.channel}.Sanitize())
	return err
}
