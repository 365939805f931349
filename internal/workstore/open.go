package workstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"go.uber.org/zap"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StoreSQLite, "":
		return OpenSQLite(ctx, cfg.Path, cfg.Table, logger)
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		pg, err := NewPostgres(pool, PoolListener(pool), cfg.Channel, cfg.Table, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &ownedPostgres{Postgres: pg, pool: pool}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ownedPostgres closes the pool it was opened with.
type ownedPostgres struct {
	*Postgres
	pool *pgxpool.Pool
}

func (o *ownedPostgres) Close() error {
	err := o.Postgres.Close()
	o.pool.Close()
	return err
}
