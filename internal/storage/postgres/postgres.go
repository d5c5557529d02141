package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultPingTimeout = 10 * time.Second
	applicationName    = "dex-trade-agent"

	// unique_violation, raised when a trade log ID is written twice.
	pgErrUniqueViolation = "23505"
)

// Pool wraps pgxpool.Pool so stores take a concrete, closable handle.
type Pool struct {
	*pgxpool.Pool
}

// PoolOption adjusts the pool configuration before connecting.
type PoolOption func(*pgxpool.Config)

// WithMaxConns caps open connections. The agent writes one entry at a time,
// so a small pool is enough.
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithApplicationName tags connections in pg_stat_activity.
func WithApplicationName(name string) PoolOption {
	return func(c *pgxpool.Config) {
		if name != "" {
			c.ConnConfig.RuntimeParams["application_name"] = name
		}
	}
}

// poolConfig parses dsn and applies defaults and opts.
func poolConfig(dsn string, opts ...PoolOption) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

// NewPool connects to Postgres and verifies the connection within a bounded
// ping.
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	cfg, err := poolConfig(dsn, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}

	return &Pool{Pool: pool}, nil
}

// isDuplicateKeyError reports a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
