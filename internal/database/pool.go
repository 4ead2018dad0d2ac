package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egysaas25-hub/wppagent-sub000/internal/config"
	"github.com/egysaas25-hub/wppagent-sub000/internal/resilience"
)

// Connect creates a connection pool and verifies it with a ping. The
// initial ping is retried so the agent survives starting before the
// database is accepting connections.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	err = resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Exponential:  true,
	}, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
