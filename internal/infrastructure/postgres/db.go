package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig carries the deployment-tunable connection pool settings.
type PoolConfig struct {
	MaxConns       int32
	MinConns       int32
	ConnLifetime   time.Duration
	ConnIdleTime   time.Duration
	ConnectTimeout time.Duration
}

// DefaultPoolConfig is used by auxiliary binaries (migrations) that do not
// load the full service config.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       25,
		MinConns:       5,
		ConnLifetime:   time.Hour,
		ConnIdleTime:   30 * time.Minute,
		ConnectTimeout: 5 * time.Second,
	}
}

func NewPool(ctx context.Context, databaseURL string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	cfg.MaxConns = pc.MaxConns
	cfg.MinConns = pc.MinConns
	cfg.MaxConnLifetime = pc.ConnLifetime
	cfg.MaxConnIdleTime = pc.ConnIdleTime
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = pc.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}
