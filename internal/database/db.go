package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"propfirm-risk-engine/config"
)

// DB wraps the PostgreSQL connection pool of the account ledger.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB opens a connection pool against the ledger. When a service key is
// configured it replaces the password embedded in the URL, so the engine's
// service-role credential can be rotated without touching the DSN.
func NewDB(cfg config.LedgerConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse ledger config: %w", err)
	}

	if cfg.ServiceKey != "" {
		poolConfig.ConnConfig.Password = cfg.ServiceKey
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping ledger: %w", err)
	}

	log.Info().
		Str("component", "database").
		Str("database", poolConfig.ConnConfig.Database).
		Msg("connected to ledger")

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Str("component", "database").Msg("ledger connection closed")
	}
}
