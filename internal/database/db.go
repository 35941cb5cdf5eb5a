package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// New opens a connection pool against dsn and verifies connectivity.
func New(ctx context.Context, dsn string, log zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{Pool: pool, log: log.With().Str("component", "database").Logger()}
	db.log.Info().Msg("connected to postgres")
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations applies the schema. Statements are idempotent so startup can
// always run them.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ai_decisions (
			id UUID PRIMARY KEY,
			agent_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			order_id BIGINT,
			action TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			reasoning TEXT NOT NULL DEFAULT '',
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			execution_reason TEXT NOT NULL DEFAULT '',
			trading_cycle_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_decisions_agent_created
			ON ai_decisions (agent_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_decisions_order
			ON ai_decisions (agent_id, order_id)
			WHERE order_id IS NOT NULL`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Int("statements", len(migrations)).Msg("migrations applied")
	return nil
}
