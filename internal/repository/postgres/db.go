package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/spaceai-control-plane/internal/infra"
)

// Open создает пул соединений и проверяет доступность базы.
func Open(ctx context.Context, cfg infra.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	maxConns := int(cfg.MaxConns)
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(int(cfg.MinConns), 1))
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS triggers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner TEXT NOT NULL,
		type TEXT NOT NULL,
		schedule TEXT,
		source JSONB NOT NULL DEFAULT '{}',
		idempotency_required BOOLEAN NOT NULL DEFAULT FALSE,
		max_retries INTEGER NOT NULL DEFAULT 5,
		backoff_strategy TEXT NOT NULL DEFAULT 'exponential',
		rate_qps DOUBLE PRECISION NOT NULL DEFAULT 10,
		rate_burst INTEGER NOT NULL DEFAULT 50,
		data_scope TEXT,
		safety_level TEXT NOT NULL DEFAULT 'low',
		simulation_required BOOLEAN NOT NULL DEFAULT FALSE,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_active ON triggers(created_at DESC) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		trace_id TEXT,
		ts TIMESTAMPTZ NOT NULL,
		action TEXT NOT NULL,
		actor TEXT,
		target_id TEXT,
		outcome TEXT,
		reason TEXT,
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_ts ON audit_logs(ts)`,
	`CREATE TABLE IF NOT EXISTS policy_rules (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		description TEXT,
		when_expr JSONB NOT NULL DEFAULT '{}',
		effect TEXT NOT NULL,
		require JSONB NOT NULL DEFAULT '[]',
		require_simulation BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate накатывает схему; все выражения идемпотентны.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("postgres: migration failed: %w", err)
		}
	}
	return nil
}
