// Package sqlite: файловое хранилище реестра для одноузловых инсталляций.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-control-plane/internal/repository/sqlstore"
	_ "modernc.org/sqlite"
)

type TriggerRepo struct {
	*sqlstore.TriggerTable
	db *sql.DB
}

// Open открывает базу, выставляет прагмы и накатывает схему.
func Open(ctx context.Context, path string) (*TriggerRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// sqlite сериализует запись
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &TriggerRepo{TriggerTable: sqlstore.NewTriggerTable(db, sqlstore.SQLite), db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS triggers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			type TEXT NOT NULL,
			schedule TEXT,
			source TEXT NOT NULL DEFAULT '{}',
			idempotency_required INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 5,
			backoff_strategy TEXT NOT NULL DEFAULT 'exponential',
			rate_qps REAL NOT NULL DEFAULT 10,
			rate_burst INTEGER NOT NULL DEFAULT 50,
			data_scope TEXT,
			safety_level TEXT NOT NULL DEFAULT 'low',
			simulation_required INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_triggers_created_at ON triggers(created_at)`,
	}
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("sqlite: migration failed: %w", err)
		}
	}
	return nil
}

func (r *TriggerRepo) Close() error {
	return r.db.Close()
}
