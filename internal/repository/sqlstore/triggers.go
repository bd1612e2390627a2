// Package sqlstore: общая SQL-реализация реестра триггеров для postgres и sqlite.
// Диалекты отличаются только плейсхолдерами и DDL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/registry"
)

var _ registry.Store = (*TriggerTable)(nil)

// TimeLayout: фиксированная ширина, чтобы ORDER BY по тексту в sqlite совпадал с хронологией.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) ph(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Columns: порядок колонок в SELECT и INSERT.
const Columns = "id, name, owner, type, schedule, source, idempotency_required, max_retries, backoff_strategy, " +
	"rate_qps, rate_burst, data_scope, safety_level, simulation_required, enabled, created_at, updated_at, deleted_at"

type TriggerTable struct {
	db      *sql.DB
	dialect Dialect
}

func NewTriggerTable(db *sql.DB, dialect Dialect) *TriggerTable {
	return &TriggerTable{db: db, dialect: dialect}
}

func (t *TriggerTable) ListActive(ctx context.Context) ([]domain.Trigger, error) {
	query := "SELECT " + Columns + " FROM triggers WHERE deleted_at IS NULL ORDER BY created_at DESC, id DESC"

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sql: failed to query triggers: %w", err)
	}
	defer rows.Close()

	// пустой слайс, чтобы в JSON был [] вместо null
	out := make([]domain.Trigger, 0)
	for rows.Next() {
		tr, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql: rows iteration error: %w", err)
	}
	return out, nil
}

func (t *TriggerTable) Get(ctx context.Context, id string) (*domain.Trigger, error) {
	query := "SELECT " + Columns + " FROM triggers WHERE id = " + t.dialect.ph(1) + " AND deleted_at IS NULL"

	tr, err := scanTrigger(t.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTriggerNotFound
		}
		return nil, err
	}
	return tr, nil
}

func (t *TriggerTable) Insert(ctx context.Context, tr *domain.Trigger) error {
	args, err := insertArgs(tr)
	if err != nil {
		return err
	}
	phs := make([]string, len(args))
	for i := range args {
		phs[i] = t.dialect.ph(i + 1)
	}
	query := "INSERT INTO triggers (" + Columns + ") VALUES (" + strings.Join(phs, ", ") + ") ON CONFLICT (id) DO NOTHING"

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sql: failed to insert trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTriggerExists
	}
	return nil
}

func (t *TriggerTable) Update(ctx context.Context, tr *domain.Trigger) error {
	source, err := json.Marshal(tr.Source)
	if err != nil {
		return fmt.Errorf("sql: marshal source: %w", err)
	}
	p := t.dialect.ph
	query := "UPDATE triggers SET name = " + p(1) + ", owner = " + p(2) + ", type = " + p(3) +
		", schedule = " + p(4) + ", source = " + p(5) + ", idempotency_required = " + p(6) +
		", max_retries = " + p(7) + ", backoff_strategy = " + p(8) + ", rate_qps = " + p(9) +
		", rate_burst = " + p(10) + ", data_scope = " + p(11) + ", safety_level = " + p(12) +
		", simulation_required = " + p(13) + ", enabled = " + p(14) + ", updated_at = " + p(15) +
		" WHERE id = " + p(16) + " AND deleted_at IS NULL"

	res, err := t.db.ExecContext(ctx, query,
		tr.Name, tr.Owner, string(tr.Type), tr.Schedule, string(source), tr.IdempotencyRequired,
		tr.MaxRetries, tr.BackoffStrategy, tr.RateLimit.QPS, tr.RateLimit.Burst, tr.DataScope,
		string(tr.SafetyLevel), tr.SimulationRequired, tr.Enabled, formatTime(tr.UpdatedAt), tr.ID,
	)
	if err != nil {
		return fmt.Errorf("sql: failed to update trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTriggerNotFound
	}
	return nil
}

func (t *TriggerTable) SoftDelete(ctx context.Context, id string, at time.Time) error {
	p := t.dialect.ph
	query := "UPDATE triggers SET deleted_at = " + p(1) + ", updated_at = " + p(2) +
		" WHERE id = " + p(3) + " AND deleted_at IS NULL"

	ts := formatTime(at)
	res, err := t.db.ExecContext(ctx, query, ts, ts, id)
	if err != nil {
		return fmt.Errorf("sql: failed to soft-delete trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTriggerNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*domain.Trigger, error) {
	var (
		tr                   domain.Trigger
		typ, safety, source  string
		schedule, dataScope  sql.NullString
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	err := row.Scan(
		&tr.ID, &tr.Name, &tr.Owner, &typ, &schedule, &source, &tr.IdempotencyRequired,
		&tr.MaxRetries, &tr.BackoffStrategy, &tr.RateLimit.QPS, &tr.RateLimit.Burst, &dataScope,
		&safety, &tr.SimulationRequired, &tr.Enabled, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sql: failed to scan trigger: %w", err)
	}

	tr.Type = domain.TriggerType(typ)
	tr.SafetyLevel = domain.SafetyLevel(safety)
	tr.Schedule = schedule.String
	tr.DataScope = dataScope.String
	if source != "" {
		if err := json.Unmarshal([]byte(source), &tr.Source); err != nil {
			return nil, fmt.Errorf("sql: decode source of %s: %w", tr.ID, err)
		}
	}
	if tr.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tr.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid && deletedAt.String != "" {
		at, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		tr.DeletedAt = &at
	}
	return &tr, nil
}

func insertArgs(tr *domain.Trigger) ([]any, error) {
	source, err := json.Marshal(tr.Source)
	if err != nil {
		return nil, fmt.Errorf("sql: marshal source: %w", err)
	}
	var deletedAt any
	if tr.DeletedAt != nil {
		deletedAt = formatTime(*tr.DeletedAt)
	}
	return []any{
		tr.ID, tr.Name, tr.Owner, string(tr.Type), tr.Schedule, string(source), tr.IdempotencyRequired,
		tr.MaxRetries, tr.BackoffStrategy, tr.RateLimit.QPS, tr.RateLimit.Burst, tr.DataScope,
		string(tr.SafetyLevel), tr.SimulationRequired, tr.Enabled,
		formatTime(tr.CreatedAt), formatTime(tr.UpdatedAt), deletedAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sql: bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
