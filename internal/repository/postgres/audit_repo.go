package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
)

var _ audit.Sink = (*AuditRepo)(nil)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	numFields := 9
	var placeholders strings.Builder
	vals := make([]any, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			placeholders.WriteString(", ")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9)

		var meta any
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("postgres: marshal audit metadata %s: %w", e.ID, err)
			}
			meta = string(b)
		}

		vals = append(vals,
			e.ID, e.TraceID, e.Time, e.Action, e.Actor, e.TargetID, e.Outcome, e.Reason, meta,
		)
	}

	query := "INSERT INTO audit_logs (id, trace_id, ts, action, actor, target_id, outcome, reason, metadata) VALUES " +
		placeholders.String()

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: audit batch insert: %w", err)
	}
	return nil
}
