package postgres

/*
policy_repo.go: источник правил PDP из таблицы policy_rules.
Правила читаются заново на каждую оценку: изменение в базе видно следующему запуску без рестарта.
Порядок задается колонкой position, как в файловом источнике.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

type PolicyRepo struct {
	db *sql.DB
}

func NewPolicyRepo(db *sql.DB) *PolicyRepo {
	return &PolicyRepo{db: db}
}

// Rules возвращает правила в порядке оценки.
func (r *PolicyRepo) Rules(ctx context.Context) ([]domain.PolicyRule, error) {
	query := `
		SELECT id, description, when_expr, effect, require, require_simulation, created_at
		FROM policy_rules
		ORDER BY position ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query policy rules: %w", err)
	}
	defer rows.Close()

	var results []domain.PolicyRule
	for rows.Next() {
		var (
			p           domain.PolicyRule
			description sql.NullString
			when, req   []byte
		)
		if err := rows.Scan(&p.ID, &description, &when, &p.Effect, &req, &p.RequireSimulation, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan policy rule: %w", err)
		}
		p.Description = description.String
		if len(when) > 0 {
			if err := json.Unmarshal(when, &p.When); err != nil {
				return nil, fmt.Errorf("postgres: rule %s: bad when: %w", p.ID, err)
			}
		}
		if len(req) > 0 {
			if err := json.Unmarshal(req, &p.Require); err != nil {
				return nil, fmt.Errorf("postgres: rule %s: bad require: %w", p.ID, err)
			}
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// SaveRule добавляет или заменяет правило на заданной позиции.
func (r *PolicyRepo) SaveRule(ctx context.Context, position int, p domain.PolicyRule) error {
	when, err := json.Marshal(p.When)
	if err != nil {
		return fmt.Errorf("postgres: marshal when: %w", err)
	}
	require := p.Require
	if require == nil {
		require = []string{}
	}
	req, err := json.Marshal(require)
	if err != nil {
		return fmt.Errorf("postgres: marshal require: %w", err)
	}
	query := `
		INSERT INTO policy_rules (id, position, description, when_expr, effect, require, require_simulation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			position = EXCLUDED.position,
			description = EXCLUDED.description,
			when_expr = EXCLUDED.when_expr,
			effect = EXCLUDED.effect,
			require = EXCLUDED.require,
			require_simulation = EXCLUDED.require_simulation`

	if _, err := r.db.ExecContext(ctx, query,
		p.ID, position, p.Description, string(when), string(p.Effect), string(req), p.RequireSimulation,
	); err != nil {
		return fmt.Errorf("postgres: failed to save policy rule: %w", err)
	}
	return nil
}
