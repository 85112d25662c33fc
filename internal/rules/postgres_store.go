package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// PostgresRepository reads rule definitions from PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL-backed rule repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const ruleColumns = `id, name, expression, action, priority, enabled, short_circuit, metadata`

func (p *PostgresRepository) ListEnabled(ctx context.Context) ([]*Rule, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE enabled = TRUE
		ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert creates or replaces a rule definition. Expressions are stored as
// authored; compilation happens on load.
func (p *PostgresRepository) Upsert(ctx context.Context, r *Rule) error {
	metaJSON, _ := json.Marshal(r.Metadata)
	if r.Metadata == nil {
		metaJSON = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, expression, action, priority, enabled, short_circuit, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			expression = EXCLUDED.expression,
			action = EXCLUDED.action,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			short_circuit = EXCLUDED.short_circuit,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.Name, r.Expression, string(r.Action), r.Priority, r.Enabled, r.ShortCircuit,
		metaJSON, time.Now().UTC(),
	)
	return err
}

// Disable marks a rule as disabled without removing its definition.
func (p *PostgresRepository) Disable(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE rules SET enabled = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	return err
}

func scanRule(rows *sql.Rows) (*Rule, error) {
	var (
		r        Rule
		action   string
		metaJSON []byte
	)
	if err := rows.Scan(&r.ID, &r.Name, &r.Expression, &action, &r.Priority, &r.Enabled, &r.ShortCircuit, &metaJSON); err != nil {
		return nil, err
	}
	r.Action = decision.Action(action)
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &r.Metadata)
	}
	return &r, nil
}
