package audit

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists audit entries in PostgreSQL. The audit_log table
// carries a trigger that rejects UPDATE and DELETE, so the append-only
// property holds even against direct SQL access.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, chain_id, seq, decision_id, event_id, verdict, score,
		       rule_set_version, model_version, reasons, degraded,
		       created_at, prev_hash, hash, signature`

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, chain_id, seq, decision_id, event_id, verdict, score,
			rule_set_version, model_version, reasons, degraded,
			created_at, prev_hash, hash, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.ChainID, e.Seq, e.DecisionID, e.EventID, e.Verdict, scoreArg(e.Score),
		nullString(e.RuleSetVersion), nullString(e.ModelVersion), pq.Array(e.Reasons), e.Degraded,
		e.CreatedAt, e.PrevHash, e.Hash, e.Signature,
	)
	return err
}

func (p *PostgresStore) Last(ctx context.Context, chainID string) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE chain_id = $1
		ORDER BY seq DESC
		LIMIT 1`, chainID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (p *PostgresStore) List(ctx context.Context, chainID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE chain_id = $1
		ORDER BY seq ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e              Entry
		score          sql.NullFloat64
		ruleSetVersion sql.NullString
		modelVersion   sql.NullString
		reasons        pq.StringArray
	)
	err := row.Scan(&e.ID, &e.ChainID, &e.Seq, &e.DecisionID, &e.EventID, &e.Verdict, &score,
		&ruleSetVersion, &modelVersion, &reasons, &e.Degraded,
		&e.CreatedAt, &e.PrevHash, &e.Hash, &e.Signature)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := score.Float64
		e.Score = &v
	}
	e.RuleSetVersion = ruleSetVersion.String
	e.ModelVersion = modelVersion.String
	if len(reasons) > 0 {
		e.Reasons = []string(reasons)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func scoreArg(s *float64) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
