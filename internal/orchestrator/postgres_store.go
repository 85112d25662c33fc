package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/pagination"
)

// PostgresDecisionStore persists decisions in PostgreSQL. Matches, reasons,
// and the latency breakdown are stored as JSONB; the scalar columns exist
// for querying.
type PostgresDecisionStore struct {
	db *sql.DB
}

// NewPostgresDecisionStore creates a new PostgreSQL-backed decision store.
func NewPostgresDecisionStore(db *sql.DB) *PostgresDecisionStore {
	return &PostgresDecisionStore{db: db}
}

func (p *PostgresDecisionStore) Create(ctx context.Context, d *decision.Decision) error {
	matchesJSON, _ := json.Marshal(d.Matches)
	if d.Matches == nil {
		matchesJSON = []byte("[]")
	}
	reasonsJSON, _ := json.Marshal(d.Reasons)
	if d.Reasons == nil {
		reasonsJSON = []byte("[]")
	}
	latencyJSON, _ := json.Marshal(d.Latency)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, event_id, tenant_id, verdict, score, model_version,
			rule_set_version, matches, reasons, strong_auth, degraded,
			latency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.EventID, d.TenantID, string(d.Verdict), scoreArg(d.Score),
		nullString(d.ModelVersion), nullString(d.RuleSetVersion),
		matchesJSON, reasonsJSON, d.StrongAuth, d.Degraded,
		latencyJSON, d.CreatedAt,
	)
	return err
}

const decisionColumns = `id, event_id, tenant_id, verdict, score, model_version,
		       rule_set_version, matches, reasons, strong_auth, degraded,
		       latency, created_at`

func (p *PostgresDecisionStore) Get(ctx context.Context, tenantID, id string) (*decision.Decision, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+`
		FROM decisions
		WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, ErrDecisionNotFound
	}
	return d, err
}

func (p *PostgresDecisionStore) ListByEvent(ctx context.Context, tenantID, eventID string) ([]*decision.Decision, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+decisionColumns+`
		FROM decisions
		WHERE tenant_id = $1 AND event_id = $2
		ORDER BY created_at ASC`, tenantID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresDecisionStore) ListByTenant(ctx context.Context, tenantID string, before *pagination.Cursor, limit int) ([]*decision.Decision, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+decisionColumns+`
			FROM decisions
			WHERE tenant_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, tenantID, before.CreatedAt, before.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+decisionColumns+`
			FROM decisions
			WHERE tenant_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row scanner) (*decision.Decision, error) {
	var (
		d              decision.Decision
		verdict        string
		score          sql.NullFloat64
		modelVersion   sql.NullString
		ruleSetVersion sql.NullString
		matchesJSON    []byte
		reasonsJSON    []byte
		latencyJSON    []byte
	)
	err := row.Scan(&d.ID, &d.EventID, &d.TenantID, &verdict, &score, &modelVersion,
		&ruleSetVersion, &matchesJSON, &reasonsJSON, &d.StrongAuth, &d.Degraded,
		&latencyJSON, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Verdict = decision.Verdict(verdict)
	if score.Valid {
		v := score.Float64
		d.Score = &v
	}
	d.ModelVersion = modelVersion.String
	d.RuleSetVersion = ruleSetVersion.String
	_ = json.Unmarshal(matchesJSON, &d.Matches)
	_ = json.Unmarshal(reasonsJSON, &d.Reasons)
	_ = json.Unmarshal(latencyJSON, &d.Latency)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
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
