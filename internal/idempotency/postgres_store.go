package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// PostgresStore persists idempotency keys in PostgreSQL. The decision is
// stored denormalized as JSONB so a cached hit never joins back into the
// decisions table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, key string) (*decision.Decision, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT decision
		FROM idempotency_keys
		WHERE tenant_id = $1 AND idem_key = $2 AND expires_at > NOW()`,
		tenantID, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var d decision.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) Put(ctx context.Context, tenantID, key string, d *decision.Decision, ttl time.Duration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	// First decision wins: a concurrent writer that lost the race keeps the
	// original row so both callers observe the same decision.
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (tenant_id, idem_key, decision, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
		ON CONFLICT (tenant_id, idem_key) DO NOTHING`,
		tenantID, key, raw, time.Now().UTC().Add(ttl),
	)
	return err
}

// DeleteExpired removes keys past their retention window. Called from the
// maintenance loop.
func (p *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
