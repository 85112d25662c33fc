package velocity

import (
	"context"
	"database/sql"
)

// PostgresListStore persists deny/allow list entries in PostgreSQL. Counter
// aggregates stay in the cache tier; only lists need durable storage.
type PostgresListStore struct {
	db *sql.DB
}

// NewPostgresListStore creates a list store backed by PostgreSQL.
func NewPostgresListStore(db *sql.DB) *PostgresListStore {
	return &PostgresListStore{db: db}
}

func (s *PostgresListStore) Add(ctx context.Context, listID, value, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO list_entries (list_id, value, reason, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (list_id, value) DO UPDATE SET reason = EXCLUDED.reason
	`, listID, value, reason)
	return err
}

func (s *PostgresListStore) Remove(ctx context.Context, listID, value string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM list_entries WHERE list_id = $1 AND value = $2
	`, listID, value)
	return err
}

func (s *PostgresListStore) Contains(ctx context.Context, listID, value string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM list_entries WHERE list_id = $1 AND value = $2)
	`, listID, value).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
