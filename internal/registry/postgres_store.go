package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

const DefaultSnapshotTable = "model_snapshots"

// PostgresStore keeps one snapshot row per name.
type PostgresStore struct {
	db    *sql.DB
	table string
	name  string
}

func NewPostgresStore(db *sql.DB, name string) *PostgresStore {
	if name == "" {
		name = "default"
	}
	return &PostgresStore{
		db:    db,
		table: pq.QuoteIdentifier(DefaultSnapshotTable),
		name:  name,
	}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			models JSONB NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL
		)
	`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	query := fmt.Sprintf(`SELECT models, saved_at FROM %s WHERE name = $1`, s.table)

	var raw []byte
	var snap Snapshot
	err := s.db.QueryRowContext(ctx, query, s.name).Scan(&raw, &snap.SavedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, &snap.Models); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap.Models)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (name, models, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET models = EXCLUDED.models, saved_at = EXCLUDED.saved_at
	`, s.table)

	if _, err := s.db.ExecContext(ctx, query, s.name, raw, snap.SavedAt); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}
