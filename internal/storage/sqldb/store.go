// Package sqldb persists the dispatch audit log in SQLite.
package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/orbitalai/lumara-gateway/internal/storage"
)

// Store is a SQL-backed AuditStore.
type Store struct {
	db *sqlx.DB
}

var _ storage.AuditStore = (*Store)(nil)

// New opens (or creates) the SQLite database at dbPath and initializes
// the schema.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
id TEXT PRIMARY KEY,
identity_id TEXT NOT NULL,
provider TEXT NOT NULL,
model_id TEXT NOT NULL,
outcome TEXT NOT NULL,
latency_ms INTEGER NOT NULL,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_identity ON dispatches(identity_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordDispatch inserts one audit row. The row never contains request
// or response content, only routing metadata and the outcome.
func (s *Store) RecordDispatch(ctx context.Context, rec *storage.DispatchRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (id, identity_id, provider, model_id, outcome, latency_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IdentityID, rec.Provider, rec.ModelID, rec.Outcome, rec.LatencyMS, createdAt)
	if err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}
	return nil
}

// RecentByIdentity returns the most recent dispatches for an identity,
// newest first.
func (s *Store) RecentByIdentity(ctx context.Context, identityID string, limit int) ([]storage.DispatchRecord, error) {
	rows := []dispatchRow{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, identity_id, provider, model_id, outcome, latency_ms, created_at
FROM dispatches WHERE identity_id = ? ORDER BY created_at DESC LIMIT ?`,
		identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}

	recs := make([]storage.DispatchRecord, len(rows))
	for i, r := range rows {
		recs[i] = storage.DispatchRecord{
			ID:         r.ID,
			IdentityID: r.IdentityID,
			Provider:   r.Provider,
			ModelID:    r.ModelID,
			Outcome:    r.Outcome,
			LatencyMS:  r.LatencyMS,
			CreatedAt:  r.CreatedAt,
		}
	}
	return recs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type dispatchRow struct {
	ID         string    `db:"id"`
	IdentityID string    `db:"identity_id"`
	Provider   string    `db:"provider"`
	ModelID    string    `db:"model_id"`
	Outcome    string    `db:"outcome"`
	LatencyMS  int64     `db:"latency_ms"`
	CreatedAt  time.Time `db:"created_at"`
}
