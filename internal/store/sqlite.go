package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_messages (
	id           TEXT PRIMARY KEY,
	processed_at TIMESTAMP NOT NULL
)`

// SQLiteProcessedStore keeps processed message IDs in a SQLite database.
type SQLiteProcessedStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteProcessedStore opens (creating if needed) the database at path.
func OpenSQLiteProcessedStore(ctx context.Context, path string) (*SQLiteProcessedStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open processed messages database: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create processed messages table: %w", err)
	}

	return &SQLiteProcessedStore{db: db, now: time.Now}, nil
}

// IsProcessed reports whether id has been recorded.
func (s *SQLiteProcessedStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_messages WHERE id = ?`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query processed messages: %w", err)
	}
	return true, nil
}

// MarkProcessed records id. Recording an ID twice keeps the first timestamp.
func (s *SQLiteProcessedStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (id, processed_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		id, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record processed message: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteProcessedStore) Close() error {
	return s.db.Close()
}
