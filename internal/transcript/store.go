// Package transcript persists interview turns asynchronously. Saves go
// through a lossy fire-and-forget queue so a slow or broken store never
// stalls the audio path.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Speaker values for stored turns.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Store persists individual interview turns.
type Store interface {
	SaveTurn(ctx context.Context, sessionID, speaker, text string) error
	Ping(ctx context.Context) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	speaker    TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database: %w", err)
	}

	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize transcript schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveTurn inserts one turn.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sessionID, speaker, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, speaker, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, speaker, text, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// SessionTurns returns all turns for a session in insertion order.
func (s *SQLiteStore) SessionTurns(ctx context.Context, sessionID string) ([]StoredTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker, text, created_at FROM transcripts WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []StoredTurn
	for rows.Next() {
		var t StoredTurn
		if err := rows.Scan(&t.Speaker, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// StoredTurn is one persisted row.
type StoredTurn struct {
	Speaker   string
	Text      string
	CreatedAt time.Time
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
