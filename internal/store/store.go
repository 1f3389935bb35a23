// Package store is the typed sqlite persistence layer for autopilot configs,
// scheduled actions, activity, knowledge, agents and the local chat archive.
// Each entity owns its own table; writes are last-writer-wins per key and not
// transactional across entities.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	// Best-effort migration for databases created before approval gating
	// moved onto the action row (no-op if the column exists).
	_, _ = db.Exec(`ALTER TABLE scheduled_actions ADD COLUMN approval_required BOOLEAN NOT NULL DEFAULT 0`)

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkProcessed records a message id as handled. Returns true when this call
// inserted the marker, false when the message was already processed. The
// INSERT OR IGNORE makes the check-and-set atomic, which is the engine's
// dedup exclusion point.
func (s *Store) MarkProcessed(chatID, messageID string) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO processed_messages (chat_id, message_id) VALUES (?, ?)`,
		chatID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnmarkProcessed removes a dedup marker so a message can be reprocessed
// (used by redo).
func (s *Store) UnmarkProcessed(chatID, messageID string) error {
	_, err := s.db.Exec(`DELETE FROM processed_messages WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	return err
}
