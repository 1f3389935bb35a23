package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatpilot/chatpilot/internal/knowledge"
)

// LoadKnowledge returns a chat's knowledge record, or (nil, nil) when none
// has been extracted yet.
func (s *Store) LoadKnowledge(chatID string) (*knowledge.ChatKnowledge, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM chat_knowledge WHERE chat_id = ?`, chatID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var k knowledge.ChatKnowledge
	if err := json.Unmarshal([]byte(payload), &k); err != nil {
		return nil, fmt.Errorf("decode knowledge for %s: %w", chatID, err)
	}
	k.ChatID = chatID
	return &k, nil
}

// SaveKnowledge upserts a chat's knowledge blob. Last writer wins.
func (s *Store) SaveKnowledge(k *knowledge.ChatKnowledge) error {
	payload, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("encode knowledge for %s: %w", k.ChatID, err)
	}
	_, err = s.db.Exec(`INSERT INTO chat_knowledge (chat_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		k.ChatID, string(payload), time.Now())
	return err
}
