package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AppendActivity writes an immutable activity entry.
func (s *Store) AppendActivity(e *ActivityEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	meta := "{}"
	if len(e.Metadata) > 0 {
		if data, err := json.Marshal(e.Metadata); err == nil {
			meta = string(data)
		}
	}

	_, err := s.db.Exec(`INSERT INTO autopilot_activity
		(id, chat_id, agent_id, activity_type, draft_text, message_text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChatID, e.AgentID, string(e.Type), e.DraftText, e.MessageText, meta, e.Timestamp)
	return err
}

// ListActivity returns a chat's activity, newest first.
func (s *Store) ListActivity(chatID string, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, chat_id, agent_id, activity_type, draft_text, message_text, metadata, created_at
		FROM autopilot_activity WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var activityType, meta string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.AgentID, &activityType,
			&e.DraftText, &e.MessageText, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = ActivityType(activityType)
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LatestActivity returns the newest entry for a chat, or (nil, nil).
func (s *Store) LatestActivity(chatID string) (*ActivityEntry, error) {
	entries, err := s.ListActivity(chatID, 1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// TrimActivity drops a chat's oldest entries beyond the retention limit.
func (s *Store) TrimActivity(chatID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM autopilot_activity
		WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM autopilot_activity WHERE chat_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`, chatID, chatID, keep)
	return err
}

// TrimAllActivity applies retention to every chat with activity.
func (s *Store) TrimAllActivity(keep int) error {
	rows, err := s.db.Query(`SELECT DISTINCT chat_id FROM autopilot_activity`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var chats []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		chats = append(chats, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, chatID := range chats {
		if err := s.TrimActivity(chatID, keep); err != nil {
			return err
		}
	}
	return nil
}
