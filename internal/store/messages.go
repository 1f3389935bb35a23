package store

// SaveChatMessage archives one transport message. Duplicate deliveries of the
// same message id are ignored.
func (s *Store) SaveChatMessage(m *ChatMessage) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO chat_messages
		(chat_id, message_id, sender_id, is_from_me, content, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.MessageID, m.SenderID, m.IsFromMe, m.Content, m.Timestamp)
	return err
}

// ListChatMessages returns up to limit archived messages for a chat, newest
// first.
func (s *Store) ListChatMessages(chatID string, limit int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT chat_id, message_id, sender_id, is_from_me, content, ts
		FROM chat_messages WHERE chat_id = ? ORDER BY ts DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.SenderID, &m.IsFromMe, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListArchivedChats returns the distinct chat ids in the archive, most
// recently active first.
func (s *Store) ListArchivedChats() ([]string, error) {
	rows, err := s.db.Query(`SELECT chat_id FROM chat_messages GROUP BY chat_id ORDER BY MAX(ts) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
