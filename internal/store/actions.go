package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ReplacePendingAction inserts a scheduled action after deleting any prior
// pending action for the same chat, in one transaction. This is how the
// single-pending-action invariant holds by construction: a new draft always
// supersedes the old one instead of queuing alongside it.
func (s *Store) ReplacePendingAction(a *ScheduledAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Type == "" {
		a.Type = ActionSendMessage
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scheduled_actions WHERE chat_id = ?`, a.ChatID); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO scheduled_actions
		(id, chat_id, action_type, message_id, message_text, approval_required, scheduled_for, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ChatID, string(a.Type), a.MessageID, a.MessageText, a.ApprovalRequired, a.ScheduledFor, a.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// GetPendingAction returns the chat's pending action, or (nil, nil). If the
// invariant was ever violated the newest action wins and older rows are
// discarded.
func (s *Store) GetPendingAction(chatID string) (*ScheduledAction, error) {
	actions, err := s.queryActions(`SELECT id, chat_id, action_type, message_id, message_text,
		approval_required, scheduled_for, created_at
		FROM scheduled_actions WHERE chat_id = ? ORDER BY created_at DESC`, chatID)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}
	if len(actions) > 1 {
		// Should not occur by construction; keep the newest.
		for _, stale := range actions[1:] {
			_, _ = s.db.Exec(`DELETE FROM scheduled_actions WHERE id = ?`, stale.ID)
		}
	}
	return actions[0], nil
}

// GetAction loads an action by id, or (nil, nil).
func (s *Store) GetAction(id string) (*ScheduledAction, error) {
	actions, err := s.queryActions(`SELECT id, chat_id, action_type, message_id, message_text,
		approval_required, scheduled_for, created_at
		FROM scheduled_actions WHERE id = ?`, id)
	if err != nil || len(actions) == 0 {
		return nil, err
	}
	return actions[0], nil
}

// ListDueActions returns actions whose scheduled time has arrived, oldest
// first.
func (s *Store) ListDueActions(now time.Time) ([]*ScheduledAction, error) {
	return s.queryActions(`SELECT id, chat_id, action_type, message_id, message_text,
		approval_required, scheduled_for, created_at
		FROM scheduled_actions WHERE scheduled_for <= ? ORDER BY scheduled_for ASC`, now)
}

// ListPendingActions returns every pending action across chats.
func (s *Store) ListPendingActions() ([]*ScheduledAction, error) {
	return s.queryActions(`SELECT id, chat_id, action_type, message_id, message_text,
		approval_required, scheduled_for, created_at
		FROM scheduled_actions ORDER BY scheduled_for ASC`)
}

// RescheduleAction moves an action's execution time. Approval rewrites the
// time to now; the very next scheduler tick then executes it.
func (s *Store) RescheduleAction(id string, at time.Time, approvalRequired bool) error {
	res, err := s.db.Exec(`UPDATE scheduled_actions SET scheduled_for = ?, approval_required = ? WHERE id = ?`,
		at, approvalRequired, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteAction removes an action by id.
func (s *Store) DeleteAction(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_actions WHERE id = ?`, id)
	return err
}

// DeleteActionsForChat cancels all pending actions for a chat (disable path).
func (s *Store) DeleteActionsForChat(chatID string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_actions WHERE chat_id = ?`, chatID)
	return err
}

func (s *Store) queryActions(query string, args ...any) ([]*ScheduledAction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledAction
	for rows.Next() {
		var a ScheduledAction
		var actionType string
		if err := rows.Scan(&a.ID, &a.ChatID, &actionType, &a.MessageID, &a.MessageText,
			&a.ApprovalRequired, &a.ScheduledFor, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = ActionType(actionType)
		out = append(out, &a)
	}
	return out, rows.Err()
}
