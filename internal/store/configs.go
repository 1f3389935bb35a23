package store

import (
	"database/sql"
	"errors"
	"time"
)

// GetChatConfig loads one chat's autopilot config. Returns (nil, nil) when
// the chat has never had autopilot enabled.
func (s *Store) GetChatConfig(chatID string) (*ChatConfig, error) {
	row := s.db.QueryRow(`SELECT chat_id, enabled, agent_id, mode, status,
		self_driving_duration, self_driving_started_at, self_driving_expires_at,
		messages_handled, error_count, last_error, last_activity_at,
		goal_behavior_override, created_at, updated_at
		FROM autopilot_configs WHERE chat_id = ?`, chatID)

	cfg, err := scanChatConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cfg, err
}

// SaveChatConfig upserts a chat config.
func (s *Store) SaveChatConfig(cfg *ChatConfig) error {
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := s.db.Exec(`INSERT INTO autopilot_configs
		(chat_id, enabled, agent_id, mode, status,
		 self_driving_duration, self_driving_started_at, self_driving_expires_at,
		 messages_handled, error_count, last_error, last_activity_at,
		 goal_behavior_override, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
		 enabled = excluded.enabled,
		 agent_id = excluded.agent_id,
		 mode = excluded.mode,
		 status = excluded.status,
		 self_driving_duration = excluded.self_driving_duration,
		 self_driving_started_at = excluded.self_driving_started_at,
		 self_driving_expires_at = excluded.self_driving_expires_at,
		 messages_handled = excluded.messages_handled,
		 error_count = excluded.error_count,
		 last_error = excluded.last_error,
		 last_activity_at = excluded.last_activity_at,
		 goal_behavior_override = excluded.goal_behavior_override,
		 updated_at = excluded.updated_at`,
		cfg.ChatID, cfg.Enabled, cfg.AgentID, string(cfg.Mode), string(cfg.Status),
		cfg.SelfDrivingDuration, nullTime(cfg.SelfDrivingStartedAt), nullTime(cfg.SelfDrivingExpiresAt),
		cfg.MessagesHandled, cfg.ErrorCount, cfg.LastError, nullTime(cfg.LastActivityAt),
		string(cfg.GoalBehaviorOverride), cfg.CreatedAt, cfg.UpdatedAt)
	return err
}

// ListChatConfigs returns every chat config, most recently updated first.
func (s *Store) ListChatConfigs() ([]*ChatConfig, error) {
	return s.queryConfigs(`SELECT chat_id, enabled, agent_id, mode, status,
		self_driving_duration, self_driving_started_at, self_driving_expires_at,
		messages_handled, error_count, last_error, last_activity_at,
		goal_behavior_override, created_at, updated_at
		FROM autopilot_configs ORDER BY updated_at DESC`)
}

// ListConfigsByStatus returns chat configs in the given status.
func (s *Store) ListConfigsByStatus(status Status) ([]*ChatConfig, error) {
	return s.queryConfigs(`SELECT chat_id, enabled, agent_id, mode, status,
		self_driving_duration, self_driving_started_at, self_driving_expires_at,
		messages_handled, error_count, last_error, last_activity_at,
		goal_behavior_override, created_at, updated_at
		FROM autopilot_configs WHERE status = ? ORDER BY updated_at DESC`, string(status))
}

func (s *Store) queryConfigs(query string, args ...any) ([]*ChatConfig, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChatConfig
	for rows.Next() {
		cfg, err := scanChatConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatConfig(row rowScanner) (*ChatConfig, error) {
	var cfg ChatConfig
	var mode, status, override string
	var startedAt, expiresAt, lastActivity sql.NullTime

	err := row.Scan(&cfg.ChatID, &cfg.Enabled, &cfg.AgentID, &mode, &status,
		&cfg.SelfDrivingDuration, &startedAt, &expiresAt,
		&cfg.MessagesHandled, &cfg.ErrorCount, &cfg.LastError, &lastActivity,
		&override, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cfg.Mode = Mode(mode)
	cfg.Status = Status(status)
	cfg.GoalBehaviorOverride = GoalBehavior(override)
	if startedAt.Valid {
		cfg.SelfDrivingStartedAt = &startedAt.Time
	}
	if expiresAt.Valid {
		cfg.SelfDrivingExpiresAt = &expiresAt.Time
	}
	if lastActivity.Valid {
		cfg.LastActivityAt = &lastActivity.Time
	}
	return &cfg, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
