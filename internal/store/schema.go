package store

import (
	"fmt"
	"time"
)

// Mode controls how aggressively the autopilot acts without human confirmation.
type Mode string

const (
	ModeObserver       Mode = "observer"
	ModeSuggest        Mode = "suggest"
	ModeManualApproval Mode = "manual-approval"
	ModeSelfDriving    Mode = "self-driving"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeObserver, ModeSuggest, ModeManualApproval, ModeSelfDriving:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown autopilot mode %q", s)
}

// Status is the per-chat autopilot lifecycle state.
type Status string

const (
	StatusInactive      Status = "inactive"
	StatusActive        Status = "active"
	StatusPaused        Status = "paused"
	StatusError         Status = "error"
	StatusGoalCompleted Status = "goal-completed"
)

// ParseStatus validates a user-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusInactive, StatusActive, StatusPaused, StatusError, StatusGoalCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown autopilot status %q", s)
}

// GoalBehavior decides what happens when the agent's goal is reached.
type GoalBehavior string

const (
	GoalAutoDisable GoalBehavior = "auto-disable"
	GoalHandoff     GoalBehavior = "handoff"
	GoalContinue    GoalBehavior = "continue"
)

// ActionType classifies a scheduled action. Send-message is currently the
// only kind; the column exists so new kinds are an additive migration.
type ActionType string

const ActionSendMessage ActionType = "send-message"

// ActivityType tags an activity log entry so the UI can explain what the
// autopilot did, or why it deliberately did nothing.
type ActivityType string

const (
	ActivityMessageReceived ActivityType = "message-received"
	ActivityDraftGenerated  ActivityType = "draft-generated"
	ActivityMessageSent     ActivityType = "message-sent"
	ActivitySendFailed      ActivityType = "send-failed"
	ActivitySkippedBusy     ActivityType = "skipped-busy"
	ActivityFatigueReduced  ActivityType = "fatigue-reduced"
	ActivityClosing         ActivityType = "conversation-closing"
	ActivityGoalDetected    ActivityType = "goal-detected"
	ActivityHistoryLoading  ActivityType = "history-loading"
	ActivityHistoryComplete ActivityType = "history-complete"
	ActivityKnowledge       ActivityType = "knowledge-updated"
	ActivityError           ActivityType = "error"
)

// ChatConfig is the durable per-chat autopilot state. Created on first
// enable, mutated by the engine (status, counters) and the user (mode, agent,
// duration), never implicitly deleted.
type ChatConfig struct {
	ChatID                 string       `json:"chat_id"`
	Enabled                bool         `json:"enabled"`
	AgentID                string       `json:"agent_id"`
	Mode                   Mode         `json:"mode"`
	Status                 Status       `json:"status"`
	SelfDrivingDuration    int          `json:"self_driving_duration_minutes,omitempty"`
	SelfDrivingStartedAt   *time.Time   `json:"self_driving_started_at,omitempty"`
	SelfDrivingExpiresAt   *time.Time   `json:"self_driving_expires_at,omitempty"`
	MessagesHandled        int          `json:"messages_handled"`
	ErrorCount             int          `json:"error_count"`
	LastError              string       `json:"last_error,omitempty"`
	LastActivityAt         *time.Time   `json:"last_activity_at,omitempty"`
	GoalBehaviorOverride   GoalBehavior `json:"goal_behavior_override,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// SelfDrivingExpired reports whether a timed self-driving window has lapsed.
func (c *ChatConfig) SelfDrivingExpired(now time.Time) bool {
	return c.Mode == ModeSelfDriving && c.SelfDrivingExpiresAt != nil && now.After(*c.SelfDrivingExpiresAt)
}

// ScheduledAction is a durable, time-stamped future send operation awaiting
// execution or human approval. At most one pending action exists per chat.
type ScheduledAction struct {
	ID               string     `json:"id"`
	ChatID           string     `json:"chat_id"`
	Type             ActionType `json:"type"`
	MessageID        string     `json:"message_id,omitempty"` // absent for proactive sends
	MessageText      string     `json:"message_text"`
	ApprovalRequired bool       `json:"approval_required"`
	ScheduledFor     time.Time  `json:"scheduled_for"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ActivityEntry is an immutable autopilot log record.
type ActivityEntry struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chat_id"`
	AgentID     string         `json:"agent_id,omitempty"`
	Type        ActivityType   `json:"type"`
	DraftText   string         `json:"draft_text,omitempty"`
	MessageText string         `json:"message_text,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AgentBehavior holds the per-agent behavioural knobs applied by the engine.
type AgentBehavior struct {
	SimulateBusy       bool `json:"simulate_busy"`
	FatigueReduction   bool `json:"fatigue_reduction"`
	EmojiAcks          bool `json:"emoji_acks"`
	ClosingSuggestions bool `json:"closing_suggestions"`
}

// Agent is an immutable persona template referenced by id from ChatConfig.
type Agent struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Goal         string        `json:"goal,omitempty"`
	SystemPrompt string        `json:"system_prompt"`
	Behavior     AgentBehavior `json:"behavior"`
	GoalBehavior GoalBehavior  `json:"goal_completion_behavior"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ChatMessage is one archived transport message, backing thread context and
// the ListMessages capability for event-driven transports.
type ChatMessage struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id,omitempty"`
	IsFromMe  bool      `json:"is_from_me"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Schema is applied on open. Migrations for older databases are best-effort
// ALTERs in Open.
const Schema = `
CREATE TABLE IF NOT EXISTS autopilot_configs (
	chat_id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 0,
	agent_id TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'observer',
	status TEXT NOT NULL DEFAULT 'inactive',
	self_driving_duration INTEGER NOT NULL DEFAULT 0,
	self_driving_started_at DATETIME,
	self_driving_expires_at DATETIME,
	messages_handled INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	last_activity_at DATETIME,
	goal_behavior_override TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scheduled_actions (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	action_type TEXT NOT NULL DEFAULT 'send-message',
	message_id TEXT NOT NULL DEFAULT '',
	message_text TEXT NOT NULL,
	approval_required BOOLEAN NOT NULL DEFAULT 0,
	scheduled_for DATETIME NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_actions_chat ON scheduled_actions(chat_id);
CREATE INDEX IF NOT EXISTS idx_actions_due ON scheduled_actions(scheduled_for);

CREATE TABLE IF NOT EXISTS autopilot_activity (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	activity_type TEXT NOT NULL,
	draft_text TEXT NOT NULL DEFAULT '',
	message_text TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_activity_chat ON autopilot_activity(chat_id, created_at);

CREATE TABLE IF NOT EXISTS chat_knowledge (
	chat_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS autopilot_agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	goal TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	behavior TEXT NOT NULL DEFAULT '{}',
	goal_behavior TEXT NOT NULL DEFAULT 'continue',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS processed_messages (
	chat_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, message_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	chat_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	sender_id TEXT NOT NULL DEFAULT '',
	is_from_me BOOLEAN NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	ts DATETIME NOT NULL,
	PRIMARY KEY (chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_ts ON chat_messages(chat_id, ts);
`
