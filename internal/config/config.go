// Package config provides configuration types and loading for chatpilot.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Providers, Messenger, Autopilot, Scheduler, Export.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Messenger MessengerConfig `json:"messenger"`
	Autopilot AutopilotConfig `json:"autopilot"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Export    ExportConfig    `json:"export"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model settings.
type ModelConfig struct {
	Name          string  `json:"name" envconfig:"MODEL"`
	FallbackModel string  `json:"fallbackModel" envconfig:"FALLBACK_MODEL"`
	MaxTokens     int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature   float64 `json:"temperature" envconfig:"TEMPERATURE"`
	ToneProfile   string  `json:"toneProfile" envconfig:"TONE_PROFILE"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

// ProviderConfig contains settings for a single OpenAI-compatible provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Messenger – chat transports
// ---------------------------------------------------------------------------

// MessengerConfig selects and configures the chat transport.
type MessengerConfig struct {
	// Active selects the transport: bridge, slack or whatsapp.
	Active   string         `json:"active" envconfig:"MESSENGER"`
	Bridge   BridgeConfig   `json:"bridge"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// BridgeConfig configures the HTTP chat-aggregation bridge.
type BridgeConfig struct {
	URL   string `json:"url" envconfig:"BRIDGE_URL"`
	Token string `json:"token" envconfig:"BRIDGE_TOKEN"`
}

// SlackConfig configures the Slack transport.
type SlackConfig struct {
	BotToken string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
}

// WhatsAppConfig configures the native WhatsApp transport.
type WhatsAppConfig struct {
	DBPath string `json:"dbPath" envconfig:"WHATSAPP_DB_PATH"`
	QRPath string `json:"qrPath" envconfig:"WHATSAPP_QR_PATH"`
}

// ---------------------------------------------------------------------------
// Autopilot – engine behaviour
// ---------------------------------------------------------------------------

// AutopilotConfig groups engine tunables.
type AutopilotConfig struct {
	// ActiveHoursStart/End bound the time-of-day window ("HH:MM", local time)
	// outside which the engine defers action. Empty disables the gate.
	ActiveHoursStart string `json:"activeHoursStart" envconfig:"ACTIVE_HOURS_START"`
	ActiveHoursEnd   string `json:"activeHoursEnd" envconfig:"ACTIVE_HOURS_END"`

	// Self-driving countdown bounds. The scheduled send delay is drawn
	// uniformly from [Min, Max] so replies never look robotically instant.
	SelfDrivingMinDelay time.Duration `json:"selfDrivingMinDelay"`
	SelfDrivingMaxDelay time.Duration `json:"selfDrivingMaxDelay"`

	// ApprovalHold is how far in the future a manual-approval draft is parked.
	ApprovalHold time.Duration `json:"approvalHold"`

	// KnowledgeInterval triggers knowledge extraction every Nth handled message.
	KnowledgeInterval int `json:"knowledgeInterval" envconfig:"KNOWLEDGE_INTERVAL"`

	// GoalConfidenceThreshold is the minimum self-assessed confidence (0..1)
	// for a goal-completed transition.
	GoalConfidenceThreshold float64 `json:"goalConfidenceThreshold" envconfig:"GOAL_CONFIDENCE_THRESHOLD"`

	// ActivityRetention caps the per-chat activity log length.
	ActivityRetention int `json:"activityRetention" envconfig:"ACTIVITY_RETENTION"`

	// Behaviour knob probabilities (0..1).
	SimulateBusyChance float64 `json:"simulateBusyChance" envconfig:"SIMULATE_BUSY_CHANCE"`
	FatigueChance      float64 `json:"fatigueChance" envconfig:"FATIGUE_CHANCE"`
	// FatigueAfter is how many handled messages it takes before fatigue kicks in.
	FatigueAfter int `json:"fatigueAfter" envconfig:"FATIGUE_AFTER"`
	// ClosingAfter is the inactivity window after which a conversation-closing
	// suggestion is produced.
	ClosingAfter time.Duration `json:"closingAfter"`

	HistoryLimit int `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
}

// ---------------------------------------------------------------------------
// Scheduler – action execution
// ---------------------------------------------------------------------------

// SchedulerConfig holds action scheduler settings.
type SchedulerConfig struct {
	TickInterval   time.Duration `json:"tickInterval"`
	MaxConcSends   int           `json:"maxConcSends"`
	MaxSendRetries int           `json:"maxSendRetries" envconfig:"MAX_SEND_RETRIES"`
	LockPath       string        `json:"lockPath"`
}

// ---------------------------------------------------------------------------
// Export – event mirroring
// ---------------------------------------------------------------------------

// ExportConfig configures external observers of the event bus.
type ExportConfig struct {
	Kafka KafkaExportConfig `json:"kafka"`
}

// KafkaExportConfig mirrors bus events onto a Kafka topic.
type KafkaExportConfig struct {
	Enabled bool   `json:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers string `json:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string `json:"topic" envconfig:"KAFKA_TOPIC"`
}
