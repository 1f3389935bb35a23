package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".chatpilot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix is the envconfig prefix for overrides.
	EnvPrefix = "CHATPILOT"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CHATPILOT_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file (if present), applies defaults, then overlays
// environment variables with the CHATPILOT prefix. A missing file is not an
// error; defaults plus environment win.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return cfg, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return cfg, fmt.Errorf("env overlay: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to its canonical location.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Default returns the configuration defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ConfigDir)
	return &Config{
		Paths: PathsConfig{
			DataDir: dataDir,
			DBPath:  filepath.Join(dataDir, "chatpilot.db"),
		},
		Model: ModelConfig{
			Name:          "anthropic/claude-sonnet-4-5",
			FallbackModel: "openai/gpt-4o-mini",
			MaxTokens:     1024,
			Temperature:   0.7,
		},
		Messenger: MessengerConfig{
			Active: "bridge",
			WhatsApp: WhatsAppConfig{
				DBPath: filepath.Join(dataDir, "whatsapp.db"),
				QRPath: filepath.Join(dataDir, "whatsapp-qr.png"),
			},
		},
		Autopilot: AutopilotConfig{
			SelfDrivingMinDelay:     45 * time.Second,
			SelfDrivingMaxDelay:     180 * time.Second,
			ApprovalHold:            24 * time.Hour,
			KnowledgeInterval:       5,
			GoalConfidenceThreshold: 0.70,
			ActivityRetention:       500,
			SimulateBusyChance:      0.08,
			FatigueChance:           0.25,
			FatigueAfter:            12,
			ClosingAfter:            6 * time.Hour,
			HistoryLimit:            100,
		},
		Scheduler: SchedulerConfig{
			TickInterval:   5 * time.Second,
			MaxConcSends:   3,
			MaxSendRetries: 3,
			LockPath:       filepath.Join(dataDir, "scheduler.lock"),
		},
		Export: ExportConfig{
			Kafka: KafkaExportConfig{Topic: "chatpilot.events"},
		},
	}
}

// applyDefaults fills zero values after file/env merging.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = d.Paths.DataDir
	}
	if c.Paths.DBPath == "" {
		c.Paths.DBPath = filepath.Join(c.Paths.DataDir, "chatpilot.db")
	}
	if c.Model.Name == "" {
		c.Model.Name = d.Model.Name
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = d.Model.MaxTokens
	}
	if c.Messenger.Active == "" {
		c.Messenger.Active = d.Messenger.Active
	}
	if c.Messenger.WhatsApp.DBPath == "" {
		c.Messenger.WhatsApp.DBPath = filepath.Join(c.Paths.DataDir, "whatsapp.db")
	}
	if c.Messenger.WhatsApp.QRPath == "" {
		c.Messenger.WhatsApp.QRPath = filepath.Join(c.Paths.DataDir, "whatsapp-qr.png")
	}
	if c.Autopilot.SelfDrivingMinDelay <= 0 {
		c.Autopilot.SelfDrivingMinDelay = d.Autopilot.SelfDrivingMinDelay
	}
	if c.Autopilot.SelfDrivingMaxDelay < c.Autopilot.SelfDrivingMinDelay {
		c.Autopilot.SelfDrivingMaxDelay = c.Autopilot.SelfDrivingMinDelay
	}
	if c.Autopilot.ApprovalHold <= 0 {
		c.Autopilot.ApprovalHold = d.Autopilot.ApprovalHold
	}
	if c.Autopilot.KnowledgeInterval <= 0 {
		c.Autopilot.KnowledgeInterval = d.Autopilot.KnowledgeInterval
	}
	if c.Autopilot.GoalConfidenceThreshold <= 0 {
		c.Autopilot.GoalConfidenceThreshold = d.Autopilot.GoalConfidenceThreshold
	}
	if c.Autopilot.ActivityRetention <= 0 {
		c.Autopilot.ActivityRetention = d.Autopilot.ActivityRetention
	}
	if c.Autopilot.FatigueAfter <= 0 {
		c.Autopilot.FatigueAfter = d.Autopilot.FatigueAfter
	}
	if c.Autopilot.ClosingAfter <= 0 {
		c.Autopilot.ClosingAfter = d.Autopilot.ClosingAfter
	}
	if c.Autopilot.HistoryLimit <= 0 {
		c.Autopilot.HistoryLimit = d.Autopilot.HistoryLimit
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = d.Scheduler.TickInterval
	}
	if c.Scheduler.MaxConcSends <= 0 {
		c.Scheduler.MaxConcSends = d.Scheduler.MaxConcSends
	}
	if c.Scheduler.MaxSendRetries <= 0 {
		c.Scheduler.MaxSendRetries = d.Scheduler.MaxSendRetries
	}
	if c.Scheduler.LockPath == "" {
		c.Scheduler.LockPath = filepath.Join(c.Paths.DataDir, "scheduler.lock")
	}
	if c.Export.Kafka.Topic == "" {
		c.Export.Kafka.Topic = d.Export.Kafka.Topic
	}
}
