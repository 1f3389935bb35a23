// Package scheduler executes due scheduled actions: a recurring tick walks
// pending actions, sends the ones whose time has arrived and reconciles the
// outcome back into the chat's autopilot config and activity log.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/messenger"
	"github.com/chatpilot/chatpilot/internal/store"
)

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() config.SchedulerConfig {
	home, _ := os.UserHomeDir()
	return config.SchedulerConfig{
		TickInterval:   5 * time.Second,
		MaxConcSends:   3,
		MaxSendRetries: 3,
		LockPath:       filepath.Join(home, ".chatpilot", "scheduler.lock"),
	}
}

// Scheduler ticks over pending actions and executes the due ones through the
// send capability. Sends run behind a counting semaphore; at most one action
// executes per chat at a time, and a file lock prevents a second daemon
// instance from double-sending.
type Scheduler struct {
	cfg       config.SchedulerConfig
	store     *store.Store
	bus       *bus.Bus
	messenger messenger.Messenger
	sem       *Semaphore
	lock      *FileLock

	mu        sync.Mutex
	executing map[string]bool // chat id -> action in flight
	wg        sync.WaitGroup

	now func() time.Time
}

// New creates a Scheduler.
func New(cfg config.SchedulerConfig, st *store.Store, b *bus.Bus, m messenger.Messenger) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxConcSends <= 0 {
		cfg.MaxConcSends = def.MaxConcSends
	}
	if cfg.MaxSendRetries <= 0 {
		cfg.MaxSendRetries = def.MaxSendRetries
	}
	if cfg.LockPath == "" {
		cfg.LockPath = def.LockPath
	}

	return &Scheduler{
		cfg:       cfg,
		store:     st,
		bus:       b,
		messenger: m,
		sem:       NewSemaphore(cfg.MaxConcSends),
		lock:      NewFileLock(cfg.LockPath),
		executing: make(map[string]bool),
		now:       time.Now,
	}
}

// Run starts the tick loop. Blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.Tick(ctx, t)
		}
	}
}

// Tick runs one scheduling pass. Exported so the daemon can trigger an
// immediate pass right after an approval.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("Scheduler tick skipped: lock held by another process")
		return
	}
	defer s.lock.Unlock()

	due, err := s.store.ListDueActions(now)
	if err != nil {
		slog.Error("Due action listing failed", "error", err)
		return
	}
	if len(due) > 0 {
		slog.Debug("Scheduler tick", "due", len(due), "free_slots", s.sem.Available())
	}

	for _, action := range due {
		cfg, err := s.store.GetChatConfig(action.ChatID)
		if err != nil {
			slog.Error("Config load failed", "chat_id", action.ChatID, "error", err)
			continue
		}
		// Only active chats send. Error and paused chats keep their action
		// parked until a human resumes or rejects.
		if cfg == nil || !cfg.Enabled || cfg.Status != store.StatusActive {
			continue
		}
		if !s.markExecuting(action.ChatID) {
			// A previous tick's send for this chat is still in flight.
			continue
		}
		if !s.sem.TryAcquire() {
			s.unmarkExecuting(action.ChatID)
			slog.Debug("Send deferred: concurrency limit", "chat_id", action.ChatID)
			continue
		}

		s.wg.Add(1)
		go func(a *store.ScheduledAction, c *store.ChatConfig) {
			defer s.wg.Done()
			defer s.sem.Release()
			defer s.unmarkExecuting(a.ChatID)
			s.execute(ctx, a, c)
		}(action, cfg)
	}
}

// markExecuting is the check-and-set guard ensuring at most one action
// executes per chat, even under re-entrant ticking.
func (s *Scheduler) markExecuting(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executing[chatID] {
		return false
	}
	s.executing[chatID] = true
	return true
}

func (s *Scheduler) unmarkExecuting(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.executing, chatID)
}

func (s *Scheduler) execute(ctx context.Context, action *store.ScheduledAction, cfg *store.ChatConfig) {
	messageID, err := s.messenger.SendMessage(ctx, action.ChatID, action.MessageText)
	now := s.now()

	if err != nil {
		slog.Warn("Send failed", "chat_id", action.ChatID, "action_id", action.ID, "error", err)
		s.appendActivity(&store.ActivityEntry{
			ChatID:      action.ChatID,
			AgentID:     cfg.AgentID,
			Type:        store.ActivitySendFailed,
			MessageText: action.MessageText,
			Metadata:    map[string]any{"error": err.Error()},
		})
		cfg.ErrorCount++
		cfg.LastError = err.Error()
		// The action stays in place and is retried next tick until the
		// failure budget is spent; then the chat needs a human resume.
		if cfg.ErrorCount >= s.cfg.MaxSendRetries {
			cfg.Status = store.StatusError
			slog.Error("Chat moved to error after repeated send failures",
				"chat_id", action.ChatID, "failures", cfg.ErrorCount)
		}
		s.saveConfig(cfg)
		return
	}

	if err := s.store.DeleteAction(action.ID); err != nil {
		slog.Error("Action cleanup failed", "action_id", action.ID, "error", err)
	}
	s.appendActivity(&store.ActivityEntry{
		ChatID:      action.ChatID,
		AgentID:     cfg.AgentID,
		Type:        store.ActivityMessageSent,
		MessageText: action.MessageText,
		Metadata: map[string]any{
			"message_id":       messageID,
			"manuallyApproved": action.ApprovalRequired,
		},
	})

	cfg.MessagesHandled++
	cfg.ErrorCount = 0
	cfg.LastError = ""
	cfg.LastActivityAt = &now
	s.saveConfig(cfg)

	s.bus.Emit(bus.Event{
		Type:   bus.EventActionExecuted,
		ChatID: action.ChatID,
		Payload: map[string]any{
			"action_id":  action.ID,
			"message_id": messageID,
		},
	})
}

// SecondsUntilNext reports the countdown to a chat's pending action for UI
// display. Read-only; returns ok=false when nothing is pending. A due-but-not-
// yet-executed action reports zero.
func (s *Scheduler) SecondsUntilNext(chatID string) (int64, bool, error) {
	action, err := s.store.GetPendingAction(chatID)
	if err != nil {
		return 0, false, err
	}
	if action == nil {
		return 0, false, nil
	}
	secs := int64(action.ScheduledFor.Sub(s.now()) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return secs, true, nil
}

func (s *Scheduler) appendActivity(entry *store.ActivityEntry) {
	if err := s.store.AppendActivity(entry); err != nil {
		slog.Error("Activity append failed", "chat_id", entry.ChatID, "error", err)
		return
	}
	s.bus.Emit(bus.Event{
		Type:    bus.EventActivityAdded,
		ChatID:  entry.ChatID,
		Payload: map[string]any{"activity_type": string(entry.Type)},
	})
}

func (s *Scheduler) saveConfig(cfg *store.ChatConfig) {
	if err := s.store.SaveChatConfig(cfg); err != nil {
		slog.Error("Config save failed", "chat_id", cfg.ChatID, "error", err)
		return
	}
	s.bus.Emit(bus.Event{
		Type:   bus.EventConfigChanged,
		ChatID: cfg.ChatID,
		Payload: map[string]any{
			"status": string(cfg.Status),
			"mode":   string(cfg.Mode),
		},
	})
}
