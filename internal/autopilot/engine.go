// Package autopilot implements the per-chat autonomous agent: a state machine
// that observes incoming messages, decides whether and when to draft a reply,
// accumulates knowledge about each conversation and hands control back to a
// human when its goal is reached or it errors.
package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/messenger"
	"github.com/chatpilot/chatpilot/internal/pipeline"
	"github.com/chatpilot/chatpilot/internal/store"
)

// Dispatcher is the completion pipeline the engine drives. Satisfied by
// *pipeline.Dispatcher.
type Dispatcher interface {
	Execute(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Engine orchestrates every chat's autopilot: it consumes inbound messages
// from the bus, advances each chat's state machine and writes drafts into the
// scheduled action queue. Chats are independent; one chat's failure never
// stops the others.
type Engine struct {
	store     *store.Store
	bus       *bus.Bus
	dispatch  Dispatcher
	messenger messenger.Messenger
	cfg       config.AutopilotConfig

	// chatMu serializes all processing for a single chat. No two drafts or
	// state transitions may be in flight for the same chat at once.
	mu      sync.Mutex
	chatMu  map[string]*sync.Mutex
	running sync.WaitGroup

	// Injected for determinism in tests.
	now       func() time.Time
	randFloat func() float64
}

// New creates an Engine.
func New(st *store.Store, b *bus.Bus, d Dispatcher, m messenger.Messenger, cfg config.AutopilotConfig) *Engine {
	return &Engine{
		store:     st,
		bus:       b,
		dispatch:  d,
		messenger: m,
		cfg:       cfg,
		chatMu:    make(map[string]*sync.Mutex),
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Run consumes the inbound message queue until the context is canceled. Each
// message is handled on its own goroutine so a slow completion call for one
// chat never delays the others; the per-chat lock keeps a single chat's
// processing serialized.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("Autopilot engine started")
	for {
		msg, err := e.bus.ConsumeInbound(ctx)
		if err != nil {
			e.running.Wait()
			slog.Info("Autopilot engine stopped")
			return err
		}
		e.running.Add(1)
		go func(m *bus.InboundMessage) {
			defer e.running.Done()
			if err := e.HandleIncomingMessage(ctx, m, false); err != nil {
				slog.Error("Message handling failed", "chat_id", m.ChatID, "error", err)
			}
		}(msg)
	}
}

func (e *Engine) lockChat(chatID string) func() {
	e.mu.Lock()
	m, ok := e.chatMu[chatID]
	if !ok {
		m = &sync.Mutex{}
		e.chatMu[chatID] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Enable turns autopilot on for a chat, creating its config on first use.
// A self-driving duration (minutes) arms the expiry window. The latest unread
// incoming message is force-processed immediately so the user sees a reaction
// right after enabling; with no unread message the agent opens proactively.
func (e *Engine) Enable(ctx context.Context, chatID, agentID string, mode store.Mode, durationMinutes int) error {
	unlock := e.lockChat(chatID)

	cfg, err := e.store.GetChatConfig(chatID)
	if err != nil {
		unlock()
		return err
	}
	now := e.now()
	if cfg == nil {
		cfg = &store.ChatConfig{ChatID: chatID, CreatedAt: now}
	}

	cfg.Enabled = true
	cfg.AgentID = agentID
	cfg.Mode = mode
	cfg.Status = store.StatusActive
	cfg.ErrorCount = 0
	cfg.LastError = ""
	cfg.SelfDrivingStartedAt = nil
	cfg.SelfDrivingExpiresAt = nil
	cfg.SelfDrivingDuration = 0
	if mode == store.ModeSelfDriving && durationMinutes > 0 {
		expires := now.Add(time.Duration(durationMinutes) * time.Minute)
		cfg.SelfDrivingDuration = durationMinutes
		cfg.SelfDrivingStartedAt = &now
		cfg.SelfDrivingExpiresAt = &expires
	}
	if err := e.saveConfig(cfg); err != nil {
		unlock()
		return err
	}
	unlock()

	// React immediately: reply to the newest unread incoming message, or open
	// the conversation when there is nothing to reply to.
	last, err := e.latestIncoming(ctx, chatID)
	if err != nil {
		slog.Warn("Could not inspect chat on enable", "chat_id", chatID, "error", err)
		return nil
	}
	if last == nil {
		return e.GenerateProactiveMessage(ctx, chatID)
	}
	return e.HandleIncomingMessage(ctx, last, true)
}

func (e *Engine) latestIncoming(ctx context.Context, chatID string) (*bus.InboundMessage, error) {
	msgs, err := e.messenger.ListMessages(ctx, chatID, 10)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.IsFromMe {
			return nil, nil // we already replied; nothing unread
		}
		return &bus.InboundMessage{
			ChatID:    chatID,
			MessageID: m.ID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}, nil
	}
	return nil, nil
}

// Disable turns autopilot off and cancels all pending actions for the chat.
// The config row and its history are retained.
func (e *Engine) Disable(chatID string) error {
	unlock := e.lockChat(chatID)
	defer unlock()

	cfg, err := e.store.GetChatConfig(chatID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("autopilot was never enabled for chat %s", chatID)
	}
	if err := e.store.DeleteActionsForChat(chatID); err != nil {
		return err
	}
	cfg.Enabled = false
	cfg.Status = store.StatusInactive
	return e.saveConfig(cfg)
}

// Pause suspends an active chat without canceling its pending action.
func (e *Engine) Pause(chatID string) error {
	unlock := e.lockChat(chatID)
	defer unlock()

	cfg, err := e.store.GetChatConfig(chatID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return fmt.Errorf("autopilot is not enabled for chat %s", chatID)
	}
	if cfg.Status != store.StatusActive && cfg.Status != store.StatusError {
		return fmt.Errorf("cannot pause chat in status %s", cfg.Status)
	}
	cfg.Status = store.StatusPaused
	return e.saveConfig(cfg)
}

// Resume reactivates a paused or errored chat. A chat whose self-driving
// window has expired is refused; it must be re-enabled with a new duration.
func (e *Engine) Resume(chatID string) error {
	unlock := e.lockChat(chatID)
	defer unlock()

	cfg, err := e.store.GetChatConfig(chatID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return fmt.Errorf("autopilot is not enabled for chat %s", chatID)
	}
	if cfg.SelfDrivingExpired(e.now()) {
		return fmt.Errorf("self-driving window expired for chat %s; re-enable with a new duration", chatID)
	}
	if cfg.Status != store.StatusPaused && cfg.Status != store.StatusError {
		return fmt.Errorf("cannot resume chat in status %s", cfg.Status)
	}
	cfg.Status = store.StatusActive
	cfg.ErrorCount = 0
	cfg.LastError = ""
	return e.saveConfig(cfg)
}

// Approve releases a pending draft: its execution time is rewritten to now,
// so the very next scheduler tick sends it. The approval-required flag stays
// set; the send is logged as manually approved.
func (e *Engine) Approve(actionID string) error {
	action, err := e.store.GetAction(actionID)
	if err != nil {
		return err
	}
	if action == nil {
		return fmt.Errorf("no pending action %s", actionID)
	}
	if err := e.store.RescheduleAction(actionID, e.now(), action.ApprovalRequired); err != nil {
		return err
	}
	e.bus.Emit(bus.Event{
		Type:    bus.EventActionScheduled,
		ChatID:  action.ChatID,
		Payload: map[string]any{"action_id": actionID, "approved": true},
	})
	return nil
}

// Reject discards a pending draft without sending it.
func (e *Engine) Reject(actionID string) error {
	action, err := e.store.GetAction(actionID)
	if err != nil {
		return err
	}
	if action == nil {
		return fmt.Errorf("no pending action %s", actionID)
	}
	if err := e.store.DeleteAction(actionID); err != nil {
		return err
	}
	e.appendActivity(&store.ActivityEntry{
		ChatID:    action.ChatID,
		Type:      store.ActivityDraftGenerated,
		DraftText: action.MessageText,
		Metadata:  map[string]any{"rejected": true},
	})
	return nil
}

// Redo discards a pending draft and generates a fresh one for the same
// trigger. The triggering message is un-marked so the regeneration is not
// swallowed by dedup.
func (e *Engine) Redo(ctx context.Context, actionID string) error {
	action, err := e.store.GetAction(actionID)
	if err != nil {
		return err
	}
	if action == nil {
		return fmt.Errorf("no pending action %s", actionID)
	}
	if err := e.store.DeleteAction(actionID); err != nil {
		return err
	}
	if action.MessageID == "" {
		return e.GenerateProactiveMessage(ctx, action.ChatID)
	}
	if err := e.store.UnmarkProcessed(action.ChatID, action.MessageID); err != nil {
		return err
	}
	last, err := e.latestIncoming(ctx, action.ChatID)
	if err != nil {
		return err
	}
	if last == nil {
		return e.GenerateProactiveMessage(ctx, action.ChatID)
	}
	return e.HandleIncomingMessage(ctx, last, true)
}

func (e *Engine) saveConfig(cfg *store.ChatConfig) error {
	if err := e.store.SaveChatConfig(cfg); err != nil {
		return err
	}
	e.bus.Emit(bus.Event{
		Type:   bus.EventConfigChanged,
		ChatID: cfg.ChatID,
		Payload: map[string]any{
			"status": string(cfg.Status),
			"mode":   string(cfg.Mode),
		},
	})
	return nil
}

func (e *Engine) appendActivity(entry *store.ActivityEntry) {
	if err := e.store.AppendActivity(entry); err != nil {
		slog.Error("Activity append failed", "chat_id", entry.ChatID, "type", entry.Type, "error", err)
		return
	}
	e.bus.Emit(bus.Event{
		Type:    bus.EventActivityAdded,
		ChatID:  entry.ChatID,
		Payload: map[string]any{"activity_type": string(entry.Type)},
	})
	if e.cfg.ActivityRetention > 0 {
		if err := e.store.TrimActivity(entry.ChatID, e.cfg.ActivityRetention); err != nil {
			slog.Warn("Activity trim failed", "chat_id", entry.ChatID, "error", err)
		}
	}
}
