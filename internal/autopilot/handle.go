package autopilot

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/knowledge"
	"github.com/chatpilot/chatpilot/internal/pipeline"
	"github.com/chatpilot/chatpilot/internal/store"
)

// HandleIncomingMessage advances a chat's autopilot for one inbound message.
//
// The message is ignored when the chat's config is missing, disabled or
// paused, when it was already processed (dedup by message id), or outside the
// configured active hours. force bypasses dedup and the active-hours gate; it
// exists for the moment a human just enabled autopilot and wants an immediate
// reaction. A chat in error status is retried, an unrecoverable pipeline
// failure flips it back with the error recorded.
func (e *Engine) HandleIncomingMessage(ctx context.Context, msg *bus.InboundMessage, force bool) error {
	if msg.IsFromMe {
		return nil
	}
	unlock := e.lockChat(msg.ChatID)
	defer unlock()

	cfg, err := e.store.GetChatConfig(msg.ChatID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	switch cfg.Status {
	case store.StatusPaused, store.StatusInactive, store.StatusGoalCompleted:
		return nil
	case store.StatusActive, store.StatusError:
		// error status retries on the next qualifying event
	}

	now := e.now()
	if cfg.SelfDrivingExpired(now) {
		cfg.Status = store.StatusPaused
		if err := e.saveConfig(cfg); err != nil {
			return err
		}
		e.appendActivity(&store.ActivityEntry{
			ChatID:   msg.ChatID,
			AgentID:  cfg.AgentID,
			Type:     store.ActivityError,
			Metadata: map[string]any{"reason": "self-driving window expired"},
		})
		return nil
	}

	// Deferring happens before the dedup mark so the message stays eligible
	// once the window opens.
	if !force && !e.withinActiveHours(now) {
		slog.Debug("Outside active hours, deferring", "chat_id", msg.ChatID)
		return nil
	}

	// Dedup is check-and-set in one statement so a concurrent duplicate
	// trigger cannot both pass.
	inserted, err := e.store.MarkProcessed(msg.ChatID, msg.MessageID)
	if err != nil {
		return err
	}
	if !inserted && !force {
		return nil
	}

	e.appendActivity(&store.ActivityEntry{
		ChatID:      msg.ChatID,
		AgentID:     cfg.AgentID,
		Type:        store.ActivityMessageReceived,
		MessageText: msg.Content,
	})

	agent, err := e.store.GetAgent(cfg.AgentID)
	if err != nil {
		return e.markError(cfg, err)
	}

	prevActivity := cfg.LastActivityAt
	cfg.MessagesHandled++
	cfg.LastActivityAt = &now

	// Observer watches only: knowledge and activity accrue, nothing is
	// drafted and no completion call is spent.
	if cfg.Mode == store.ModeObserver {
		cfg.ErrorCount = 0
		cfg.LastError = ""
		if err := e.saveConfig(cfg); err != nil {
			return err
		}
		e.maybeExtractKnowledge(ctx, cfg)
		return nil
	}

	if skip := e.applyBehavior(cfg, agent, msg, prevActivity, now); skip {
		return e.saveConfig(cfg)
	}

	draft, err := e.draft(ctx, cfg, pipeline.IntentDraftReply)
	if err != nil {
		return e.markError(cfg, err)
	}

	e.scheduleDraft(cfg, draft, msg.MessageID, now)
	e.detectGoal(ctx, cfg, agent, draft)

	cfg.ErrorCount = 0
	cfg.LastError = ""
	if err := e.saveConfig(cfg); err != nil {
		return err
	}
	e.maybeExtractKnowledge(ctx, cfg)
	return nil
}

// GenerateProactiveMessage drafts an unprompted message that opens or moves
// the conversation forward. Used when autopilot is enabled on a chat with no
// unread incoming message, and on redo of a proactive draft.
func (e *Engine) GenerateProactiveMessage(ctx context.Context, chatID string) error {
	unlock := e.lockChat(chatID)
	defer unlock()

	cfg, err := e.store.GetChatConfig(chatID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled || cfg.Mode == store.ModeObserver {
		return nil
	}

	now := e.now()
	draft, err := e.draft(ctx, cfg, pipeline.IntentDraftProactive)
	if err != nil {
		return e.markError(cfg, err)
	}

	e.scheduleDraft(cfg, draft, "", now)
	cfg.LastActivityAt = &now
	return e.saveConfig(cfg)
}

func (e *Engine) draft(ctx context.Context, cfg *store.ChatConfig, intent pipeline.Intent) (*pipeline.Draft, error) {
	res, err := e.dispatch.Execute(ctx, pipeline.Request{
		Intent:  intent,
		ChatID:  cfg.ChatID,
		AgentID: cfg.AgentID,
	})
	if err != nil {
		return nil, err
	}
	return res.Draft, nil
}

// scheduleDraft records the draft and, depending on the mode, writes the
// scheduled action. A new draft always replaces any prior pending action for
// the chat.
func (e *Engine) scheduleDraft(cfg *store.ChatConfig, draft *pipeline.Draft, messageID string, now time.Time) {
	if cfg.Mode == store.ModeObserver {
		return
	}
	e.appendActivity(&store.ActivityEntry{
		ChatID:    cfg.ChatID,
		AgentID:   cfg.AgentID,
		Type:      store.ActivityDraftGenerated,
		DraftText: draft.Text,
	})

	var scheduledFor time.Time
	approval := false
	switch cfg.Mode {
	case store.ModeSuggest:
		// Suggest surfaces the draft through the activity log but never
		// schedules an autosend.
		return
	case store.ModeManualApproval:
		// Parked far in the future so it sits as a pending approval until a
		// human releases or discards it.
		scheduledFor = now.Add(e.approvalHold())
		approval = true
	case store.ModeSelfDriving:
		scheduledFor = now.Add(e.selfDrivingDelay())
	}

	action := &store.ScheduledAction{
		ChatID:           cfg.ChatID,
		Type:             store.ActionSendMessage,
		MessageID:        messageID,
		MessageText:      draft.Text,
		ApprovalRequired: approval,
		ScheduledFor:     scheduledFor,
	}
	if err := e.store.ReplacePendingAction(action); err != nil {
		slog.Error("Action scheduling failed", "chat_id", cfg.ChatID, "error", err)
		return
	}
	e.bus.Emit(bus.Event{
		Type:   bus.EventActionScheduled,
		ChatID: cfg.ChatID,
		Payload: map[string]any{
			"action_id":     action.ID,
			"scheduled_for": scheduledFor,
		},
	})
}

func (e *Engine) approvalHold() time.Duration {
	if e.cfg.ApprovalHold > 0 {
		return e.cfg.ApprovalHold
	}
	return 24 * time.Hour
}

// selfDrivingDelay draws a human-plausible countdown so self-driving replies
// never look robotically instant.
func (e *Engine) selfDrivingDelay() time.Duration {
	min, max := e.cfg.SelfDrivingMinDelay, e.cfg.SelfDrivingMaxDelay
	if min <= 0 {
		min = 45 * time.Second
	}
	if max <= min {
		max = 180 * time.Second
	}
	return min + time.Duration(e.randFloat()*float64(max-min))
}

// detectGoal applies the draft's goal self-assessment. A positive result with
// sufficient confidence moves the chat to goal-completed, then the goal
// behavior decides what happens: auto-disable turns autopilot off, handoff
// produces a summary for the human, continue keeps the chat active.
func (e *Engine) detectGoal(ctx context.Context, cfg *store.ChatConfig, agent *store.Agent, draft *pipeline.Draft) {
	if agent == nil || agent.Goal == "" {
		return
	}
	threshold := e.cfg.GoalConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	if !draft.GoalAchieved || draft.GoalConfidence < threshold {
		return
	}

	behavior := cfg.GoalBehaviorOverride
	if behavior == "" {
		behavior = agent.GoalBehavior
	}
	if behavior == "" {
		behavior = store.GoalContinue
	}

	e.appendActivity(&store.ActivityEntry{
		ChatID:  cfg.ChatID,
		AgentID: cfg.AgentID,
		Type:    store.ActivityGoalDetected,
		Metadata: map[string]any{
			"confidence": draft.GoalConfidence,
			"behavior":   string(behavior),
		},
	})

	switch behavior {
	case store.GoalContinue:
		// Keep driving; the goal marker is in the activity log.
	case store.GoalAutoDisable:
		cfg.Status = store.StatusGoalCompleted
		cfg.Enabled = false
		if err := e.store.DeleteActionsForChat(cfg.ChatID); err != nil {
			slog.Warn("Action cleanup on goal completion failed", "chat_id", cfg.ChatID, "error", err)
		}
	case store.GoalHandoff:
		cfg.Status = store.StatusGoalCompleted
		res, err := e.dispatch.Execute(ctx, pipeline.Request{
			Intent:  pipeline.IntentSummary,
			ChatID:  cfg.ChatID,
			AgentID: cfg.AgentID,
		})
		if err != nil {
			slog.Warn("Handoff summary failed", "chat_id", cfg.ChatID, "error", err)
			return
		}
		e.appendActivity(&store.ActivityEntry{
			ChatID:  cfg.ChatID,
			AgentID: cfg.AgentID,
			Type:    store.ActivityHistoryComplete,
			Metadata: map[string]any{
				"summary":   res.Summary.Summary,
				"next_step": res.Summary.NextStep,
			},
		})
	}
}

// maybeExtractKnowledge triggers knowledge extraction every Nth handled
// message, asynchronously. Best effort: failures are logged, never block the
// reply path, and never flip the chat to error.
func (e *Engine) maybeExtractKnowledge(ctx context.Context, cfg *store.ChatConfig) {
	interval := e.cfg.KnowledgeInterval
	if interval <= 0 {
		interval = 5
	}
	if cfg.MessagesHandled%interval != 0 {
		return
	}

	chatID := cfg.ChatID
	agentID := cfg.AgentID
	e.running.Add(1)
	go func() {
		defer e.running.Done()
		res, err := e.dispatch.Execute(ctx, pipeline.Request{
			Intent:  pipeline.IntentKnowledgeExtract,
			ChatID:  chatID,
			AgentID: agentID,
		})
		if err != nil {
			slog.Warn("Knowledge extraction failed", "chat_id", chatID, "error", err)
			return
		}

		unlock := e.lockChat(chatID)
		defer unlock()
		know, err := e.store.LoadKnowledge(chatID)
		if err != nil {
			slog.Warn("Knowledge load failed", "chat_id", chatID, "error", err)
			return
		}
		if know == nil {
			know = knowledge.New(chatID)
		}
		knowledge.Merge(know, *res.Extraction, e.now())
		if err := e.store.SaveKnowledge(know); err != nil {
			slog.Warn("Knowledge save failed", "chat_id", chatID, "error", err)
			return
		}
		e.appendActivity(&store.ActivityEntry{
			ChatID:   chatID,
			AgentID:  agentID,
			Type:     store.ActivityKnowledge,
			Metadata: map[string]any{"facts": len(know.Facts)},
		})
		e.bus.Emit(bus.Event{
			Type:    bus.EventKnowledgeUpdated,
			ChatID:  chatID,
			Payload: map[string]any{"facts": len(know.Facts)},
		})
	}()
}

// markError records a per-chat failure. The chat flips to error status but
// stays enabled; the engine retries on the next qualifying event and other
// chats continue unaffected.
func (e *Engine) markError(cfg *store.ChatConfig, cause error) error {
	cfg.Status = store.StatusError
	cfg.ErrorCount++
	cfg.LastError = cause.Error()
	e.appendActivity(&store.ActivityEntry{
		ChatID:   cfg.ChatID,
		AgentID:  cfg.AgentID,
		Type:     store.ActivityError,
		Metadata: map[string]any{"error": cause.Error()},
	})
	if err := e.saveConfig(cfg); err != nil {
		slog.Error("Config save after failure", "chat_id", cfg.ChatID, "error", err)
	}
	return cause
}

// withinActiveHours checks the configured time-of-day window. An unset window
// never gates. Windows may wrap midnight.
func (e *Engine) withinActiveHours(now time.Time) bool {
	start, end := e.cfg.ActiveHoursStart, e.cfg.ActiveHoursEnd
	if start == "" || end == "" {
		return true
	}
	startT, err1 := time.Parse("15:04", start)
	endT, err2 := time.Parse("15:04", end)
	if err1 != nil || err2 != nil {
		slog.Warn("Invalid active hours window, ignoring", "start", start, "end", end)
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	startM := startT.Hour()*60 + startT.Minute()
	endM := endT.Hour()*60 + endT.Minute()
	if startM <= endM {
		return minutes >= startM && minutes < endM
	}
	return minutes >= startM || minutes < endM
}
