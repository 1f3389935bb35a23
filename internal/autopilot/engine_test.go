package autopilot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/knowledge"
	"github.com/chatpilot/chatpilot/internal/messenger"
	"github.com/chatpilot/chatpilot/internal/pipeline"
	"github.com/chatpilot/chatpilot/internal/store"
)

type fakeDispatcher struct {
	draft      *pipeline.Draft
	summary    *pipeline.Summary
	extraction *knowledge.Extraction
	err        error
	calls      int
	intents    []pipeline.Intent
}

func (f *fakeDispatcher) Execute(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.calls++
	f.intents = append(f.intents, req.Intent)
	if f.err != nil {
		return nil, f.err
	}
	res := &pipeline.Result{Intent: req.Intent}
	switch req.Intent {
	case pipeline.IntentDraftReply, pipeline.IntentDraftProactive:
		res.Draft = f.draft
	case pipeline.IntentSummary:
		res.Summary = f.summary
	case pipeline.IntentKnowledgeExtract:
		res.Extraction = f.extraction
	}
	return res, nil
}

type stubMessenger struct {
	messages []messenger.Message
}

func (s *stubMessenger) ListChats(ctx context.Context) ([]messenger.Chat, error) { return nil, nil }

func (s *stubMessenger) ListMessages(ctx context.Context, chatID string, limit int) ([]messenger.Message, error) {
	return s.messages, nil
}

func (s *stubMessenger) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	return "sent", nil
}

func newTestEngine(t *testing.T, d *fakeDispatcher) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := New(st, bus.New(), d, &stubMessenger{}, config.AutopilotConfig{
		ApprovalHold:      24 * time.Hour,
		KnowledgeInterval: 5,
	})
	return e, st
}

func enableChat(t *testing.T, st *store.Store, chatID string, mode store.Mode) *store.ChatConfig {
	t.Helper()
	cfg := &store.ChatConfig{
		ChatID:  chatID,
		Enabled: true,
		AgentID: "agent-1",
		Mode:    mode,
		Status:  store.StatusActive,
	}
	if err := st.SaveChatConfig(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return cfg
}

func saveAgent(t *testing.T, st *store.Store, a *store.Agent) {
	t.Helper()
	if err := st.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}
}

func inbound(chatID, messageID, content string) *bus.InboundMessage {
	return &bus.InboundMessage{
		ChatID:    chatID,
		MessageID: messageID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestHandleIncomingMessageDedup(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "hi"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeManualApproval)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	ctx := context.Background()
	msg := inbound("chat-1", "m1", "Are we still on for Friday?")
	if err := e.HandleIncomingMessage(ctx, msg, false); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := e.HandleIncomingMessage(ctx, msg, false); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if d.calls != 1 {
		t.Errorf("dispatcher calls = %d, want 1 (duplicate must be swallowed)", d.calls)
	}

	// force bypasses dedup
	if err := e.HandleIncomingMessage(ctx, msg, true); err != nil {
		t.Fatalf("forced handle: %v", err)
	}
	if d.calls != 2 {
		t.Errorf("dispatcher calls after force = %d, want 2", d.calls)
	}
}

func TestModeGating(t *testing.T) {
	tests := []struct {
		mode      store.Mode
		wantCalls int
	}{
		// Observer watches without spending a completion call; suggest
		// drafts into the activity log but never schedules a send.
		{store.ModeObserver, 0},
		{store.ModeSuggest, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
			e, st := newTestEngine(t, d)
			enableChat(t, st, "chat-1", tt.mode)
			saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

			if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "hello there"), false); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if d.calls != tt.wantCalls {
				t.Errorf("dispatcher calls = %d, want %d", d.calls, tt.wantCalls)
			}
			action, err := st.GetPendingAction("chat-1")
			if err != nil {
				t.Fatalf("get action: %v", err)
			}
			if action != nil {
				t.Errorf("mode %s scheduled an action: %+v", tt.mode, action)
			}

			entries, _ := st.ListActivity("chat-1", 10)
			var drafted bool
			for _, en := range entries {
				if en.Type == store.ActivityDraftGenerated {
					drafted = true
				}
			}
			if drafted != (tt.wantCalls > 0) {
				t.Errorf("mode %s draft activity = %v, want %v", tt.mode, drafted, tt.wantCalls > 0)
			}
		})
	}
}

func TestObserverModeStillExtractsKnowledge(t *testing.T) {
	d := &fakeDispatcher{
		extraction: &knowledge.Extraction{
			Facts: []knowledge.Fact{
				{Category: knowledge.CategorySchedule, Content: "Free on Fridays", Confidence: 75},
			},
		},
	}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeObserver)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := e.HandleIncomingMessage(ctx, inbound("chat-1", "m"+string(rune('1'+i)), "msg"), false); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	e.running.Wait()

	for _, intent := range d.intents {
		if intent != pipeline.IntentKnowledgeExtract {
			t.Errorf("observer mode issued a %s call", intent)
		}
	}
	if len(d.intents) != 1 {
		t.Errorf("intents = %v, want a single knowledge-extract", d.intents)
	}
	know, err := st.LoadKnowledge("chat-1")
	if err != nil || know == nil || len(know.Facts) != 1 {
		t.Fatalf("knowledge = %+v, %v", know, err)
	}
}

func TestManualApprovalScenario(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "Yes, Friday works for me!"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeManualApproval)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	start := time.Now()
	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "Are we still on for Friday?"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	action, err := st.GetPendingAction("chat-1")
	if err != nil || action == nil {
		t.Fatalf("pending action: %v %v", action, err)
	}
	if !action.ApprovalRequired {
		t.Error("action not flagged approval-required")
	}
	if action.ScheduledFor.Before(start.Add(23 * time.Hour)) {
		t.Errorf("scheduledFor = %v, want ~24h out", action.ScheduledFor)
	}

	if err := e.Approve(action.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	approved, err := st.GetAction(action.ID)
	if err != nil || approved == nil {
		t.Fatalf("reload action: %v %v", approved, err)
	}
	if approved.ScheduledFor.After(time.Now()) {
		t.Errorf("approval did not rewrite scheduledFor to now: %v", approved.ScheduledFor)
	}
	if !approved.ApprovalRequired {
		t.Error("approval flag lost; send would not be logged as manually approved")
	}
}

func TestRejectDeletesAction(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeManualApproval)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "hello"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	action, _ := st.GetPendingAction("chat-1")
	if action == nil {
		t.Fatal("no pending action")
	}
	if err := e.Reject(action.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if left, _ := st.GetPendingAction("chat-1"); left != nil {
		t.Errorf("rejected action still pending: %+v", left)
	}
}

func TestSinglePendingAction(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeManualApproval)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	ctx := context.Background()
	for i, id := range []string{"m1", "m2", "m3"} {
		if err := e.HandleIncomingMessage(ctx, inbound("chat-1", id, "msg"), false); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	actions, err := st.ListPendingActions()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 1 {
		t.Errorf("pending actions = %d, want 1", len(actions))
	}
}

func TestSelfDrivingExpiry(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	base := time.Now()
	e.now = func() time.Time { return base }
	if err := e.Enable(context.Background(), "chat-1", "agent-1", store.ModeSelfDriving, 30); err != nil {
		t.Fatalf("enable: %v", err)
	}

	cfg, _ := st.GetChatConfig("chat-1")
	if cfg.SelfDrivingExpiresAt == nil {
		t.Fatal("expiry not armed")
	}

	if err := e.Pause("chat-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// 31 minutes later the window has lapsed; resume must be refused.
	e.now = func() time.Time { return base.Add(31 * time.Minute) }
	if err := e.Resume("chat-1"); err == nil {
		t.Fatal("resume after expiry must be refused")
	}

	// Resume within the window works.
	e.now = func() time.Time { return base.Add(10 * time.Minute) }
	if err := e.Resume("chat-1"); err != nil {
		t.Fatalf("resume within window: %v", err)
	}

	// An incoming message after expiry pauses the chat instead of drafting.
	e.now = func() time.Time { return base.Add(40 * time.Minute) }
	before := d.calls
	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m9", "still there?"), false); err != nil {
		t.Fatalf("handle after expiry: %v", err)
	}
	if d.calls != before {
		t.Error("draft produced after self-driving expiry")
	}
	cfg, _ = st.GetChatConfig("chat-1")
	if cfg.Status != store.StatusPaused {
		t.Errorf("status = %s, want paused after expiry", cfg.Status)
	}
}

func TestSelfDrivingDelayBounds(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	e.cfg.SelfDrivingMinDelay = 45 * time.Second
	e.cfg.SelfDrivingMaxDelay = 180 * time.Second
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	start := time.Now()
	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "hello"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	action, _ := st.GetPendingAction("chat-1")
	if action == nil {
		t.Fatal("no action scheduled")
	}
	delay := action.ScheduledFor.Sub(start)
	if delay < 44*time.Second || delay > 181*time.Second {
		t.Errorf("delay = %v, want within [45s, 180s]", delay)
	}
	if action.ApprovalRequired {
		t.Error("self-driving action must not require approval")
	}
}

func TestErrorStatusRetries(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("provider down")}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	ctx := context.Background()
	if err := e.HandleIncomingMessage(ctx, inbound("chat-1", "m1", "hello"), false); err == nil {
		t.Fatal("expected pipeline error to surface")
	}
	cfg, _ := st.GetChatConfig("chat-1")
	if cfg.Status != store.StatusError || cfg.ErrorCount != 1 {
		t.Errorf("status = %s count = %d, want error/1", cfg.Status, cfg.ErrorCount)
	}
	if !strings.Contains(cfg.LastError, "provider down") {
		t.Errorf("lastError = %q", cfg.LastError)
	}

	// The chat recovers on the next qualifying event once the provider does.
	d.err = nil
	d.draft = &pipeline.Draft{Text: "back"}
	if err := e.HandleIncomingMessage(ctx, inbound("chat-1", "m2", "ping"), false); err != nil {
		t.Fatalf("retry handle: %v", err)
	}
	cfg, _ = st.GetChatConfig("chat-1")
	if cfg.Status != store.StatusActive || cfg.ErrorCount != 0 {
		t.Errorf("status = %s count = %d after recovery, want active/0", cfg.Status, cfg.ErrorCount)
	}
}

func TestGoalAutoDisable(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "done!", GoalAchieved: true, GoalConfidence: 0.95}}
	e, st := newTestEngine(t, d)
	e.cfg.GoalConfidenceThreshold = 0.7
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{
		ID: "agent-1", Name: "A",
		Goal:         "Schedule the meeting",
		GoalBehavior: store.GoalAutoDisable,
	})

	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "Friday at 3 works"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cfg, _ := st.GetChatConfig("chat-1")
	if cfg.Status != store.StatusGoalCompleted {
		t.Errorf("status = %s, want goal-completed", cfg.Status)
	}
	if cfg.Enabled {
		t.Error("auto-disable left the chat enabled")
	}
	if action, _ := st.GetPendingAction("chat-1"); action != nil {
		t.Errorf("pending action survived auto-disable: %+v", action)
	}
}

func TestGoalBelowThresholdIgnored(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "maybe", GoalAchieved: true, GoalConfidence: 0.5}}
	e, st := newTestEngine(t, d)
	e.cfg.GoalConfidenceThreshold = 0.7
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{
		ID: "agent-1", Name: "A",
		Goal:         "Schedule the meeting",
		GoalBehavior: store.GoalAutoDisable,
	})

	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "hmm"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cfg, _ := st.GetChatConfig("chat-1")
	if cfg.Status != store.StatusActive {
		t.Errorf("status = %s, low-confidence goal must not complete", cfg.Status)
	}
}

func TestGoalHandoffProducesSummary(t *testing.T) {
	d := &fakeDispatcher{
		draft:   &pipeline.Draft{Text: "done", GoalAchieved: true, GoalConfidence: 0.9},
		summary: &pipeline.Summary{Summary: "Meeting booked for Friday.", NextStep: "Add it to your calendar."},
	}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{
		ID: "agent-1", Name: "A",
		Goal:         "Book the meeting",
		GoalBehavior: store.GoalHandoff,
	})

	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "booked!"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	var sawSummary bool
	for _, intent := range d.intents {
		if intent == pipeline.IntentSummary {
			sawSummary = true
		}
	}
	if !sawSummary {
		t.Error("handoff did not request a conversation summary")
	}
	cfg, _ := st.GetChatConfig("chat-1")
	if cfg.Status != store.StatusGoalCompleted {
		t.Errorf("status = %s, want goal-completed", cfg.Status)
	}
}

func TestKnowledgeExtractionEveryFifthMessage(t *testing.T) {
	d := &fakeDispatcher{
		draft: &pipeline.Draft{Text: "reply"},
		extraction: &knowledge.Extraction{
			Facts: []knowledge.Fact{
				{Category: knowledge.CategoryPreference, Content: "Prefers mornings", Confidence: 80},
			},
			ConversationTone: "friendly",
		},
	}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeSuggest)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := e.HandleIncomingMessage(ctx, inbound("chat-1", "m"+string(rune('1'+i)), "msg"), false); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	e.running.Wait()

	var extracts int
	for _, intent := range d.intents {
		if intent == pipeline.IntentKnowledgeExtract {
			extracts++
		}
	}
	if extracts != 1 {
		t.Errorf("extractions = %d after 5 messages, want 1", extracts)
	}

	know, err := st.LoadKnowledge("chat-1")
	if err != nil || know == nil {
		t.Fatalf("knowledge: %v %v", know, err)
	}
	if len(know.Facts) != 1 || know.ConversationTone != "friendly" {
		t.Errorf("merged knowledge = %+v", know)
	}
}

func TestEmojiAckSkipsPipeline(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "never used"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{
		ID: "agent-1", Name: "A",
		Behavior: store.AgentBehavior{EmojiAcks: true},
	})

	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "Thanks!"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.calls != 0 {
		t.Errorf("dispatcher called %d times for a trivial ack, want 0", d.calls)
	}
	action, _ := st.GetPendingAction("chat-1")
	if action == nil || action.MessageText != "🙏" {
		t.Errorf("emoji ack action = %+v", action)
	}
}

func TestSimulateBusySkip(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	e.cfg.SimulateBusyChance = 1.0
	e.randFloat = func() float64 { return 0.5 }
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{
		ID: "agent-1", Name: "A",
		Behavior: store.AgentBehavior{SimulateBusy: true},
	})

	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "long question about plans"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.calls != 0 {
		t.Error("busy skip still drafted")
	}
	latest, _ := st.LatestActivity("chat-1")
	if latest == nil || latest.Type != store.ActivitySkippedBusy {
		t.Errorf("latest activity = %+v, want skipped-busy", latest)
	}
}

func TestDisableCancelsPending(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeManualApproval)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "hello"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := e.Disable("chat-1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if action, _ := st.GetPendingAction("chat-1"); action != nil {
		t.Errorf("disable left a pending action: %+v", action)
	}
	cfg, _ := st.GetChatConfig("chat-1")
	if cfg == nil || cfg.Enabled || cfg.Status != store.StatusInactive {
		t.Errorf("config after disable = %+v", cfg)
	}
	// History survives.
	entries, _ := st.ListActivity("chat-1", 10)
	if len(entries) == 0 {
		t.Error("activity history lost on disable")
	}
}

func TestPausedChatIgnoresMessages(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	if err := e.Pause("chat-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := e.HandleIncomingMessage(context.Background(), inbound("chat-1", "m1", "hello"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.calls != 0 {
		t.Error("paused chat drafted a reply")
	}
}

func TestRedoRegeneratesDraft(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "first draft"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeManualApproval)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})
	e.messenger = &stubMessenger{messages: []messenger.Message{
		{ID: "m1", Content: "hello", Timestamp: time.Now()},
	}}

	ctx := context.Background()
	if err := e.HandleIncomingMessage(ctx, inbound("chat-1", "m1", "hello"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	action, _ := st.GetPendingAction("chat-1")
	if action == nil {
		t.Fatal("no pending action")
	}

	d.draft = &pipeline.Draft{Text: "second draft"}
	if err := e.Redo(ctx, action.ID); err != nil {
		t.Fatalf("redo: %v", err)
	}
	redone, _ := st.GetPendingAction("chat-1")
	if redone == nil || redone.MessageText != "second draft" {
		t.Errorf("redone action = %+v", redone)
	}
	if redone != nil && redone.ID == action.ID {
		t.Error("redo reused the old action id")
	}
}

func TestEnableForceProcessesLatestUnread(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "on it"}}
	e, st := newTestEngine(t, d)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})
	e.messenger = &stubMessenger{messages: []messenger.Message{
		{ID: "m1", Content: "You there?", Timestamp: time.Now()},
	}}

	if err := e.Enable(context.Background(), "chat-1", "agent-1", store.ModeManualApproval, 0); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if d.calls != 1 {
		t.Errorf("dispatcher calls = %d, want immediate reaction on enable", d.calls)
	}
	if action, _ := st.GetPendingAction("chat-1"); action == nil {
		t.Error("no pending action after enable")
	}
}

func TestEnableGoesProactiveWhenCaughtUp(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "hey, how did it go?"}}
	e, st := newTestEngine(t, d)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})
	e.messenger = &stubMessenger{messages: []messenger.Message{
		{ID: "m2", Content: "talk later", IsFromMe: true, Timestamp: time.Now()},
		{ID: "m1", Content: "bye", Timestamp: time.Now().Add(-time.Minute)},
	}}

	if err := e.Enable(context.Background(), "chat-1", "agent-1", store.ModeSelfDriving, 0); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(d.intents) != 1 || d.intents[0] != pipeline.IntentDraftProactive {
		t.Errorf("intents = %v, want one draft-proactive", d.intents)
	}
}

func TestActiveHoursGate(t *testing.T) {
	d := &fakeDispatcher{draft: &pipeline.Draft{Text: "draft"}}
	e, st := newTestEngine(t, d)
	enableChat(t, st, "chat-1", store.ModeSelfDriving)
	saveAgent(t, st, &store.Agent{ID: "agent-1", Name: "A"})

	e.cfg.ActiveHoursStart = "09:00"
	e.cfg.ActiveHoursEnd = "17:00"
	e.now = func() time.Time {
		return time.Date(2026, 3, 10, 3, 0, 0, 0, time.Local) // 03:00, outside
	}

	ctx := context.Background()
	if err := e.HandleIncomingMessage(ctx, inbound("chat-1", "m1", "hello"), false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.calls != 0 {
		t.Error("drafted outside active hours without force")
	}

	// Deferral happens before the dedup mark, so the same message can still
	// be handled once forced.
	if err := e.HandleIncomingMessage(ctx, inbound("chat-1", "m1", "hello"), true); err != nil {
		t.Fatalf("forced handle: %v", err)
	}
	if d.calls != 1 {
		t.Errorf("force did not bypass active hours: calls = %d", d.calls)
	}
}
