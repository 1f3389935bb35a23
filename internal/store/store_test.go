package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chatpilot/chatpilot/internal/knowledge"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChatConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetChatConfig("chat-1")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown chat")
	}

	expires := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	cfg := &ChatConfig{
		ChatID:               "chat-1",
		Enabled:              true,
		AgentID:              "assistant",
		Mode:                 ModeSelfDriving,
		Status:               StatusActive,
		SelfDrivingDuration:  30,
		SelfDrivingExpiresAt: &expires,
		MessagesHandled:      3,
	}
	if err := s.SaveChatConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err = s.GetChatConfig("chat-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Mode != ModeSelfDriving || got.Status != StatusActive || got.MessagesHandled != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.SelfDrivingExpiresAt == nil || !got.SelfDrivingExpiresAt.Equal(expires) {
		t.Errorf("expiresAt = %v, want %v", got.SelfDrivingExpiresAt, expires)
	}

	// Upsert mutates in place.
	got.Status = StatusPaused
	if err := s.SaveChatConfig(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.GetChatConfig("chat-1")
	if again.Status != StatusPaused {
		t.Errorf("status = %s, want paused", again.Status)
	}

	byStatus, err := s.ListConfigsByStatus(StatusPaused)
	if err != nil || len(byStatus) != 1 {
		t.Fatalf("ListConfigsByStatus = %v, %v", byStatus, err)
	}
	if empty, err := s.ListConfigsByStatus(StatusError); err != nil || len(empty) != 0 {
		t.Fatalf("ListConfigsByStatus(error) = %v, %v, want none", empty, err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"inactive", "active", "paused", "error", "goal-completed"} {
		if got, err := ParseStatus(valid); err != nil || string(got) != valid {
			t.Errorf("ParseStatus(%q) = %v, %v", valid, got, err)
		}
	}
	if _, err := ParseStatus("snoozed"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestReplacePendingActionInvariant(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		err := s.ReplacePendingAction(&ScheduledAction{
			ChatID:       "chat-1",
			MessageText:  "draft",
			ScheduledFor: now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("replace %d: %v", i, err)
		}
	}
	// A second chat is independent.
	if err := s.ReplacePendingAction(&ScheduledAction{
		ChatID: "chat-2", MessageText: "other", ScheduledFor: now,
	}); err != nil {
		t.Fatalf("replace chat-2: %v", err)
	}

	all, err := s.ListPendingActions()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	perChat := map[string]int{}
	for _, a := range all {
		perChat[a.ChatID]++
	}
	if perChat["chat-1"] != 1 || perChat["chat-2"] != 1 {
		t.Errorf("pending per chat = %v, want exactly one each", perChat)
	}
}

func TestDueActionsAndReschedule(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	a := &ScheduledAction{ChatID: "chat-1", MessageText: "later", ApprovalRequired: true, ScheduledFor: now.Add(24 * time.Hour)}
	if err := s.ReplacePendingAction(a); err != nil {
		t.Fatalf("replace: %v", err)
	}

	due, err := s.ListDueActions(now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due = %d, want 0", len(due))
	}

	// Rescheduling rewrites scheduled_for and sets the approval flag as given.
	if err := s.RescheduleAction(a.ID, now, false); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	due, err = s.ListDueActions(now.Add(time.Second))
	if err != nil || len(due) != 1 {
		t.Fatalf("due after approval = %v, %v", due, err)
	}
	if due[0].ApprovalRequired {
		t.Error("approval flag not cleared")
	}

	if err := s.DeleteAction(a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetPendingAction("chat-1"); got != nil {
		t.Errorf("action still present after delete: %+v", got)
	}
}

func TestMarkProcessedAtomicity(t *testing.T) {
	s := newTestStore(t)

	first, err := s.MarkProcessed("chat-1", "msg-1")
	if err != nil || !first {
		t.Fatalf("first mark = %v, %v; want true", first, err)
	}
	second, err := s.MarkProcessed("chat-1", "msg-1")
	if err != nil || second {
		t.Fatalf("second mark = %v, %v; want false", second, err)
	}
	// Other chats are independent namespaces.
	other, err := s.MarkProcessed("chat-2", "msg-1")
	if err != nil || !other {
		t.Fatalf("other chat mark = %v, %v; want true", other, err)
	}

	if err := s.UnmarkProcessed("chat-1", "msg-1"); err != nil {
		t.Fatalf("unmark: %v", err)
	}
	redo, err := s.MarkProcessed("chat-1", "msg-1")
	if err != nil || !redo {
		t.Fatalf("mark after unmark = %v, %v; want true", redo, err)
	}
}

func TestActivityAppendListTrim(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		err := s.AppendActivity(&ActivityEntry{
			ChatID:    "chat-1",
			Type:      ActivityMessageReceived,
			Metadata:  map[string]any{"seq": i},
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.ListActivity("chat-1", 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	if entries[0].Metadata["seq"].(float64) != 9 {
		t.Errorf("newest first violated: %+v", entries[0].Metadata)
	}

	if err := s.TrimActivity("chat-1", 3); err != nil {
		t.Fatalf("trim: %v", err)
	}
	entries, _ = s.ListActivity("chat-1", 100)
	if len(entries) != 3 {
		t.Errorf("after trim = %d, want 3", len(entries))
	}

	latest, err := s.LatestActivity("chat-1")
	if err != nil || latest == nil {
		t.Fatalf("latest: %v, %v", latest, err)
	}
}

func TestKnowledgePersistence(t *testing.T) {
	s := newTestStore(t)

	got, err := s.LoadKnowledge("chat-1")
	if err != nil || got != nil {
		t.Fatalf("load missing = %v, %v; want nil, nil", got, err)
	}

	k := knowledge.New("chat-1")
	knowledge.Merge(k, knowledge.Extraction{
		Facts: []knowledge.Fact{{
			Category:   knowledge.CategoryPreference,
			Content:    "Likes hiking",
			Confidence: 80,
			Source:     knowledge.SourceStated,
		}},
		ConversationTone: "warm",
	}, time.Now())

	if err := s.SaveKnowledge(k); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = s.LoadKnowledge("chat-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Facts) != 1 || got.ConversationTone != "warm" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestAgentSeedAndRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SeedDefaultAgent(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Seeding twice is a no-op.
	if err := s.SeedDefaultAgent(); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	agents, err := s.ListAgents()
	if err != nil || len(agents) != 1 {
		t.Fatalf("agents = %v, %v", agents, err)
	}

	a, err := s.GetAgent(DefaultAgentID)
	if err != nil || a == nil {
		t.Fatalf("get default agent: %v, %v", a, err)
	}
	if !a.Behavior.SimulateBusy {
		t.Error("behavior knobs lost in round trip")
	}

	a.Goal = "Schedule the dinner"
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := s.GetAgent(DefaultAgentID)
	if again.Goal != "Schedule the dinner" {
		t.Errorf("goal = %q", again.Goal)
	}
}

func TestChatMessageArchive(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	for i := 0; i < 4; i++ {
		err := s.SaveChatMessage(&ChatMessage{
			ChatID:    "chat-1",
			MessageID: string(rune('a' + i)),
			Content:   "msg",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	// Duplicate delivery is ignored.
	if err := s.SaveChatMessage(&ChatMessage{ChatID: "chat-1", MessageID: "a", Content: "dup", Timestamp: base}); err != nil {
		t.Fatalf("dup save: %v", err)
	}

	msgs, err := s.ListChatMessages("chat-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].MessageID != "d" {
		t.Errorf("newest first violated: %s", msgs[0].MessageID)
	}

	chats, err := s.ListArchivedChats()
	if err != nil || len(chats) != 1 || chats[0] != "chat-1" {
		t.Errorf("chats = %v, %v", chats, err)
	}
}
