package pipeline

import (
	"testing"

	"github.com/chatpilot/chatpilot/internal/knowledge"
)

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantText     string
		wantAchieved bool
	}{
		{
			name:         "valid json",
			raw:          `{"reply": "Yes, Friday works for me!", "goal_achieved": true, "goal_confidence": 0.9}`,
			wantText:     "Yes, Friday works for me!",
			wantAchieved: true,
		},
		{
			name:     "fenced json",
			raw:      "```json\n{\"reply\": \"Sounds good\", \"goal_achieved\": false, \"goal_confidence\": 0.1}\n```",
			wantText: "Sounds good",
		},
		{
			name:     "plain prose fallback",
			raw:      "Sure, see you then!",
			wantText: "Sure, see you then!",
		},
		{
			name:     "truncated json fallback",
			raw:      `{"reply": "half a`,
			wantText: `{"reply": "half a`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := parseDraft(tt.raw)
			if d == nil {
				t.Fatal("parser returned nil")
			}
			if d.Text != tt.wantText {
				t.Errorf("text = %q, want %q", d.Text, tt.wantText)
			}
			if d.GoalAchieved != tt.wantAchieved {
				t.Errorf("goalAchieved = %v, want %v", d.GoalAchieved, tt.wantAchieved)
			}
		})
	}
}

func TestParseDraftClampsConfidence(t *testing.T) {
	d := parseDraft(`{"reply": "ok", "goal_confidence": 3.5}`)
	if d.GoalConfidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", d.GoalConfidence)
	}
}

func TestParseSummaryFallback(t *testing.T) {
	s := parseSummary("I could not produce a summary, sorry!")
	if s.Summary == "" || s.NextStep == "" {
		t.Errorf("fallback summary incomplete: %+v", s)
	}

	s = parseSummary(`{"summary": "They agreed to meet Friday.", "next_step": "Confirm the venue."}`)
	if s.Summary != "They agreed to meet Friday." || s.NextStep != "Confirm the venue." {
		t.Errorf("valid summary mangled: %+v", s)
	}

	// Missing next step gets the generic one.
	s = parseSummary(`{"summary": "Short."}`)
	if s.NextStep == "" {
		t.Error("missing next_step not defaulted")
	}
}

func TestParseExtraction(t *testing.T) {
	raw := `{
		"facts": [
			{"category": "preference", "content": "Prefers evening calls", "confidence": 85, "source": "stated", "about_entity": "contact"},
			{"category": "nonsense", "content": "dropped", "confidence": 90, "source": "stated", "about_entity": "contact"},
			{"category": "schedule", "content": "Free on Fridays", "confidence": 250, "source": "weird", "about_entity": "???"}
		],
		"conversation_tone": "casual",
		"primary_language": "en",
		"relationship_type": "friend",
		"topics": ["weekend plans"]
	}`

	ext := parseExtraction(raw)
	if len(ext.Facts) != 2 {
		t.Fatalf("facts = %d, want 2 (unknown category dropped)", len(ext.Facts))
	}
	if ext.Facts[1].Confidence != 100 {
		t.Errorf("confidence not clamped: %d", ext.Facts[1].Confidence)
	}
	if ext.Facts[1].Source != knowledge.SourceInferred {
		t.Errorf("unknown source not defaulted: %s", ext.Facts[1].Source)
	}
	if ext.Facts[1].AboutEntity != knowledge.EntityConversation {
		t.Errorf("unknown entity not defaulted: %s", ext.Facts[1].AboutEntity)
	}
	if ext.ConversationTone != "casual" || ext.PrimaryLanguage != "en" {
		t.Errorf("scalar fields: %+v", ext)
	}
}

func TestParseExtractionMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json at all", `{"facts": "wrong type"}`} {
		ext := parseExtraction(raw)
		if ext == nil {
			t.Fatalf("parser returned nil for %q", raw)
		}
		if len(ext.Facts) != 0 {
			t.Errorf("facts = %d for %q, want 0", len(ext.Facts), raw)
		}
	}
}
