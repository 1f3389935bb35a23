package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/chatpilot/chatpilot/internal/knowledge"
)

// The parsers below are total: they never fail on malformed model output.
// Invalid JSON degrades to a best-effort typed value so a bad completion can
// never crash the reply path.

// stripFences removes a surrounding markdown code fence, which some models
// insist on despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseDraft reads the structured draft response. A model that returned
// plain prose instead of JSON still yields a usable draft: the raw text
// becomes the reply and the goal assessment is treated as negative.
func parseDraft(raw string) *Draft {
	cleaned := stripFences(raw)

	var d Draft
	if err := json.Unmarshal([]byte(cleaned), &d); err == nil && strings.TrimSpace(d.Text) != "" {
		d.Text = strings.TrimSpace(d.Text)
		if d.GoalConfidence < 0 {
			d.GoalConfidence = 0
		}
		if d.GoalConfidence > 1 {
			d.GoalConfidence = 1
		}
		return &d
	}
	return &Draft{Text: strings.TrimSpace(raw)}
}

// parseSummary reads the structured summary response, substituting a safe
// generic fallback when the output is unusable.
func parseSummary(raw string) *Summary {
	cleaned := stripFences(raw)

	var s Summary
	if err := json.Unmarshal([]byte(cleaned), &s); err == nil && strings.TrimSpace(s.Summary) != "" {
		s.Summary = strings.TrimSpace(s.Summary)
		if strings.TrimSpace(s.NextStep) == "" {
			s.NextStep = "Review the recent messages and reply yourself."
		}
		return &s
	}
	return &Summary{
		Summary:  "The conversation state is unclear.",
		NextStep: "Review the recent messages and reply yourself.",
	}
}

// extractionWire is the tolerant wire shape for knowledge extraction.
type extractionWire struct {
	Facts []struct {
		Category    string `json:"category"`
		Content     string `json:"content"`
		Confidence  int    `json:"confidence"`
		Source      string `json:"source"`
		AboutEntity string `json:"about_entity"`
	} `json:"facts"`
	ConversationTone string   `json:"conversation_tone"`
	PrimaryLanguage  string   `json:"primary_language"`
	RelationshipType string   `json:"relationship_type"`
	Topics           []string `json:"topics"`
}

// parseExtraction reads the structured extraction response. Facts with an
// unknown category are dropped; unknown source or entity values default
// rather than invalidating the fact. Malformed output yields an empty
// extraction, which merges as a no-op.
func parseExtraction(raw string) *knowledge.Extraction {
	cleaned := stripFences(raw)

	var wire extractionWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return &knowledge.Extraction{}
	}

	out := &knowledge.Extraction{
		ConversationTone: strings.TrimSpace(wire.ConversationTone),
		PrimaryLanguage:  strings.TrimSpace(wire.PrimaryLanguage),
		RelationshipType: strings.TrimSpace(wire.RelationshipType),
		Topics:           wire.Topics,
	}
	for _, f := range wire.Facts {
		cat, ok := validCategory(f.Category)
		if !ok || strings.TrimSpace(f.Content) == "" {
			continue
		}
		conf := f.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 100 {
			conf = 100
		}
		out.Facts = append(out.Facts, knowledge.Fact{
			Category:    cat,
			Content:     strings.TrimSpace(f.Content),
			Confidence:  conf,
			Source:      validSource(f.Source),
			AboutEntity: validEntity(f.AboutEntity),
		})
	}
	return out
}

func validCategory(s string) (knowledge.FactCategory, bool) {
	switch c := knowledge.FactCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case knowledge.CategoryPreference, knowledge.CategorySchedule, knowledge.CategoryRelationship,
		knowledge.CategoryTopic, knowledge.CategorySentiment, knowledge.CategoryCommunication,
		knowledge.CategoryPersonal, knowledge.CategoryProfessional:
		return c, true
	}
	return "", false
}

func validSource(s string) knowledge.FactSource {
	switch src := knowledge.FactSource(strings.ToLower(strings.TrimSpace(s))); src {
	case knowledge.SourceObserved, knowledge.SourceStated, knowledge.SourceInferred:
		return src
	}
	return knowledge.SourceInferred
}

func validEntity(s string) knowledge.FactEntity {
	switch e := knowledge.FactEntity(strings.ToLower(strings.TrimSpace(s))); e {
	case knowledge.EntityContact, knowledge.EntityUser, knowledge.EntityConversation:
		return e
	}
	return knowledge.EntityConversation
}
