// Package knowledge implements the bounded, mergeable per-chat memory:
// confidence-scored facts, tone, language and topic history accumulated from
// conversation extractions.
package knowledge

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxFacts caps the fact list; the least confident are pruned first.
	MaxFacts = 50
	// MaxTopics caps the topic history, most recent first.
	MaxTopics = 20
	// MinConfidence is the acceptance gate for incoming facts.
	MinConfidence = 50
)

// FactCategory classifies a fact.
type FactCategory string

const (
	CategoryPreference    FactCategory = "preference"
	CategorySchedule      FactCategory = "schedule"
	CategoryRelationship  FactCategory = "relationship"
	CategoryTopic         FactCategory = "topic"
	CategorySentiment     FactCategory = "sentiment"
	CategoryCommunication FactCategory = "communication"
	CategoryPersonal      FactCategory = "personal"
	CategoryProfessional  FactCategory = "professional"
)

// FactSource records how a fact was obtained.
type FactSource string

const (
	SourceObserved FactSource = "observed"
	SourceStated   FactSource = "stated"
	SourceInferred FactSource = "inferred"
)

// FactEntity identifies who or what a fact is about.
type FactEntity string

const (
	EntityContact      FactEntity = "contact"
	EntityUser         FactEntity = "user"
	EntityConversation FactEntity = "conversation"
)

// Fact is a single confidence-scored statement about a conversation.
type Fact struct {
	ID            string       `json:"id"`
	Category      FactCategory `json:"category"`
	Content       string       `json:"content"`
	Confidence    int          `json:"confidence"` // 0..100
	Source        FactSource   `json:"source"`
	AboutEntity   FactEntity   `json:"about_entity"`
	FirstObserved time.Time    `json:"first_observed"`
	LastObserved  time.Time    `json:"last_observed"`
	Mentions      int          `json:"mentions"`
}

// ChatKnowledge is the accumulated memory for one chat.
type ChatKnowledge struct {
	ChatID           string    `json:"chat_id"`
	Facts            []Fact    `json:"facts"`
	ConversationTone string    `json:"conversation_tone,omitempty"`
	PrimaryLanguage  string    `json:"primary_language,omitempty"`
	TopicHistory     []string  `json:"topic_history,omitempty"`
	RelationshipType string    `json:"relationship_type,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Extraction is the result of one knowledge-extract pipeline run.
type Extraction struct {
	Facts            []Fact   `json:"facts"`
	ConversationTone string   `json:"conversation_tone"`
	PrimaryLanguage  string   `json:"primary_language"`
	RelationshipType string   `json:"relationship_type"`
	Topics           []string `json:"topics"`
}

// New returns empty knowledge for a chat.
func New(chatID string) *ChatKnowledge {
	now := time.Now()
	return &ChatKnowledge{ChatID: chatID, CreatedAt: now, UpdatedAt: now}
}

// normalizeContent canonicalizes fact content for dedup matching.
func normalizeContent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?")
	return strings.Join(strings.Fields(s), " ")
}

// Merge folds an extraction into the knowledge record.
//
// Facts are deduplicated by (category, normalized content): a duplicate
// increments mentions, refreshes lastObserved and raises confidence toward the
// higher of the two — reinforcement never lowers confidence. New facts below
// MinConfidence are rejected. After merging the list is pruned to MaxFacts,
// dropping the lowest-confidence facts (ties broken by oldest lastObserved).
//
// Tone, language and relationship are single-valued and overwritten by the
// latest non-empty extraction. Topics are prepended most-recent-first with
// duplicates collapsed to their most recent position, capped at MaxTopics.
func Merge(k *ChatKnowledge, ext Extraction, now time.Time) {
	for _, in := range ext.Facts {
		mergeFact(k, in, now)
	}
	prune(k)

	if ext.ConversationTone != "" {
		k.ConversationTone = ext.ConversationTone
	}
	if ext.PrimaryLanguage != "" {
		k.PrimaryLanguage = ext.PrimaryLanguage
	}
	if ext.RelationshipType != "" {
		k.RelationshipType = ext.RelationshipType
	}
	if len(ext.Topics) > 0 {
		k.TopicHistory = mergeTopics(ext.Topics, k.TopicHistory)
	}
	k.UpdatedAt = now
}

func mergeFact(k *ChatKnowledge, in Fact, now time.Time) {
	norm := normalizeContent(in.Content)
	if norm == "" {
		return
	}

	for i := range k.Facts {
		if k.Facts[i].Category == in.Category && normalizeContent(k.Facts[i].Content) == norm {
			existing := &k.Facts[i]
			existing.Mentions++
			existing.LastObserved = now
			// Reinforcement: move confidence toward the higher value, plus a
			// small repeat bonus, never exceeding 100 and never decreasing.
			higher := existing.Confidence
			if in.Confidence > higher {
				higher = in.Confidence
			}
			boosted := higher + 5
			if boosted > 100 {
				boosted = 100
			}
			if boosted > existing.Confidence {
				existing.Confidence = boosted
			}
			return
		}
	}

	if in.Confidence < MinConfidence {
		return
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.FirstObserved.IsZero() {
		in.FirstObserved = now
	}
	in.LastObserved = now
	if in.Mentions <= 0 {
		in.Mentions = 1
	}
	k.Facts = append(k.Facts, in)
}

// prune enforces the MaxFacts bound. No retained fact may have lower
// confidence than any discarded one; recency breaks ties.
func prune(k *ChatKnowledge) {
	if len(k.Facts) <= MaxFacts {
		return
	}
	sort.SliceStable(k.Facts, func(i, j int) bool {
		if k.Facts[i].Confidence != k.Facts[j].Confidence {
			return k.Facts[i].Confidence > k.Facts[j].Confidence
		}
		return k.Facts[i].LastObserved.After(k.Facts[j].LastObserved)
	})
	k.Facts = k.Facts[:MaxFacts]
}

// mergeTopics prepends new topics and collapses duplicates to their most
// recent position.
func mergeTopics(incoming, existing []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, MaxTopics)

	for _, t := range incoming {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == MaxTopics {
			return out
		}
	}
	for _, t := range existing {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}

// FormatForPrompt renders a compact textual block for inclusion in a
// completion request. Returns "" when there is nothing worth stating.
func FormatForPrompt(k *ChatKnowledge) string {
	if k == nil {
		return ""
	}

	var b strings.Builder

	if k.ConversationTone != "" {
		b.WriteString("Tone: " + k.ConversationTone + "\n")
	}
	if k.PrimaryLanguage != "" {
		b.WriteString("Language: " + k.PrimaryLanguage + "\n")
	}
	if k.RelationshipType != "" {
		b.WriteString("Relationship: " + k.RelationshipType + "\n")
	}
	if len(k.TopicHistory) > 0 {
		n := len(k.TopicHistory)
		if n > 5 {
			n = 5
		}
		b.WriteString("Recent topics: " + strings.Join(k.TopicHistory[:n], ", ") + "\n")
	}
	if len(k.Facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range k.Facts {
			b.WriteString("- [" + string(f.Category) + "] " + f.Content + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
