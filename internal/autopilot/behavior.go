package autopilot

import (
	"strings"
	"time"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/pipeline"
	"github.com/chatpilot/chatpilot/internal/store"
)

// trivialAcks are incoming messages that warrant an emoji reaction rather
// than a drafted reply.
var trivialAcks = map[string]string{
	"ok":          "👍",
	"okay":        "👍",
	"k":           "👍",
	"kk":          "👍",
	"sure":        "👍",
	"yes":         "👍",
	"yep":         "👍",
	"yeah":        "👍",
	"got it":      "👍",
	"sounds good": "👍",
	"thanks":      "🙏",
	"thank you":   "🙏",
	"thx":         "🙏",
	"ty":          "🙏",
	"great":       "🎉",
	"awesome":     "🎉",
	"nice":        "🎉",
	"haha":        "😄",
	"lol":         "😄",
}

func trivialAck(content string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(content))
	key = strings.TrimRight(key, ".!?")
	emoji, ok := trivialAcks[key]
	return emoji, ok
}

// applyBehavior runs the agent's behavioral knobs before the draft pipeline.
// Returns true when the normal reply path should be skipped; every skip
// leaves a distinct activity entry so the UI can explain why nothing (or
// something unusual) happened.
func (e *Engine) applyBehavior(cfg *store.ChatConfig, agent *store.Agent, msg *bus.InboundMessage, prevActivity *time.Time, now time.Time) bool {
	if agent == nil {
		return false
	}

	// Trivial acknowledgements get an emoji reaction instead of a full
	// drafted reply. No completion call is made.
	if agent.Behavior.EmojiAcks {
		if emoji, ok := trivialAck(msg.Content); ok {
			e.scheduleDraft(cfg, &pipeline.Draft{Text: emoji}, msg.MessageID, now)
			return true
		}
	}

	// Randomized skip so the agent occasionally seems too busy to reply.
	if agent.Behavior.SimulateBusy && e.cfg.SimulateBusyChance > 0 && e.randFloat() < e.cfg.SimulateBusyChance {
		e.appendActivity(&store.ActivityEntry{
			ChatID:  cfg.ChatID,
			AgentID: cfg.AgentID,
			Type:    store.ActivitySkippedBusy,
		})
		return true
	}

	// After sustained back-and-forth the agent probabilistically sits a
	// message out.
	if agent.Behavior.FatigueReduction && cfg.MessagesHandled > e.fatigueAfter() &&
		e.cfg.FatigueChance > 0 && e.randFloat() < e.cfg.FatigueChance {
		e.appendActivity(&store.ActivityEntry{
			ChatID:   cfg.ChatID,
			AgentID:  cfg.AgentID,
			Type:     store.ActivityFatigueReduced,
			Metadata: map[string]any{"messages_handled": cfg.MessagesHandled},
		})
		return true
	}

	// A message arriving after prolonged silence suggests the conversation
	// has run its course; surface a closing suggestion instead of replying.
	if agent.Behavior.ClosingSuggestions && e.cfg.ClosingAfter > 0 &&
		prevActivity != nil && now.Sub(*prevActivity) > e.cfg.ClosingAfter {
		e.appendActivity(&store.ActivityEntry{
			ChatID:   cfg.ChatID,
			AgentID:  cfg.AgentID,
			Type:     store.ActivityClosing,
			Metadata: map[string]any{"idle": now.Sub(*prevActivity).String()},
		})
		return true
	}

	return false
}

func (e *Engine) fatigueAfter() int {
	if e.cfg.FatigueAfter > 0 {
		return e.cfg.FatigueAfter
	}
	return 10
}
