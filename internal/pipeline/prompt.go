package pipeline

import (
	"fmt"
	"strings"

	"github.com/chatpilot/chatpilot/internal/knowledge"
	"github.com/chatpilot/chatpilot/internal/messenger"
	"github.com/chatpilot/chatpilot/internal/store"
)

// buildPrompt assembles the system and user prompts for an intent.
func buildPrompt(req Request, agent *store.Agent, history []messenger.Message, knowledgeBlock, toneProfile string, existing []knowledge.Fact) (string, string) {
	var sys strings.Builder

	if agent != nil && agent.SystemPrompt != "" {
		sys.WriteString(agent.SystemPrompt)
		sys.WriteString("\n\n")
	}
	if agent != nil && agent.Goal != "" {
		sys.WriteString("Your goal for this conversation: " + agent.Goal + "\n\n")
	}
	if toneProfile != "" {
		sys.WriteString("Tone of voice: " + toneProfile + "\n\n")
	}
	if knowledgeBlock != "" {
		sys.WriteString("What you know about this conversation:\n" + knowledgeBlock + "\n\n")
	}
	sys.WriteString(intentInstructions(req.Intent, agent))

	var user strings.Builder
	if req.SidebarSummary != "" {
		user.WriteString("Context summary:\n" + req.SidebarSummary + "\n\n")
	}
	user.WriteString("Conversation (oldest first):\n")
	user.WriteString(renderTranscript(history))
	user.WriteString("\n" + intentTask(req.Intent, existing))

	return strings.TrimSpace(sys.String()), strings.TrimSpace(user.String())
}

// renderTranscript flips the newest-first listing into reading order.
func renderTranscript(history []messenger.Message) string {
	if len(history) == 0 {
		return "(no messages yet)\n"
	}
	var b strings.Builder
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		who := "Them"
		if m.IsFromMe {
			who = "Me"
		}
		b.WriteString(who + ": " + m.Content + "\n")
	}
	return b.String()
}

func intentInstructions(intent Intent, agent *store.Agent) string {
	switch intent {
	case IntentDraftReply, IntentDraftProactive:
		goalLine := ""
		if agent != nil && agent.Goal != "" {
			goalLine = ` Assess whether your goal has been achieved and report it honestly.`
		}
		return `Respond with a JSON object only, no other text:
{"reply": "<the message to send>", "goal_achieved": <bool>, "goal_confidence": <0.0-1.0>}` + goalLine
	case IntentSummary:
		return `Respond with a JSON object only, no other text:
{"summary": "<2-4 sentence summary of where this conversation stands>", "next_step": "<the single most useful next step for the user>"}`
	case IntentKnowledgeExtract:
		return `You extract durable facts about a conversation. Respond with a JSON object only:
{"facts": [{"category": "preference|schedule|relationship|topic|sentiment|communication|personal|professional", "content": "<one sentence>", "confidence": <0-100>, "source": "observed|stated|inferred", "about_entity": "contact|user|conversation"}], "conversation_tone": "<word or short phrase>", "primary_language": "<ISO code>", "relationship_type": "<word or short phrase>", "topics": ["<topic>"]}`
	}
	return ""
}

func intentTask(intent Intent, existing []knowledge.Fact) string {
	switch intent {
	case IntentDraftReply:
		return "Draft the next reply from Me."
	case IntentDraftProactive:
		return "There is no message waiting for a reply. Draft a natural message from Me that opens or moves the conversation forward."
	case IntentSummary:
		return "Summarize this conversation for the user who is taking over from the assistant."
	case IntentKnowledgeExtract:
		task := "Extract new durable facts from this conversation."
		if len(existing) > 0 {
			var b strings.Builder
			b.WriteString(task + " Do NOT repeat facts already known:\n")
			for _, f := range existing {
				fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Content)
			}
			return b.String()
		}
		return task
	}
	return ""
}
