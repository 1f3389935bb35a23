// Package pipeline turns an autopilot intent into exactly one completion
// request: it assembles the minimum necessary context (thread history,
// accumulated knowledge, agent goal and system prompt, tone profile), calls
// the completion capability once, and normalizes the response into a typed
// result with total, never-failing parsers.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/knowledge"
	"github.com/chatpilot/chatpilot/internal/messenger"
	"github.com/chatpilot/chatpilot/internal/provider"
	"github.com/chatpilot/chatpilot/internal/store"
)

// Intent identifies the kind of completion the caller needs.
type Intent string

const (
	IntentDraftReply       Intent = "draft-reply"
	IntentDraftProactive   Intent = "draft-proactive"
	IntentSummary          Intent = "conversation-summary"
	IntentKnowledgeExtract Intent = "knowledge-extract"
)

// Request describes one pipeline execution.
type Request struct {
	Intent  Intent
	ChatID  string
	AgentID string
	// SidebarSummary is an optional AI-chat-sidebar summary included as
	// additional context for drafting intents.
	SidebarSummary string
}

// Draft is the typed result of a drafting intent.
type Draft struct {
	Text           string  `json:"reply"`
	GoalAchieved   bool    `json:"goal_achieved"`
	GoalConfidence float64 `json:"goal_confidence"`
}

// Summary is the typed result of a conversation-summary intent.
type Summary struct {
	Summary  string `json:"summary"`
	NextStep string `json:"next_step"`
}

// Result holds the typed outcome of Execute; exactly one field matching the
// request's intent is set.
type Result struct {
	Intent     Intent
	Draft      *Draft
	Summary    *Summary
	Extraction *knowledge.Extraction
}

// Dispatcher is the single entry point for every completion request made by
// the engine or the CLI.
type Dispatcher struct {
	provider  provider.LLMProvider
	messenger messenger.Messenger
	store     *store.Store
	model     config.ModelConfig
	// historyLimit bounds the thread context so prompts stay bounded.
	historyLimit int
}

// New creates a Dispatcher.
func New(prov provider.LLMProvider, msgr messenger.Messenger, st *store.Store, model config.ModelConfig, historyLimit int) *Dispatcher {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Dispatcher{
		provider:     prov,
		messenger:    msgr,
		store:        st,
		model:        model,
		historyLimit: historyLimit,
	}
}

// Execute runs one intent end to end. The provider is called exactly once
// (the provider itself may retry an alternate model); parsing never fails —
// malformed model output degrades to a typed fallback.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (*Result, error) {
	// Chat context: bounded thread history, newest first from the transport,
	// rendered oldest first for the prompt.
	history, err := d.messenger.ListMessages(ctx, req.ChatID, d.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}

	know, err := d.store.LoadKnowledge(req.ChatID)
	if err != nil {
		slog.Warn("Knowledge load failed, continuing without", "chat_id", req.ChatID, "error", err)
		know = nil
	}
	knowledgeBlock := knowledge.FormatForPrompt(know)

	// Agent context, only for agent-driven intents.
	var agent *store.Agent
	switch req.Intent {
	case IntentDraftReply, IntentDraftProactive, IntentSummary:
		if req.AgentID != "" {
			agent, err = d.store.GetAgent(req.AgentID)
			if err != nil {
				return nil, fmt.Errorf("load agent %s: %w", req.AgentID, err)
			}
		}
	case IntentKnowledgeExtract:
		// Knowledge extraction is agent-independent.
	default:
		return nil, fmt.Errorf("unknown intent %q", req.Intent)
	}

	system, user := buildPrompt(req, agent, history, knowledgeBlock, d.model.ToneProfile, existingFacts(know))

	resp, err := d.provider.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   d.model.MaxTokens,
		Temperature: d.model.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("completion for %s: %w", req.Intent, err)
	}

	result := &Result{Intent: req.Intent}
	switch req.Intent {
	case IntentDraftReply, IntentDraftProactive:
		result.Draft = parseDraft(resp.Content)
	case IntentSummary:
		result.Summary = parseSummary(resp.Content)
	case IntentKnowledgeExtract:
		result.Extraction = parseExtraction(resp.Content)
	}
	return result, nil
}

func existingFacts(k *knowledge.ChatKnowledge) []knowledge.Fact {
	if k == nil {
		return nil
	}
	return k.Facts
}
