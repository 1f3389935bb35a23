// Package messenger defines the messaging capability consumed by the
// autopilot core and its transport implementations (HTTP bridge, Slack,
// native WhatsApp).
package messenger

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a retryable transport failure. Callers surface it as a
// temporary condition, never as a fatal one.
var ErrUnavailable = errors.New("messaging service unavailable")

// Chat is one conversation known to the transport.
type Chat struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Message is one transport message, newest-first in listings.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id,omitempty"`
	IsFromMe  bool      `json:"is_from_me"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Messenger is the chat transport capability. Implementations may fail with
// ErrUnavailable; sends are asynchronous on the remote side and delivery is
// not guaranteed.
type Messenger interface {
	// ListChats returns known conversations, most recently active first.
	ListChats(ctx context.Context) ([]Chat, error)
	// ListMessages returns up to limit messages for a chat, newest first.
	ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	// SendMessage sends text to a chat and returns the new message id.
	SendMessage(ctx context.Context, chatID, text string) (string, error)
}
