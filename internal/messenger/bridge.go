package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/config"
)

// BridgeMessenger talks to an external chat-aggregation service over HTTP.
// The bridge owns the platform connections; this client only lists chats and
// messages, sends text, and long-polls for new inbound messages.
type BridgeMessenger struct {
	baseURL    string
	token      string
	bus        *bus.Bus
	httpClient *http.Client
}

// NewBridgeMessenger creates a bridge client.
func NewBridgeMessenger(cfg config.BridgeConfig, b *bus.Bus) *BridgeMessenger {
	return &BridgeMessenger{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		token:   cfg.Token,
		bus:     b,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListChats implements Messenger.
func (m *BridgeMessenger) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := m.get(ctx, "/chats", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// ListMessages implements Messenger.
func (m *BridgeMessenger) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	var msgs []Message
	path := fmt.Sprintf("/chats/%s/messages?limit=%d", chatID, limit)
	if err := m.get(ctx, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage implements Messenger.
func (m *BridgeMessenger) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	body, _ := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	m.auth(req)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: bridge status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("bridge send status: %d", resp.StatusCode)
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return out.MessageID, nil
}

// Run long-polls the bridge for new inbound messages and publishes them to
// the bus. Blocks until the context is cancelled.
func (m *BridgeMessenger) Run(ctx context.Context) error {
	slog.Info("Bridge messenger started", "url", m.baseURL)
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, next, err := m.poll(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Bridge poll failed", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		cursor = next

		for _, msg := range batch {
			m.bus.PublishInbound(&bus.InboundMessage{
				Transport: "bridge",
				ChatID:    msg.ChatID,
				MessageID: msg.ID,
				SenderID:  msg.SenderID,
				Content:   msg.Content,
				IsFromMe:  msg.IsFromMe,
				Timestamp: msg.Timestamp,
			})
		}
	}
}

func (m *BridgeMessenger) poll(ctx context.Context, cursor string) ([]Message, string, error) {
	path := "/messages/poll"
	if cursor != "" {
		path += "?cursor=" + cursor
	}
	var out struct {
		Messages []Message `json:"messages"`
		Cursor   string    `json:"cursor"`
	}
	if err := m.get(ctx, path, &out); err != nil {
		return nil, cursor, err
	}
	return out.Messages, out.Cursor, nil
}

func (m *BridgeMessenger) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	m.auth(req)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: bridge status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bridge status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (m *BridgeMessenger) auth(req *http.Request) {
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
}
