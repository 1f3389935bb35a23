package messenger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/chatpilot/chatpilot/internal/config"
)

// SlackMessenger implements Messenger against the Slack Web API.
type SlackMessenger struct {
	client *slack.Client
	botID  string
}

// NewSlackMessenger creates a Slack transport.
func NewSlackMessenger(cfg config.SlackConfig) *SlackMessenger {
	return &SlackMessenger{client: slack.New(cfg.BotToken)}
}

// ListChats implements Messenger.
func (m *SlackMessenger) ListChats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	cursor := ""
	for {
		channels, next, err := m.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:           []string{"im", "mpim", "private_channel", "public_channel"},
			ExcludeArchived: true,
			Cursor:          cursor,
			Limit:           200,
		})
		if err != nil {
			return nil, wrapSlackErr(err)
		}
		for _, ch := range channels {
			name := ch.Name
			if name == "" {
				name = ch.User
			}
			out = append(out, Chat{ID: ch.ID, Name: name})
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// ListMessages implements Messenger. Slack history is already newest first.
func (m *SlackMessenger) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	resp, err := m.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: chatID,
		Limit:     limit,
	})
	if err != nil {
		return nil, wrapSlackErr(err)
	}

	if m.botID == "" {
		if auth, err := m.client.AuthTestContext(ctx); err == nil {
			m.botID = auth.UserID
		}
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		out = append(out, Message{
			ID:        msg.Timestamp,
			ChatID:    chatID,
			SenderID:  msg.User,
			IsFromMe:  m.botID != "" && msg.User == m.botID,
			Content:   msg.Text,
			Timestamp: slackTime(msg.Timestamp),
		})
	}
	return out, nil
}

// SendMessage implements Messenger. The returned message id is the Slack
// message timestamp.
func (m *SlackMessenger) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	_, ts, err := m.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", wrapSlackErr(err)
	}
	return ts, nil
}

// wrapSlackErr maps rate limiting and transport errors onto ErrUnavailable so
// the scheduler treats them as retryable.
func wrapSlackErr(err error) error {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return fmt.Errorf("%w: slack rate limited for %s", ErrUnavailable, rle.RetryAfter)
	}
	if strings.Contains(err.Error(), "connection") || strings.Contains(err.Error(), "timeout") {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// slackTime converts a Slack "seconds.fraction" timestamp.
func slackTime(ts string) time.Time {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
