package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/store"
)

// WhatsAppMessenger implements Messenger over a native whatsmeow client.
// WhatsApp has no history API, so every live message is archived to the
// store's chat_messages table and ListMessages serves from that archive.
type WhatsAppMessenger struct {
	cfg       config.WhatsAppConfig
	bus       *bus.Bus
	store     *store.Store
	client    *whatsmeow.Client
	container *sqlstore.Container
}

// NewWhatsAppMessenger creates a native WhatsApp transport.
func NewWhatsAppMessenger(cfg config.WhatsAppConfig, b *bus.Bus, st *store.Store) *WhatsAppMessenger {
	return &WhatsAppMessenger{cfg: cfg, bus: b, store: st}
}

// Start connects the client, pairing via a QR code written to disk when no
// session exists yet.
func (m *WhatsAppMessenger) Start(ctx context.Context) error {
	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "INFO", true)

	if err := os.MkdirAll(filepath.Dir(m.cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create whatsapp data dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite",
		"file:"+m.cfg.DBPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("init whatsapp db: %w", err)
	}
	m.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	m.client = whatsmeow.NewClient(deviceStore, clientLog)
	m.client.AddEventHandler(m.eventHandler)

	if m.client.Store.ID == nil {
		qrChan, _ := m.client.GetQRChannel(context.Background())
		if err := m.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		slog.Info("WhatsApp pairing required, QR code will be written", "path", m.cfg.QRPath)
		for evt := range qrChan {
			if evt.Event == "code" {
				if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, m.cfg.QRPath); err == nil {
					slog.Info("WhatsApp QR code written, scan it with your phone", "path", m.cfg.QRPath)
				}
			} else {
				slog.Info("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		if err := m.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		slog.Info("WhatsApp connected")
	}

	return nil
}

// Stop disconnects the client.
func (m *WhatsAppMessenger) Stop() error {
	if m.client != nil {
		m.client.Disconnect()
	}
	if m.container != nil {
		m.container.Close()
	}
	return nil
}

// ListChats implements Messenger from the local archive.
func (m *WhatsAppMessenger) ListChats(ctx context.Context) ([]Chat, error) {
	ids, err := m.store.ListArchivedChats()
	if err != nil {
		return nil, err
	}
	out := make([]Chat, 0, len(ids))
	for _, id := range ids {
		out = append(out, Chat{ID: id})
	}
	return out, nil
}

// ListMessages implements Messenger from the local archive.
func (m *WhatsAppMessenger) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	rows, err := m.store.ListChatMessages(chatID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{
			ID:        r.MessageID,
			ChatID:    r.ChatID,
			SenderID:  r.SenderID,
			IsFromMe:  r.IsFromMe,
			Content:   r.Content,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// SendMessage implements Messenger.
func (m *WhatsAppMessenger) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	if m.client == nil || !m.client.IsConnected() {
		return "", fmt.Errorf("%w: whatsapp client not connected", ErrUnavailable)
	}

	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid JID %q: %w", chatID, err)
	}

	resp, err := m.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Archive our own message so thread context includes it.
	_ = m.store.SaveChatMessage(&store.ChatMessage{
		ChatID:    chatID,
		MessageID: resp.ID,
		IsFromMe:  true,
		Content:   text,
		Timestamp: resp.Timestamp,
	})
	return resp.ID, nil
}

func (m *WhatsAppMessenger) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		content := v.Message.GetConversation()
		if content == "" {
			content = v.Message.GetExtendedTextMessage().GetText()
		}
		if content == "" {
			return
		}

		chatID := v.Info.Chat.String()
		ts := v.Info.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		_ = m.store.SaveChatMessage(&store.ChatMessage{
			ChatID:    chatID,
			MessageID: v.Info.ID,
			SenderID:  v.Info.Sender.String(),
			IsFromMe:  v.Info.IsFromMe,
			Content:   content,
			Timestamp: ts,
		})

		if v.Info.IsFromMe {
			return
		}
		m.bus.PublishInbound(&bus.InboundMessage{
			Transport: "whatsapp",
			ChatID:    chatID,
			MessageID: v.Info.ID,
			SenderID:  v.Info.Sender.String(),
			Content:   content,
			Timestamp: ts,
		})

	case *events.Disconnected:
		slog.Warn("WhatsApp disconnected")
	case *events.Connected:
		slog.Info("WhatsApp connected")
	}
}
