// Package export mirrors bus lifecycle events to external observers. The core
// never depends on an export succeeding; everything here is fire-and-forget.
package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/config"
)

// KafkaMirror subscribes to every bus event and produces each one as a JSON
// record, so UIs and analytics can consume the same lifecycle stream the
// in-process observers see.
type KafkaMirror struct {
	writer *kafka.Writer
	bus    *bus.Bus
}

// NewKafkaMirror creates a mirror for the configured brokers and topic.
func NewKafkaMirror(cfg config.KafkaExportConfig, b *bus.Bus) *KafkaMirror {
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true, // never block the event path on broker latency
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaMirror{writer: w, bus: b}
}

// Run consumes bus events until the context is canceled. Events that fail to
// serialize or produce are dropped with a log line; the bus itself already
// treats delivery as best-effort.
func (m *KafkaMirror) Run(ctx context.Context) error {
	sub := m.bus.Subscribe()
	defer sub.Close()
	defer m.writer.Close()

	slog.Info("Kafka event mirror started", "topic", m.writer.Topic)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Kafka event mirror stopped")
			return ctx.Err()
		case evt := <-sub.C():
			m.produce(ctx, evt)
		}
	}
}

func (m *KafkaMirror) produce(ctx context.Context, evt bus.Event) {
	value, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("Event serialization failed", "type", evt.Type, "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(evt.ChatID),
		Value: value,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}
	if err := m.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("Event mirror produce failed", "type", evt.Type, "error", err)
	}
}
