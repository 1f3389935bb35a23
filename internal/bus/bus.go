// Package bus provides the async message queue and lifecycle event bus that
// decouple transports, the autopilot engine, the scheduler and observers.
package bus

import (
	"context"
	"sync"
	"time"
)

// InboundMessage represents a message arriving from a chat transport.
type InboundMessage struct {
	Transport string         `json:"transport"`
	ChatID    string         `json:"chat_id"`
	MessageID string         `json:"message_id"`
	SenderID  string         `json:"sender_id"`
	Content   string         `json:"content"`
	IsFromMe  bool           `json:"is_from_me"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventType identifies a lifecycle event on the bus.
type EventType string

const (
	EventActivityAdded    EventType = "activity-added"
	EventConfigChanged    EventType = "config-changed"
	EventActionScheduled  EventType = "action-scheduled"
	EventActionExecuted   EventType = "action-executed"
	EventKnowledgeUpdated EventType = "knowledge-updated"
)

// Event is a fire-and-forget lifecycle notification. Payload shape depends on
// the event type; consumers that need authoritative state must reconcile
// against the store (delivery is best-effort).
type Event struct {
	Type      EventType      `json:"type"`
	ChatID    string         `json:"chat_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscription is a handle to an event stream. Callers must Close it when done.
type Subscription struct {
	bus   *Bus
	id    int
	types map[EventType]bool
	ch    chan Event
	once  sync.Once
}

// C returns the receive channel for subscribed events.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.id)
	})
}

// Bus carries inbound messages to the engine and broadcasts lifecycle events
// to any number of subscribers without the emitter knowing who is listening.
type Bus struct {
	inbound chan *InboundMessage

	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a Bus.
func New() *Bus {
	return &Bus{
		inbound: make(chan *InboundMessage, 100),
		subs:    make(map[int]*Subscription),
	}
}

// PublishInbound queues a message for the engine.
func (b *Bus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or the context is done.
func (b *Bus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InboundSize returns the number of queued inbound messages.
func (b *Bus) InboundSize() int {
	return len(b.inbound)
}

// Subscribe registers for the given event types. With no types it receives
// every event. The returned Subscription must be closed by the caller.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus: b,
		id:  b.nextID,
		ch:  make(chan Event, 64),
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subs[b.nextID] = sub
	b.nextID++
	return sub
}

// Emit broadcasts an event to all matching subscribers. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event and is
// expected to reconcile by polling the store.
func (b *Bus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[evt.Type] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
