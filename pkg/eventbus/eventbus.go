// Package eventbus fans committed events out over NATS JetStream. Consumers
// use it as a wake-up signal and for cross-process distribution; the event
// log stays the source of truth and every consumer can catch up without it.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/authapp/iamcore/pkg/eventstore"
)

// Config holds the NATS connection and stream settings.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream events are published to.
	StreamName string

	// StreamSubjects are the stream's subject bindings.
	StreamSubjects []string

	// MaxAge bounds event retention in the stream.
	MaxAge time.Duration

	// MaxBytes bounds the stream size.
	MaxBytes int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		StreamName:     "IAM_EVENTS",
		StreamSubjects: []string{"events.>"},
		MaxAge:         24 * time.Hour,
		MaxBytes:       1024 * 1024 * 1024,
	}
}

// Bus implements eventstore.Publisher on NATS JetStream.
type Bus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	streamName string

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New connects to NATS and ensures the event stream exists.
func New(config Config) (*Bus, error) {
	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	bus := &Bus{nc: nc, js: js, streamName: config.StreamName}
	if err := bus.ensureStream(config); err != nil {
		nc.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) ensureStream(config Config) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  config.StreamSubjects,
		Retention: nats.InterestPolicy,
		MaxAge:    config.MaxAge,
		MaxBytes:  config.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := b.js.StreamInfo(config.StreamName); err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	}
	if _, err := b.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// busEvent is the wire shape of an event on the bus.
type busEvent struct {
	Position         uint64          `json:"position"`
	InstanceID       string          `json:"instanceId"`
	ResourceOwner    string          `json:"resourceOwner"`
	AggregateType    string          `json:"aggregateType"`
	AggregateID      string          `json:"aggregateId"`
	AggregateVersion uint64          `json:"aggregateVersion"`
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Creator          string          `json:"creator"`
	CorrelationID    string          `json:"correlationId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

func toBusEvent(event *eventstore.Event) busEvent {
	return busEvent{
		Position:         event.Position,
		InstanceID:       event.InstanceID,
		ResourceOwner:    event.ResourceOwner,
		AggregateType:    string(event.AggregateType),
		AggregateID:      event.AggregateID,
		AggregateVersion: event.AggregateVersion,
		Type:             string(event.Type),
		Payload:          event.Payload,
		Creator:          event.Creator,
		CorrelationID:    event.CorrelationID,
		CreatedAt:        event.CreatedAt,
	}
}

func (e busEvent) toEvent() *eventstore.Event {
	return &eventstore.Event{
		Position:         e.Position,
		InstanceID:       e.InstanceID,
		ResourceOwner:    e.ResourceOwner,
		AggregateType:    eventstore.AggregateType(e.AggregateType),
		AggregateID:      e.AggregateID,
		AggregateVersion: e.AggregateVersion,
		Type:             eventstore.EventType(e.Type),
		Payload:          e.Payload,
		Creator:          e.Creator,
		CorrelationID:    e.CorrelationID,
		CreatedAt:        e.CreatedAt,
	}
}

// Publish sends committed events to the stream. The global position doubles
// as the message ID so redeliveries deduplicate.
func (b *Bus) Publish(ctx context.Context, events []*eventstore.Event) error {
	for _, event := range events {
		data, err := json.Marshal(toBusEvent(event))
		if err != nil {
			return fmt.Errorf("encode event at position %d: %w", event.Position, err)
		}
		subject := fmt.Sprintf("events.%s.%s", event.AggregateType, event.Type)
		if _, err := b.js.Publish(subject, data,
			nats.MsgId(strconv.FormatUint(event.Position, 10)),
			nats.Context(ctx),
		); err != nil {
			return fmt.Errorf("publish event at position %d: %w", event.Position, err)
		}
	}
	return nil
}

// Subscribe delivers events matching the subject pattern to handler on a
// durable consumer. Handler errors leave the message unacked for redelivery.
func (b *Bus) Subscribe(subjectPattern, durable string, handler func(*eventstore.Event) error) error {
	sub, err := b.js.Subscribe(subjectPattern, func(msg *nats.Msg) {
		var wire busEvent
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			// Poison message, drop it.
			_ = msg.Term()
			return
		}
		if err := handler(wire.toEvent()); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectPattern, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Conn exposes the underlying connection for plain pub/sub side channels.
func (b *Bus) Conn() *nats.Conn {
	return b.nc
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return b.nc.Drain()
}
