// Package events is Aegis's internal typed event bus: an in-process
// publish/subscribe fabric carrying failover, conflict, and
// replication-sync events between subsystems without direct coupling.
//
// Generalized from an ad-hoc "func(*DREvent)" callback style to a
// typed, topic-routed bus backed by Watermill's in-process gochannel
// pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic names for the event kinds Aegis publishes internally.
const (
	TopicFailover     = "aegis.failover"
	TopicConflict     = "aegis.conflict"
	TopicReplication  = "aegis.replication.sync"
	TopicHealthChange = "aegis.health.change"
)

// Bus wraps a gochannel pub/sub pair with JSON-encoded typed publish
// and subscribe helpers.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New creates an in-process event bus. Messages published before a
// subscriber for their topic exists are dropped, matching gochannel's
// default fan-out semantics — callers that need every event subscribe
// before anything starts publishing.
func New(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          false,
		}, logger),
	}
}

// Publish JSON-encodes payload and publishes it to topic.
func (b *Bus) Publish(topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload for %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	return b.pubsub.Publish(topic, msg)
}

// Subscribe returns a channel of decoded payloads for topic. Each
// message's JSON body is unmarshalled into a fresh T; a message that
// fails to decode is nacked and skipped.
func Subscribe[T any](ctx context.Context, b *Bus, topic string) (<-chan T, error) {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", topic, err)
	}

	out := make(chan T, 32)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var payload T
				if err := json.Unmarshal(msg.Payload, &payload); err != nil {
					msg.Nack()
					continue
				}
				msg.Ack()
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the underlying gochannel resources.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
