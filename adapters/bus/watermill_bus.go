package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/core"
)

// WatermillBus implements ports.Bus on top of any Watermill pub/sub: the Go
// channel pub/sub for a single process, Redis streams across processes.
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

// NewWatermillBus creates a new bus
func NewWatermillBus(publisher message.Publisher, subscriber message.Subscriber) *WatermillBus {
	return &WatermillBus{
		publisher:  publisher,
		subscriber: subscriber,
	}
}

// Publish sends env to topic
func (b *WatermillBus) Publish(ctx context.Context, topic string, env core.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("uid", string(env.Tag))
	msg.SetContext(ctx)

	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe decodes every message on topic into an Envelope. Undecodable
// messages are acked and skipped.
func (b *WatermillBus) Subscribe(ctx context.Context, topic string) (<-chan core.Envelope, error) {
	messages, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan core.Envelope)
	go func() {
		defer close(out)
		for msg := range messages {
			var env core.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				log.Warn().Err(err).Str("topic", topic).Str("message_uuid", msg.UUID).Msg("bus: dropping undecodable message")
				msg.Ack()
				continue
			}

			select {
			case out <- env:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

// Close closes the underlying publisher and subscriber
func (b *WatermillBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}
