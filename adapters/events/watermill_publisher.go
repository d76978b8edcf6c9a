package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

const (
	EventIssued  = "authorization.issued"
	EventRevoked = "authorizations.revoked"
)

// AuthorizationEvent is published on every issue and revoke
type AuthorizationEvent struct {
	Type      string    `json:"type"`
	DApp      string    `json:"dapp,omitempty"`
	Site      string    `json:"site,omitempty"`
	Address   string    `json:"address,omitempty"`
	Version   string    `json:"version,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Count     int       `json:"count,omitempty"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     "walletlink.authorizations",
	}
}

// PublishIssued publishes an issue event. The token itself never leaves the
// store.
func (p *WatermillPublisher) PublishIssued(ctx context.Context, auth *core.Authorization) error {
	return p.publish(ctx, AuthorizationEvent{
		Type:      EventIssued,
		DApp:      auth.DApp,
		Site:      auth.Site,
		Address:   auth.Address,
		Version:   string(auth.Version),
		ExpiresAt: auth.ExpiresAt,
	})
}

// PublishRevoked publishes a revoke event
func (p *WatermillPublisher) PublishRevoked(ctx context.Context, count int) error {
	return p.publish(ctx, AuthorizationEvent{
		Type:  EventRevoked,
		Count: count,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, event AuthorizationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
