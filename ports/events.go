package ports

import (
	"context"

	"github.com/layer-3/walletlink/core"
)

// EventPublisher publishes authorization lifecycle events to other instances
type EventPublisher interface {
	PublishIssued(ctx context.Context, auth *core.Authorization) error
	PublishRevoked(ctx context.Context, count int) error
}
