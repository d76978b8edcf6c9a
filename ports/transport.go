package ports

import (
	"context"

	"github.com/layer-3/walletlink/core"
)

// Bus carries envelopes between the page relay and the privileged router.
type Bus interface {
	Publish(ctx context.Context, topic string, env core.Envelope) error
	// Subscribe delivers envelopes published to topic until ctx is done.
	Subscribe(ctx context.Context, topic string) (<-chan core.Envelope, error)
}
