package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletlink/core"
)

func TestWatermillPublisher(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 4}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "walletlink.authorizations")
	require.NoError(t, err)

	p := NewWatermillPublisher(pubSub)
	require.NoError(t, p.PublishIssued(ctx, &core.Authorization{
		DApp:      "MyDapp",
		Site:      "app.example.com",
		Token:     "secret",
		Address:   "P2K-A",
		Version:   core.Version2,
		ExpiresAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, p.PublishRevoked(ctx, 3))

	// gochannel does not order deliveries
	got := map[string]AuthorizationEvent{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-messages:
			assert.NotContains(t, string(msg.Payload), "secret")
			var ev AuthorizationEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &ev))
			got[ev.Type] = ev
			msg.Ack()
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	assert.Equal(t, "MyDapp", got[EventIssued].DApp)
	assert.Equal(t, "2", got[EventIssued].Version)
	assert.Equal(t, 3, got[EventRevoked].Count)
}
