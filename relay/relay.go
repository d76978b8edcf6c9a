// Package relay forwards messages between one page and the router. It holds
// no state beyond the tab it serves and never sees key material.
package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// Page is the page-side end of the relay.
type Page interface {
	// HasBridge reports whether the dApp-facing bridge is present.
	HasBridge() bool
	InjectBridge(ctx context.Context) error
	Post(ctx context.Context, env core.Envelope) error
}

type Relay struct {
	bus   ports.Bus
	page  Page
	tabID int
}

func New(bus ports.Bus, page Page, tabID int) *Relay {
	return &Relay{bus: bus, page: page, tabID: tabID}
}

// TabID returns the tab this relay serves.
func (r *Relay) TabID() int { return r.tabID }

// Run delivers router messages to the page until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	inbox, err := r.Subscribe(ctx)
	if err != nil {
		return err
	}
	return r.Serve(ctx, inbox)
}

// Subscribe opens the tab's inbox. Messages published after it returns are
// not lost even if Serve starts later.
func (r *Relay) Subscribe(ctx context.Context) (<-chan core.Envelope, error) {
	inbox, err := r.bus.Subscribe(ctx, core.TabTopic(r.tabID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe tab %d: %w", r.tabID, err)
	}
	return inbox, nil
}

// Serve consumes inbox until it closes or ctx is done.
func (r *Relay) Serve(ctx context.Context, inbox <-chan core.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			r.fromRouter(ctx, env)
		}
	}
}

func (r *Relay) fromRouter(ctx context.Context, env core.Envelope) {
	switch env.Tag {
	case core.TagInit:
		if r.page.HasBridge() {
			return
		}
		if err := r.page.InjectBridge(ctx); err != nil {
			log.Warn().Err(err).Int("tab", r.tabID).Msg("bridge injection failed")
		}
	case core.TagResponse:
		if err := r.page.Post(ctx, env); err != nil {
			log.Warn().Err(err).Int("tab", r.tabID).Msg("failed to post reply to page")
		}
	}
}

// FromPage forwards a page request to the router, stamped with the tab id.
// Anything but a request is ignored.
func (r *Relay) FromPage(ctx context.Context, env core.Envelope) error {
	if env.Tag != core.TagRequest {
		return nil
	}
	env.TabID = r.tabID
	env.Reply = nil
	return r.bus.Publish(ctx, core.RouterTopic, env)
}
