// Package router is the privileged side of the protocol. It decodes every
// request, checks its credentials, answers it directly or hands it to the
// consent controller, and routes the reply back to the originating tab.
//
// Requests of token-bearing kinds whose token does not resolve to a live
// authorization for the active address are dropped without any reply, so a
// caller cannot tell a wrong token from a closed tab.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/codec"
	"github.com/layer-3/walletlink/consent"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// Authorizations is the part of the Authorization Store the router uses.
type Authorizations interface {
	NewToken() (string, error)
	Issue(ctx context.Context, grant core.Grant) (*core.Authorization, error)
	FindValid(ctx context.Context, dapp, site string, version core.Version) (*core.Authorization, error)
	FindByToken(ctx context.Context, token string) (*core.Authorization, error)
	InvalidateIfAddressChanged(auth *core.Authorization, currentAddress string) *core.Authorization
}

// Accounts is the read view of the wallet session.
type Accounts interface {
	ActiveAccount() (core.Account, bool)
	ActiveAddress() string
	Nexus() string
	Mainnet() bool
}

// Approvals suspends requests until the user decides.
type Approvals interface {
	Begin(ctx context.Context, p *core.PendingApproval, resume consent.ResumeFunc) error
}

type Config struct {
	WalletName       string
	NativePlatform   string
	NativeSymbol     string
	NativeDecimals   int
	DefaultPayload   string
	AuthorizationTTL time.Duration // used when the surface does not pick one
}

func DefaultConfig() Config {
	return Config{
		WalletName:       "Ecto",
		NativePlatform:   "phantasma",
		NativeSymbol:     "SOUL",
		NativeDecimals:   8,
		DefaultPayload:   "4543542d312e362e30",
		AuthorizationTTL: 24 * time.Hour,
	}
}

type Router struct {
	cfg       Config
	auths     Authorizations
	accounts  Accounts
	approvals Approvals
	tabs      ports.Tabs
	chain     ports.ChainClient
	balances  ports.ExternalBalances
	bus       ports.Bus

	wg sync.WaitGroup
}

// Deps groups the router's collaborators.
type Deps struct {
	Authorizations Authorizations
	Accounts       Accounts
	Approvals      Approvals
	Tabs           ports.Tabs
	Chain          ports.ChainClient
	Balances       ports.ExternalBalances // optional
	Bus            ports.Bus
}

func New(cfg Config, deps Deps) *Router {
	return &Router{
		cfg:       cfg,
		auths:     deps.Authorizations,
		accounts:  deps.Accounts,
		approvals: deps.Approvals,
		tabs:      deps.Tabs,
		chain:     deps.Chain,
		balances:  deps.Balances,
		bus:       deps.Bus,
	}
}

// Run handles router-bound envelopes until ctx is done. Each envelope is
// handled on its own goroutine; ordering across requests is not kept.
func (r *Router) Run(ctx context.Context) error {
	inbox, err := r.bus.Subscribe(ctx, core.RouterTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe router: %w", err)
	}

	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Handle(ctx, env)
			}()
		}
	}
}

// TabUpdated asks the tab's relay to make sure the page bridge is present.
func (r *Router) TabUpdated(ctx context.Context, tabID int) error {
	return r.bus.Publish(ctx, core.TabTopic(tabID), core.Envelope{Tag: core.TagInit, TabID: tabID})
}

// Handle is the dispatch boundary: nothing a handler returns or panics with
// escapes it.
func (r *Router) Handle(ctx context.Context, env core.Envelope) {
	if env.Tag != core.TagRequest {
		return
	}

	start := time.Now()
	var (
		id   int64
		kind string
	)
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Int("tab", env.TabID).Int64("id", id).Msg("router: handler panicked")
			r.reply(ctx, env, core.Failure(id, core.ReasonInternal, fmt.Errorf("internal error")))
			recordCommand(kind, outcomeFailed, time.Since(start))
		}
	}()

	cmd, err := codec.Decode(env.Data)
	if err != nil {
		var me *codec.MalformedError
		if errors.As(err, &me) {
			id = me.ID
		}
		log.Debug().Err(err).Int("tab", env.TabID).Msg("router: malformed command")
		r.reply(ctx, env, core.Failure(id, core.ReasonMalformed, err))
		recordCommand(kind, outcomeMalformed, time.Since(start))
		return
	}
	id, kind = cmd.ID, string(cmd.Kind)

	reply, err := r.dispatch(ctx, env, cmd)
	switch {
	case errors.Is(err, core.ErrUnauthorizedRequest):
		log.Debug().Int("tab", env.TabID).Int64("id", id).Str("kind", kind).Msg("router: dropped unauthorized request")
		recordCommand(kind, outcomeDropped, time.Since(start))
	case errors.Is(err, core.ErrAlreadyPending):
		// a second reply would break at-most-once delivery for this id
		log.Debug().Int("tab", env.TabID).Int64("id", id).Msg("router: request already awaiting approval")
		recordCommand(kind, outcomeDropped, time.Since(start))
	case err != nil:
		log.Warn().Err(err).Int("tab", env.TabID).Int64("id", id).Str("kind", kind).Msg("router: request failed")
		reason := reasonFor(err)
		r.reply(ctx, env, core.Failure(id, reason, err))
		if reason == core.ReasonMalformed {
			recordCommand(kind, outcomeMalformed, time.Since(start))
		} else {
			recordCommand(kind, outcomeFailed, time.Since(start))
		}
	case reply == nil:
		recordCommand(kind, outcomeConsent, time.Since(start))
	default:
		r.reply(ctx, env, reply)
		recordCommand(kind, outcomeReplied, time.Since(start))
	}
}

func (r *Router) dispatch(ctx context.Context, env core.Envelope, cmd *core.Command) (*core.Reply, error) {
	if cmd.Kind == core.KindAuthorize {
		return r.authorize(ctx, env, cmd)
	}

	auth, err := r.authenticate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := codec.Bind(cmd, auth.EffectiveVersion()); err != nil {
		return nil, err
	}

	switch body := cmd.Body.(type) {
	case core.GetAccountBody:
		return r.getAccount(ctx, cmd, body)
	case core.SignTxBody:
		return nil, r.signTx(ctx, env, cmd, body)
	case core.SignDataBody:
		return nil, r.signData(ctx, env, cmd, body)
	case core.InvokeScriptBody:
		return r.invokeScript(ctx, cmd, body)
	case core.GetPeerBody:
		return &core.Reply{ID: cmd.ID, Success: true, Result: r.chain.Host()}, nil
	case core.GetNexusBody:
		return &core.Reply{ID: cmd.ID, Success: true, Result: r.accounts.Nexus()}, nil
	}
	return nil, fmt.Errorf("no handler for %s", cmd.Kind)
}

// authenticate resolves cmd's bearer token to a live authorization bound to
// the active address.
func (r *Router) authenticate(ctx context.Context, cmd *core.Command) (*core.Authorization, error) {
	auth, err := r.auths.FindByToken(ctx, cmd.Token)
	if err != nil {
		return nil, err
	}
	auth = r.auths.InvalidateIfAddressChanged(auth, r.accounts.ActiveAddress())
	if auth == nil {
		return nil, core.ErrUnauthorizedRequest
	}
	return auth, nil
}

func (r *Router) reply(ctx context.Context, to core.Envelope, reply *core.Reply) {
	env := core.Envelope{
		Tag:      core.TagResponse,
		TabID:    to.TabID,
		StreamID: to.StreamID,
		Reply:    reply,
	}
	if err := r.bus.Publish(ctx, core.TabTopic(to.TabID), env); err != nil {
		log.Error().Err(err).Int("tab", to.TabID).Int64("id", reply.ID).Msg("router: failed to deliver reply")
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, core.ErrMalformedCommand):
		return core.ReasonMalformed
	case errors.Is(err, core.ErrConsentDenied):
		return core.ReasonDenied
	case errors.Is(err, core.ErrConsentClosed):
		return core.ReasonClosed
	case errors.Is(err, core.ErrUpstreamFailure):
		return core.ReasonUpstream
	}
	return core.ReasonInternal
}
