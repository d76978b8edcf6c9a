package router

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/layer-3/walletlink/codec"
	"github.com/layer-3/walletlink/core"
)

const (
	unknownURL     = "http://unknown"
	unknownFavicon = "unknown"

	defaultSignatureKind = "Ed25519"

	// replyVersion is the highest protocol version this wallet speaks.
	replyVersion = "2"
)

func (r *Router) authorize(ctx context.Context, env core.Envelope, cmd *core.Command) (*core.Reply, error) {
	origin, favicon := r.origin(ctx, env.TabID)
	site := hostname(origin)

	auth, err := r.auths.FindValid(ctx, cmd.DApp, site, cmd.Version)
	if err != nil {
		return nil, err
	}
	if auth = r.auths.InvalidateIfAddressChanged(auth, r.accounts.ActiveAddress()); auth != nil {
		return r.authorized(cmd.ID, auth), nil
	}

	// The token is fixed before the user sees the request so that the one
	// shown is the one issued.
	token, err := r.auths.NewToken()
	if err != nil {
		return nil, err
	}

	return nil, r.approvals.Begin(ctx, &core.PendingApproval{
		RequestID:     cmd.ID,
		TabID:         env.TabID,
		StreamID:      env.StreamID,
		OriginURL:     origin,
		OriginFavicon: favicon,
		Kind:          core.KindAuthorize,
		DApp:          cmd.DApp,
		Version:       cmd.Version,
		Token:         token,
	}, r.resume)
}

func (r *Router) authorized(id int64, auth *core.Authorization) *core.Reply {
	return &core.Reply{
		ID:      id,
		Success: true,
		Wallet:  r.cfg.WalletName,
		DApp:    auth.DApp,
		Token:   auth.Token,
		Nexus:   r.accounts.Nexus(),
		Version: replyVersion,
	}
}

func (r *Router) getAccount(ctx context.Context, cmd *core.Command, body core.GetAccountBody) (*core.Reply, error) {
	account, ok := r.accounts.ActiveAccount()
	if !ok {
		return nil, core.ErrNoActiveAccount
	}

	onChain, err := r.chain.GetAccount(ctx, account.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: get account: %v", core.ErrUpstreamFailure, err)
	}

	platform := r.cfg.NativePlatform
	external := ""
	balances := r.nativeBalances(onChain.Balances)

	if p := strings.ToLower(body.Platform); p != "" && p != r.cfg.NativePlatform {
		// platforms without an external address fall back to the native one
		if addr := account.External(p); addr != "" && r.balances != nil && r.balances.Supports(p) {
			ext, err := r.balances.Balances(ctx, p, addr, r.accounts.Mainnet())
			if err != nil {
				return nil, fmt.Errorf("%w: %s balances: %v", core.ErrUpstreamFailure, p, err)
			}
			platform, external, balances = p, addr, ext
		}
	}

	address := onChain.Address
	if address == "" {
		address = account.Address
	}
	name := onChain.Name
	if name == "" {
		name = account.Name
	}

	return &core.Reply{
		ID:       cmd.ID,
		Success:  true,
		Name:     name,
		Address:  address,
		Platform: platform,
		External: external,
		Balances: balances,
	}, nil
}

// nativeBalances always lists the native token first, even at zero.
func (r *Router) nativeBalances(in []core.ChainBalance) []core.Balance {
	out := make([]core.Balance, 0, len(in)+1)
	hasNative := false
	for _, b := range in {
		if b.Symbol == r.cfg.NativeSymbol {
			hasNative = true
		}
		out = append(out, core.Balance{
			Symbol:   b.Symbol,
			Value:    normalizeAmount(b.Amount),
			Decimals: b.Decimals,
			IDs:      b.IDs,
		})
	}
	if !hasNative {
		out = append([]core.Balance{{Symbol: r.cfg.NativeSymbol, Value: "0", Decimals: r.cfg.NativeDecimals}}, out...)
	}
	return out
}

// normalizeAmount strips signs of formatting from an integer amount.
func normalizeAmount(s string) string {
	if s == "" {
		return "0"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.String()
}

func (r *Router) signTx(ctx context.Context, env core.Envelope, cmd *core.Command, body core.SignTxBody) error {
	tx := core.TxData{
		Nexus:       body.Nexus,
		Chain:       body.Chain,
		Script:      body.Script,
		Payload:     body.Payload,
		Signature:   body.SignatureKind,
		Platform:    strings.ToLower(body.Platform),
		ProofOfWork: body.ProofOfWork,
	}
	if tx.Payload == "" {
		tx.Payload = r.cfg.DefaultPayload
	}
	if tx.Signature == "" {
		tx.Signature = defaultSignatureKind
	}
	if tx.Platform == "" {
		tx.Platform = r.cfg.NativePlatform
	}
	if tx.ProofOfWork != "" {
		if _, ok := codec.ProofOfWorkLevel(tx.ProofOfWork); !ok {
			return fmt.Errorf("%w: unknown proof of work %q", core.ErrMalformedCommand, tx.ProofOfWork)
		}
	}
	if _, err := hex.DecodeString(tx.Script); err != nil {
		return fmt.Errorf("%w: script is not hex", core.ErrMalformedCommand)
	}

	payload, err := codec.EncodeBundle(tx)
	if err != nil {
		return err
	}
	return r.suspend(ctx, env, cmd, payload)
}

func (r *Router) signData(ctx context.Context, env core.Envelope, cmd *core.Command, body core.SignDataBody) error {
	if _, err := hex.DecodeString(strings.TrimPrefix(body.Data, "0x")); err != nil {
		return fmt.Errorf("%w: data is not hex", core.ErrMalformedCommand)
	}

	bundle := core.DataBundle{
		Data:          body.Data,
		SignatureKind: body.SignatureKind,
		Platform:      strings.ToLower(body.Platform),
	}
	if bundle.SignatureKind == "" {
		bundle.SignatureKind = defaultSignatureKind
	}
	if bundle.Platform == "" {
		bundle.Platform = r.cfg.NativePlatform
	}

	payload, err := codec.EncodeBundle(bundle)
	if err != nil {
		return err
	}
	return r.suspend(ctx, env, cmd, payload)
}

// suspend hands a signing request to the consent flow. Token validity never
// stands in for the user's approval of a signature.
func (r *Router) suspend(ctx context.Context, env core.Envelope, cmd *core.Command, payload string) error {
	origin, favicon := r.origin(ctx, env.TabID)
	return r.approvals.Begin(ctx, &core.PendingApproval{
		RequestID:     cmd.ID,
		TabID:         env.TabID,
		StreamID:      env.StreamID,
		OriginURL:     origin,
		OriginFavicon: favicon,
		Kind:          cmd.Kind,
		DApp:          cmd.DApp,
		Version:       cmd.Version,
		Token:         cmd.Token,
		Payload:       payload,
	}, r.resume)
}

func (r *Router) invokeScript(ctx context.Context, cmd *core.Command, body core.InvokeScriptBody) (*core.Reply, error) {
	res, err := r.chain.InvokeRawScript(ctx, body.Chain, body.Script)
	if err != nil {
		return nil, fmt.Errorf("%w: invoke script: %v", core.ErrUpstreamFailure, err)
	}
	return &core.Reply{ID: cmd.ID, Success: true, Result: res.Result, Results: res.Results}, nil
}

// resume relays the user's decision on p to the originating tab.
func (r *Router) resume(ctx context.Context, p core.PendingApproval, d core.Decision) {
	to := core.Envelope{TabID: p.TabID, StreamID: p.StreamID}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("approval", p.Key()).Msg("router: resume panicked")
			r.reply(ctx, to, core.Failure(p.RequestID, core.ReasonInternal, fmt.Errorf("internal error")))
		}
	}()

	recordDecision(string(p.Kind), string(d.Outcome))
	r.reply(ctx, to, r.decide(ctx, p, d))
}

func (r *Router) decide(ctx context.Context, p core.PendingApproval, d core.Decision) *core.Reply {
	switch d.Outcome {
	case core.OutcomeDenied:
		return core.Failure(p.RequestID, core.ReasonDenied, core.ErrConsentDenied)
	case core.OutcomeClosed:
		return core.Failure(p.RequestID, core.ReasonClosed, core.ErrConsentClosed)
	}

	switch p.Kind {
	case core.KindAuthorize:
		address := r.accounts.ActiveAddress()
		if address == "" {
			return core.Failure(p.RequestID, core.ReasonInternal, core.ErrNoActiveAccount)
		}
		ttl := d.TTL
		if ttl <= 0 {
			ttl = r.cfg.AuthorizationTTL
		}
		auth, err := r.auths.Issue(ctx, core.Grant{
			Token:   p.Token,
			DApp:    p.DApp,
			Site:    hostname(p.OriginURL),
			Address: address,
			Version: p.Version,
			TTL:     ttl,
		})
		if err != nil {
			log.Error().Err(err).Str("dapp", p.DApp).Msg("router: failed to issue authorization")
			return core.Failure(p.RequestID, core.ReasonInternal, err)
		}
		return r.authorized(p.RequestID, auth)
	case core.KindSignTx:
		return &core.Reply{ID: p.RequestID, Success: true, Hash: d.Artifact}
	case core.KindSignData:
		return &core.Reply{ID: p.RequestID, Success: true, Signature: d.Artifact}
	}
	return core.Failure(p.RequestID, core.ReasonInternal, fmt.Errorf("no consent flow for %s", p.Kind))
}

// origin returns the tab's URL and favicon, or placeholders when the tab is
// gone or never reported them.
func (r *Router) origin(ctx context.Context, tabID int) (string, string) {
	tab, err := r.tabs.Get(ctx, tabID)
	if err != nil {
		log.Debug().Err(err).Int("tab", tabID).Msg("router: tab lookup failed")
		return unknownURL, unknownFavicon
	}
	origin, favicon := tab.URL, tab.FavIconURL
	if origin == "" {
		origin = unknownURL
	}
	if favicon == "" {
		favicon = unknownFavicon
	}
	return origin, favicon
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
