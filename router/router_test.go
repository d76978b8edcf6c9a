package router

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/adapters/tokenizer"
	"github.com/layer-3/walletlink/codec"
	"github.com/layer-3/walletlink/consent"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
	"github.com/layer-3/walletlink/service"
	"github.com/layer-3/walletlink/session"
)

type published struct {
	topic string
	env   core.Envelope
}

type fakeBus struct {
	mu    sync.Mutex
	sent  []published
	inbox chan core.Envelope
}

func (b *fakeBus) Publish(_ context.Context, topic string, env core.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, published{topic: topic, env: env})
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan core.Envelope, error) {
	return b.inbox, nil
}

func (b *fakeBus) replies() []*core.Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*core.Reply
	for _, p := range b.sent {
		if p.env.Tag == core.TagResponse {
			out = append(out, p.env.Reply)
		}
	}
	return out
}

func (b *fakeBus) lastReply(t *testing.T) *core.Reply {
	t.Helper()
	replies := b.replies()
	require.NotEmpty(t, replies, "expected a reply")
	return replies[len(replies)-1]
}

type fakeTabs map[int]core.Tab

func (f fakeTabs) Get(_ context.Context, id int) (core.Tab, error) {
	tab, ok := f[id]
	if !ok {
		return core.Tab{}, core.ErrNotFound
	}
	return tab, nil
}

type fakeWindows struct {
	mu     sync.Mutex
	opened []core.WindowSpec
}

func (w *fakeWindows) Open(_ context.Context, spec core.WindowSpec) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = append(w.opened, spec)
	return len(w.opened), nil
}

func (w *fakeWindows) Close(context.Context, int) error { return nil }

func (w *fakeWindows) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.opened)
}

func (w *fakeWindows) last(t *testing.T) *codec.Navigation {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.opened)
	nav, err := codec.ParseNavigation(w.opened[len(w.opened)-1].URL)
	require.NoError(t, err)
	return nav
}

type fakeChain struct {
	account *core.ChainAccount
	result  *core.ScriptResult
	err     error
	panics  bool
}

func (c *fakeChain) GetAccount(_ context.Context, address string) (*core.ChainAccount, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.account != nil {
		return c.account, nil
	}
	return &core.ChainAccount{Address: address}, nil
}

func (c *fakeChain) InvokeRawScript(context.Context, string, string) (*core.ScriptResult, error) {
	if c.panics {
		panic("boom")
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *fakeChain) SendRawTransaction(context.Context, string) (string, error) { return "", nil }

func (c *fakeChain) Host() string { return "http://node.example:7077/rpc" }

type fakeBalances struct{}

func (fakeBalances) Supports(platform string) bool { return platform == "ethereum" }

func (fakeBalances) Balances(_ context.Context, _ string, _ string, mainnet bool) ([]core.Balance, error) {
	return []core.Balance{{Symbol: "ETH", Value: "1.5", Decimals: 18}}, nil
}

type harness struct {
	router   *Router
	bus      *fakeBus
	windows  *fakeWindows
	chain    *fakeChain
	storage  *store.MemoryStore
	auths    *service.AuthorizationStore
	dir      *session.Directory
	consent  *consent.Controller
	receipts ports.ReceiptTokenizer
}

const tabID = 7

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		bus:     &fakeBus{inbox: make(chan core.Envelope)},
		windows: &fakeWindows{},
		chain:   &fakeChain{},
		storage: store.NewMemoryStore(),
	}

	h.setAccounts(t, 0, core.Account{Address: "P2KA", Name: "alice", EthAddress: "0xa11ce"}, core.Account{Address: "P2KB", Name: "bob"})
	h.dir = session.NewDirectory(h.storage)
	require.NoError(t, h.dir.Load(ctx))
	t.Cleanup(h.dir.Watch(ctx, h.storage))

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	h.receipts = tokenizer.NewJWTTokenizer(key)

	h.auths = service.NewAuthorizationStore(h.storage)
	h.consent = consent.NewController(h.windows, h.receipts, "popup.html?/#/", consent.WithTimeout(0))
	h.router = New(DefaultConfig(), Deps{
		Authorizations: h.auths,
		Accounts:       h.dir,
		Approvals:      h.consent,
		Tabs:           fakeTabs{tabID: {ID: tabID, URL: "https://app.example/play", FavIconURL: "https://app.example/icon.png"}},
		Chain:          h.chain,
		Balances:       fakeBalances{},
		Bus:            h.bus,
	})
	return h
}

func (h *harness) setAccounts(t *testing.T, current int, accounts ...core.Account) {
	t.Helper()
	raw, err := json.Marshal(accounts)
	require.NoError(t, err)
	require.NoError(t, h.storage.Set(context.Background(), session.AccountsKey, raw))
	h.selectAccount(t, current)
}

func (h *harness) selectAccount(t *testing.T, index int) {
	t.Helper()
	raw, err := json.Marshal(index)
	require.NoError(t, err)
	require.NoError(t, h.storage.Set(context.Background(), session.CurrentIndexKey, raw))
}

func (h *harness) send(data string) {
	h.router.Handle(context.Background(), core.Envelope{Tag: core.TagRequest, TabID: tabID, StreamID: "sid", Data: data})
}

func (h *harness) issue(t *testing.T, version core.Version) string {
	t.Helper()
	auth, err := h.auths.Issue(context.Background(), core.Grant{
		DApp:    "MyDapp",
		Site:    "app.example",
		Address: h.dir.ActiveAddress(),
		Version: version,
		TTL:     time.Hour,
	})
	require.NoError(t, err)
	return auth.Token
}

func (h *harness) decide(t *testing.T, requestID int64, outcome core.Outcome, artifact string) {
	t.Helper()
	receipt, err := h.receipts.DecisionToToken(&core.Decision{TabID: tabID, RequestID: requestID, Outcome: outcome, Artifact: artifact})
	require.NoError(t, err)
	require.NoError(t, h.consent.Submit(context.Background(), receipt))
}

func TestRouter_DropsRequestsWithoutToken(t *testing.T) {
	h := newHarness(t)

	h.send("7,getPeer")
	h.send("8,getAccount/MyDapp/deadbeef")
	h.send("9,signTx/main/00/aa/Ed25519/phantasma/MyDapp/deadbeef")
	h.send("10,signData/cafe/Ed25519/MyDapp/deadbeef")
	h.send("11,invokeScript/main/00/MyDapp/deadbeef")
	h.send("12,getNexus/MyDapp/deadbeef")

	assert.Empty(t, h.bus.replies())
	assert.Equal(t, 0, h.windows.count())
}

func TestRouter_AuthorizeThroughConsent(t *testing.T) {
	h := newHarness(t)

	h.send("7,authorize/MyDapp/2")
	assert.Empty(t, h.bus.replies(), "no reply before the user decides")

	require.Equal(t, 1, h.windows.count())
	nav := h.windows.last(t)
	assert.Equal(t, codec.FlowAuthorize, nav.Flow)
	assert.Equal(t, int64(7), nav.RequestID)
	assert.Equal(t, "MyDapp", nav.DApp)
	assert.Equal(t, core.Version2, nav.Version)
	assert.Equal(t, "https://app.example/play", nav.OriginURL)
	assert.Len(t, nav.Token, 64)

	h.decide(t, 7, core.OutcomeApproved, "")

	reply := h.bus.lastReply(t)
	assert.Equal(t, int64(7), reply.ID)
	assert.True(t, reply.Success)
	assert.Equal(t, nav.Token, reply.Token)
	assert.Equal(t, "Ecto", reply.Wallet)
	assert.Equal(t, "mainnet", reply.Nexus)

	auths, err := h.auths.List(context.Background())
	require.NoError(t, err)
	require.Len(t, auths, 1)
	assert.Equal(t, "MyDapp", auths[0].DApp)
	assert.Equal(t, "app.example", auths[0].Site)
	assert.Equal(t, core.Version2, auths[0].Version)
	assert.Equal(t, "P2KA", auths[0].Address)

	h.bus.mu.Lock()
	last := h.bus.sent[len(h.bus.sent)-1]
	h.bus.mu.Unlock()
	assert.Equal(t, core.TabTopic(tabID), last.topic)
	assert.Equal(t, "sid", last.env.StreamID)
}

func TestRouter_AuthorizeFastPath(t *testing.T) {
	h := newHarness(t)

	h.send("1,authorize/MyDapp/2")
	h.decide(t, 1, core.OutcomeApproved, "")
	first := h.bus.lastReply(t)

	h.send("2,authorize/MyDapp/2")
	second := h.bus.lastReply(t)

	assert.Equal(t, 1, h.windows.count(), "fast path opens no window")
	assert.Equal(t, int64(2), second.ID)
	assert.True(t, second.Success)
	assert.Equal(t, first.Token, second.Token)
}

func TestRouter_AddressSwitchForcesConsent(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)

	h.selectAccount(t, 1)
	require.Equal(t, "P2KB", h.dir.ActiveAddress())

	h.send("3,authorize/MyDapp/2")
	assert.Empty(t, h.bus.replies())
	assert.Equal(t, 1, h.windows.count())

	// bearer requests with the old token are dropped as well
	h.send("4,getPeer/MyDapp/" + token)
	assert.Empty(t, h.bus.replies())
}

func TestRouter_AuthorizeDeniedAndClosed(t *testing.T) {
	h := newHarness(t)

	h.send("1,authorize/MyDapp")
	h.decide(t, 1, core.OutcomeDenied, "")
	reply := h.bus.lastReply(t)
	assert.False(t, reply.Success)
	assert.Equal(t, core.ReasonDenied, reply.Reason)

	h.send("2,authorize/MyDapp")
	require.NoError(t, h.consent.WindowClosed(context.Background(), 2))
	reply = h.bus.lastReply(t)
	assert.Equal(t, int64(2), reply.ID)
	assert.Equal(t, core.ReasonClosed, reply.Reason)

	auths, err := h.auths.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, auths)
}

func TestRouter_AuthorizeFromUnknownTab(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), core.Envelope{Tag: core.TagRequest, TabID: 99, Data: "1,authorize/MyDapp/2"})

	nav := h.windows.last(t)
	assert.Equal(t, "http://unknown", nav.OriginURL)
	assert.Equal(t, "unknown", nav.Favicon)
}

func TestRouter_Malformed(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		data string
		id   int64
	}{
		{"garbage", 0},
		{"x,getPeer", 0},
		{"9,bogus/x", 9},
		{"10,authorize", 10},
		{"11,authorize/MyDapp/3", 11},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			h.send(tt.data)
			reply := h.bus.lastReply(t)
			assert.Equal(t, tt.id, reply.ID)
			assert.False(t, reply.Success)
			assert.Equal(t, core.ReasonMalformed, reply.Reason)
		})
	}
}

func TestRouter_DirectAnswers(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)
	h.chain.result = &core.ScriptResult{Result: "42", Results: []any{"42"}}

	h.send("1,getPeer/MyDapp/" + token)
	assert.Equal(t, "http://node.example:7077/rpc", h.bus.lastReply(t).Result)

	h.send("2,getNexus/MyDapp/" + token)
	assert.Equal(t, "mainnet", h.bus.lastReply(t).Result)

	h.send("3,invokeScript/main/0d00/MyDapp/" + token)
	reply := h.bus.lastReply(t)
	assert.Equal(t, int64(3), reply.ID)
	assert.True(t, reply.Success)
	assert.Equal(t, "42", reply.Result)
	assert.Equal(t, []any{"42"}, reply.Results)

	assert.Equal(t, 0, h.windows.count())
}

func TestRouter_GetAccount(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)
	h.chain.account = &core.ChainAccount{
		Address: "P2KA",
		Name:    "alice",
		Balances: []core.ChainBalance{
			{Chain: "main", Symbol: "KCAL", Amount: "000100", Decimals: 10},
		},
	}

	h.send("1,getAccount/MyDapp/" + token)
	reply := h.bus.lastReply(t)
	require.True(t, reply.Success)
	assert.Equal(t, "alice", reply.Name)
	assert.Equal(t, "P2KA", reply.Address)
	assert.Equal(t, "phantasma", reply.Platform)
	assert.Equal(t, "", reply.External)
	require.Len(t, reply.Balances, 2)
	assert.Equal(t, core.Balance{Symbol: "SOUL", Value: "0", Decimals: 8}, reply.Balances[0])
	assert.Equal(t, "100", reply.Balances[1].Value)

	h.send("2,getAccount/ethereum/MyDapp/" + token)
	reply = h.bus.lastReply(t)
	assert.Equal(t, "ethereum", reply.Platform)
	assert.Equal(t, "0xa11ce", reply.External)
	assert.Equal(t, []core.Balance{{Symbol: "ETH", Value: "1.5", Decimals: 18}}, reply.Balances)

	// no bsc address or balance source: native platform
	h.send("3,getAccount/bsc/MyDapp/" + token)
	reply = h.bus.lastReply(t)
	assert.Equal(t, "phantasma", reply.Platform)
	assert.Equal(t, "", reply.External)
}

func TestRouter_SignTxRequiresConsent(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)

	h.send("5,signTx/main/0d00//Ed25519/Phantasma/Moderate/MyDapp/" + token)
	assert.Empty(t, h.bus.replies())

	nav := h.windows.last(t)
	assert.Equal(t, codec.FlowSign, nav.Flow)
	assert.Equal(t, token, nav.Token)
	tx, err := codec.DecodeTxBundle(nav.Payload)
	require.NoError(t, err)
	assert.Equal(t, "main", tx.Chain)
	assert.Equal(t, "0d00", tx.Script)
	assert.Equal(t, DefaultConfig().DefaultPayload, tx.Payload)
	assert.Equal(t, "phantasma", tx.Platform)
	assert.Equal(t, "Moderate", tx.ProofOfWork)

	h.decide(t, 5, core.OutcomeApproved, "0xhash")
	reply := h.bus.lastReply(t)
	assert.Equal(t, int64(5), reply.ID)
	assert.True(t, reply.Success)
	assert.Equal(t, "0xhash", reply.Hash)
}

func TestRouter_SignTxUsesAuthorizationVersion(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version1)

	h.send("5,signTx/testnet/main/0d00/cafe/MyDapp/" + token)
	tx, err := codec.DecodeTxBundle(h.windows.last(t).Payload)
	require.NoError(t, err)
	assert.Equal(t, "testnet", tx.Nexus)
	assert.Equal(t, "cafe", tx.Payload)
	assert.Equal(t, "Ed25519", tx.Signature)

	// a v2 shaped body under a v1 token does not fit
	h.send("6,signTx/main/0d00/cafe/Ed25519/phantasma/MyDapp/" + token)
	reply := h.bus.lastReply(t)
	assert.Equal(t, int64(6), reply.ID)
	assert.Equal(t, core.ReasonMalformed, reply.Reason)
}

func TestRouter_SignTxRejectsBadFields(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)

	h.send("1,signTx/main/0d00/aa/Ed25519/phantasma/Ludicrous/MyDapp/" + token)
	assert.Equal(t, core.ReasonMalformed, h.bus.lastReply(t).Reason)

	h.send("2,signTx/main/zz/aa/Ed25519/phantasma/MyDapp/" + token)
	assert.Equal(t, core.ReasonMalformed, h.bus.lastReply(t).Reason)

	assert.Equal(t, 0, h.windows.count())
}

func TestRouter_SignData(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)

	h.send("4,signData/cafe/Ed25519/ETHEREUM/MyDapp/" + token)
	nav := h.windows.last(t)
	assert.Equal(t, codec.FlowSignData, nav.Flow)
	data, err := codec.DecodeDataBundle(nav.Payload)
	require.NoError(t, err)
	assert.Equal(t, core.DataBundle{Data: "cafe", SignatureKind: "Ed25519", Platform: "ethereum"}, *data)

	h.decide(t, 4, core.OutcomeApproved, "sig")
	reply := h.bus.lastReply(t)
	assert.True(t, reply.Success)
	assert.Equal(t, "sig", reply.Signature)

	h.send("5,signData/nothex/Ed25519/MyDapp/" + token)
	assert.Equal(t, core.ReasonMalformed, h.bus.lastReply(t).Reason)
}

func TestRouter_DuplicatePendingRequestIsIgnored(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)

	h.send("5,signData/cafe/Ed25519/MyDapp/" + token)
	h.send("5,signData/cafe/Ed25519/MyDapp/" + token)

	assert.Equal(t, 1, h.windows.count())
	assert.Empty(t, h.bus.replies())
}

func TestRouter_UpstreamFailure(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)
	h.chain.err = errors.New("connection refused")

	h.send("3,invokeScript/main/0d00/MyDapp/" + token)
	reply := h.bus.lastReply(t)
	assert.Equal(t, int64(3), reply.ID)
	assert.False(t, reply.Success)
	assert.Equal(t, core.ReasonUpstream, reply.Reason)
	assert.Contains(t, reply.Message, "connection refused")
}

func TestRouter_PanicBecomesFailureReply(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)
	h.chain.panics = true

	assert.NotPanics(t, func() { h.send("3,invokeScript/main/0d00/MyDapp/" + token) })
	reply := h.bus.lastReply(t)
	assert.Equal(t, int64(3), reply.ID)
	assert.Equal(t, core.ReasonInternal, reply.Reason)
}

func TestRouter_IgnoresNonRequests(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), core.Envelope{Tag: core.TagResponse, TabID: tabID, Data: "1,getPeer"})
	h.router.Handle(context.Background(), core.Envelope{Tag: core.TagInit, TabID: tabID})
	assert.Empty(t, h.bus.sent)
}

func TestRouter_TabUpdated(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.TabUpdated(context.Background(), 3))

	require.Len(t, h.bus.sent, 1)
	assert.Equal(t, core.TabTopic(3), h.bus.sent[0].topic)
	assert.Equal(t, core.TagInit, h.bus.sent[0].env.Tag)
}

func TestRouter_Run(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, core.Version2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx) }()

	for i := 1; i <= 5; i++ {
		h.bus.inbox <- core.Envelope{Tag: core.TagRequest, TabID: tabID, Data: fmt.Sprintf("%d,getNexus/MyDapp/%s", i, token)}
	}

	require.Eventually(t, func() bool { return len(h.bus.replies()) == 5 }, time.Second, 5*time.Millisecond)
	ids := map[int64]bool{}
	for _, r := range h.bus.replies() {
		ids[r.ID] = true
	}
	assert.Len(t, ids, 5)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("router did not stop")
	}
}
