// Package session exposes a read-only view of the wallet's accounts and
// network selection, kept current from storage change notifications.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// Storage keys owned by the account-management side of the wallet.
const (
	AccountsKey     = "accounts"
	CurrentIndexKey = "currentAccountIndex"
	NexusKey        = "nexus"
	RPCKey          = "rpc"
)

const DefaultNexus = "MainNet"

// SiteAuthorizations lists live authorizations, newest last.
type SiteAuthorizations interface {
	List(ctx context.Context) ([]core.Authorization, error)
}

// Directory is safe for concurrent use. It never writes to storage.
type Directory struct {
	storage ports.Storage
	auths   SiteAuthorizations

	mu       sync.RWMutex
	accounts []core.Account
	current  int
	nexus    string
	rpc      string

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

type Option func(*Directory)

// WithAuthorizations enables AccountBySite.
func WithAuthorizations(auths SiteAuthorizations) Option {
	return func(d *Directory) { d.auths = auths }
}

func NewDirectory(storage ports.Storage, opts ...Option) *Directory {
	d := &Directory{
		storage: storage,
		nexus:   DefaultNexus,
		subs:    make(map[int]func()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load reads every key the directory tracks. Missing keys keep defaults.
func (d *Directory) Load(ctx context.Context) error {
	var (
		accounts []core.Account
		current  int
		nexus    = DefaultNexus
		rpc      string
	)

	if err := d.read(ctx, AccountsKey, &accounts); err != nil {
		return err
	}
	if err := d.read(ctx, CurrentIndexKey, &current); err != nil {
		return err
	}
	if err := d.read(ctx, NexusKey, &nexus); err != nil {
		return err
	}
	if err := d.read(ctx, RPCKey, &rpc); err != nil {
		return err
	}

	kept := accounts[:0]
	for _, a := range accounts {
		if a.Type == "wif" {
			continue
		}
		kept = append(kept, a)
	}
	if nexus == "" {
		nexus = DefaultNexus
	}

	d.mu.Lock()
	d.accounts = kept
	d.current = current
	d.nexus = nexus
	d.rpc = rpc
	d.mu.Unlock()
	return nil
}

func (d *Directory) read(ctx context.Context, key string, dst any) error {
	raw, err := d.storage.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Watch reloads the directory whenever a tracked key changes and notifies
// subscribers afterwards. The returned func stops watching.
func (d *Directory) Watch(ctx context.Context, notifier ports.ChangeNotifier) func() {
	return notifier.Subscribe(func(key string, _ []byte) {
		switch key {
		case AccountsKey, CurrentIndexKey, NexusKey, RPCKey:
		default:
			return
		}
		if err := d.Load(ctx); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("session reload failed")
			return
		}
		d.notify()
	})
}

// Subscribe registers fn to run after every reload.
func (d *Directory) Subscribe(fn func()) (cancel func()) {
	d.subMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
}

func (d *Directory) notify() {
	d.subMu.Lock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ActiveAccount returns the selected account, false when none is selected.
func (d *Directory) ActiveAccount() (core.Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current < 0 || d.current >= len(d.accounts) {
		return core.Account{}, false
	}
	return d.accounts[d.current], true
}

// ActiveAddress returns the selected address or "".
func (d *Directory) ActiveAddress() string {
	a, _ := d.ActiveAccount()
	return a.Address
}

func (d *Directory) Accounts() []core.Account {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.Account, len(d.accounts))
	copy(out, d.accounts)
	return out
}

func (d *Directory) ByAddress(address string) (core.Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.accounts {
		if a.Address == address {
			return a, true
		}
	}
	return core.Account{}, false
}

// AccountBySite returns the account the site's newest live authorization is
// bound to. core.ErrNotFound when the site has none or its account is gone.
func (d *Directory) AccountBySite(ctx context.Context, site string) (core.Account, error) {
	if d.auths == nil {
		return core.Account{}, core.ErrNotFound
	}
	auths, err := d.auths.List(ctx)
	if err != nil {
		return core.Account{}, fmt.Errorf("failed to list authorizations: %w", err)
	}
	for i := len(auths) - 1; i >= 0; i-- {
		if !strings.EqualFold(auths[i].Site, site) {
			continue
		}
		if acc, ok := d.ByAddress(auths[i].Address); ok {
			return acc, nil
		}
		break
	}
	return core.Account{}, core.ErrNotFound
}

// Nexus returns the selected network name, lowercased.
func (d *Directory) Nexus() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.ToLower(d.nexus)
}

// Mainnet reports whether the selected network is the main network.
func (d *Directory) Mainnet() bool {
	return d.Nexus() == "mainnet"
}

func (d *Directory) RPC() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rpc
}
