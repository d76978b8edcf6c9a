package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

const (
	// AuthorizationsKey is the storage key holding the authorization list
	AuthorizationsKey = "authorizations"

	// TokenBytes of entropy behind every token (64 hex digits)
	TokenBytes = 32
)

// AuthorizationStore issues, validates and prunes dApp authorizations. It is
// the only writer of AuthorizationsKey; every read goes back to storage so
// that no stale mirror outlives a write from another context.
type AuthorizationStore struct {
	storage  ports.Storage
	eventPub ports.EventPublisher
	now      core.Clock

	mu sync.Mutex
}

// Option configures an AuthorizationStore
type Option func(*AuthorizationStore)

// WithClock overrides the time source
func WithClock(now core.Clock) Option {
	return func(s *AuthorizationStore) { s.now = now }
}

// WithEvents publishes issue and revoke events through eventPub
func WithEvents(eventPub ports.EventPublisher) Option {
	return func(s *AuthorizationStore) { s.eventPub = eventPub }
}

// NewAuthorizationStore creates a new authorization store
func NewAuthorizationStore(storage ports.Storage, opts ...Option) *AuthorizationStore {
	s := &AuthorizationStore{
		storage: storage,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewToken generates an unguessable token
func (s *AuthorizationStore) NewToken() (string, error) {
	tokenBytes := make([]byte, TokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(tokenBytes), nil
}

// Issue persists a new authorization for grant. A grant without a token
// gets a fresh one. The new record supersedes any earlier one for the same
// (dApp, site, version).
func (s *AuthorizationStore) Issue(ctx context.Context, grant core.Grant) (*core.Authorization, error) {
	if grant.TTL <= 0 {
		return nil, fmt.Errorf("invalid ttl %s", grant.TTL)
	}
	if !grant.Version.Valid() {
		return nil, fmt.Errorf("invalid protocol version %q", grant.Version)
	}

	token := grant.Token
	if token == "" {
		var err error
		if token, err = s.NewToken(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auths, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range auths {
		if auths[i].Token == token && !auths[i].Expired(now) {
			return nil, core.ErrTokenCollision
		}
	}

	auth := core.Authorization{
		DApp:      grant.DApp,
		Site:      grant.Site,
		Token:     token,
		Address:   grant.Address,
		IssuedAt:  now,
		ExpiresAt: now.Add(grant.TTL),
		Version:   grant.Version,
	}
	auths = append(auths, auth)

	if err := s.save(ctx, auths); err != nil {
		return nil, err
	}

	if s.eventPub != nil {
		if err := s.eventPub.PublishIssued(ctx, &auth); err != nil {
			// The authorization is persisted, which is the critical part
			log.Warn().Err(err).Str("dapp", auth.DApp).Msg("authz: failed to publish issue event")
		}
	}

	return &auth, nil
}

// FindValid prunes everything expired or superseded, then returns the newest
// authorization answering (dapp, site, version), or nil.
func (s *AuthorizationStore) FindValid(ctx context.Context, dapp, site string, version core.Version) (*core.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auths, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	live := prune(auths, s.now())
	if len(live) != len(auths) {
		if err := s.save(ctx, live); err != nil {
			return nil, err
		}
	}

	// newest last
	for i := len(live) - 1; i >= 0; i-- {
		if live[i].Matches(dapp, site, version) {
			auth := live[i]
			return &auth, nil
		}
	}

	return nil, nil
}

// FindByToken returns the authorization for token if it is neither expired
// nor superseded, or nil.
func (s *AuthorizationStore) FindByToken(ctx context.Context, token string) (*core.Authorization, error) {
	if token == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auths, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	for _, auth := range prune(auths, s.now()) {
		if auth.Token == token {
			return &auth, nil
		}
	}

	return nil, nil
}

// InvalidateIfAddressChanged returns nil when auth is bound to an address
// other than currentAddress. Nothing is deleted.
func (s *AuthorizationStore) InvalidateIfAddressChanged(auth *core.Authorization, currentAddress string) *core.Authorization {
	if auth == nil || auth.Address != currentAddress {
		return nil
	}
	return auth
}

// RevokeAll removes every authorization
func (s *AuthorizationStore) RevokeAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auths, err := s.load(ctx)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, AuthorizationsKey); err != nil {
		return fmt.Errorf("failed to revoke authorizations: %w", err)
	}

	if s.eventPub != nil {
		if err := s.eventPub.PublishRevoked(ctx, len(auths)); err != nil {
			log.Warn().Err(err).Msg("authz: failed to publish revoke event")
		}
	}

	return nil
}

// List returns the live authorizations, newest last
func (s *AuthorizationStore) List(ctx context.Context) ([]core.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auths, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return prune(auths, s.now()), nil
}

func (s *AuthorizationStore) load(ctx context.Context) ([]core.Authorization, error) {
	raw, err := s.storage.Get(ctx, AuthorizationsKey)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load authorizations: %w", err)
	}

	var auths []core.Authorization
	if err := json.Unmarshal(raw, &auths); err != nil {
		return nil, fmt.Errorf("failed to decode authorizations: %w", err)
	}
	return auths, nil
}

func (s *AuthorizationStore) save(ctx context.Context, auths []core.Authorization) error {
	if auths == nil {
		auths = []core.Authorization{}
	}
	raw, err := json.Marshal(auths)
	if err != nil {
		return fmt.Errorf("failed to encode authorizations: %w", err)
	}
	if err := s.storage.Set(ctx, AuthorizationsKey, raw); err != nil {
		return fmt.Errorf("failed to save authorizations: %w", err)
	}
	return nil
}

// prune keeps, in order, the records that are unexpired at now and not
// followed by a newer record for the same (dApp, site, version).
func prune(auths []core.Authorization, now time.Time) []core.Authorization {
	type tuple struct {
		dapp, site string
		version    core.Version
	}

	seen := make(map[tuple]bool, len(auths))
	keep := make([]bool, len(auths))
	for i := len(auths) - 1; i >= 0; i-- {
		a := &auths[i]
		if a.Expired(now) {
			continue
		}
		key := tuple{a.DApp, a.Site, a.EffectiveVersion()}
		if seen[key] {
			continue
		}
		seen[key] = true
		keep[i] = true
	}

	out := make([]core.Authorization, 0, len(auths))
	for i, k := range keep {
		if k {
			out = append(out, auths[i])
		}
	}
	return out
}
