// Package surface is the backend of the approval window. It is the only
// component that talks to the Signer; requests reach it as navigation
// targets and leave it as signed decision receipts.
package surface

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/codec"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// Submitter accepts decision receipts. Claim must succeed before an
// approval does any work; Release hands a failed one back.
type Submitter interface {
	Claim(key string) error
	Release(key string)
	Submit(ctx context.Context, receipt string) error
	WindowClosed(ctx context.Context, windowID int) error
}

// NexusSource supplies the selected network for transactions that leave it
// empty.
type NexusSource interface {
	Nexus() string
}

// View is what one approval window shows.
type View struct {
	WindowID int
	Key      string
	Nav      codec.Navigation
	Tx       *core.TxData
	Data     *core.DataBundle
}

type Surface struct {
	receipts ports.ReceiptTokenizer
	signer   ports.Signer
	nexus    NexusSource

	mu        sync.Mutex
	submitter Submitter
	nextID    int
	views     map[string]*View
	byWindow  map[int]string
}

func New(receipts ports.ReceiptTokenizer, signer ports.Signer, nexus NexusSource) *Surface {
	return &Surface{
		receipts: receipts,
		signer:   signer,
		nexus:    nexus,
		views:    make(map[string]*View),
		byWindow: make(map[int]string),
	}
}

// Attach sets where receipts go. The consent controller needs the surface as
// its ports.Windows, so the two are tied after construction.
func (s *Surface) Attach(submitter Submitter) {
	s.mu.Lock()
	s.submitter = submitter
	s.mu.Unlock()
}

// Open implements ports.Windows.
func (s *Surface) Open(_ context.Context, spec core.WindowSpec) (int, error) {
	nav, err := codec.ParseNavigation(spec.URL)
	if err != nil {
		return 0, fmt.Errorf("bad navigation target: %w", err)
	}

	view := &View{Nav: *nav, Key: core.ApprovalKey(nav.TabID, nav.RequestID)}
	switch nav.Kind() {
	case core.KindSignTx:
		if view.Tx, err = codec.DecodeTxBundle(nav.Payload); err != nil {
			return 0, fmt.Errorf("bad transaction bundle: %w", err)
		}
	case core.KindSignData:
		if view.Data, err = codec.DecodeDataBundle(nav.Payload); err != nil {
			return 0, fmt.Errorf("bad data bundle: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	view.WindowID = s.nextID
	s.views[view.Key] = view
	s.byWindow[view.WindowID] = view.Key
	return view.WindowID, nil
}

// Close implements ports.Windows.
func (s *Surface) Close(_ context.Context, windowID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byWindow[windowID]
	if !ok {
		return nil
	}
	delete(s.byWindow, windowID)
	delete(s.views, key)
	return nil
}

// View returns the window showing the approval under key.
func (s *Surface) View(key string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[key]
	if !ok {
		return View{}, false
	}
	return *v, true
}

// Views lists open windows.
func (s *Surface) Views() []View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]View, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, *v)
	}
	return out
}

// Approve performs the approved action and submits the receipt. ttl only
// applies to authorize.
func (s *Surface) Approve(ctx context.Context, key string, ttl time.Duration) error {
	view, ok := s.View(key)
	if !ok {
		return core.ErrApprovalNotFound
	}

	sub, err := s.attached()
	if err != nil {
		return err
	}
	if err := sub.Claim(key); err != nil {
		return err
	}
	if err := s.approve(ctx, view, ttl); err != nil {
		sub.Release(key)
		return err
	}
	return nil
}

func (s *Surface) approve(ctx context.Context, view View, ttl time.Duration) error {
	decision := core.Decision{
		TabID:     view.Nav.TabID,
		RequestID: view.Nav.RequestID,
		Outcome:   core.OutcomeApproved,
	}

	switch view.Nav.Kind() {
	case core.KindAuthorize:
		decision.TTL = ttl
	case core.KindSignTx:
		tx := *view.Tx
		if tx.Nexus == "" {
			tx.Nexus = s.nexus.Nexus()
		}
		hash, err := s.signer.SignTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrUpstreamFailure, err)
		}
		decision.Artifact = hash
	case core.KindSignData:
		data, err := hex.DecodeString(strings.TrimPrefix(view.Data.Data, "0x"))
		if err != nil {
			return fmt.Errorf("%w: data is not hex: %v", core.ErrMalformedCommand, err)
		}
		sig, err := s.signer.SignData(ctx, data, view.Data.SignatureKind)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrUpstreamFailure, err)
		}
		decision.Artifact = sig
	}

	return s.submit(ctx, &decision)
}

// Deny submits a denial.
func (s *Surface) Deny(ctx context.Context, key string) error {
	view, ok := s.View(key)
	if !ok {
		return core.ErrApprovalNotFound
	}
	return s.submit(ctx, &core.Decision{TabID: view.Nav.TabID, RequestID: view.Nav.RequestID, Outcome: core.OutcomeDenied})
}

// CloseWindow is the user dismissing the window without a decision.
func (s *Surface) CloseWindow(ctx context.Context, key string) error {
	view, ok := s.View(key)
	if !ok {
		return core.ErrApprovalNotFound
	}
	_ = s.Close(ctx, view.WindowID)

	sub, err := s.attached()
	if err != nil {
		return err
	}
	return sub.WindowClosed(ctx, view.WindowID)
}

func (s *Surface) submit(ctx context.Context, decision *core.Decision) error {
	sub, err := s.attached()
	if err != nil {
		return err
	}
	receipt, err := s.receipts.DecisionToToken(decision)
	if err != nil {
		return err
	}
	log.Debug().Str("approval", core.ApprovalKey(decision.TabID, decision.RequestID)).Str("outcome", string(decision.Outcome)).Msg("submitting decision")
	return sub.Submit(ctx, receipt)
}

func (s *Surface) attached() (Submitter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitter == nil {
		return nil, fmt.Errorf("surface not attached")
	}
	return s.submitter, nil
}
