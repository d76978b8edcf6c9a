// Package consent suspends requests that need a human decision, opens the
// approval surface for them and resumes each one exactly once.
package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/codec"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

const (
	WindowWidth  = 320
	WindowHeight = 600

	DefaultTimeout = 5 * time.Minute
)

// resolvedRetention is how long a resolved key keeps answering
// ErrAlreadyResolved instead of ErrApprovalNotFound.
const resolvedRetention = time.Minute

// ResumeFunc continues the flow that was suspended by Begin.
type ResumeFunc func(ctx context.Context, approval core.PendingApproval, decision core.Decision)

type entry struct {
	approval *core.PendingApproval
	resume   ResumeFunc
	timer    *time.Timer
	// claimed entries only resolve through an approving Submit
	claimed bool
}

// Controller owns every PendingApproval. It is safe for concurrent use.
type Controller struct {
	windows    ports.Windows
	receipts   ports.ReceiptTokenizer
	surfaceURL string
	timeout    time.Duration
	now        core.Clock

	mu       sync.Mutex
	pending  map[string]*entry
	byWindow map[int]string
	resolved map[string]struct{}
}

type Option func(*Controller)

// WithTimeout bounds how long an approval may stay open. Zero disables the
// bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithClock(now core.Clock) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(windows ports.Windows, receipts ports.ReceiptTokenizer, surfaceURL string, opts ...Option) *Controller {
	c := &Controller{
		windows:    windows,
		receipts:   receipts,
		surfaceURL: surfaceURL,
		timeout:    DefaultTimeout,
		now:        time.Now,
		pending:    make(map[string]*entry),
		byWindow:   make(map[int]string),
		resolved:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin registers p and opens one approval window for it. resume runs once
// when the user decides, the window closes or the timeout fires.
func (c *Controller) Begin(ctx context.Context, p *core.PendingApproval, resume ResumeFunc) error {
	target, err := codec.NavigationTarget(c.surfaceURL, p)
	if err != nil {
		return err
	}

	key := p.Key()
	approval := *p
	approval.CreatedAt = c.now()
	approval.State = core.ApprovalNew

	c.mu.Lock()
	if _, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrAlreadyPending, key)
	}
	delete(c.resolved, key)
	mine := &entry{approval: &approval, resume: resume}
	c.pending[key] = mine
	c.mu.Unlock()

	windowID, err := c.windows.Open(ctx, core.WindowSpec{URL: target, Width: WindowWidth, Height: WindowHeight})
	if err != nil {
		c.mu.Lock()
		if c.pending[key] == mine {
			delete(c.pending, key)
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to open approval window: %w", err)
	}

	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok || e != mine {
		c.mu.Unlock()
		// resolved while the window was opening
		if err := c.windows.Close(ctx, windowID); err != nil {
			log.Warn().Err(err).Int("window", windowID).Msg("failed to close approval window")
		}
		return nil
	}
	defer c.mu.Unlock()
	e.approval.WindowID = windowID
	e.approval.State = core.ApprovalAwaitingUser
	c.byWindow[windowID] = key
	c.arm(key, e)

	log.Debug().Str("approval", key).Str("kind", string(p.Kind)).Int("window", windowID).Msg("awaiting user")
	return nil
}

// arm starts the timeout for e. c.mu must be held.
func (c *Controller) arm(key string, e *entry) {
	if c.timeout <= 0 {
		return
	}
	decision := core.Decision{
		TabID:     e.approval.TabID,
		RequestID: e.approval.RequestID,
		Outcome:   core.OutcomeClosed,
	}
	e.timer = time.AfterFunc(c.timeout, func() {
		if err := c.resolve(context.Background(), key, decision, true); err == nil {
			log.Info().Str("approval", key).Msg("approval timed out")
		}
	})
}

// Claim reserves key for an approval that is about to be carried out. From
// then on the timeout, window closes and Shutdown leave it alone, so the
// signer never runs for a request that already resolved. Release gives it
// back when the work fails.
func (c *Controller) Claim(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[key]
	if !ok {
		if _, done := c.resolved[key]; done {
			return core.ErrAlreadyResolved
		}
		return core.ErrApprovalNotFound
	}
	if e.claimed {
		return core.ErrApprovalClaimed
	}
	e.claimed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	return nil
}

// Release undoes Claim and restarts the timeout.
func (c *Controller) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[key]
	if !ok || !e.claimed {
		return
	}
	e.claimed = false
	c.arm(key, e)
}

// Submit resolves the approval named by a signed decision receipt.
func (c *Controller) Submit(ctx context.Context, receipt string) error {
	decision, err := c.receipts.TokenToDecision(receipt)
	if err != nil {
		return err
	}
	key := core.ApprovalKey(decision.TabID, decision.RequestID)
	return c.resolveAs(ctx, key, *decision, true, decision.Outcome == core.OutcomeApproved)
}

// WindowClosed resolves the approval shown in windowID as closed without
// action. Windows that already resolved are ignored.
func (c *Controller) WindowClosed(ctx context.Context, windowID int) error {
	c.mu.Lock()
	key, ok := c.byWindow[windowID]
	var decision core.Decision
	if ok {
		a := c.pending[key].approval
		decision = core.Decision{TabID: a.TabID, RequestID: a.RequestID, Outcome: core.OutcomeClosed}
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	err := c.resolve(ctx, key, decision, false)
	if errors.Is(err, core.ErrAlreadyResolved) || errors.Is(err, core.ErrApprovalNotFound) || errors.Is(err, core.ErrApprovalClaimed) {
		return nil
	}
	return err
}

// Pending returns a copy of the approval stored under key.
func (c *Controller) Pending(key string) (core.PendingApproval, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[key]
	if !ok {
		return core.PendingApproval{}, false
	}
	return *e.approval, true
}

// Len returns the number of unresolved approvals.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown resolves everything still open as closed without action.
// Claimed approvals are left to finish.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.mu.Lock()
		e, ok := c.pending[key]
		c.mu.Unlock()
		if !ok || e.claimed {
			continue
		}
		_ = c.resolve(ctx, key, core.Decision{
			TabID:     e.approval.TabID,
			RequestID: e.approval.RequestID,
			Outcome:   core.OutcomeClosed,
		}, true)
	}
}

func (c *Controller) resolve(ctx context.Context, key string, decision core.Decision, closeWindow bool) error {
	return c.resolveAs(ctx, key, decision, closeWindow, false)
}

func (c *Controller) resolveAs(ctx context.Context, key string, decision core.Decision, closeWindow, claimant bool) error {
	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok {
		_, done := c.resolved[key]
		c.mu.Unlock()
		if done {
			return core.ErrAlreadyResolved
		}
		return core.ErrApprovalNotFound
	}
	if e.claimed && !claimant {
		c.mu.Unlock()
		return core.ErrApprovalClaimed
	}

	delete(c.pending, key)
	c.resolved[key] = struct{}{}
	if e.timer != nil {
		e.timer.Stop()
	}
	windowID := e.approval.WindowID
	opened := e.approval.State == core.ApprovalAwaitingUser
	if opened {
		delete(c.byWindow, windowID)
	}
	e.approval.State = decision.Outcome.State()
	approval := *e.approval
	c.mu.Unlock()

	time.AfterFunc(resolvedRetention, func() {
		c.mu.Lock()
		if _, reopened := c.pending[key]; !reopened {
			delete(c.resolved, key)
		}
		c.mu.Unlock()
	})

	if closeWindow && opened {
		if err := c.windows.Close(ctx, windowID); err != nil {
			log.Warn().Err(err).Int("window", windowID).Msg("failed to close approval window")
		}
	}

	log.Debug().Str("approval", key).Str("state", string(approval.State)).Msg("approval resolved")
	e.resume(ctx, approval, decision)
	return nil
}
