package core

import (
	"fmt"
	"time"
)

// ApprovalState tracks a PendingApproval through the consent flow.
type ApprovalState string

const (
	ApprovalNew          ApprovalState = "NEW"
	ApprovalAwaitingUser ApprovalState = "AWAITING_USER"
	ApprovalApproved     ApprovalState = "APPROVED"
	ApprovalDenied       ApprovalState = "DENIED"
	ApprovalClosed       ApprovalState = "CLOSED_WITHOUT_ACTION"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalState) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalClosed
}

// PendingApproval is a request suspended until the user decides. It is
// never persisted.
type PendingApproval struct {
	RequestID     int64
	TabID         int
	StreamID      string
	OriginURL     string
	OriginFavicon string
	Kind          Kind
	DApp          string
	Version       Version
	Token         string // pre-generated for authorize, bearer token for signing
	Payload       string // text-safe encoded bundle for signing flows
	CreatedAt     time.Time
	State         ApprovalState
	WindowID      int
}

// Key identifies the pending approval of one request from one tab.
func (p *PendingApproval) Key() string {
	return ApprovalKey(p.TabID, p.RequestID)
}

// ApprovalKey builds the key of the approval for a request from a tab.
func ApprovalKey(tabID int, requestID int64) string {
	return fmt.Sprintf("%d:%d", tabID, requestID)
}

// Outcome is the user's decision on a PendingApproval.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeClosed   Outcome = "closed"
)

// State maps an outcome to the terminal approval state.
func (o Outcome) State() ApprovalState {
	switch o {
	case OutcomeApproved:
		return ApprovalApproved
	case OutcomeDenied:
		return ApprovalDenied
	}
	return ApprovalClosed
}

// Decision is what the consent surface reports back.
type Decision struct {
	TabID     int
	RequestID int64
	Outcome   Outcome
	Artifact  string        // tx hash or signature for signing flows
	TTL       time.Duration // user-selected lifetime for authorize
}
