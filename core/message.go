package core

import (
	"strconv"
	"time"
)

// Tag identifies a cross-context message.
type Tag string

const (
	TagInit     Tag = "init"
	TagRequest  Tag = "pls"
	TagResponse Tag = "plsres"
)

// RouterTopic is the inbox of the privileged router.
const RouterTopic = "walletlink.router"

// TabTopic is the inbox of the relay serving tabID.
func TabTopic(tabID int) string {
	return "walletlink.tab." + strconv.Itoa(tabID)
}

// Envelope is the message exchanged between page, relay and router.
type Envelope struct {
	Tag      Tag    `json:"uid"`
	TabID    int    `json:"tabid"`
	StreamID string `json:"sid,omitempty"`
	Data     string `json:"data,omitempty"`
	Reply    *Reply `json:"reply,omitempty"`
}

// Balance is one token balance reported to a dApp.
type Balance struct {
	Symbol   string   `json:"symbol"`
	Value    string   `json:"value"`
	Decimals int      `json:"decimals"`
	IDs      []string `json:"ids,omitempty"`
}

// Reply is correlated to a request by ID and delivered at most once.
type Reply struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Wallet  string `json:"wallet,omitempty"`
	DApp    string `json:"dapp,omitempty"`
	Token   string `json:"token,omitempty"`
	Nexus   string `json:"nexus,omitempty"`
	Version string `json:"version,omitempty"`

	Name     string    `json:"name,omitempty"`
	Address  string    `json:"address,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	Platform string    `json:"platform,omitempty"`
	External string    `json:"external,omitempty"`
	Balances []Balance `json:"balances,omitempty"`

	Hash      string `json:"hash,omitempty"`
	Signature string `json:"signature,omitempty"`

	Result  any   `json:"result,omitempty"`
	Results []any `json:"results,omitempty"`
}

// Reasons attached to failure replies.
const (
	ReasonMalformed = "malformed"
	ReasonDenied    = "denied"
	ReasonClosed    = "closed"
	ReasonUpstream  = "upstream"
	ReasonInternal  = "internal"
)

// Failure builds a failure reply for request id.
func Failure(id int64, reason string, err error) *Reply {
	return &Reply{ID: id, Success: false, Reason: reason, Message: err.Error()}
}

// Tab is what the host knows about a browser tab.
type Tab struct {
	ID         int
	URL        string
	FavIconURL string
}

// WindowSpec describes a consent window to open.
type WindowSpec struct {
	URL    string
	Width  int
	Height int
}

// ChainAccount is an account as reported by the chain node.
type ChainAccount struct {
	Address  string
	Name     string
	Balances []ChainBalance
}

type ChainBalance struct {
	Chain    string
	Symbol   string
	Amount   string
	Decimals int
	IDs      []string
}

// ScriptResult is the outcome of a read-only script invocation.
type ScriptResult struct {
	Result  any   `json:"result"`
	Results []any `json:"results"`
}

// TxData is the serialized transaction bundle shown by the consent surface.
type TxData struct {
	Nexus       string `json:"nexus"`
	Chain       string `json:"chain"`
	Script      string `json:"script"`
	Payload     string `json:"payload"`
	Signature   string `json:"signature"`
	Platform    string `json:"platform"`
	ProofOfWork string `json:"pow,omitempty"`
}

// DataBundle is the serialized signData request shown by the consent surface.
type DataBundle struct {
	Data          string `json:"data"`
	SignatureKind string `json:"signKind"`
	Platform      string `json:"platform"`
}

// Account is an externally owned wallet account.
type Account struct {
	Address    string `json:"address"`
	Name       string `json:"name,omitempty"`
	EthAddress string `json:"ethAddress,omitempty"`
	NeoAddress string `json:"neoAddress,omitempty"`
	BscAddress string `json:"bscAddress,omitempty"`
	Type       string `json:"type"`
}

// External returns the account's address on an external platform.
func (a Account) External(platform string) string {
	switch platform {
	case "ethereum":
		return a.EthAddress
	case "neo":
		return a.NeoAddress
	case "bsc":
		return a.BscAddress
	}
	return ""
}

// Clock returns the current time; swapped out in tests.
type Clock func() time.Time
