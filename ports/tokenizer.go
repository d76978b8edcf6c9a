package ports

import "github.com/layer-3/walletlink/core"

// ReceiptTokenizer converts consent decisions to signed receipts and back,
// so that only the surface opened for a request can resolve it.
type ReceiptTokenizer interface {
	DecisionToToken(decision *core.Decision) (string, error)
	TokenToDecision(token string) (*core.Decision, error)
}
