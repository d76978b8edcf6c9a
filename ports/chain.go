package ports

import (
	"context"

	"github.com/layer-3/walletlink/core"
)

// ChainClient is the read/write client of the wallet's native chain.
type ChainClient interface {
	GetAccount(ctx context.Context, address string) (*core.ChainAccount, error)
	InvokeRawScript(ctx context.Context, chain, script string) (*core.ScriptResult, error)
	SendRawTransaction(ctx context.Context, txHex string) (string, error)
	Host() string
}

// ExternalBalances answers balances on platforms other than the native one.
type ExternalBalances interface {
	Supports(platform string) bool
	Balances(ctx context.Context, platform, address string, mainnet bool) ([]core.Balance, error)
}

// Signer holds key material. It lives only behind the consent surface.
type Signer interface {
	SignTransaction(ctx context.Context, tx core.TxData) (hash string, err error)
	SignData(ctx context.Context, data []byte, kind string) (signature string, err error)
}
