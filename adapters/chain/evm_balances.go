package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/layer-3/walletlink/core"
)

// EVMNetwork is one EVM platform an account may hold an external address on.
type EVMNetwork struct {
	Platform   string
	Symbol     string
	Decimals   int
	MainnetURL string
	TestnetURL string
}

type evmClients struct {
	network EVMNetwork
	mainnet *ethclient.Client
	testnet *ethclient.Client
}

// EVMBalances answers native coin balances on EVM platforms.
type EVMBalances struct {
	platforms map[string]*evmClients
}

// DialEVMBalances connects to every configured endpoint. Empty URLs leave
// that network unsupported.
func DialEVMBalances(ctx context.Context, networks []EVMNetwork) (*EVMBalances, error) {
	b := &EVMBalances{platforms: make(map[string]*evmClients)}
	for _, n := range networks {
		c := &evmClients{network: n}
		var err error
		if n.MainnetURL != "" {
			if c.mainnet, err = ethclient.DialContext(ctx, n.MainnetURL); err != nil {
				return nil, fmt.Errorf("failed to dial %s mainnet: %w", n.Platform, err)
			}
		}
		if n.TestnetURL != "" {
			if c.testnet, err = ethclient.DialContext(ctx, n.TestnetURL); err != nil {
				return nil, fmt.Errorf("failed to dial %s testnet: %w", n.Platform, err)
			}
		}
		b.platforms[n.Platform] = c
	}
	return b, nil
}

func (b *EVMBalances) Supports(platform string) bool {
	_, ok := b.platforms[platform]
	return ok
}

func (b *EVMBalances) Balances(ctx context.Context, platform, address string, mainnet bool) ([]core.Balance, error) {
	c, ok := b.platforms[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform %s", platform)
	}
	client := c.testnet
	if mainnet {
		client = c.mainnet
	}
	if client == nil {
		return nil, fmt.Errorf("%s has no endpoint for this network", platform)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid %s address %q", platform, address)
	}

	wei, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("%s balance: %w", platform, err)
	}

	return []core.Balance{{
		Symbol:   c.network.Symbol,
		Value:    decimal.NewFromBigInt(wei, 0).String(),
		Decimals: c.network.Decimals,
	}}, nil
}

func (b *EVMBalances) Close() {
	for _, c := range b.platforms {
		if c.mainnet != nil {
			c.mainnet.Close()
		}
		if c.testnet != nil {
			c.testnet.Close()
		}
	}
}
