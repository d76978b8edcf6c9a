package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/layer-3/walletlink/core"
)

// RPCClient talks JSON-RPC 2.0 to a node of the wallet's native chain.
type RPCClient struct {
	client *rpc.Client
	host   string
}

// DialRPC connects to the node at host.
func DialRPC(ctx context.Context, host string) (*RPCClient, error) {
	client, err := rpc.DialContext(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}
	return &RPCClient{client: client, host: host}, nil
}

type balanceResult struct {
	Chain    string   `json:"chain"`
	Amount   string   `json:"amount"`
	Symbol   string   `json:"symbol"`
	Decimals int      `json:"decimals"`
	IDs      []string `json:"ids,omitempty"`
}

type accountResult struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Balances []balanceResult `json:"balances"`
}

func (c *RPCClient) GetAccount(ctx context.Context, address string) (*core.ChainAccount, error) {
	var res accountResult
	if err := c.client.CallContext(ctx, &res, "getAccount", address); err != nil {
		return nil, fmt.Errorf("getAccount %s: %w", address, err)
	}

	acc := &core.ChainAccount{Address: res.Address, Name: res.Name}
	for _, b := range res.Balances {
		acc.Balances = append(acc.Balances, core.ChainBalance{
			Chain:    b.Chain,
			Symbol:   b.Symbol,
			Amount:   b.Amount,
			Decimals: b.Decimals,
			IDs:      b.IDs,
		})
	}
	return acc, nil
}

func (c *RPCClient) InvokeRawScript(ctx context.Context, chain, script string) (*core.ScriptResult, error) {
	var res core.ScriptResult
	if err := c.client.CallContext(ctx, &res, "invokeRawScript", chain, script); err != nil {
		return nil, fmt.Errorf("invokeRawScript: %w", err)
	}
	return &res, nil
}

func (c *RPCClient) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	var hash string
	if err := c.client.CallContext(ctx, &hash, "sendRawTransaction", txHex); err != nil {
		return "", fmt.Errorf("sendRawTransaction: %w", err)
	}
	return hash, nil
}

func (c *RPCClient) Host() string {
	return c.host
}

func (c *RPCClient) Close() {
	c.client.Close()
}
