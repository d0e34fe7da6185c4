// Package eth wraps chain RPC endpoints: typed helpers for transaction
// preparation and broadcast, plus verbatim passthrough for the read-only
// queries the router proxies without approval.
package eth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/glide-wallet/glide-wallet/internal/chains"
)

// Client wraps one chain's RPC endpoint.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	chainID *big.Int
}

// Dial connects a client for the given endpoint. The registry is
// authoritative for the chain id; no detection round-trip is made.
func Dial(ctx context.Context, rpcURL string, chainID int64) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC: %w", err)
	}

	return &Client{
		rpc:     rpcClient,
		eth:     ethclient.NewClient(rpcClient),
		chainID: big.NewInt(chainID),
	}, nil
}

// ChainID returns the chain id the client was built for.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// RawCall forwards a method verbatim and returns the raw JSON result.
// Parameters pass through untouched; the router owns the method allowlist.
func (c *Client) RawCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	var result json.RawMessage
	if err := c.rpc.CallContext(ctx, &result, method, args...); err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return result, nil
}

// PendingNonce returns the next nonce for an address.
func (c *Client) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("fetching nonce: %w", err)
	}
	return nonce, nil
}

// EstimateGas estimates the gas needed for a call, padded 20% against
// estimation drift between simulation and inclusion.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("estimating gas: %w", err)
	}
	return gas * 120 / 100, nil
}

// SuggestGasTipCap returns the suggested priority fee.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching gas tip cap: %w", err)
	}
	return tipCap, nil
}

// LatestBaseFee returns the base fee of the latest block.
func (c *Client) LatestBaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching latest header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("chain %s does not report a base fee", c.chainID)
	}
	return header.BaseFee, nil
}

// Broadcast submits a signed transaction to the network.
func (c *Client) Broadcast(ctx context.Context, signedTx *types.Transaction) (common.Hash, error) {
	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("sending transaction: %w", err)
	}
	return signedTx.Hash(), nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Pool hands out one client per chain, dialing lazily and caching the
// result for the life of the host.
type Pool struct {
	registry *chains.Registry

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewPool creates a pool over the chain registry.
func NewPool(registry *chains.Registry) *Pool {
	return &Pool{
		registry: registry,
		clients:  make(map[int64]*Client),
	}
}

// Client returns the client for a chain, dialing it on first use.
func (p *Pool) Client(ctx context.Context, chainID int64) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[chainID]; ok {
		return client, nil
	}

	network, ok := p.registry.Lookup(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %d is not in the registry", chainID)
	}

	client, err := Dial(ctx, network.RPCURL, chainID)
	if err != nil {
		return nil, fmt.Errorf("dialing chain %d: %w", chainID, err)
	}
	p.clients[chainID] = client
	return client, nil
}

// Close closes every dialed client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, client := range p.clients {
		client.Close()
	}
	p.clients = make(map[int64]*Client)
}
