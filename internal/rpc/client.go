// Package rpc wraps the Ethereum JSON-RPC client with the narrow surface the
// core consumes: header lookup by hash, log fetching, and historical
// contract calls. A failover client layers endpoint rotation on top for
// transient upstream failures.
package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Client wraps a single Ethereum RPC endpoint.
type Client struct {
	eth *ethclient.Client
	rpc *gethrpc.Client
	url string
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string) (*Client, error) {
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
		url: endpoint,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// URL returns the endpoint this client is connected to.
func (c *Client) URL() string {
	return c.url
}

// HeaderByHash retrieves the header for a specific block hash.
func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	return c.eth.HeaderByHash(ctx, hash)
}

// FilterLogs retrieves logs matching the given filter query.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, query)
}

// CallContractAtHash executes a read-only contract call pinned to the state
// at the given block hash.
func (c *Client) CallContractAtHash(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error) {
	return c.eth.CallContractAtHash(ctx, msg, blockHash)
}
