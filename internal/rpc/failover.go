package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/ethstatelabs/statewatch/internal/metrics"
)

// Endpoint is the per-node surface the failover client rotates over.
// *Client implements it.
type Endpoint interface {
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContractAtHash(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error)
	URL() string
}

// FailoverClient tries each configured endpoint in order, advancing to the
// next one when a call fails with a transient error. It implements the same
// surface as Client. The core performs no retry of its own; this client is
// the collaborator-level retry policy around it.
type FailoverClient struct {
	mu        sync.Mutex
	endpoints []Endpoint
	current   int
	// timeout bounds each individual endpoint call; zero means no bound
	// beyond the caller's context.
	timeout time.Duration
	log     *logger.Logger
}

// NewFailoverClient creates a failover client over the given endpoints.
func NewFailoverClient(endpoints []Endpoint, timeout time.Duration, log *logger.Logger) (*FailoverClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	return &FailoverClient{
		endpoints: endpoints,
		timeout:   timeout,
		log:       log,
	}, nil
}

// Dial connects to every URL and wraps the clients in a failover client.
func Dial(ctx context.Context, urls []string, timeout time.Duration, log *logger.Logger) (*FailoverClient, error) {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, url := range urls {
		client, err := NewClient(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", url, err)
		}
		endpoints = append(endpoints, client)
	}
	return NewFailoverClient(endpoints, timeout, log)
}

// HeaderByHash retrieves a header, failing over on transient errors.
func (f *FailoverClient) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	var header *types.Header
	err := f.do(ctx, "header_by_hash", func(ctx context.Context, ep Endpoint) error {
		var callErr error
		header, callErr = ep.HeaderByHash(ctx, hash)
		return callErr
	})
	return header, err
}

// FilterLogs retrieves logs, failing over on transient errors.
func (f *FailoverClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := f.do(ctx, "filter_logs", func(ctx context.Context, ep Endpoint) error {
		var callErr error
		logs, callErr = ep.FilterLogs(ctx, query)
		return callErr
	})
	return logs, err
}

// CallContractAtHash executes a historical contract call, failing over on
// transient errors.
func (f *FailoverClient) CallContractAtHash(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error) {
	var out []byte
	err := f.do(ctx, "call_contract", func(ctx context.Context, ep Endpoint) error {
		var callErr error
		out, callErr = ep.CallContractAtHash(ctx, msg, blockHash)
		return callErr
	})
	return out, err
}

// do runs fn against the current endpoint, rotating through the remaining
// ones while fn fails with a transient error. Each endpoint is tried at most
// once per call.
func (f *FailoverClient) do(ctx context.Context, operation string, fn func(context.Context, Endpoint) error) error {
	var lastErr error

	for attempt := 0; attempt < len(f.endpoints); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ep := f.currentEndpoint()
		err := f.call(ctx, ep, fn)
		if err == nil {
			return nil
		}

		if !TransientError(err) {
			return err
		}

		lastErr = err
		metrics.UpstreamFailoverInc(operation)
		f.log.Warnf("endpoint %s failed %s, rotating: %v", ep.URL(), operation, err)
		f.rotate()
	}

	return fmt.Errorf("all %d endpoint(s) failed %s: %w", len(f.endpoints), operation, lastErr)
}

// call runs fn under the per-call timeout when one is configured.
func (f *FailoverClient) call(ctx context.Context, ep Endpoint, fn func(context.Context, Endpoint) error) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return fn(ctx, ep)
}

func (f *FailoverClient) currentEndpoint() Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[f.current]
}

func (f *FailoverClient) rotate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = (f.current + 1) % len(f.endpoints)
}
