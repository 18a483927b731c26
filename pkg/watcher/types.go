// Package watcher defines the domain types and collaborator contracts of the
// contract state tracker. Implementations live under internal/; consumers
// supply the collaborator interfaces (header lookup, log source, contract
// calls, hooks) and receive the structs defined here.
package watcher

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockRef identifies a block to ingest. CID is optional metadata supplied
// by the sync collaborator and stored verbatim.
type BlockRef struct {
	Hash   common.Hash
	Number uint64
	CID    string
}

// Query is the logical identity of a cached contract state lookup.
// Kind routes the upstream call; it is not part of the storage key since the
// contract address already determines the kind.
type Query struct {
	Kind      string
	Method    string
	BlockHash common.Hash
	Contract  common.Address
	Args      []interface{}
}

// Result is a resolved contract state value together with its proof.
// Value and Proof are big-integer-safe JSON blobs; Proof is opaque to the
// core and is stored and returned as produced.
type Result struct {
	Value       json.RawMessage
	Proof       json.RawMessage
	BlockNumber uint64
}

// ResolvedEvent is an event decoded during block ingestion, as handed to the
// indexing hooks.
type ResolvedEvent struct {
	Kind        string
	Name        string
	Signature   string
	Fields      map[string]interface{}
	Contract    common.Address
	BlockHash   common.Hash
	BlockNumber uint64
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
}

// HeaderSource resolves block headers by hash. It must be available before
// any cache miss or ingestion step that needs the block number.
type HeaderSource interface {
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
}

// LogSource fetches raw logs for a block or range, with enough metadata to
// reconstruct log order.
type LogSource interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// ContractCaller issues read-only contract calls pinned to a historical
// block hash.
type ContractCaller interface {
	CallContractAtHash(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error)
}

// Hooks are the four domain-specific extension points invoked by the
// ingestion pipeline. Errors returned by a hook are fatal to the invoking
// pipeline stage.
type Hooks interface {
	// OnInitialState is invoked once per watched contract before its first
	// block is ingested.
	OnInitialState(ctx context.Context, contract common.Address, blockHash common.Hash) error

	// OnEvent is invoked for every recognized event, in log index order,
	// inside the block's persistence transaction scope.
	OnEvent(ctx context.Context, event ResolvedEvent) error

	// OnCheckpoint is invoked after a block commits when the checkpoint
	// interval elapses.
	OnCheckpoint(ctx context.Context, contract common.Address, blockHash common.Hash) error

	// OnStateDiff is invoked after every block commit when state diffs are
	// enabled.
	OnStateDiff(ctx context.Context, blockHash common.Hash) error
}
