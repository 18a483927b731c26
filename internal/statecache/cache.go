// Package statecache memoizes point-in-time contract state lookups. Each
// resolved (method, blockHash, contractAddress, args) key is persisted with
// its value, proof and block number; chain state at a fixed block never
// changes, so a stored key is never overwritten.
package statecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/ethstatelabs/statewatch/internal/metrics"
	"github.com/ethstatelabs/statewatch/pkg/watcher"
	"github.com/russross/meddler"
	"golang.org/x/sync/singleflight"
)

// Upstream computes the live value of a view method at a historical block.
type Upstream interface {
	Invoke(ctx context.Context, kind, methodName string, blockHash common.Hash,
		contract common.Address, args ...interface{}) (interface{}, error)
}

// dbQuery is a state_queries row.
type dbQuery struct {
	ID          int64          `meddler:"id,pk"`
	Method      string         `meddler:"method"`
	BlockHash   common.Hash    `meddler:"block_hash,hash"`
	Contract    common.Address `meddler:"contract_address,address"`
	Args        string         `meddler:"args"`
	BlockNumber uint64         `meddler:"block_number"`
	Value       string         `meddler:"value"`
	Proof       string         `meddler:"proof"`
	CreatedAt   string         `meddler:"created_at"`
}

// Cache resolves view method queries through persisted storage, falling back
// to the upstream resolver on a miss.
type Cache struct {
	db       *sql.DB
	headers  watcher.HeaderSource
	upstream Upstream
	log      *logger.Logger

	// group collapses concurrent in-process misses for the same key into a
	// single upstream call. Purely an optimization: redundant upstream
	// calls are harmless because results for a fixed key are identical.
	group singleflight.Group
}

// New creates a cache over the given database and collaborators.
func New(db *sql.DB, headers watcher.HeaderSource, upstream Upstream, log *logger.Logger) *Cache {
	return &Cache{
		db:       db,
		headers:  headers,
		upstream: upstream,
		log:      log,
	}
}

// Resolve returns the value of q, from storage when present, otherwise
// computed upstream and persisted before returning.
func (c *Cache) Resolve(ctx context.Context, q watcher.Query) (watcher.Result, error) {
	args, err := encodeArgs(q.Args)
	if err != nil {
		return watcher.Result{}, err
	}

	key := q.Method + "|" + q.BlockHash.Hex() + "|" + q.Contract.Hex() + "|" + args
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.resolve(ctx, q, args)
	})
	if err != nil {
		return watcher.Result{}, err
	}

	return v.(watcher.Result), nil
}

func (c *Cache) resolve(ctx context.Context, q watcher.Query, args string) (watcher.Result, error) {
	const lookup = `
		SELECT * FROM state_queries
		WHERE method = ? AND block_hash = ? AND contract_address = ? AND args = ?
	`

	var row dbQuery
	err := meddler.QueryRow(c.db, &row, lookup, q.Method, q.BlockHash.Hex(), q.Contract.Hex(), args)
	switch {
	case err == nil:
		proof := json.RawMessage(row.Proof)
		if _, err := Decode(proof); err != nil {
			return watcher.Result{}, fmt.Errorf("stored proof for %s at %s is unreadable: %w",
				q.Method, q.BlockHash.Hex(), err)
		}

		metrics.CacheHitInc(q.Method)
		c.log.Debugf("cache hit for %s at block %s", q.Method, q.BlockHash.Hex())

		return watcher.Result{
			Value:       json.RawMessage(row.Value),
			Proof:       proof,
			BlockNumber: row.BlockNumber,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		// miss, fall through
	default:
		return watcher.Result{}, fmt.Errorf("querying state cache for %s: %w", q.Method, err)
	}

	metrics.CacheMissInc(q.Method)

	header, err := c.headers.HeaderByHash(ctx, q.BlockHash)
	if err != nil {
		return watcher.Result{}, fmt.Errorf("looking up header %s: %w", q.BlockHash.Hex(), err)
	}
	blockNumber := header.Number.Uint64()

	raw, err := c.upstream.Invoke(ctx, q.Kind, q.Method, q.BlockHash, q.Contract, q.Args...)
	if err != nil {
		// No cache entry is written; the caller may retry from scratch.
		return watcher.Result{}, err
	}

	value, err := Encode(raw)
	if err != nil {
		return watcher.Result{}, fmt.Errorf("encoding %s result: %w", q.Method, err)
	}

	proof, err := buildProof(q, value)
	if err != nil {
		return watcher.Result{}, err
	}

	if err := c.store(ctx, q, args, blockNumber, value, proof); err != nil {
		return watcher.Result{}, err
	}

	return watcher.Result{
		Value:       value,
		Proof:       proof,
		BlockNumber: blockNumber,
	}, nil
}

// store persists the resolved entry. ON CONFLICT DO NOTHING keeps the first
// stored row authoritative: a concurrent resolver that lost the race wrote
// an identical value, and a stored key is never overwritten.
func (c *Cache) store(ctx context.Context, q watcher.Query, args string,
	blockNumber uint64, value, proof json.RawMessage) error {
	const insert = `
		INSERT INTO state_queries (method, block_hash, contract_address, args, block_number, value, proof)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(method, block_hash, contract_address, args) DO NOTHING
	`

	_, err := c.db.ExecContext(ctx, insert,
		q.Method, q.BlockHash.Hex(), q.Contract.Hex(), args,
		blockNumber, string(value), string(proof))
	if err != nil {
		return fmt.Errorf("storing %s result: %w", q.Method, err)
	}

	c.log.Debugf("stored %s at block %s (number %d)", q.Method, q.BlockHash.Hex(), blockNumber)

	return nil
}

// buildProof wraps the resolved value with its call identity in the blob
// stored alongside it. The blob is opaque to the rest of the system; it is
// only required to re-parse losslessly.
func buildProof(q watcher.Query, value json.RawMessage) (json.RawMessage, error) {
	proof, err := Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"blockHash": q.BlockHash,
			"address":   q.Contract,
			"method":    q.Method,
			"value":     value,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding proof for %s: %w", q.Method, err)
	}
	return proof, nil
}
