package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// BlockRecord is a blocks row. Once committed it is read-only to the rest of
// the system; the pipeline exclusively owns the write path.
type BlockRecord struct {
	ID             int64       `meddler:"id,pk"`
	CID            string      `meddler:"cid"`
	BlockHash      common.Hash `meddler:"block_hash,hash"`
	BlockNumber    uint64      `meddler:"block_number"`
	BlockTimestamp uint64      `meddler:"block_timestamp"`
	ParentHash     common.Hash `meddler:"parent_hash,hash"`
	// BaseFee is nil for blocks predating the london fork.
	BaseFee   *big.Int `meddler:"base_fee,bigint"`
	CreatedAt string   `meddler:"created_at"`
}

// EventRecord is an events row. Fields holds the decoded event fields as a
// big-integer-safe JSON blob.
type EventRecord struct {
	ID             int64          `meddler:"id,pk"`
	BlockID        int64          `meddler:"block_id"`
	BlockHash      common.Hash    `meddler:"block_hash,hash"`
	Contract       common.Address `meddler:"contract_address,address"`
	TxHash         common.Hash    `meddler:"tx_hash,hash"`
	TxIndex        uint           `meddler:"tx_index"`
	LogIndex       uint           `meddler:"log_index"`
	EventName      string         `meddler:"event_name"`
	EventSignature string         `meddler:"event_signature"`
	Fields         string         `meddler:"fields"`
}

// Store serves read access to committed blocks and events.
type Store struct {
	db *sql.DB
}

// NewStore creates a read-side store over the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetBlockByHash returns the block with the given hash, or nil when the
// block was never committed.
func (s *Store) GetBlockByHash(ctx context.Context, hash common.Hash) (*BlockRecord, error) {
	var block BlockRecord
	err := meddler.QueryRow(s.db, &block,
		`SELECT * FROM blocks WHERE block_hash = ?`, hash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying block %s: %w", hash.Hex(), err)
	}
	return &block, nil
}

// GetBlocksByNumber returns all blocks committed at the given height.
// More than one row means the heights belong to competing forks; choosing
// between them is the reorg collaborator's concern.
func (s *Store) GetBlocksByNumber(ctx context.Context, number uint64) ([]*BlockRecord, error) {
	var blocks []*BlockRecord
	err := meddler.QueryAll(s.db, &blocks,
		`SELECT * FROM blocks WHERE block_number = ? ORDER BY id ASC`, number)
	if err != nil {
		return nil, fmt.Errorf("querying blocks at height %d: %w", number, err)
	}
	return blocks, nil
}

// GetBlocksInRange returns blocks with heights in [from, to], ordered by
// height.
func (s *Store) GetBlocksInRange(ctx context.Context, from, to uint64) ([]*BlockRecord, error) {
	var blocks []*BlockRecord
	err := meddler.QueryAll(s.db, &blocks,
		`SELECT * FROM blocks WHERE block_number >= ? AND block_number <= ? ORDER BY block_number ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("querying blocks in range [%d, %d]: %w", from, to, err)
	}
	return blocks, nil
}

// GetEvents returns the events of a block in log index order, the order they
// were emitted in.
func (s *Store) GetEvents(ctx context.Context, blockHash common.Hash) ([]*EventRecord, error) {
	var events []*EventRecord
	err := meddler.QueryAll(s.db, &events,
		`SELECT * FROM events WHERE block_hash = ? ORDER BY log_index ASC`, blockHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("querying events of block %s: %w", blockHash.Hex(), err)
	}
	return events, nil
}

// HasBlocks reports whether any block has been committed yet.
func (s *Store) HasBlocks(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return false, fmt.Errorf("counting blocks: %w", err)
	}
	return count > 0, nil
}
