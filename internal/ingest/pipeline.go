// Package ingest fetches a block's events, decodes them, and persists the
// block together with its events as a single transaction. A failure anywhere
// between transaction open and commit rolls everything back; no partial
// block state is ever observable.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethstatelabs/statewatch/internal/events"
	"github.com/ethstatelabs/statewatch/internal/hooks"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/ethstatelabs/statewatch/internal/metrics"
	"github.com/ethstatelabs/statewatch/internal/statecache"
	"github.com/ethstatelabs/statewatch/pkg/config"
	"github.com/ethstatelabs/statewatch/pkg/watcher"
	"github.com/russross/meddler"
	"golang.org/x/sync/errgroup"
)

// dbTx is the transaction surface block persistence needs. *sql.Tx
// implements it.
type dbTx interface {
	meddler.DB
	Commit() error
	Rollback() error
}

// Pipeline ingests blocks for a fixed set of watched contracts.
type Pipeline struct {
	begin      func(ctx context.Context) (dbTx, error)
	store      *Store
	parser     *events.Parser
	logs       watcher.LogSource
	headers    watcher.HeaderSource
	dispatcher *hooks.Dispatcher
	log        *logger.Logger

	// initialMu serializes the empty-store check so concurrent first blocks
	// fire the initial-state hooks at most once per process.
	initialMu   sync.Mutex
	initialDone bool

	// contracts maps each watched address to its registered kind.
	contracts map[common.Address]string
	// signatures is the union of event topic signatures across watched
	// kinds, used by the topic filter policy.
	signatures []common.Hash

	filter      config.FilterPolicy
	concurrency int
}

// NewPipeline creates an ingestion pipeline. contracts maps watched contract
// addresses to their kinds; signatures is the union of their event topic
// signatures.
func NewPipeline(
	db *sql.DB,
	parser *events.Parser,
	logs watcher.LogSource,
	headers watcher.HeaderSource,
	dispatcher *hooks.Dispatcher,
	contracts map[common.Address]string,
	signatures []common.Hash,
	cfg config.IngestConfig,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		begin:       func(ctx context.Context) (dbTx, error) { return db.BeginTx(ctx, nil) },
		store:       NewStore(db),
		parser:      parser,
		logs:        logs,
		headers:     headers,
		dispatcher:  dispatcher,
		contracts:   contracts,
		signatures:  signatures,
		filter:      cfg.Filter,
		concurrency: cfg.Concurrency,
		log:         log,
	}
}

// Store returns the read side of the block/event storage.
func (p *Pipeline) Store() *Store {
	return p.store
}

// IngestBlock runs the full pipeline for one block: fetch, parse, persist
// atomically, dispatch hooks. It is idempotent per block; re-running after a
// failure is safe.
func (p *Pipeline) IngestBlock(ctx context.Context, ref watcher.BlockRef) error {
	start := time.Now()

	rawLogs, err := p.fetchLogs(ctx, ref)
	if err != nil {
		metrics.IngestAbortInc("fetch")
		return err
	}

	parsed, err := p.parseLogs(rawLogs, ref)
	if err != nil {
		// Malformed log: abort before any persistence.
		metrics.IngestAbortInc("parse")
		return err
	}

	header, err := p.headers.HeaderByHash(ctx, ref.Hash)
	if err != nil {
		metrics.IngestAbortInc("header")
		return fmt.Errorf("looking up header %s: %w", ref.Hash.Hex(), err)
	}
	if header.Number.Uint64() != ref.Number {
		metrics.IngestAbortInc("header")
		return fmt.Errorf("header %s has number %d, expected %d",
			ref.Hash.Hex(), header.Number.Uint64(), ref.Number)
	}

	if err := p.dispatchInitialState(ctx, ref.Hash); err != nil {
		metrics.IngestAbortInc("hook")
		return err
	}

	if err := p.persistBlock(ctx, ref, header, parsed); err != nil {
		return err
	}

	// Post-commit hooks operate on committed state.
	if err := p.dispatcher.DispatchStateDiff(ctx, ref.Hash); err != nil {
		return err
	}
	for contract := range p.contracts {
		if err := p.dispatcher.DispatchCheckpoint(ctx, contract, ref.Hash, ref.Number); err != nil {
			return err
		}
	}

	metrics.BlockIngestedInc()
	metrics.BlockIngestDuration(time.Since(start))

	p.log.Infof("ingested block %d (%s) with %d event(s)", ref.Number, ref.Hash.Hex(), len(parsed))

	return nil
}

// IngestRange ingests the given blocks concurrently. Atomicity remains
// per block; no ordering across blocks is guaranteed.
func (p *Pipeline) IngestRange(ctx context.Context, refs []watcher.BlockRef) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, ref := range refs {
		g.Go(func() error {
			return p.IngestBlock(gctx, ref)
		})
	}

	return g.Wait()
}

// fetchLogs retrieves the block's raw logs, filtered per the configured
// policy, in log index order.
func (p *Pipeline) fetchLogs(ctx context.Context, ref watcher.BlockRef) ([]types.Log, error) {
	blockHash := ref.Hash
	query := ethereum.FilterQuery{BlockHash: &blockHash}

	switch p.filter {
	case config.FilterByAddress:
		for contract := range p.contracts {
			query.Addresses = append(query.Addresses, contract)
		}
	case config.FilterByTopic:
		query.Topics = [][]common.Hash{p.signatures}
	case config.FilterNone:
		// unfiltered; the parser skips what it does not recognize
	}

	rawLogs, err := p.logs.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetching logs of block %s: %w", ref.Hash.Hex(), err)
	}

	sort.Slice(rawLogs, func(i, j int) bool { return rawLogs[i].Index < rawLogs[j].Index })

	return rawLogs, nil
}

// parseLogs decodes every fetched log. Unrecognized logs are skipped with a
// warning; any other decode failure aborts the batch.
func (p *Pipeline) parseLogs(rawLogs []types.Log, ref watcher.BlockRef) ([]watcher.ResolvedEvent, error) {
	var resolved []watcher.ResolvedEvent

	for _, rawLog := range rawLogs {
		kind, watched := p.contracts[rawLog.Address]
		if !watched {
			// Possible under the "none" filter policy only.
			p.log.Debugf("skipping log %d from unwatched address %s", rawLog.Index, rawLog.Address.Hex())
			continue
		}

		parsed, ok, err := p.parser.Parse(kind, rawLog)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", ref.Hash.Hex(), err)
		}
		if !ok {
			metrics.LogUnparsedInc(kind)
			p.log.Warnf("skipping unrecognized log %d of block %s (topic %s)",
				rawLog.Index, ref.Hash.Hex(), topic0(rawLog))
			continue
		}

		resolved = append(resolved, watcher.ResolvedEvent{
			Kind:        kind,
			Name:        parsed.Name,
			Signature:   parsed.Signature,
			Fields:      parsed.Fields,
			Contract:    parsed.Contract,
			BlockHash:   ref.Hash,
			BlockNumber: ref.Number,
			TxHash:      parsed.TxHash,
			TxIndex:     parsed.TxIndex,
			LogIndex:    parsed.LogIndex,
		})
	}

	return resolved, nil
}

// dispatchInitialState fires the initial-state hook for every watched
// contract before the first block is committed. The in-process guard keeps
// concurrent first blocks under IngestRange from both observing an empty
// store; across restarts the committed blocks themselves suppress a re-fire.
func (p *Pipeline) dispatchInitialState(ctx context.Context, blockHash common.Hash) error {
	p.initialMu.Lock()
	defer p.initialMu.Unlock()

	if p.initialDone {
		return nil
	}

	hasBlocks, err := p.store.HasBlocks(ctx)
	if err != nil {
		return err
	}

	if !hasBlocks {
		for contract := range p.contracts {
			if err := p.dispatcher.DispatchInitialState(ctx, contract, blockHash); err != nil {
				return err
			}
		}
	}

	p.initialDone = true
	return nil
}

// persistBlock writes the block and its events in one transaction, invoking
// the per-event hook inside the transaction scope so a hook failure leaves
// no partial state.
func (p *Pipeline) persistBlock(ctx context.Context, ref watcher.BlockRef,
	header *types.Header, resolved []watcher.ResolvedEvent) error {
	tx, err := p.begin(ctx)
	if err != nil {
		metrics.IngestAbortInc("transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			p.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	block := &BlockRecord{
		CID:            ref.CID,
		BlockHash:      ref.Hash,
		BlockNumber:    ref.Number,
		BlockTimestamp: header.Time,
		ParentHash:     header.ParentHash,
		BaseFee:        header.BaseFee,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := meddler.Insert(tx, "blocks", block); err != nil {
		metrics.IngestAbortInc("persist")
		return fmt.Errorf("failed to insert block %s: %w", ref.Hash.Hex(), err)
	}

	for _, event := range resolved {
		if err := p.dispatcher.DispatchEvent(ctx, event); err != nil {
			metrics.IngestAbortInc("hook")
			return err
		}

		fields, err := statecache.Encode(event.Fields)
		if err != nil {
			metrics.IngestAbortInc("persist")
			return fmt.Errorf("encoding fields of %s at log index %d: %w", event.Name, event.LogIndex, err)
		}

		record := &EventRecord{
			BlockID:        block.ID,
			BlockHash:      event.BlockHash,
			Contract:       event.Contract,
			TxHash:         event.TxHash,
			TxIndex:        event.TxIndex,
			LogIndex:       event.LogIndex,
			EventName:      event.Name,
			EventSignature: event.Signature,
			Fields:         string(fields),
		}
		if err := meddler.Insert(tx, "events", record); err != nil {
			metrics.IngestAbortInc("persist")
			return fmt.Errorf("failed to insert event %s at log index %d: %w",
				event.Name, event.LogIndex, err)
		}

		metrics.EventsPersistedInc(event.Kind, event.Name)
	}

	if err := tx.Commit(); err != nil {
		metrics.IngestAbortInc("commit")
		return fmt.Errorf("failed to commit block %s: %w", ref.Hash.Hex(), err)
	}

	return nil
}

func topic0(rawLog types.Log) string {
	if len(rawLog.Topics) == 0 {
		return "none"
	}
	return rawLog.Topics[0].Hex()
}
