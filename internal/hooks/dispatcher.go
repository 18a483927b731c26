// Package hooks routes pipeline events to the domain-specific indexing
// hooks. The dispatcher owns invocation order and argument marshaling only;
// hook bodies are external collaborators and their errors are fatal to the
// invoking pipeline stage.
package hooks

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/ethstatelabs/statewatch/pkg/watcher"
)

// Dispatcher invokes the configured hooks at the right pipeline stages.
type Dispatcher struct {
	hooks              watcher.Hooks
	checkpointInterval int64
	stateDiffEnabled   bool
	log                *logger.Logger
}

// NewDispatcher creates a dispatcher. hooks may be nil, in which case every
// dispatch is a no-op.
func NewDispatcher(hooks watcher.Hooks, checkpointInterval int64, stateDiffEnabled bool, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		hooks:              hooks,
		checkpointInterval: checkpointInterval,
		stateDiffEnabled:   stateDiffEnabled,
		log:                log,
	}
}

// DispatchInitialState invokes the initial-state hook for a contract before
// its first block is ingested.
func (d *Dispatcher) DispatchInitialState(ctx context.Context, contract common.Address, blockHash common.Hash) error {
	if d.hooks == nil {
		return nil
	}

	if err := d.hooks.OnInitialState(ctx, contract, blockHash); err != nil {
		return fmt.Errorf("initial state hook for %s: %w", contract.Hex(), err)
	}
	return nil
}

// DispatchEvent invokes the per-event hook.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event watcher.ResolvedEvent) error {
	if d.hooks == nil {
		return nil
	}

	if err := d.hooks.OnEvent(ctx, event); err != nil {
		return fmt.Errorf("event hook for %s at log index %d: %w", event.Name, event.LogIndex, err)
	}
	return nil
}

// DispatchCheckpoint invokes the checkpoint hook when the configured
// interval elapses at blockNumber. Checkpoint creation is skipped entirely
// when the interval is non-positive.
func (d *Dispatcher) DispatchCheckpoint(ctx context.Context, contract common.Address,
	blockHash common.Hash, blockNumber uint64) error {
	if d.hooks == nil || d.checkpointInterval <= 0 {
		return nil
	}
	if blockNumber%uint64(d.checkpointInterval) != 0 {
		return nil
	}

	d.log.Debugf("checkpoint at block %d for %s", blockNumber, contract.Hex())

	if err := d.hooks.OnCheckpoint(ctx, contract, blockHash); err != nil {
		return fmt.Errorf("checkpoint hook for %s at block %d: %w", contract.Hex(), blockNumber, err)
	}
	return nil
}

// DispatchStateDiff invokes the state diff hook for a committed block when
// diffs are enabled.
func (d *Dispatcher) DispatchStateDiff(ctx context.Context, blockHash common.Hash) error {
	if d.hooks == nil || !d.stateDiffEnabled {
		return nil
	}

	if err := d.hooks.OnStateDiff(ctx, blockHash); err != nil {
		return fmt.Errorf("state diff hook for block %s: %w", blockHash.Hex(), err)
	}
	return nil
}
