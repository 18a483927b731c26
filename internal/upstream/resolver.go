// Package upstream invokes read-only contract methods against a live node at
// a historical block hash and normalizes the raw results. It performs no
// retries; node unavailability surfaces as ErrUpstreamUnavailable and the
// caller's failover policy decides what happens next.
package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethstatelabs/statewatch/internal/abireg"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/ethstatelabs/statewatch/internal/metrics"
	"github.com/ethstatelabs/statewatch/pkg/watcher"
)

// ErrUpstreamUnavailable wraps node failures on historical calls.
var ErrUpstreamUnavailable = errors.New("upstream node unavailable")

// ShapeFunc turns the unpacked output values of a contract call into the
// value shape stored by the cache. Declared per method, not inferred.
type ShapeFunc func(values []interface{}) (interface{}, error)

// MethodSpec declares result shaping for one view method.
type MethodSpec struct {
	Name  string
	Shape ShapeFunc
}

// Resolver binds contract interfaces from the registry and issues eth_call
// requests pinned to a block hash.
type Resolver struct {
	registry *abireg.Registry
	caller   watcher.ContractCaller
	methods  map[string]MethodSpec
	log      *logger.Logger
}

// NewResolver creates a resolver. Method specs register result shaping for
// individual view methods; methods without a spec return their single output
// value as-is (or the full value slice for multi-output methods).
func NewResolver(registry *abireg.Registry, caller watcher.ContractCaller, log *logger.Logger, specs ...MethodSpec) *Resolver {
	methods := make(map[string]MethodSpec, len(specs))
	for _, spec := range specs {
		methods[spec.Name] = spec
	}

	return &Resolver{
		registry: registry,
		caller:   caller,
		methods:  methods,
		log:      log,
	}
}

// RegisterMethod adds or replaces the spec for one view method.
func (r *Resolver) RegisterMethod(spec MethodSpec) {
	r.methods[spec.Name] = spec
}

// Invoke calls methodName on the contract at the state of blockHash and
// returns the shaped result.
func (r *Resolver) Invoke(
	ctx context.Context,
	kind, methodName string,
	blockHash common.Hash,
	contract common.Address,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := r.registry.Interface(kind)
	if err != nil {
		return nil, err
	}

	input, err := contractABI.Pack(methodName, args...)
	if err != nil {
		return nil, fmt.Errorf("packing call to %s.%s: %w", kind, methodName, err)
	}

	metrics.UpstreamCallInc(kind, methodName)

	msg := ethereum.CallMsg{To: &contract, Data: input}
	output, err := r.caller.CallContractAtHash(ctx, msg, blockHash)
	if err != nil {
		return nil, fmt.Errorf("%w: calling %s.%s at block %s: %v",
			ErrUpstreamUnavailable, kind, methodName, blockHash.Hex(), err)
	}

	values, err := contractABI.Unpack(methodName, output)
	if err != nil {
		return nil, fmt.Errorf("unpacking result of %s.%s: %w", kind, methodName, err)
	}

	if spec, ok := r.methods[methodName]; ok && spec.Shape != nil {
		shaped, err := spec.Shape(values)
		if err != nil {
			return nil, fmt.Errorf("shaping result of %s.%s: %w", kind, methodName, err)
		}
		return shaped, nil
	}

	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}
