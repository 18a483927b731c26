// Package abireg holds the parsed interface definition and derived event
// topic signatures for each watched contract kind. The registry is populated
// once at startup and is read-only afterwards; a lookup for an unknown kind
// is a programming error, not a runtime condition.
package abireg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethstatelabs/statewatch/internal/logger"
)

// ErrKindNotRegistered is returned when a contract kind was never registered.
// Callers must treat it as a startup wiring error.
var ErrKindNotRegistered = errors.New("contract kind not registered")

type entry struct {
	contractABI abi.ABI
	// signatures holds one topic hash per declared event, in ABI
	// declaration order.
	signatures []common.Hash
}

// Registry maps contract kinds to their ABI and derived event signatures.
type Registry struct {
	kinds map[string]*entry
	log   *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		kinds: make(map[string]*entry),
		log:   log,
	}
}

// Register parses abiJSON and stores the interface and its event topic
// signatures under kind. It fails on an empty or malformed ABI and on a
// duplicate kind.
func (r *Registry) Register(kind string, abiJSON []byte) error {
	if kind == "" {
		return fmt.Errorf("contract kind must not be empty")
	}
	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("contract kind %q already registered", kind)
	}

	contractABI, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("malformed ABI for kind %q: %w", kind, err)
	}
	if len(contractABI.Methods) == 0 && len(contractABI.Events) == 0 {
		return fmt.Errorf("empty ABI for kind %q: no methods or events declared", kind)
	}

	signatures, err := eventSignatures(abiJSON, contractABI)
	if err != nil {
		return fmt.Errorf("deriving event signatures for kind %q: %w", kind, err)
	}

	r.kinds[kind] = &entry{
		contractABI: contractABI,
		signatures:  signatures,
	}

	r.log.Debugf("registered contract kind %q with %d event signature(s)", kind, len(signatures))

	return nil
}

// Interface returns the parsed ABI for kind.
func (r *Registry) Interface(kind string) (abi.ABI, error) {
	e, ok := r.kinds[kind]
	if !ok {
		return abi.ABI{}, fmt.Errorf("%w: %q", ErrKindNotRegistered, kind)
	}
	return e.contractABI, nil
}

// Signatures returns the event topic signatures for kind, in ABI declaration
// order.
func (r *Registry) Signatures(kind string) ([]common.Hash, error) {
	e, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKindNotRegistered, kind)
	}
	return e.signatures, nil
}

// Kinds returns the registered kind names.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.kinds))
	for kind := range r.kinds {
		kinds = append(kinds, kind)
	}
	return kinds
}

// eventSignatures derives topic hashes in ABI declaration order. The parsed
// abi.ABI keeps events in a map, so declaration order is recovered from the
// raw JSON array.
func eventSignatures(abiJSON []byte, contractABI abi.ABI) ([]common.Hash, error) {
	var rawEntries []struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(abiJSON, &rawEntries); err != nil {
		return nil, fmt.Errorf("parsing ABI entries: %w", err)
	}

	var signatures []common.Hash
	for _, raw := range rawEntries {
		if raw.Type != "event" {
			continue
		}
		ev, ok := contractABI.Events[raw.Name]
		if !ok {
			return nil, fmt.Errorf("event %q declared but not parsed", raw.Name)
		}
		signatures = append(signatures, ev.ID)
	}

	return signatures, nil
}
