// Package events matches raw logs against a contract kind's ABI and decodes
// them. A log that matches no declared event is an expected outcome, not an
// error; ingestion continues past it.
package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethstatelabs/statewatch/internal/abireg"
	"github.com/ethstatelabs/statewatch/internal/logger"
)

// ParsedEvent is a raw log decoded against a contract kind's ABI.
type ParsedEvent struct {
	Name      string
	Signature string
	Fields    map[string]interface{}

	Contract  common.Address
	BlockHash common.Hash
	TxHash    common.Hash
	TxIndex   uint
	LogIndex  uint
}

// Parser decodes raw logs using the ABI registry.
type Parser struct {
	registry *abireg.Registry
	log      *logger.Logger
}

// NewParser creates a parser backed by the given registry.
func NewParser(registry *abireg.Registry, log *logger.Logger) *Parser {
	return &Parser{
		registry: registry,
		log:      log,
	}
}

// Parse attempts to decode rawLog against the ABI registered for kind.
// The second return value is false when the log matches no declared event
// (the Unparsed outcome). A decoding failure on a matched event is returned
// as an error and is fatal to the containing batch.
func (p *Parser) Parse(kind string, rawLog types.Log) (*ParsedEvent, bool, error) {
	contractABI, err := p.registry.Interface(kind)
	if err != nil {
		return nil, false, err
	}

	if len(rawLog.Topics) == 0 {
		return nil, false, nil
	}

	event, err := contractABI.EventByID(rawLog.Topics[0])
	if err != nil {
		// No declared event carries this topic. Expected and frequent.
		return nil, false, nil
	}

	fields := make(map[string]interface{})

	// Unpack whenever the event declares non-indexed arguments, even against
	// empty data: a matched event with its data missing or truncated is a
	// malformed log, not an unrecognized one.
	if len(event.Inputs.NonIndexed()) > 0 {
		if err := contractABI.UnpackIntoMap(fields, event.Name, rawLog.Data); err != nil {
			return nil, false, fmt.Errorf("unpacking data of event %q at log index %d: %w",
				event.Name, rawLog.Index, err)
		}
	}

	indexed := indexedArguments(event)
	if len(indexed) != len(rawLog.Topics)-1 {
		return nil, false, fmt.Errorf("event %q expects %d indexed argument(s), log has %d topic(s)",
			event.Name, len(indexed), len(rawLog.Topics)-1)
	}

	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, rawLog.Topics[1:]); err != nil {
			return nil, false, fmt.Errorf("parsing topics of event %q at log index %d: %w",
				event.Name, rawLog.Index, err)
		}
	}

	return &ParsedEvent{
		Name:      event.Name,
		Signature: event.Sig,
		Fields:    fields,
		Contract:  rawLog.Address,
		BlockHash: rawLog.BlockHash,
		TxHash:    rawLog.TxHash,
		TxIndex:   rawLog.TxIndex,
		LogIndex:  rawLog.Index,
	}, true, nil
}

func indexedArguments(event *abi.Event) abi.Arguments {
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
