package db

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("address", AddressMeddler{})
	meddler.Register("hash", HashMeddler{})
	meddler.Register("bigint", BigIntMeddler{})
}

// AddressMeddler converts between common.Address and its hex string column.
type AddressMeddler struct{}

func (AddressMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (AddressMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*common.Address)
	if !ok {
		return fmt.Errorf("expected *common.Address, got %T", fieldAddr)
	}

	if !ns.Valid {
		*ptr = common.Address{}
		return nil
	}

	*ptr = common.HexToAddress(ns.String)
	return nil
}

func (AddressMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	addr, ok := field.(common.Address)
	if !ok {
		return nil, fmt.Errorf("expected common.Address, got %T", field)
	}
	return addr.Hex(), nil
}

// HashMeddler converts between common.Hash (or *common.Hash) and its hex
// string column. Nil pointers map to NULL.
type HashMeddler struct{}

func (HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Hash:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		hash := common.HexToHash(ns.String)
		*ptr = &hash
		return nil
	case *common.Hash:
		if !ns.Valid {
			*ptr = common.Hash{}
			return nil
		}
		*ptr = common.HexToHash(ns.String)
		return nil
	default:
		return fmt.Errorf("expected *common.Hash or **common.Hash, got %T", fieldAddr)
	}
}

func (HashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch h := field.(type) {
	case *common.Hash:
		if h == nil {
			return nil, nil
		}
		return h.Hex(), nil
	case common.Hash:
		return h.Hex(), nil
	default:
		return nil, fmt.Errorf("expected common.Hash or *common.Hash, got %T", field)
	}
}

// BigIntMeddler stores *big.Int as a decimal TEXT column so values wider
// than 64 bits round-trip without precision loss.
type BigIntMeddler struct{}

func (BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (BigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(**big.Int)
	if !ok {
		return fmt.Errorf("expected **big.Int, got %T", fieldAddr)
	}

	if !ns.Valid {
		*ptr = nil
		return nil
	}

	value, ok := new(big.Int).SetString(ns.String, 10)
	if !ok {
		return fmt.Errorf("invalid big integer value %q", ns.String)
	}
	*ptr = value
	return nil
}

func (BigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	value, ok := field.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", field)
	}
	if value == nil {
		return nil, nil
	}
	return value.String(), nil
}
