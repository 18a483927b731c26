package statecache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Encode serializes a resolved value to JSON with a big-integer-safe
// representation: *big.Int values become decimal strings, so integers wider
// than 64 bits round-trip without precision loss. Addresses and hashes are
// encoded as their checksummed/hex forms, byte slices as 0x-prefixed hex.
func Encode(v interface{}) (json.RawMessage, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return data, nil
}

// Decode parses a blob produced by Encode. Numbers are kept as json.Number
// so no precision is lost on re-parsing.
func Decode(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}

func normalize(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case *big.Int:
		if value == nil {
			return nil, nil
		}
		return value.String(), nil
	case big.Int:
		return value.String(), nil
	case common.Address:
		return value.Hex(), nil
	case common.Hash:
		return value.Hex(), nil
	case []byte:
		return hexutil.Encode(value), nil
	case json.RawMessage:
		return value, nil
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return value, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, elem := range value {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface())
	default:
		// Structs produced by ABI unpacking marshal fine with encoding/json;
		// wide integers inside them are *big.Int fields handled above when
		// shapers flatten them. Reject unknown kinds loudly instead of
		// storing a lossy representation.
		if rv.Kind() == reflect.Struct {
			return nil, fmt.Errorf("cannot encode struct %T losslessly: flatten it in the method's shape function", v)
		}
		return nil, fmt.Errorf("cannot encode %T", v)
	}
}

// encodeArgs canonically serializes an argument list for use inside the
// cache's composite key.
func encodeArgs(args []interface{}) (string, error) {
	if len(args) == 0 {
		return "[]", nil
	}
	data, err := Encode(args)
	if err != nil {
		return "", fmt.Errorf("encoding query arguments: %w", err)
	}
	return string(data), nil
}
