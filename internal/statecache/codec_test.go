package statecache

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEncodeWideInteger(t *testing.T) {
	t.Parallel()

	// 2^255, far outside float64 and int64 range.
	wide := new(big.Int).Lsh(big.NewInt(1), 255)

	data, err := Encode(wide)
	require.NoError(t, err)
	require.JSONEq(t, `"`+wide.String()+`"`, string(data))

	decoded, err := Decode(data)
	require.NoError(t, err)

	back, ok := new(big.Int).SetString(decoded.(string), 10)
	require.True(t, ok)
	require.Equal(t, 0, wide.Cmp(back))
}

func TestEncodeNestedValue(t *testing.T) {
	t.Parallel()

	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	value := map[string]interface{}{
		"batchIds": []*big.Int{big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), 200)},
		"token":    token,
		"active":   true,
	}

	data, err := Encode(value)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	m := decoded.(map[string]interface{})
	require.Equal(t, token.Hex(), m["token"])
	require.Equal(t, true, m["active"])

	ids := m["batchIds"].([]interface{})
	require.Equal(t, "1", ids[0])
	require.Equal(t, new(big.Int).Lsh(big.NewInt(1), 200).String(), ids[1])
}

func TestDecodeKeepsNumberPrecision(t *testing.T) {
	t.Parallel()

	decoded, err := Decode([]byte(`{"n": 9007199254740993}`))
	require.NoError(t, err)

	// One above float64's exact integer range; json.Number must preserve it.
	n := decoded.(map[string]interface{})["n"].(json.Number)
	require.Equal(t, "9007199254740993", n.String())
}

func TestEncodeByteSlicesAndHashes(t *testing.T) {
	t.Parallel()

	data, err := Encode(map[string]interface{}{
		"raw":  []byte{0xde, 0xad},
		"hash": common.HexToHash("0x01"),
	})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	m := decoded.(map[string]interface{})
	require.Equal(t, "0xdead", m["raw"])
	require.Equal(t, common.HexToHash("0x01").Hex(), m["hash"])
}

func TestEncodeRejectsStructs(t *testing.T) {
	t.Parallel()

	type opaque struct{ N *big.Int }

	_, err := Encode(opaque{N: big.NewInt(1)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "flatten")
}

func TestEncodeNil(t *testing.T) {
	t.Parallel()

	data, err := Encode(nil)
	require.NoError(t, err)
	require.Equal(t, "null", string(data))

	var nilInt *big.Int
	data, err = Encode(nilInt)
	require.NoError(t, err)
	require.Equal(t, "null", string(data))
}

func TestEncodeArgs(t *testing.T) {
	t.Parallel()

	args, err := encodeArgs(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", args)

	account := common.HexToAddress("0x2222222222222222222222222222222222222222")
	args, err = encodeArgs([]interface{}{account, big.NewInt(7)})
	require.NoError(t, err)
	require.JSONEq(t, `["`+account.Hex()+`","7"]`, args)
}
