package upstream

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethstatelabs/statewatch/internal/abireg"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/stretchr/testify/require"
)

const paymentsABI = `[
	{"type":"function","name":"getBatches","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[
			{"name":"batchIds","type":"uint256[]"},
			{"name":"amounts","type":"uint256[]"},
			{"name":"unlockTimes","type":"uint256[]"},
			{"name":"token","type":"address"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPair","stateMutability":"view",
		"inputs":[],
		"outputs":[{"name":"a","type":"uint256"},{"name":"b","type":"uint256"}]}
]`

// stubCaller answers every call with a canned output or error and records the
// call it served.
type stubCaller struct {
	output []byte
	err    error

	calls     int
	lastMsg   ethereum.CallMsg
	lastBlock common.Hash
}

func (s *stubCaller) CallContractAtHash(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error) {
	s.calls++
	s.lastMsg = msg
	s.lastBlock = blockHash
	return s.output, s.err
}

func newTestRegistry(t *testing.T) *abireg.Registry {
	t.Helper()

	registry := abireg.NewRegistry(logger.NewNopLogger())
	require.NoError(t, registry.Register("payments", []byte(paymentsABI)))
	return registry
}

func packOutputs(t *testing.T, registry *abireg.Registry, method string, values ...interface{}) []byte {
	t.Helper()

	iface, err := registry.Interface("payments")
	require.NoError(t, err)

	out, err := iface.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func TestInvokeGetBatches(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	wide := new(big.Int).Lsh(big.NewInt(1), 200)

	caller := &stubCaller{output: packOutputs(t, registry, "getBatches",
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		[]*big.Int{wide, big.NewInt(50)},
		[]*big.Int{big.NewInt(1700000000), big.NewInt(1700000100)},
		token,
	)}

	r := NewResolver(registry, caller, logger.NewNopLogger(), GetBatchesSpec())

	account := common.HexToAddress("0x2222222222222222222222222222222222222222")
	blockHash := common.HexToHash("0xaaaa")
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")

	value, err := r.Invoke(context.Background(), "payments", "getBatches", blockHash, contract, account)
	require.NoError(t, err)

	shaped := value.(map[string]interface{})
	require.Equal(t, token, shaped["token"])
	require.Equal(t, []*big.Int{big.NewInt(1), big.NewInt(2)}, shaped["batchIds"])
	require.Equal(t, 0, wide.Cmp(shaped["amounts"].([]*big.Int)[0]))

	require.Equal(t, 1, caller.calls)
	require.Equal(t, blockHash, caller.lastBlock)
	require.Equal(t, &contract, caller.lastMsg.To)
}

func TestInvokeBalanceOf(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	caller := &stubCaller{output: packOutputs(t, registry, "balanceOf", big.NewInt(12345))}

	r := NewResolver(registry, caller, logger.NewNopLogger(), BalanceOfSpec())

	value, err := r.Invoke(context.Background(), "payments", "balanceOf",
		common.HexToHash("0xaaaa"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"))
	require.NoError(t, err)

	shaped := value.(map[string]interface{})
	require.Equal(t, int64(12345), shaped["balance"].(*big.Int).Int64())
}

func TestInvokeWithoutSpec(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)

	// Single-output method with no spec returns the bare value.
	caller := &stubCaller{output: packOutputs(t, registry, "balanceOf", big.NewInt(7))}
	r := NewResolver(registry, caller, logger.NewNopLogger())

	value, err := r.Invoke(context.Background(), "payments", "balanceOf",
		common.HexToHash("0xaaaa"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"))
	require.NoError(t, err)
	require.Equal(t, int64(7), value.(*big.Int).Int64())

	// Multi-output method with no spec returns the full value slice.
	caller.output = packOutputs(t, registry, "getPair", big.NewInt(1), big.NewInt(2))

	value, err = r.Invoke(context.Background(), "payments", "getPair",
		common.HexToHash("0xaaaa"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	require.Len(t, value.([]interface{}), 2)
}

func TestInvokeNodeFailure(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	caller := &stubCaller{err: errors.New("connection refused")}

	r := NewResolver(registry, caller, logger.NewNopLogger(), BalanceOfSpec())

	_, err := r.Invoke(context.Background(), "payments", "balanceOf",
		common.HexToHash("0xaaaa"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"))
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestInvokeBadArguments(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	caller := &stubCaller{}

	r := NewResolver(registry, caller, logger.NewNopLogger())

	_, err := r.Invoke(context.Background(), "payments", "balanceOf",
		common.HexToHash("0xaaaa"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		"not an address")
	require.Error(t, err)
	require.Zero(t, caller.calls)
}

func TestInvokeUnknownKind(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestRegistry(t), &stubCaller{}, logger.NewNopLogger())

	_, err := r.Invoke(context.Background(), "ghost", "balanceOf",
		common.HexToHash("0xaaaa"), common.Address{})
	require.ErrorIs(t, err, abireg.ErrKindNotRegistered)
}

func TestShapeRejectsWrongArity(t *testing.T) {
	t.Parallel()

	spec := GetBatchesSpec()
	_, err := spec.Shape([]interface{}{big.NewInt(1)})
	require.Error(t, err)

	spec = BalanceOfSpec()
	_, err = spec.Shape([]interface{}{})
	require.Error(t, err)
}
