package statecache

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethstatelabs/statewatch/internal/db"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/ethstatelabs/statewatch/internal/migrations"
	"github.com/ethstatelabs/statewatch/pkg/watcher"
	"github.com/stretchr/testify/require"
)

type stubHeaders struct {
	number uint64
	err    error
}

func (s *stubHeaders) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.Header{Number: new(big.Int).SetUint64(s.number)}, nil
}

type stubUpstream struct {
	value interface{}
	err   error
	calls int
}

func (s *stubUpstream) Invoke(ctx context.Context, kind, methodName string, blockHash common.Hash,
	contract common.Address, args ...interface{}) (interface{}, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.value, nil
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := t.TempDir() + "/statecache_test.db"
	require.NoError(t, migrations.RunMigrations(path))

	database, err := db.NewSQLiteDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return database
}

func testQuery() watcher.Query {
	return watcher.Query{
		Kind:      "payments",
		Method:    "balanceOf",
		BlockHash: common.HexToHash("0xaaaa"),
		Contract:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Args: []interface{}{
			common.HexToAddress("0x2222222222222222222222222222222222222222"),
		},
	}
}

func TestResolveMissThenHit(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	upstream := &stubUpstream{value: map[string]interface{}{"balance": big.NewInt(12345)}}

	c := New(database, &stubHeaders{number: 777}, upstream, logger.NewNopLogger())
	q := testQuery()

	// Miss: computed upstream and persisted.
	result, err := c.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.calls)
	require.Equal(t, uint64(777), result.BlockNumber)
	require.JSONEq(t, `{"balance":"12345"}`, string(result.Value))
	require.NotEmpty(t, result.Proof)

	// Hit: answered from storage, upstream untouched.
	cached, err := c.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.calls)
	require.Equal(t, result.Value, cached.Value)
	require.Equal(t, result.Proof, cached.Proof)
	require.Equal(t, result.BlockNumber, cached.BlockNumber)
}

func TestResolveDistinctKeys(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	upstream := &stubUpstream{value: big.NewInt(1)}

	c := New(database, &stubHeaders{number: 777}, upstream, logger.NewNopLogger())

	q := testQuery()
	_, err := c.Resolve(context.Background(), q)
	require.NoError(t, err)

	// A different block hash is a different key: upstream is consulted again.
	q.BlockHash = common.HexToHash("0xbbbb")
	_, err = c.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 2, upstream.calls)

	// Different arguments likewise.
	q.Args = []interface{}{common.HexToAddress("0x4444444444444444444444444444444444444444")}
	_, err = c.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 3, upstream.calls)
}

func TestResolveWideIntegerRoundTrip(t *testing.T) {
	t.Parallel()

	wide := new(big.Int).Lsh(big.NewInt(1), 255)

	database := setupTestDB(t)
	upstream := &stubUpstream{value: map[string]interface{}{
		"batchIds": []*big.Int{wide},
		"token":    common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}}

	c := New(database, &stubHeaders{number: 42}, upstream, logger.NewNopLogger())

	result, err := c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)

	decoded, err := Decode(result.Value)
	require.NoError(t, err)

	ids := decoded.(map[string]interface{})["batchIds"].([]interface{})
	back, ok := new(big.Int).SetString(ids[0].(string), 10)
	require.True(t, ok)
	require.Equal(t, 0, wide.Cmp(back))

	// The cached copy decodes to the exact same value.
	cached, err := c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)
	require.Equal(t, result.Value, cached.Value)
	require.Equal(t, 1, upstream.calls)
}

func TestResolveGetBatchesScenario(t *testing.T) {
	t.Parallel()

	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	database := setupTestDB(t)
	upstream := &stubUpstream{value: map[string]interface{}{
		"batchIds":    []*big.Int{big.NewInt(1), big.NewInt(2)},
		"amounts":     []*big.Int{big.NewInt(100), big.NewInt(200)},
		"unlockTimes": []*big.Int{big.NewInt(1700000000), big.NewInt(1700000100)},
		"token":       token,
	}}

	c := New(database, &stubHeaders{number: 123}, upstream, logger.NewNopLogger())

	q := watcher.Query{
		Kind:      "payments",
		Method:    "getBatches",
		BlockHash: common.HexToHash("0xabc"),
		Contract:  common.HexToAddress("0x0000000000000000000000000000000000000123"),
		Args: []interface{}{
			common.HexToAddress("0x0000000000000000000000000000000000000456"),
		},
	}

	// Empty cache: exactly one upstream call, result stored.
	result, err := c.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.calls)
	require.Equal(t, uint64(123), result.BlockNumber)
	require.JSONEq(t, `{
		"batchIds": ["1", "2"],
		"amounts": ["100", "200"],
		"unlockTimes": ["1700000000", "1700000100"],
		"token": "`+token.Hex()+`"
	}`, string(result.Value))

	// Identical arguments: answered from storage, no further upstream call.
	cached, err := c.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.calls)
	require.Equal(t, result.Value, cached.Value)
	require.Equal(t, result.Proof, cached.Proof)
	require.Equal(t, result.BlockNumber, cached.BlockNumber)
}

func TestResolveUpstreamFailureWritesNothing(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	upstream := &stubUpstream{err: errors.New("node down")}

	c := New(database, &stubHeaders{number: 777}, upstream, logger.NewNopLogger())

	_, err := c.Resolve(context.Background(), testQuery())
	require.Error(t, err)

	var count int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM state_queries`).Scan(&count))
	require.Zero(t, count)

	// A later attempt starts from scratch and succeeds.
	upstream.err = nil
	upstream.value = big.NewInt(9)

	result, err := c.Resolve(context.Background(), testQuery())
	require.NoError(t, err)
	require.JSONEq(t, `"9"`, string(result.Value))
}

func TestResolveHeaderFailure(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	upstream := &stubUpstream{value: big.NewInt(1)}

	c := New(database, &stubHeaders{err: errors.New("unknown block")}, upstream, logger.NewNopLogger())

	_, err := c.Resolve(context.Background(), testQuery())
	require.Error(t, err)
	require.Zero(t, upstream.calls)
}

func TestProofCarriesCallIdentity(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	upstream := &stubUpstream{value: big.NewInt(5)}

	c := New(database, &stubHeaders{number: 10}, upstream, logger.NewNopLogger())
	q := testQuery()

	result, err := c.Resolve(context.Background(), q)
	require.NoError(t, err)

	decoded, err := Decode(result.Proof)
	require.NoError(t, err)

	data := decoded.(map[string]interface{})["data"].(map[string]interface{})
	require.Equal(t, q.BlockHash.Hex(), data["blockHash"])
	require.Equal(t, q.Contract.Hex(), data["address"])
	require.Equal(t, q.Method, data["method"])
}
