package db

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethstatelabs/statewatch/internal/logger"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/require"
)

const testMigration = `
-- +migrate Down
DROP TABLE IF EXISTS sample;

-- +migrate Up
CREATE TABLE sample (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	addr VARCHAR NOT NULL,
	hash VARCHAR NOT NULL,
	opt_hash VARCHAR,
	amount TEXT
);
`

type sampleRow struct {
	ID      int64          `meddler:"id,pk"`
	Addr    common.Address `meddler:"addr,address"`
	Hash    common.Hash    `meddler:"hash,hash"`
	OptHash *common.Hash   `meddler:"opt_hash,hash"`
	Amount  *big.Int       `meddler:"amount,bigint"`
}

func setupSampleDB(t *testing.T) string {
	t.Helper()

	path := t.TempDir() + "/db_test.db"
	err := RunMigrations(path, []Migration{{ID: "001_sample.sql", SQL: testMigration}})
	require.NoError(t, err)
	return path
}

func TestMeddlerRoundTrip(t *testing.T) {
	database, err := NewSQLiteDB(setupSampleDB(t))
	require.NoError(t, err)
	defer database.Close()

	hash := common.HexToHash("0xbbbb")
	in := &sampleRow{
		Addr:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Hash:    common.HexToHash("0xaaaa"),
		OptHash: &hash,
		Amount:  new(big.Int).Lsh(big.NewInt(1), 255),
	}
	require.NoError(t, meddler.Insert(database, "sample", in))
	require.NotZero(t, in.ID)

	var out sampleRow
	require.NoError(t, meddler.QueryRow(database, &out, `SELECT * FROM sample WHERE id = ?`, in.ID))

	require.Equal(t, in.Addr, out.Addr)
	require.Equal(t, in.Hash, out.Hash)
	require.Equal(t, hash, *out.OptHash)
	require.Equal(t, 0, in.Amount.Cmp(out.Amount))
}

func TestMeddlerNullables(t *testing.T) {
	database, err := NewSQLiteDB(setupSampleDB(t))
	require.NoError(t, err)
	defer database.Close()

	in := &sampleRow{
		Addr: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Hash: common.HexToHash("0xaaaa"),
	}
	require.NoError(t, meddler.Insert(database, "sample", in))

	var out sampleRow
	require.NoError(t, meddler.QueryRow(database, &out, `SELECT * FROM sample WHERE id = ?`, in.ID))

	require.Nil(t, out.OptHash)
	require.Nil(t, out.Amount)
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	path := setupSampleDB(t)

	// Re-running applies nothing and fails nothing.
	err := RunMigrations(path, []Migration{{ID: "001_sample.sql", SQL: testMigration}})
	require.NoError(t, err)
}

func TestRunMigrationsRequiresSeparator(t *testing.T) {
	database, err := NewSQLiteDB(t.TempDir() + "/sep_test.db")
	require.NoError(t, err)
	defer database.Close()

	err = RunMigrationsDB(logger.NewNopLogger(), database,
		[]Migration{{ID: "broken.sql", SQL: "CREATE TABLE nope (id INTEGER);"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing")
}
