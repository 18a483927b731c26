package migrations

import (
	"testing"

	"github.com/ethstatelabs/statewatch/internal/db"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	path := t.TempDir() + "/migrations_test.db"

	require.NoError(t, RunMigrations(path))
	// Idempotent on a second run.
	require.NoError(t, RunMigrations(path))

	database, err := db.NewSQLiteDB(path)
	require.NoError(t, err)
	defer database.Close()

	for _, table := range []string{"blocks", "events", "state_queries"} {
		var name string
		err := database.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}

	// The cache key and the per-block event identity are unique indexes.
	var count int
	err = database.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'state_queries'`).Scan(&count)
	require.NoError(t, err)
	require.Greater(t, count, 0)
}
