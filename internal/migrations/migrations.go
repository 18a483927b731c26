package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/ethstatelabs/statewatch/internal/db"
	"github.com/ethstatelabs/statewatch/internal/logger"
)

//go:embed 001_blocks_events.sql
var mig001 string

//go:embed 002_state_queries.sql
var mig002 string

func migrations() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_blocks_events.sql",
			SQL: mig001,
		},
		{
			ID:  "002_state_queries.sql",
			SQL: mig002,
		},
	}
}

// RunMigrations applies the schema to the database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, migrations())
}

// RunMigrationsDB applies the schema to an already open database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, migrations())
}
