package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethstatelabs/statewatch/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	UpDownSeparator   = "-- +migrate Up"
	downMarker        = "-- +migrate Down"
	NoLimitMigrations = 0 // no limit on the number of migrations to run
)

type Migration struct {
	ID     string
	SQL    string
	Prefix string
}

// RunMigrations executes pending migrations against the database at dbPath.
func RunMigrations(dbPath string, migrations []Migration) error {
	database, err := NewSQLiteDB(dbPath)
	if err != nil {
		return fmt.Errorf("error creating DB %w", err)
	}
	defer database.Close()

	return RunMigrationsDB(logger.GetDefaultLogger(), database, migrations)
}

// RunMigrationsDB executes pending migrations against an open database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB, migrations []Migration) error {
	return RunMigrationsDBExtended(log, database, migrations, migrate.Up, NoLimitMigrations)
}

// RunMigrationsDBExtended runs migrations in the given direction.
// dir: migrate.Up or migrate.Down
// maxMigrations: apply at most `max` migrations; 0 means no limit.
func RunMigrationsDBExtended(log *logger.Logger,
	database *sql.DB,
	migrationsParam []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int) error {
	migs := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	// In case of partial execution we ignore the base migrations
	if maxMigrations != NoLimitMigrations {
		migrate.SetIgnoreUnknown(true)
	}

	for _, m := range migrationsParam {
		splitted := strings.Split(m.SQL, UpDownSeparator)
		if len(splitted) < 2 {
			return fmt.Errorf("migration %s missing '-- +migrate Up' separator", m.ID)
		}

		// splitted[0] holds the Down section, splitted[1] the Up section
		downSQL := splitted[0]
		upSQL := strings.TrimSpace(splitted[1])

		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = strings.TrimSpace(downSQL[idx+len(downMarker):])
		} else {
			downSQL = strings.TrimSpace(downSQL)
		}

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.Prefix + m.ID,
			Up:   []string{upSQL},
			Down: []string{downSQL},
		})
	}

	var listMigrations strings.Builder
	for _, m := range migs.Migrations {
		listMigrations.WriteString(m.Id + ", ")
	}

	log.Debugf("running migrations: (max %d/%d) migrations: %s",
		maxMigrations, len(migs.Migrations), listMigrations.String())

	nMigrations, err := migrate.ExecMax(database, "sqlite3", migs, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migration (max %d/%d) migrations: %s . Err: %w",
			maxMigrations, len(migs.Migrations), listMigrations.String(), err)
	}

	log.Infof("successfully ran %d migrations from migrations: %s", nMigrations, listMigrations.String())
	return nil
}
