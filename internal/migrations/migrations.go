package migrations

import (
	"database/sql"

	_ "embed"

	"github.com/lodestone-labs/lodestone/internal/db"
	"github.com/lodestone-labs/lodestone/internal/logger"
)

//go:embed 001_engine_checkpoints_1.sql
var mig001 string

//go:embed 002_engine_entities_1.sql
var mig002 string

//go:embed 003_engine_entity_refs_1.sql
var mig003 string

func engineMigrations() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_engine_checkpoints_1.sql",
			SQL: mig001,
		},
		{
			ID:  "002_engine_entities_1.sql",
			SQL: mig002,
		},
		{
			ID:  "003_engine_entity_refs_1.sql",
			SQL: mig003,
		},
	}
}

// RunMigrations opens the database at dbPath and applies all pending
// engine migrations.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, engineMigrations())
}

// RunMigrationsDB applies all pending engine migrations on an already
// open database.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, engineMigrations())
}
