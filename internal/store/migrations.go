package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/hyperengineering/seventyfive/migrations"
	"github.com/pressly/goose/v3"
)

// goose keeps its dialect and base FS in package globals.
var migrateMu sync.Mutex

// RunMigrations applies all pending migrations for dialect ("sqlite" or
// "postgres") using the embedded SQL files from the migrations package.
func RunMigrations(db *sql.DB, dialect string) error {
	var dir string
	switch dialect {
	case "sqlite":
		dir = migrations.SQLiteDir
	case "postgres":
		dir = migrations.PostgresDir
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
