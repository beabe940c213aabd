package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// MigrateUp applies all pending migrations for the dialect.
// ErrNoChange is not an error.
func MigrateUp(db *sql.DB, dialect Dialect, logger *log.Logger) error {
	m, err := newMigrate(db, dialect, logger)
	if err != nil {
		return err
	}
	// m is not closed here; closing it closes db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied version and dirty flag. 0 means none applied.
func MigrateVersion(db *sql.DB, dialect Dialect) (uint, bool, error) {
	m, err := newMigrate(db, dialect, nil)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrate(db *sql.DB, dialect Dialect, logger *log.Logger) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	var (
		driver database.Driver
		name   string
		dir    string
		err    error
	)
	switch dialect {
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
		name, dir = "sqlite", "migrations/sqlite"
	default:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
		name, dir = "pgx5", "migrations/postgres"
	}
	if err != nil {
		return nil, fmt.Errorf("storage: migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("storage: migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		return nil, fmt.Errorf("storage: migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: logger}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct {
	logger *log.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("migrate: "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
