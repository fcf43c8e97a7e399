package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsTable keeps this service's schema version apart from other
// services sharing the database.
const migrationsTable = "entitlements_schema_migrations"

var ErrDirtySchema = errors.New("dirty_schema")

// Result reports the schema version after RunMigrations.
type Result struct {
	Version uint
	Changed bool
}

func newSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return src, nil
}

// RunMigrations applies the embedded catalog, tenant and usage schema.
// A schema left dirty by an interrupted run is reported, not forced.
func RunMigrations(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}

	src, err := newSource()
	if err != nil {
		return Result{}, err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return Result{}, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return Result{}, fmt.Errorf("create migrator: %w", err)
	}

	if _, dirty, err := migrator.Version(); err == nil && dirty {
		return Result{}, ErrDirtySchema
	}

	result := Result{Changed: true}
	if upErr := migrator.Up(); upErr != nil {
		if !errors.Is(upErr, migrate.ErrNoChange) {
			return Result{}, fmt.Errorf("apply migrations: %w", upErr)
		}
		result.Changed = false
	}
	version, _, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Result{}, fmt.Errorf("read schema version: %w", err)
	}
	result.Version = version
	// migrator.Close would close the shared *sql.DB.
	return result, nil
}

// LatestVersion is the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, err
		}
		version = next
	}
}
