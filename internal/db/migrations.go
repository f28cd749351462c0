// Package db opens the audit database and applies its embedded schema
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// MigrationsTable records the applied audit schema version. It is separate
// from the default table so the audit store can share a database with the
// back-office.
const MigrationsTable = "abac_pdp_schema_migrations"

// CodeDirtySchema is returned when a previous migration failed halfway
const CodeDirtySchema = "MIGRATION_DIRTY"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to postgres through lib/pq and checks the connection
func Open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

// MigrationRunner applies the embedded audit schema. Closing it closes the
// database handle it was built on.
type MigrationRunner struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrationRunner prepares migrations against conn
func NewMigrationRunner(conn *sql.DB, logger *zap.Logger) (*MigrationRunner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &MigrationRunner{migrate: m, logger: logger.Named("migrate")}, nil
}

// Up applies every pending migration
func (mr *MigrationRunner) Up() error {
	if err := mr.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return mr.wrap(err, "apply migrations")
	}
	return mr.logVersion("audit schema up to date")
}

// Down reverts the latest migration
func (mr *MigrationRunner) Down() error {
	if err := mr.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return mr.wrap(err, "revert migration")
	}
	return mr.logVersion("audit schema reverted")
}

// Version returns the applied version, zero for an empty schema
func (mr *MigrationRunner) Version() (uint, bool, error) {
	version, dirty, err := mr.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It clears the
// dirty flag after a manual repair.
func (mr *MigrationRunner) Force(version int) error {
	mr.logger.Warn("forcing audit schema version", zap.Int("version", version))
	if err := mr.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close releases the source and the database handle
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

func (mr *MigrationRunner) logVersion(msg string) error {
	version, dirty, err := mr.Version()
	if err != nil {
		return err
	}
	if dirty {
		return dirtyError(version)
	}
	mr.logger.Info(msg, zap.Uint("version", version))
	return nil
}

func (mr *MigrationRunner) wrap(err error, op string) error {
	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		return dirtyError(uint(dirty.Version))
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func dirtyError(version uint) error {
	return oops.
		Code(CodeDirtySchema).
		With("version", version).
		Hint("repair the schema, then run: abac-pdp migrate force VERSION").
		Errorf("audit schema is dirty at version %d", version)
}

// ListMigrations returns the embedded migration file names in order
func ListMigrations() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
