package migrations

import (
	"errors"
	"fmt"
	"os"

	"ms-booking/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

// Runner applies the SQL files under a migrations directory with
// golang-migrate.
type Runner struct {
	bunDB    *bun.DB
	dir      string
	logger   *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, dir string, log *logger.Logger) *Runner {
	return &Runner{bunDB: bunDB, dir: dir, logger: log}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}

	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.dir)
	}

	migrator, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", r.dir), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = migrator
	return nil
}

// Up applies every pending migration. A dirty schema is reported, not
// forced; fix it with the migrate CLI.
func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}

	if version, dirty, err := r.migrator.Version(); err == nil && dirty {
		return fmt.Errorf("schema is dirty at version %d", version)
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	r.logVersion()
	return nil
}

// Down rolls back every migration.
func (r *Runner) Down() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	r.logVersion()
	return nil
}

// To migrates up or down to version.
func (r *Runner) To(version uint) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	r.logVersion()
	return nil
}

// Force sets the recorded version without running anything, clearing the
// dirty flag.
func (r *Runner) Force(version int) error {
	if err := r.init(); err != nil {
		return err
	}
	return r.migrator.Force(version)
}

// Version reports the applied schema version. Zero means nothing applied.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (r *Runner) logVersion() {
	version, dirty, err := r.Version()
	if err != nil {
		r.logger.Warn("DATABASE", fmt.Sprintf("Failed to read schema version: %v", err))
		return
	}
	r.logger.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("schema version %d (dirty=%t)", version, dirty))
}

// Close frees the migrator's source. The database handle is left open; its
// owner closes it.
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, _ := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	return nil
}
