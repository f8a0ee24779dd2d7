package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres migrate driver
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"   // sqlite migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

func (s *SQLStore) migrator() (*migrate.Migrate, error) {
	if s.migrateURL == "" {
		return nil, fmt.Errorf("migrate: store was not opened from a url")
	}
	src, err := iofs.New(migrations, "migrations/"+string(s.dialect))
	if err != nil {
		return nil, fmt.Errorf("migrate: load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, s.migrateURL)
	if err != nil {
		return nil, fmt.Errorf("migrate: init: %w", err)
	}
	return m, nil
}

// Migrate applies all pending up migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := runWithContext(ctx, m, m.Up); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	s.opts.Logger.Info("store.migrated", "dialect", s.dialect, "version", version, "dirty", dirty)
	return nil
}

// Rollback reverts the most recent migration.
func (s *SQLStore) Rollback(ctx context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := runWithContext(ctx, m, func() error { return m.Steps(-1) }); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func (s *SQLStore) Version() (uint, bool, error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// runWithContext stops a running migration when ctx ends.
func runWithContext(ctx context.Context, m *migrate.Migrate, fn func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return fn()
}
