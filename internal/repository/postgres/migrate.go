package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

// Migrator applies the versioned schema in sourceURL to the database at dsn
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator creates a migrator for dsn from sourceURL (e.g. file://migrations/postgres)
func NewMigrator(dsn, sourceURL string) (*Migrator, error) {
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("Database migration: no changes")
			return nil
		}
		return fmt.Errorf("failed to run migrate up: %w", err)
	}
	log.Info().Msg("Database migration: success")
	return nil
}

// Down rolls back the given number of migrations
func (g *Migrator) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	if err := g.m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("failed to roll back %d migration(s): %w", steps, err)
	}
	log.Info().Int("steps", steps).Msg("Database migration rolled back")
	return nil
}

// Version reports the applied schema version
func (g *Migrator) Version() (uint, bool, error) {
	v, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the source and database handles
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}

// RunMigrations executes database migrations from the specified source URL
func RunMigrations(dsn string, sourceURL string) error {
	m, err := NewMigrator(dsn, sourceURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
