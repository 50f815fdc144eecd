package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/logging"
	"github.com/Rrens/secassist/internal/repository/postgres"
)

func newRootCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply the postgres session storage schema",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&source, "source", "file://migrations/postgres", "migration source URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(source, func(m *postgres.Migrator) error { return m.Up() })
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(source, func(m *postgres.Migrator) error { return m.Down(steps) })
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(source, func(m *postgres.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(source string, fn func(m *postgres.Migrator) error) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := logging.Setup(config.LoggingConfig{Level: cfg.Logging.Level, Format: "console"}); err != nil {
		return err
	}

	db := cfg.Storage.Postgres
	log.Info().Str("host", db.Host).Int("port", db.Port).Str("database", db.Database).Msg("Connecting to database")

	m, err := postgres.NewMigrator(db.DSN(), source)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
