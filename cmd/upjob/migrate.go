package main

import (
	"fmt"
	"log/slog"

	"github.com/Upreak/Upjobv1-sub001/internal/store"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.OpenPostgres(cfg.Postgres.DSN())
			if err != nil {
				return fmt.Errorf("db connect failed: %w", err)
			}
			if err := store.New(db).Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			slog.Info("schema up to date", "db", cfg.Postgres.DBName)
			return nil
		},
	}
}
