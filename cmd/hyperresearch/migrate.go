package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeboe/hyperresearch/pkg/config"
	"github.com/mikeboe/hyperresearch/pkg/database"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	var skipUsername bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the research tables and migrate the username column",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			slog.Info("Running migrations")
			start := time.Now()

			if err := db.InitSchema(ctx); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}

			if !skipUsername {
				report, err := db.MigrateUsername(ctx)
				switch {
				case errors.Is(err, database.ErrUserTableMissing):
					slog.Warn("Skipping username migration", "reason", err)
				case err != nil:
					return err
				default:
					if !report.ColumnPresent {
						return fmt.Errorf("migration completed but username column was not created")
					}
					slog.Info("Username column ready",
						"existed_before", report.ColumnExisted,
						"backfilled", report.Backfilled,
					)
				}
			}

			slog.Info("Migrations completed", "duration", time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	cmd.Flags().BoolVar(&skipUsername, "skip-username", false, "Only create the research tables")
	return cmd
}
