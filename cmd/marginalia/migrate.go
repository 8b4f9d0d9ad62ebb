package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"marginalia/internal/logging"
	"marginalia/internal/store"
)

func migrateCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending database migrations",
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Component("migrate")
			db, err := store.Open(ctx, g.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(ctx, db, g.cfg.MigrationsDir, logger)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Msg("migrations complete")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "down",
				Usage: "roll back applied migrations",
				Action: func(ctx context.Context, c *cli.Command) error {
					logger := logging.Component("migrate")
					db, err := store.Open(ctx, g.cfg.DatabaseURL)
					if err != nil {
						return fmt.Errorf("database connection failed: %w", err)
					}
					defer db.Close()

					reverted, err := store.RollbackMigrations(ctx, db, g.cfg.MigrationsDir, logger)
					if err != nil {
						return err
					}
					logger.Info().Int("reverted", reverted).Msg("rollback complete")
					return nil
				},
			},
		},
	}
}
