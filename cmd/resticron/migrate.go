package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var (
		status      bool
		list        bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			driver := db.Driver(cfg.Database.Driver)
			out := cmd.OutOrStdout()

			if list {
				migrations, err := db.GetMigrations(driver)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Available %s migrations:\n", driver)
				for _, m := range migrations {
					fmt.Fprintf(out, "  %03d: %s\n", m.Version, m.Name)
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			database, err := db.New(ctx, db.DefaultConfig(driver, cfg.Database.DSN), logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			if !status {
				logger.Info().Str("driver", string(driver)).Msg("running database migrations")
				if err := database.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			version, err := database.CurrentVersion(ctx)
			if err != nil {
				return fmt.Errorf("get schema version: %w", err)
			}
			fmt.Fprintf(out, "Current schema version: %d\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "show the current schema version without migrating")
	cmd.Flags().BoolVar(&list, "list", false, "list the embedded migrations")

	return cmd
}
