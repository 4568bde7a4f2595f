// -- cmd/migrate.go --
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/observability"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is not configured; set PG_ATLAS_DATABASE_URL")
		}

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pool.Close()

		if err := store.Migrate(ctx, pool); err != nil {
			return err
		}
		observability.GetLogger().Info("Database schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
