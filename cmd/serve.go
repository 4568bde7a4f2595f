// -- cmd/serve.go --
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/observability"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion and metrics HTTP service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		components, err := service.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()

		if err := components.Server.Run(ctx); err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			return err
		}
		logger.Info("PG Atlas shut down cleanly")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
