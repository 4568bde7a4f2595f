// File: internal/service/factory.go
// Description: Dependency injection for the ingestion service. Builds the
// fully wired component set from configuration; everything downstream receives
// its collaborators explicitly, never through hidden globals.
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/api"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/auth"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/config"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/ingest"
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/store"
)

// Components is the wired component set for one service process.
type Components struct {
	Pool    *pgxpool.Pool
	Store   store.GraphStore
	KeySet  *auth.KeySetCache
	Server  *api.Server
	cleanup []func()
}

// Close releases held resources, most recently acquired first.
func (c *Components) Close() {
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		c.cleanup[i]()
	}
}

// Build wires the full pipeline. With no database URL configured the process
// runs on the in-memory store, which is intended for local development only.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var graphs store.GraphStore
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		components.Pool = pool
		components.cleanup = append(components.cleanup, pool.Close)

		pg, err := store.NewPostgresStore(ctx, pool, logger)
		if err != nil {
			components.Close()
			return nil, err
		}
		graphs = pg
	} else {
		logger.Warn("No database configured; using in-memory store (submissions are not durable)")
		graphs = store.NewInMemoryStore(logger)
	}
	components.Store = graphs

	keySet := auth.NewKeySetCache(
		cfg.OIDC.JWKSURL(),
		cfg.OIDC.JWKSCacheTTL,
		cfg.OIDC.FetchTimeout,
		cfg.OIDC.FetchRateLimit,
		nil, // production clock
		nil, // production HTTP fetch
		logger,
	)
	components.KeySet = keySet

	verifier := auth.NewVerifier(keySet, cfg.OIDC.Issuer, nil, logger)

	orchestrator, err := ingest.New(verifier, graphs, cfg.OIDC.Audience, nil, logger)
	if err != nil {
		components.Close()
		return nil, err
	}

	handlers := api.NewHandlers(orchestrator, graphs, cfg.Server.MaxBodyBytes, logger)
	components.Server = api.NewServer(cfg.Server, handlers, logger)

	return components, nil
}
