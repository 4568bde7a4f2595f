// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/internal/config"
)

// Server wraps the HTTP listener lifecycle around the handler set.
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
	log        *zap.Logger
}

// NewServer builds the server from config and the registered routes.
func NewServer(cfg config.ServerConfig, handlers *Handlers, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      handlers.Routes(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg: cfg,
		log: logger.Named("server"),
	}
}

// Run serves until the context is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
