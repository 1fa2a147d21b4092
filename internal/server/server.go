// Package server exposes the node's operational endpoints. Besides liveness
// and monitor statistics it answers read queries over the Postgres
// projection and the bucket archive when those are configured.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/aftchain/internal/server/handler"
	"github.com/alanyoungcy/aftchain/internal/server/middleware"
)

// Config holds the listener settings.
type Config struct {
	Addr   string
	APIKey string // empty disables authentication
}

// Handlers groups the registered handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Monitor  *handler.MonitorHandler
	Subjects *handler.SubjectHandler // nil without Postgres
	Blocks   *handler.BlockHandler   // nil without Postgres
	Archive  *handler.ArchiveHandler // nil without S3
}

// Server is the ops HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes. /healthz is never authenticated so
// orchestrators can poll it.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("GET /status", handlers.Health.GetStatus)
	if handlers.Monitor != nil {
		api.HandleFunc("GET /monitor/stats", handlers.Monitor.GetStats)
		api.HandleFunc("GET /monitor/alarms", handlers.Monitor.GetAlarms)
	}
	if h := handlers.Subjects; h != nil {
		api.HandleFunc("GET /subjects", h.ListSubjects)
		api.HandleFunc("GET /subjects/{id}", h.GetSubject)
		api.HandleFunc("GET /subjects/{id}/votes", h.ListSubjectVotes)
		api.HandleFunc("GET /subjects/{id}/events", h.ListSubjectEvents)
		api.HandleFunc("GET /accounts/{id}/votes", h.ListAccountVotes)
	}
	if h := handlers.Blocks; h != nil {
		api.HandleFunc("GET /blocks/latest", h.LatestBlock)
		api.HandleFunc("GET /blocks/{number}", h.GetBlock)
		api.HandleFunc("GET /audit", h.ListAudit)
	}
	if h := handlers.Archive; h != nil {
		api.HandleFunc("GET /archive", h.ListBuckets)
		api.HandleFunc("GET /archive/bucket", h.GetBucket)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)
	mux.Handle("/", middleware.Auth(cfg.APIKey)(api))

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           middleware.Logging(logger)(mux),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx ends, then shuts down within five seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
