package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// shutdownTimeout bounds graceful shutdown once the run context is cancelled
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP API server
// ⭐ SSOT: API 서버 설정은 이 파일에서만
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	name       string
}

// New creates a new API server.
// 동기 배치 트리거가 수 분 걸릴 수 있으므로 WriteTimeout 을 길게 둠
func New(cfg *config.Config, log *logger.Logger, router http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       2 * time.Minute,
			WriteTimeout:      15 * time.Minute,
			IdleTimeout:       60 * time.Second,
		},
		logger: log.WithFields(map[string]interface{}{
			"module": "api",
			"port":   cfg.Port,
			"env":    cfg.Env,
		}),
		name: "API server",
	}
}

// NewMetricsServer serves the Prometheus handler on its own port
func NewMetricsServer(cfg *config.Config, log *logger.Logger, handler http.Handler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.WithFields(map[string]interface{}{
			"module": "metrics",
			"port":   cfg.MetricsPort,
		}),
		name: "metrics server",
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting " + s.name)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start %s: %w", s.name, err)
	}

	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down " + s.name)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown %s: %w", s.name, err)
	}

	return nil
}
