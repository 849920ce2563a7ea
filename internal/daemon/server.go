package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/wppmon/internal/api"
	"github.com/matheus3301/wppmon/internal/config"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle.
type Server struct {
	httpServer *http.Server
	addr       string
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer creates an HTTP server for the API on the configured address.
func NewServer(cfg *config.Config, h *api.Handler, logger *zap.Logger) *Server {
	router := api.NewRouter(h, api.RouterOptions{
		Metrics: cfg.HTTP.Metrics,
		Debug:   !cfg.Production(),
	})
	return &Server{
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   cfg.Addr(),
		logger: logger,
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("HTTP server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown", zap.Error(err))
	}
}
