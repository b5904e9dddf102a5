// Package diag provides the netmgr diagnostics HTTP server: liveness and
// a statistics snapshot (netmgr counters, queue depths, system CPU/mem via
// gopsutil), exposed for operators over a Gin-based HTTP server. Off by
// default and bound to 127.0.0.1 per spec.md's ambient diagnostics note.
package diag

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hydraworks/netmgr/internal/diag/handlers"
	"github.com/hydraworks/netmgr/internal/diag/middleware"
	"github.com/hydraworks/netmgr/internal/netmgr"
)

// Config carries the diagnostics server's bind address and optional API
// key, mirroring internal/config.DiagConfig without importing it (keeps
// this package usable by tests/tools that construct it directly).
type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Server is the netmgr diagnostics HTTP server.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server reporting on mgr's live statistics.
func New(cfg Config, mgr *netmgr.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(mgr)
	registerRoutes(engine, h, cfg.APIKey)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: engine, httpServer: httpServer}
}

// Addr returns the server's configured listen address.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// Engine exposes the underlying gin.Engine for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// ListenAndServe blocks serving diagnostics requests until Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the diagnostics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
