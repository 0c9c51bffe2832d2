// Package server provides HTTP server functionality for the mcpd
// engine.
//
// This package implements a graceful HTTP server with Echo router,
// health check endpoints, and context-aware shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mcpdio/mcpd/internal/config"
	"github.com/mcpdio/mcpd/internal/logging"
)

// SessionReporter is implemented by the MCP engine's session store so
// /health can surface live session counts without pkg/server importing
// pkg/mcp. *mcp.SessionStore satisfies it; serve passes the
// mcp.Server's Engine.Store.
type SessionReporter interface {
	Len() int
}

// Server represents the HTTP server.
type Server struct {
	config   *config.Config
	echo     *echo.Echo
	logger   *logging.Logger
	sessions SessionReporter
}

// Option configures optional Server dependencies that weren't part of
// the teacher's fixed constructor signature, added here so a caller
// can wire request logging and /health session reporting without
// breaking NewServer(cfg) call sites that need neither.
type Option func(*Server)

// WithLogger attaches a request-correlated logger. Nil (the default)
// falls back to a no-op logger, matching the Handler Façade's own
// nil-logger convention.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionReporter wires the MCP engine's session store into
// /health so its response reflects live session count alongside
// static service identity.
func WithSessionReporter(reporter SessionReporter) Option {
	return func(s *Server) { s.sessions = reporter }
}

// HealthResponse is the JSON response for /health endpoint.
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	ActiveSessions *int   `json:"active_sessions,omitempty"`
}

// NewServer creates a new HTTP server with the given configuration.
//
// The server includes:
//   - Echo router for HTTP routing
//   - Standard middleware (logger, recoverer, request ID)
//   - Health check endpoint at GET /health
//   - Graceful shutdown support
//
// Example:
//
//	cfg, err := config.LoadWithFile("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := server.NewServer(cfg, server.WithLogger(log))
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
func NewServer(cfg *config.Config, opts ...Option) *Server {
	e := echo.New()

	// Hide Echo's startup banner and listening-port line
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		config: cfg,
		echo:   e,
		logger: logging.FromContext(context.Background()),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Setup middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.loggingMiddleware())

	// Register routes
	s.registerRoutes()

	return s
}

// loggingMiddleware logs each request at Info, attaching the request
// id Echo's own RequestID middleware assigned so it correlates with
// any downstream mcp dispatch log line carrying the same id (see
// pkg/mcp's Engine.Logger wiring).
func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				ctx = logging.WithRequestID(ctx, rid)
			}

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
				s.logger.Warn(ctx, "http request", fields...)
			} else {
				s.logger.Info(ctx, "http request", fields...)
			}
			return err
		}
	}
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(c echo.Context) error {
	response := HealthResponse{
		Status:  "ok",
		Service: s.config.Observability.ServiceName,
	}
	if s.sessions != nil {
		n := s.sessions.Len()
		response.ActiveSessions = &n
	}

	return c.JSON(http.StatusOK, response)
}

// Start starts the HTTP server and blocks until context is cancelled.
//
// The server listens on the port specified in the configuration.
// When the context is cancelled, the server performs graceful shutdown
// with the configured timeout.
//
// Returns http.ErrServerClosed on graceful shutdown, or any other
// error encountered during startup or shutdown.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
//	    log.Fatalf("server error: %v", err)
//	}
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)

	// Channel to receive server errors
	errCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		// Context cancelled, perform graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional routes.
//
// This is useful for extending the server with MCP endpoints or other handlers.
//
// Example:
//
//	srv := server.NewServer(cfg)
//	mcpEngine := mcp.NewServer(mcp.Options{Handler: handler})
//	mcpEngine.Mount(srv.Echo(), "/mcp")
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
