package mcp

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcpdio/mcpd/internal/logging"
)

// Server wires the Session Store, Message Router, Handler Façade, and
// both Transport Adapters into the single mounted path that this
// engine requires (§1: one listening port, one path, two transports).
type Server struct {
	Engine *Engine
	HTTP   *HTTPAdapter
	Socket *SocketAdapter
}

// Options configures a new Server.
type Options struct {
	Handler         Handler
	ServerInfo      ServerInfo
	MaxSessions     int
	SessionIdleTime time.Duration
	SweepInterval   time.Duration
	MaxMessageBytes int
	Registerer      prometheus.Registerer

	// Logger receives one entry per dispatched request, correlated by
	// session and request id (see Engine.Logger). Nil falls back to a
	// no-op logger.
	Logger *logging.Logger
}

// NewServer constructs a fully wired engine ready to be mounted onto
// an HTTP router via Mount.
func NewServer(opts Options) *Server {
	store := NewSessionStore(opts.MaxSessions, opts.SessionIdleTime, opts.SweepInterval)

	var metrics *Metrics
	if opts.Registerer != nil {
		metrics = NewMetrics(opts.Registerer)
	}

	engine := NewEngine(store, opts.Handler, opts.ServerInfo)
	if opts.MaxMessageBytes > 0 {
		engine.MaxMessageBytes = opts.MaxMessageBytes
	}
	engine.Metrics = metrics
	engine.Logger = opts.Logger

	socket := NewSocketAdapter(engine)
	httpAdapter := NewHTTPAdapter(engine, socket)

	return &Server{Engine: engine, HTTP: httpAdapter, Socket: socket}
}

// Mount registers the engine's single path onto e, serving both
// transports from it.
func (s *Server) Mount(e *echo.Echo, path string) {
	s.HTTP.Register(e, path)
}

// Close stops the session store's background sweep.
func (s *Server) Close() {
	s.Engine.Store.Close()
}
