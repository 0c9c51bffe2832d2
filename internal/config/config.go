// Package config provides configuration loading for the mcpd engine.
//
// Configuration is loaded from a YAML file with environment-variable
// overrides and sensible defaults. This package covers server, session,
// transport, and observability settings only; it carries no
// domain-specific application config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete mcpd configuration.
type Config struct {
	Production    ProductionConfig
	Server        ServerConfig
	Session       SessionConfig
	Socket        SocketConfig
	Observability ObservabilityConfig
	Log           LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Name            string        `koanf:"name"`
	Version         string        `koanf:"version"`
}

// SessionConfig holds Session Store configuration.
type SessionConfig struct {
	// MaxSessions is the maximum number of concurrent sessions the store
	// holds before evicting the least-recently-used entry. Default: 10000.
	MaxSessions int `koanf:"max_sessions"`

	// IdleTimeout is how long a session may go without activity before
	// the background sweep reaps it. Default: 1h.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// SweepInterval controls how often the idle sweep runs. Default: 5m.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// SocketConfig holds the socket settings read from file and
// environment. They are defaulted and validated, but serve does not
// pass them to the Socket Adapter, which uses a fixed 54s ping period,
// a 10s write wait, and the engine's message cap as its read limit.
type SocketConfig struct {
	PingInterval time.Duration `koanf:"ping_interval"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	ReadLimitKB  int           `koanf:"read_limit_kb"`
}

// ObservabilityConfig holds metrics/tracing configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	MetricsPath       string `koanf:"metrics_path"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"`
	OTLPInsecure      bool   `koanf:"otlp_insecure"`
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
}

// LogConfig holds structured logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// ProductionConfig holds production deployment safety toggles.
type ProductionConfig struct {
	// Enabled indicates whether production mode is active.
	// Set via MCPD_PRODUCTION_MODE=1 environment variable.
	Enabled bool `koanf:"enabled"`

	// LocalModeAcknowledged allows development features in production mode.
	LocalModeAcknowledged bool `koanf:"local_mode_acknowledged"`

	// RequireAuthentication enforces that a caller has wired an auth hook.
	// mcpd does not prescribe a scheme; it only refuses to start without
	// one configured when this is set.
	RequireAuthentication bool `koanf:"require_authentication"`

	// AuthenticationConfigured indicates if an auth hook is registered.
	AuthenticationConfigured bool `koanf:"authentication_configured"`

	// RequireTLS enforces TLS termination in front of the listener.
	RequireTLS bool `koanf:"require_tls"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool {
	return c.Enabled
}

// IsLocal returns true if local mode is acknowledged.
func (c *ProductionConfig) IsLocal() bool {
	return c.LocalModeAcknowledged
}

// Validate checks production configuration for security issues.
func (c *ProductionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequireAuthentication && !c.AuthenticationConfigured {
		return fmt.Errorf("SECURITY: RequireAuthentication enabled but no auth hook configured")
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Session.MaxSessions <= 0 {
		return errors.New("session.max_sessions must be positive")
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("session.idle_timeout must be positive")
	}
	if c.Socket.PingInterval <= 0 {
		return errors.New("socket.ping_interval must be positive")
	}
	if c.Socket.WriteTimeout <= 0 {
		return errors.New("socket.write_timeout must be positive")
	}
	if err := c.Production.Validate(); err != nil {
		return fmt.Errorf("production config validation failed: %w", err)
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
