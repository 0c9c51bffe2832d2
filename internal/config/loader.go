// Package config provides configuration loading for mcpd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, SESSION_MAX_SESSIONS, etc.)
//  2. YAML config file (~/.config/mcpd/config.yaml)
//  3. Hardcoded defaults
//
// # Security Considerations
//
// File Permissions: the config file MUST have 0600 or 0400 permissions.
// Files with weaker permissions are rejected.
//
// Path Validation: only configuration files in allowed directories can be
// loaded (~/.config/mcpd/ or /etc/mcpd/). Absolute paths outside these
// directories are rejected.
//
// File Size Limit: files larger than 1MB are rejected.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "mcpd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// Example: SERVER_HTTP_PORT -> server.http_port
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Production = loadProductionConfig()

	if cfg.Observability.OTLPEndpoint != "" && cfg.Observability.OTLPProtocol != "grpc" {
		if err := validateURL(cfg.Observability.OTLPEndpoint); err != nil {
			return nil, fmt.Errorf("invalid otlp_endpoint: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the mcpd config directory if it doesn't exist.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "mcpd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "mcpd"),
		"/etc/mcpd",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/mcpd/ or /etc/mcpd/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcpd"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "0.1.0"
	}

	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 10000
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = time.Hour
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 5 * time.Minute
	}

	if cfg.Socket.PingInterval == 0 {
		cfg.Socket.PingInterval = 30 * time.Second
	}
	if cfg.Socket.WriteTimeout == 0 {
		cfg.Socket.WriteTimeout = 10 * time.Second
	}
	if cfg.Socket.ReadLimitKB == 0 {
		cfg.Socket.ReadLimitKB = 512
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.Server.Name
	}
	if cfg.Observability.MetricsPath == "" {
		cfg.Observability.MetricsPath = "/metrics"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// loadProductionConfig loads production configuration from environment variables.
func loadProductionConfig() ProductionConfig {
	prodMode := os.Getenv("MCPD_PRODUCTION_MODE") == "1"
	localMode := os.Getenv("MCPD_LOCAL_MODE") == "1"

	return ProductionConfig{
		Enabled:               prodMode,
		LocalModeAcknowledged: localMode,
		RequireAuthentication: prodMode && !localMode,
		RequireTLS:            prodMode && !localMode,
	}
}
