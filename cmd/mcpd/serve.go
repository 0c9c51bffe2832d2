package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcpdio/mcpd/internal/config"
	"github.com/mcpdio/mcpd/internal/logging"
	"github.com/mcpdio/mcpd/pkg/mcp"
	"github.com/mcpdio/mcpd/pkg/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mcpd protocol engine",
	Long:  `Start the JSON-RPC 2.0 engine, serving both the Socket and HTTP transports on one port.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if cfg.Log.Format != "" {
		logCfg.Format = cfg.Log.Format
	}
	if level, lvlErr := logging.LevelFromString(cfg.Log.Level); lvlErr == nil {
		logCfg.Level = level
	}
	log, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	log.Info(ctx, "starting mcpd", zap.Int("port", cfg.Server.Port), zap.String("version", cmd.Root().Version))

	handler := buildHandler()

	var registerer prometheus.Registerer
	if cfg.Observability.EnableTelemetry {
		registerer = prometheus.DefaultRegisterer
	}

	mcpSrv := mcp.NewServer(mcp.Options{
		Handler: handler,
		ServerInfo: mcp.ServerInfo{
			Name:    cfg.Server.Name,
			Version: cfg.Server.Version,
		},
		MaxSessions:     cfg.Session.MaxSessions,
		SessionIdleTime: cfg.Session.IdleTimeout,
		SweepInterval:   cfg.Session.SweepInterval,
		Registerer:      registerer,
		Logger:          log,
	})
	defer mcpSrv.Close()

	httpSrv := server.NewServer(cfg, server.WithLogger(log), server.WithSessionReporter(mcpSrv.Engine.Store))
	mcpSrv.Mount(httpSrv.Echo(), "/mcp")

	if cfg.Observability.EnableTelemetry {
		httpSrv.Echo().GET(cfg.Observability.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	if err := httpSrv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	log.Info(ctx, "mcpd stopped")
	return nil
}
