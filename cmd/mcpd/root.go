package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mcpd",
	Short: "mcpd — a Model Context Protocol server engine",
	Long: `mcpd hosts the Protocol Engine: a stateful JSON-RPC 2.0 server
exposing tools, resources, and prompts to AI clients over a single
HTTP/WebSocket port.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.config/mcpd/config.yaml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
