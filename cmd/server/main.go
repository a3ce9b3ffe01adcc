// Package main is the entry point for the SaaS API server.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wangwalk/tanstack-start-dev/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "saas",
	Short: "SaaS starter API server",
	Long: `Runs the account, billing and admin API and its maintenance tasks.

Examples:
  saas serve
  saas migrate up
  saas migrate down 1
  saas admin promote ada@example.com`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, migrateCmd, adminCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger: JSON outside dev, text in dev.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug || os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Server.IsDev() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads configuration and the logger for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cmd, cfg), nil
}
