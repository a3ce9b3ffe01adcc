package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wangwalk/tanstack-start-dev/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrateDown,
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE:  runMigrateVersion,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := database.MigrateUp(cfg.Database); err != nil {
		return err
	}
	logger.Info("Database migrations completed")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	steps := 1
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("steps must be a positive integer, got %q", args[0])
		}
		steps = n
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := database.MigrateDown(cfg.Database, steps); err != nil {
		return err
	}
	logger.Info("Rolled back migrations", slog.Int("steps", steps))
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	version, dirty, err := database.MigrationVersion(cfg.Database)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
	return nil
}
