package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wangwalk/tanstack-start-dev/internal/database"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative maintenance",
}

var adminPromoteCmd = &cobra.Command{
	Use:   "promote <email>",
	Short: "Grant the admin role to an existing user",
	Long: `Grant the admin role to an existing user.

The first administrator has to be created this way; after that, admins can
change roles from the admin console.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdminPromote,
}

func init() {
	adminCmd.AddCommand(adminPromoteCmd)
}

func runAdminPromote(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	users := repository.NewUserRepository(db.Pool())
	user, err := users.GetByEmail(ctx, args[0])
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user with email %q", args[0])
	}
	if err := users.SetRole(ctx, user.ID, models.RoleAdmin); err != nil {
		return err
	}

	logger.Info("Promoted user to admin", slog.String("user_id", user.ID.String()), slog.String("email", user.Email))
	return nil
}
