package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mveditor/api/internal/authpw"
	"mveditor/api/internal/config"
	"mveditor/api/internal/store"
)

var (
	initUsername string
	initPassword string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Apply migrations and create the initial user",
	Long: `Apply database migrations and create the initial user account.

The password may also be supplied through MVEDITOR_INIT_PASSWORD. Running init
again with an existing username leaves the account unchanged.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initUsername, "username", "admin", "Username of the initial account")
	initCmd.Flags().StringVar(&initPassword, "password", "", "Password of the initial account")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	password := initPassword
	if password == "" {
		password = os.Getenv("MVEDITOR_INIT_PASSWORD")
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("a password is required (--password or MVEDITOR_INIT_PASSWORD)")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied", "dir", cfg.MigrationsDir)

	return createInitialUser(ctx, logger, authpw.NewService(store.NewPostgresStore(db)), initUsername, password)
}

type signUpper interface {
	SignUp(ctx context.Context, username, password string) (store.User, error)
}

func createInitialUser(ctx context.Context, logger *slog.Logger, users signUpper, username, password string) error {
	user, err := users.SignUp(ctx, username, password)
	if errors.Is(err, authpw.ErrUsernameTaken) {
		logger.Info("initial user already exists", "username", username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create user %q: %w", username, err)
	}
	logger.Info("initial user created", "username", user.Username, "user_id", user.ID)
	return nil
}
