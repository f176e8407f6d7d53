package main

import (
	"context"
	"fmt"
	"time"

	"peerchat/internal/app"
	"peerchat/internal/auth"
	"peerchat/internal/server"
	"peerchat/internal/social"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// setup loads configuration and builds the logger shared by every command
func setup(opts *rootOptions) (app.Config, *zap.Logger, error) {
	cfg, err := app.Load(opts.envFile)
	if err != nil {
		return app.Config{}, nil, err
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return app.Config{}, nil, fmt.Errorf("app.NewLogger: %w", err)
	}

	return cfg, logger, nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			sugar := logger.Sugar()
			sugar.Infow("Application is starting", "backend", cfg.Backend)

			backend, err := app.Open(context.Background(), sugar, cfg)
			if err != nil {
				return fmt.Errorf("cannot open storage: %w", err)
			}

			if migrate {
				if err := backend.Migrate(context.Background()); err != nil {
					backend.Close()
					return fmt.Errorf("cannot migrate storage: %w", err)
				}
			}

			authenticator, err := auth.NewAuthenticator(cfg.Auth)
			if err != nil {
				backend.Close()
				return fmt.Errorf("auth.NewAuthenticator: %w", err)
			}

			services := server.Services{
				Users:    backend.Users,
				Graph:    social.NewConnectionGraph(sugar, backend.Users, cfg.Social),
				Chats:    social.NewChatDirectory(sugar, backend.Users, backend.Chats, cfg.Social),
				Messages: social.NewMessageLog(sugar, backend.Users, backend.Chats, cfg.Social),
				Presence: social.NewPresence(sugar, backend.Users, cfg.Social),
				Auth:     authenticator,
			}

			srv, err := server.NewServer(logger, services,
				server.WithEnvConfig(cfg.Server),
				server.ReadTimeout(5*time.Second),
				server.WriteTimeout(15*time.Second),
				server.TimeoutHandler(10*time.Second, "Request timed out"),
				server.RegisterAfterShutdown(backend.Close),
			)
			if err != nil {
				backend.Close()
				return fmt.Errorf("cannot create server: %w", err)
			}

			return srv.Start()
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")

	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			backend, err := app.Open(cmd.Context(), logger.Sugar(), cfg)
			if err != nil {
				return fmt.Errorf("cannot open storage: %w", err)
			}
			defer backend.Close()

			if err := backend.Migrate(cmd.Context()); err != nil {
				return err
			}

			logger.Info("schema is up to date", zap.String("backend", cfg.Backend))
			return nil
		},
	}
}
