package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/app"
	"github.com/taskhub/server/internal/module/auth"
	"github.com/taskhub/server/internal/shared/config"
	"github.com/taskhub/server/internal/shared/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taskhub",
		Short:         "Shared project and task server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newTokenCommand())
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()

			application, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer application.Stop()
			log := application.Logger()

			if err := application.Start(ctx); err != nil {
				return err
			}

			srv := &http.Server{
				Addr:         cfg.Server.Address,
				Handler:      application.Router(),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("starting server", zap.String("address", cfg.Server.Address))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("listen: %w", err)
				}
			case <-ctx.Done():
			}

			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("server forced to shutdown", zap.Error(err))
			}
			log.Info("server exited")
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires the %s driver", config.DriverPostgres)
			}
			cfg.Database.AutoMigrate = true

			ctx, stop := signalContext()
			defer stop()
			log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			defer func() { _ = log.Sync() }()

			st, err := app.OpenStore(ctx, &cfg.Database, log)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate expired and exhausted share links once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()
			application, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer application.Stop()

			n, err := application.Links().Sweep(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("sweep links: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %d links\n", n)
			return nil
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the email delivery worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()
			application, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer application.Stop()

			worker := application.Worker()
			if worker == nil {
				return errors.New("email delivery needs notification.email_enabled and redis.enabled")
			}
			application.Logger().Info("starting email worker", zap.String("queue", cfg.Notification.Queue))
			return worker.Run(ctx)
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		userID string
		email  string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if email == "" {
				return errors.New("--email is required")
			}

			id := uuid.New()
			if userID != "" {
				if id, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid --user-id: %w", err)
				}
			}

			jwt := auth.NewJWTManager(&auth.JWTConfig{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.Issuer})
			token, err := jwt.IssueToken(id, email, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id (random when empty)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	return cmd
}
