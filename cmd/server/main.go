package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/afromemo/afromemo/internal/archiver"
	"github.com/afromemo/afromemo/internal/auth"
	"github.com/afromemo/afromemo/internal/config"
	httpserver "github.com/afromemo/afromemo/internal/http"
	"github.com/afromemo/afromemo/internal/http/csrf"
	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/notify"
	"github.com/afromemo/afromemo/internal/store"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "afromemo-server",
		Short:        "Afromémo agenda API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(newCreateAdminCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*config.Config, *slog.Logger, *store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)

	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using the in-memory store")
		return cfg, logger, store.NewMemory(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := store.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return cfg, logger, store.New(pool), pool.Close, nil
}

func serve(ctx context.Context) error {
	cfg, logger, st, closeStore, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	authService := auth.NewService(cfg, st, logger)
	if cfg.AdminUser != "" {
		if _, err := authService.SeedAdmin(ctx, cfg.AdminUser, cfg.AdminPassword); err != nil {
			return err
		}
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.SMTP.Host != "" {
		sender = notify.SMTPSender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}
	} else {
		logger.Warn("no SMTP relay configured, notifications are only logged")
	}
	notifier := notify.New(sender, cfg.FrontURL, logger)
	defer notifier.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	go archiver.New(st, cfg.ArchiveInterval, cfg.Location(), logger).Run(ctx)
	go purgeRefreshTokens(ctx, authService, logger)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpserver.NewRouter(ctx, httpserver.Deps{
			Config:   cfg,
			Store:    st,
			Auth:     authService,
			Notifier: notifier,
			CSRF:     csrf.NewStore(csrf.DefaultTTL),
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

func purgeRefreshTokens(ctx context.Context, authService *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authService.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired refresh tokens", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired refresh tokens", "count", n)
			}
		}
	}
}

func newCreateAdminCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create or reset an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			if len(password) < auth.MinPasswordLength {
				return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
			}
			ctx := cmd.Context()
			cfg, logger, st, closeStore, err := setup(ctx)
			if err != nil {
				return err
			}
			defer closeStore()
			if cfg.DB.DSN == "" {
				return errors.New("create-admin needs a database (AFROMEMO_DB_DSN or AFROMEMO_DB_HOST)")
			}
			if _, err := auth.NewService(cfg, st, logger).SeedAdmin(ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s created\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	return cmd
}
