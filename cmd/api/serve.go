package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mveditor/api/internal/app"
	"mveditor/api/internal/auth"
	"mveditor/api/internal/authpw"
	"mveditor/api/internal/blob"
	"mveditor/api/internal/config"
	"mveditor/api/internal/gitrepo"
	"mveditor/api/internal/metrics"
	"mveditor/api/internal/realtime"
	"mveditor/api/internal/search"
	"mveditor/api/internal/session"
	"mveditor/api/internal/store"
	"mveditor/api/internal/wsconn"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type sessionBackend interface {
	CreateSession(context.Context, store.Session) error
	GetSession(context.Context, string) (store.Session, error)
	ValidateSession(context.Context, string) error
	RotateRefresh(context.Context, string, string, string, time.Time) error
	DeleteSession(context.Context, string) error
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	var sessions sessionBackend = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		logger.Info("using postgres for session storage")
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	var primary search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), logger)
	go func() {
		if n := searchService.ReindexAll(ctx); n > 0 {
			logger.Info("search index rebuilt", "files", n)
		}
	}()

	metricsRegistry := metrics.New()
	presence := realtime.NewPresence(time.Now)
	registry := realtime.NewRegistry(presence, time.Now)
	dispatcher := realtime.NewDispatcher(registry,
		realtime.WithSendTimeout(cfg.SendTimeout),
		realtime.WithLogger(logger),
		realtime.WithMetrics(metricsRegistry),
	)
	gateway := realtime.NewGateway(auth.NewGate(cfg.JWTSecret, sessions), dispatcher,
		realtime.WithGatewayLogger(logger),
		realtime.WithGatewayMetrics(metricsRegistry),
	)

	deps := app.Dependencies{
		Store:     dataStore,
		Sessions:  sessions,
		Passwords: authpw.NewService(dataStore),
		History:   gitrepo.New(cfg.HistoryDir),
		Search:    searchService,
		Registry:  registry,
		Logger:    logger,
	}
	if strings.EqualFold(cfg.ContentBackend, "s3") {
		blobs, err := blob.New(blob.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("object storage bucket: %w", err)
		}
		logger.Info("storing file content in object storage", "bucket", cfg.S3Bucket)
		deps.Blobs = blobs
	}

	httpServer := app.NewHTTPServer(app.NewService(cfg, deps), app.HTTPOptions{
		CORSOrigins: cfg.CORSOrigins,
		Realtime: wsconn.NewHandler(gateway, wsconn.Options{
			SendQueue:      cfg.SendQueue,
			AllowedOrigins: cfg.CORSOrigins,
			Logger:         logger,
		}),
		Metrics:  metricsRegistry.Handler(),
		Observer: metricsRegistry,
		Logger:   logger,
	})
	// No WriteTimeout: websocket sessions share the server's connections.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MVEditor API listening", "addr", cfg.Addr, "version", cfg.Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	closed := dispatcher.Shutdown(shutdownCtx)
	logger.Info("realtime connections closed", "connections", closed)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}
