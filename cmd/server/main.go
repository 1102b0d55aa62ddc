// cmd/server/main.go
// This is the entry point for the Company Chat server.
// The "cmd/server" directory follows a common Go convention: the cmd/ folder holds executable
// binaries, and internal/ holds reusable packages that are not meant to be imported by other projects.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	// Internal packages — our own code, imported by module path
	"github.com/trentd187/company-chat/internal/chat"
	"github.com/trentd187/company-chat/internal/config"
	"github.com/trentd187/company-chat/internal/database"
	"github.com/trentd187/company-chat/internal/directory"
	"github.com/trentd187/company-chat/internal/logging"
	"github.com/trentd187/company-chat/internal/metrics"
	"github.com/trentd187/company-chat/internal/middleware"
	"github.com/trentd187/company-chat/internal/server"
	"github.com/trentd187/company-chat/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "company-chat:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment variables (and optionally a .env file).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Connect to PostgreSQL and bring the schema up to date before serving.
	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := database.RunMigrations(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	dir := directory.NewStore(db, logger.Named("directory"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Chat engine ---
	registry := chat.NewRegistry()
	router := chat.NewRouter(registry,
		chat.WithSendTimeout(cfg.Chat.SendTimeout),
		chat.WithFanoutWorkers(cfg.Chat.FanoutWorkers),
		chat.WithRouterMetrics(m),
		chat.WithRouterLogger(logger.Named("chat")),
	)
	lifecycleOpts := []chat.LifecycleOption{
		chat.WithLifecycleMetrics(m),
		chat.WithLifecycleLogger(logger.Named("chat")),
	}
	if cfg.Chat.RosterSource == config.RosterDirectory {
		lifecycleOpts = append(lifecycleOpts, chat.WithDirectoryRoster())
	}
	lifecycle := chat.NewLifecycle(registry, router, dir, lifecycleOpts...)

	wsHandler := websocket.NewHandler(lifecycle, websocket.Config{
		SendBuffer:      cfg.Chat.SendBuffer,
		MaxMessageBytes: cfg.Chat.MaxMessageBytes,
		RateLimit:       cfg.Chat.RateLimit,
		RateBurst:       cfg.Chat.RateBurst,
		PingInterval:    cfg.Chat.PingInterval,
		PongWait:        cfg.Chat.PongWait,
		Origins:         cfg.AllowedOrigins(),
	}, logger.Named("websocket"))

	app := server.New(server.Deps{
		Auth:        middleware.NewAuthenticator(cfg.JWTSecret, dir, logger.Named("http")),
		Directory:   dir,
		Registry:    registry,
		Notifier:    chat.NewNotifier(router),
		Chat:        wsHandler,
		Gatherer:    reg,
		Logger:      logger.Named("http"),
		CORSOrigins: cfg.AllowedOrigins(),
		AccessLog:   cfg.IsDevelopment(),
	})

	// Stop on SIGINT/SIGTERM: websocket peers get a going-away close frame,
	// then the HTTP server drains.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket sessions still open", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped", zap.Int("groups", registry.Groups()))
	return nil
}
