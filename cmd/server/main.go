package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/webstudy/jewel-scraper/internal/api"
	"github.com/webstudy/jewel-scraper/internal/config"
	"github.com/webstudy/jewel-scraper/internal/database"
	"github.com/webstudy/jewel-scraper/internal/egress"
	"github.com/webstudy/jewel-scraper/internal/events"
	"github.com/webstudy/jewel-scraper/internal/images"
	"github.com/webstudy/jewel-scraper/internal/metrics"
	"github.com/webstudy/jewel-scraper/internal/quota"
	"github.com/webstudy/jewel-scraper/internal/ratelimit"
	"github.com/webstudy/jewel-scraper/internal/scrape"
	"github.com/webstudy/jewel-scraper/internal/scrape/adapters"
)

// probeURL is a stable page used by /proxy-health to exercise each
// egress route without touching a scrape target.
const probeURL = "https://example.com"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	productRepo := database.NewProductRepository(db)
	if err := productRepo.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	settingsRepo := database.NewSettingsRepository(db)

	// Redis is optional; without it lifecycle events are dropped.
	var publisher *events.Publisher
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, lifecycle events disabled", "addr", cfg.Redis.Addr, "error", err)
		redisClient.Close()
	} else {
		publisher = events.NewPublisher(redisClient, cfg.Redis.Stream, logger)
		defer redisClient.Close()
	}

	m := metrics.New()
	guard := quota.NewGuard(settingsRepo, logger)
	router := egress.NewRouter(cfg.Egress, cfg.Browser, logger)
	fetcher := images.NewPool(images.Options{
		Concurrency:  cfg.Images.Concurrency,
		FetchTimeout: cfg.Images.FetchTimeout,
		Retries:      cfg.Images.Retries,
		RetryDelay:   cfg.Images.RetryDelay,
	}, logger)
	limiter := ratelimit.NewPageLimiter(cfg.Scraper.PageDelayMin, cfg.Scraper.PageDelayMax)

	registry := scrape.NewRegistry(
		adapters.Grahams{},
		adapters.Helzberg{},
	)

	orchestrator := scrape.NewOrchestrator(
		registry,
		router,
		guard,
		productRepo,
		fetcher,
		limiter,
		publisher,
		m,
		scrape.Options{
			ExcelDir:   cfg.Sink.ExcelDir,
			ImageDir:   cfg.Images.Dir,
			NavRetries: cfg.Browser.NavRetries,
		},
		logger,
	)

	handlers := api.NewHandlers(orchestrator, guard, productRepo, router, m, probeURL, logger)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handlers.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
