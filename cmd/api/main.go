package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/mkundi/tumapay/internal/adapter/handler"
	"github.com/mkundi/tumapay/internal/adapter/middleware"
	"github.com/mkundi/tumapay/internal/adapter/storage"
	"github.com/mkundi/tumapay/internal/core/config"
	"github.com/mkundi/tumapay/internal/core/ledger"
	"github.com/mkundi/tumapay/internal/core/worker"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := storage.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	if err := storage.RunMigrations(cfg.DatabaseURL); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	store := storage.NewStore(pool)

	opts := []ledger.Option{}
	if cfg.WebhookURL != "" {
		opts = append(opts, ledger.WithNotifier(worker.NewQueue(pool, cfg.WebhookURL)))
		worker.Start(ctx, pool, cfg.WebhookSecret)
	}
	svc := ledger.New(store, opts...)

	authHandler := &handler.AuthHandler{Ledger: svc}
	transferHandler := &handler.TransferHandler{Ledger: svc}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Post("/signup", authHandler.Signup)
	api.Post("/login", authHandler.Login)
	api.Post("/transfer", middleware.Idempotency(pool), transferHandler.Transfer)
	api.Get("/transfers/:handle", transferHandler.History)
	api.Get("/health", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "env", cfg.Env, "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	<-stop
	slog.Info("shutting down")

	cancel()
	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	pool.Close()
	slog.Info("server exited")
}
