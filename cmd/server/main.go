// Package main is the entry point for the storefront server. It loads
// configuration, establishes database connections, runs migrations, wires
// together the plugins, and starts the HTTP server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castlewood/storefront/internal/app"
	"github.com/castlewood/storefront/internal/config"
	"github.com/castlewood/storefront/internal/database"
	"github.com/castlewood/storefront/internal/mailer"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Configure structured logging based on environment.
	setupLogging(cfg)

	slog.Info("starting storefront",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
	)

	// --- Connect to MariaDB ---
	db, err := database.NewMariaDB(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to MariaDB", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to MariaDB")

	// --- Run Migrations ---
	if err := database.RunMigrations(db, "db/migrations"); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Connect to Redis ---
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to Redis")

	// --- Outbound Mail ---
	mail := mailer.New(cfg.SMTP)
	if !mail.IsConfigured() {
		slog.Warn("SMTP not configured; password reset emails will be logged, not sent")
	}

	// --- Create Application ---
	application, err := app.New(cfg, db, rdb)
	if err != nil {
		slog.Error("failed to create application", slog.Any("error", err))
		os.Exit(1)
	}

	// Register all routes (auth, shop, health).
	application.RegisterRoutes(mail)

	// --- Graceful Shutdown ---
	// Listen for interrupt/term signals to drain connections cleanly.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		// Give in-flight requests 10 seconds to complete.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := application.Echo.Shutdown(ctx); err != nil {
			slog.Error("server forced shutdown", slog.Any("error", err))
		}
	}()

	// --- Start Server ---
	if err := application.Start(); err != nil {
		// Echo returns http.ErrServerClosed on graceful shutdown, which is expected.
		slog.Info("server stopped", slog.Any("reason", err))
	}
}

// setupLogging configures the global slog logger based on the environment.
// Development uses text format for readability. Production uses JSON for
// structured log aggregation.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler

	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	}

	slog.SetDefault(slog.New(handler))
}

// parseLogLevel maps a config log level string to an slog.Level.
// Unknown values fall back to info.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
