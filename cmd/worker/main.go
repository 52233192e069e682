// Command worker runs the expiry sweeper, outbox relay and payment.succeeded
// consumer without serving the HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"boxoffice/internal/app"
	"boxoffice/internal/shared/config"
	"boxoffice/internal/shared/database"
	"boxoffice/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	appLogger := logger.GetDefault()
	if err := godotenv.Load(); err != nil {
		appLogger.Info("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	db, err := database.InitDB(cfg)
	if err != nil {
		appLogger.Error("failed to connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	application, err := app.New(cfg, db, appLogger)
	if err != nil {
		appLogger.Error("Failed to build application", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := application.Close(); err != nil {
			appLogger.Error("Error closing application", slog.Any("error", err))
		}
	}()

	if err := application.EnableConsumer(); err != nil {
		appLogger.Error("Failed to start payment consumer", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.RunWorkers(ctx)
	for _, status := range application.WorkerStatuses() {
		attrs := []any{slog.String("worker", status.Name), slog.String("last_error", status.LastError)}
		if status.LastSuccessAt != nil {
			attrs = append(attrs, slog.Time("last_success_at", *status.LastSuccessAt))
		}
		appLogger.Info("Worker stopped", attrs...)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Workers failed", slog.Any("error", err))
		os.Exit(1)
	}
}
