package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"plata/internal/amqp"
	"plata/internal/config"
	apphttp "plata/internal/http"
	applog "plata/internal/log"
	"plata/internal/services"
	"plata/internal/snapshot"
	"plata/internal/storage"
)

func main() {
	// Load .env for local development; absent in production is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	snapshots, err := snapshot.New(cfg.SnapshotDir)
	if err != nil {
		logger.Error("Failed to initialize snapshot store", "error", err, "dir", cfg.SnapshotDir)
		os.Exit(1)
	}

	// AMQP is optional; without it balance-write failures are only
	// repaired by the worker's periodic sweep.
	var queue services.ReconcilePublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, reconcile flagging disabled", "error", err)
		} else {
			defer client.Close()
			queue = client
		}
	}

	ledgerLogger := applog.New(applog.Config{Handler: logger.Handler()}).WithComponent(applog.ComponentLedger)
	authLogger := applog.New(applog.Config{Handler: logger.Handler()}).WithComponent(applog.ComponentAuth)

	ledgerSvc := services.NewLedgerService(repo, queue, snapshots, ledgerLogger)
	authSvc := services.NewAuthService(repo, cfg.SessionTTL, authLogger)

	srv := apphttp.NewServer(":"+cfg.Port, ledgerSvc, authSvc, cfg.RequestsPerMinute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting plata server", "port", cfg.Port, "db", cfg.SQLiteDBPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
