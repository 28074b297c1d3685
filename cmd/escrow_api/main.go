package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/data/postgres"
	"github.com/bounty-escrow-ledger/internal/escrow_api"
	"github.com/bounty-escrow-ledger/internal/escrow_api/service"
	"github.com/bounty-escrow-ledger/internal/idempotency"
	"github.com/bounty-escrow-ledger/internal/logger"
	"github.com/bounty-escrow-ledger/internal/orchestrator"
	"github.com/bounty-escrow-ledger/internal/platform/gateway"
	"github.com/bounty-escrow-ledger/internal/platform/metrics"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("escrow_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting Escrow API", "app_name", cfg.Application.Name, "env", cfg.Application.Env)

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	processor, err := gateway.NewProcessor(&cfg.Gateway, m, log)
	if err != nil {
		log.Error("Failed to initialize payment gateway", "error", err)
		os.Exit(1)
	}

	// Repositories
	bountyRepo := postgres.NewBountyRepository(log, postgresDB)
	walletRepo := postgres.NewWalletRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	idempotencyRepo := postgres.NewIdempotencyRepository(log, postgresDB)

	guard := idempotency.NewGuard(idempotencyRepo, &cfg.Idempotency, m, log)

	escrowService, err := orchestrator.New(
		postgresDB,
		bountyRepo,
		walletRepo,
		outboxRepo,
		guard,
		processor,
		&cfg.Escrow,
		m,
		log,
	)
	if err != nil {
		log.Error("Failed to initialize escrow orchestrator", "error", err)
		os.Exit(1)
	}

	server := escrow_api.NewServer(log, cfg, escrow_api.Services{
		Escrow:   escrowService,
		Payments: service.NewPaymentService(processor, postgresDB, guard, &cfg.Escrow, log),
		Wallets:  service.NewWalletService(postgresDB, walletRepo, cfg.Escrow.Currency, log),
		Webhooks: service.NewWebhookService(processor, postgresDB, outboxRepo, guard, log),
	}, m, postgresDB)

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Drain in-flight requests before the pool goes away.
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}
	postgresDB.Close()

	if serverErr != nil {
		log.Error("Escrow API shutdown with errors", "error", serverErr)
		os.Exit(1)
	}
	log.Info("Escrow API shutdown completed")
}
