package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/data/postgres"
	"github.com/bounty-escrow-ledger/internal/idempotency"
	"github.com/bounty-escrow-ledger/internal/logger"
	"github.com/bounty-escrow-ledger/internal/outbox_dispatcher"
	"github.com/bounty-escrow-ledger/internal/platform/messaging/producers"
	"github.com/bounty-escrow-ledger/internal/platform/metrics"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("outbox_dispatcher")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting Outbox Dispatcher", "app_name", cfg.Application.Name, "env", cfg.Application.Env)

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	eventProducer, err := producers.NewEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize events Kafka producer", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	guard := idempotency.NewGuard(postgres.NewIdempotencyRepository(log, postgresDB), &cfg.Idempotency, m, log)

	poller := outbox_dispatcher.NewPoller(&cfg.Outbox, postgresDB, outboxRepo, eventProducer, m, log)
	reaper := outbox_dispatcher.NewReaper(guard, cfg.Idempotency.PurgeInterval, log)

	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		poller.Start(appCtx)
	}()
	go func() {
		defer wg.Done()
		reaper.Start(appCtx)
	}()
	go func() {
		defer wg.Done()
		if err := m.Serve(appCtx, cfg.Metrics.Addr, log); err != nil {
			errChan <- fmt.Errorf("metrics endpoint error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	log.Info("Waiting for dispatcher loops to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All loops stopped")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if err = eventProducer.Close(); err != nil {
		log.Error("Error closing events Kafka producer", "error", err)
	}
	postgresDB.Close()

	if serviceErr != nil {
		log.Error("Outbox Dispatcher shutdown with errors", "error", serviceErr)
		os.Exit(1)
	}
	log.Info("Outbox Dispatcher shutdown completed")
}
