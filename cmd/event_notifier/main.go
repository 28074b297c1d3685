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
	"github.com/bounty-escrow-ledger/internal/data/mongo"
	"github.com/bounty-escrow-ledger/internal/event_notifier"
	"github.com/bounty-escrow-ledger/internal/logger"
	"github.com/bounty-escrow-ledger/internal/platform/messaging/consumers"
	"github.com/bounty-escrow-ledger/internal/platform/messaging/producers"
	"github.com/bounty-escrow-ledger/internal/platform/metrics"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("event_notifier")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting Event Notifier", "app_name", cfg.Application.Name, "env", cfg.Application.Env)

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	notificationRepo := mongo.NewNotificationRepository(log, mongoDB.Database())
	if err := notificationRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to ensure notification indexes", "error", err)
		os.Exit(1)
	}

	redisClient, err := persistence.NewRedis(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	// nil when no DLQ topic is configured; the handler copes with that.
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}

	pool, err := event_notifier.NewWorkerPool(cfg.WorkerPool.Size, log)
	if err != nil {
		log.Error("Failed to initialize worker pool", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	handler := event_notifier.NewEventHandler(
		log,
		pool,
		event_notifier.NewRealtimeBroadcaster(redisClient.Client(), cfg.Redis.ChannelPrefix, log),
		event_notifier.NewNotificationInbox(notificationRepo, log),
		dlqProducer,
		m,
	)

	kafkaConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka)

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	if err := kafkaConsumer.Subscribe(appCtx, handler.HandleMessage); err != nil {
		log.Error("Failed to subscribe to events topic", "error", err)
		os.Exit(1)
	}

	wg.Add(1)
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

	log.Info("Starting graceful shutdown...")
	select {
	case <-kafkaConsumer.Done():
	case <-shutdownCtx.Done():
		log.Warn("Consumer did not stop before the shutdown timeout")
	}
	wg.Wait()

	pool.Shutdown()

	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}
	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}
	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis connection", "error", err)
	}
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serviceErr != nil {
		log.Error("Event Notifier shutdown with errors", "error", serviceErr)
		os.Exit(1)
	}
	log.Info("Event Notifier shutdown completed")
}
