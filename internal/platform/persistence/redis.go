package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis wraps the client used for realtime status broadcasts.
type Redis struct {
	logger *slog.Logger
	client *redis.Client
}

func NewRedis(ctx context.Context, logger *slog.Logger, cfg *config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to Redis", "addr", cfg.Addr)
	return &Redis{logger: logger, client: client}, nil
}

func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	r.logger.Info("Closed Redis connection")
	return nil
}
