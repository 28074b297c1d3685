// Package config provides configuration structures and validation for the escrow services.
// All three binaries (API, outbox dispatcher, event notifier) share this layout; each
// loads its own <name>.env file and only uses the sections it needs.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Auth        AuthConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Outbox      OutboxConfig
	Idempotency IdempotencyConfig
	Escrow      EscrowConfig
	Gateway     GatewayConfig
	WorkerPool  WorkerPoolConfig
	Metrics     MetricsConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or text
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// AuthConfig holds the bearer token settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	EventsTopic       string
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains the realtime broadcast connection settings.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string // prepended to bounty:<id>:escrow
}

// OutboxConfig contains outbox dispatch configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int           // attempts after which an event is left pending for inspection
	RetryBaseDelay   time.Duration // first backoff step between delivery attempts
	RetryMaxDelay    time.Duration
}

// IdempotencyConfig controls how long request keys are remembered.
type IdempotencyConfig struct {
	TTL           time.Duration
	WaitTimeout   time.Duration // how long a duplicate waits for an in-flight original
	PurgeInterval time.Duration
}

// EscrowConfig holds the money rules of the marketplace.
type EscrowConfig struct {
	Currency          string
	PlatformFeeRate   string // decimal fraction, e.g. "0.05"
	PlatformAccountID string
	MinIntentAmount   int64 // minor units
	MaxIntentAmount   int64 // minor units
}

// GatewayConfig selects and tunes the payment processor.
type GatewayConfig struct {
	Provider          string // paypal or sandbox
	ClientID          string
	ClientSecret      string
	APIBase           string
	WebhookID         string
	WebhookSecret     string // used by the sandbox processor to sign webhooks
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// MetricsConfig is used by the background binaries, which have no HTTP server of their own.
type MetricsConfig struct {
	Addr string
}

// validate checks every section and reports all problems at once.
func (c *Config) validate() error {
	var validationErrors []string

	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	if c.Auth.JWTSecret == "" {
		validationErrors = append(validationErrors, "AUTH_JWT_SECRET is required")
	}

	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.EventsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_EVENTS_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}

	if c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required")
	}

	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}
	if c.Outbox.RetryBaseDelay <= 0 || c.Outbox.RetryMaxDelay < c.Outbox.RetryBaseDelay {
		validationErrors = append(validationErrors, "OUTBOX_RETRY_BASE_DELAY must be positive and not exceed OUTBOX_RETRY_MAX_DELAY")
	}

	if c.Idempotency.TTL <= 0 {
		validationErrors = append(validationErrors, "IDEMPOTENCY_TTL must be greater than 0")
	}
	if c.Idempotency.WaitTimeout <= 0 {
		validationErrors = append(validationErrors, "IDEMPOTENCY_WAIT_TIMEOUT must be greater than 0")
	}

	if len(c.Escrow.Currency) != 3 {
		validationErrors = append(validationErrors, "ESCROW_CURRENCY must be a 3-letter code")
	}
	if c.Escrow.PlatformFeeRate == "" {
		validationErrors = append(validationErrors, "ESCROW_PLATFORM_FEE_RATE is required")
	}
	if c.Escrow.PlatformAccountID == "" {
		validationErrors = append(validationErrors, "ESCROW_PLATFORM_ACCOUNT_ID is required")
	}
	if c.Escrow.MinIntentAmount <= 0 || c.Escrow.MaxIntentAmount < c.Escrow.MinIntentAmount {
		validationErrors = append(validationErrors, "ESCROW_MIN_INTENT_AMOUNT must be positive and not exceed ESCROW_MAX_INTENT_AMOUNT")
	}

	switch c.Gateway.Provider {
	case "paypal":
		if c.Gateway.ClientID == "" || c.Gateway.ClientSecret == "" {
			validationErrors = append(validationErrors, "GATEWAY_CLIENT_ID and GATEWAY_CLIENT_SECRET are required for paypal")
		}
		if c.Gateway.WebhookID == "" {
			validationErrors = append(validationErrors, "GATEWAY_WEBHOOK_ID is required for paypal")
		}
	case "sandbox":
		if c.Gateway.WebhookSecret == "" {
			validationErrors = append(validationErrors, "GATEWAY_WEBHOOK_SECRET is required for sandbox")
		}
	default:
		validationErrors = append(validationErrors, "GATEWAY_PROVIDER must be paypal or sandbox")
	}
	if c.Gateway.RequestTimeout <= 0 {
		validationErrors = append(validationErrors, "GATEWAY_REQUEST_TIMEOUT must be greater than 0")
	}
	if c.Gateway.MaxRetries < 0 {
		validationErrors = append(validationErrors, "GATEWAY_MAX_RETRIES cannot be negative")
	}

	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
