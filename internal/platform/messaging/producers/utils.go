package producers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// EnsureTopic creates topicName on the cluster controller when it does not exist yet.
func EnsureTopic(ctx context.Context, brokers, topicName string, numPartitions, replicationFactor int, logger *slog.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokers)
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	return createKafkaTopicIfNotExists(ctx, controllerConn, topicName, numPartitions, replicationFactor, logger)
}

// createKafkaTopicIfNotExists retries partition reads briefly; a topic that
// stays unreadable is created.
func createKafkaTopicIfNotExists(ctx context.Context, conn topicAdmin, topicName string, numPartitions, replicationFactor int, log *slog.Logger) error {
	log.Info("Checking if Kafka topic exists", "topic", topicName)

	var partitions []kafka.Partition
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	readErr := backoff.Retry(func() error {
		var err error
		partitions, err = conn.ReadPartitions(topicName)
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warn("Failed to read partitions, retrying", "topic", topicName, "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, 4), ctx))

	if readErr == nil && len(partitions) > 0 {
		log.Info("Kafka topic already exists", "topic", topicName, "partitions", len(partitions))
		return nil
	}

	topicConfig := kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     max(numPartitions, 1),
		ReplicationFactor: max(replicationFactor, 1),
	}
	log.Info("Creating Kafka topic", "topic", topicName,
		"partitions", topicConfig.NumPartitions, "replication_factor", topicConfig.ReplicationFactor, "last_read_error", readErr)

	if err := conn.CreateTopics(topicConfig); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create kafka topic %s: %w", topicName, err)
	}
	log.Info("Kafka topic ready", "topic", topicName)
	return nil
}
