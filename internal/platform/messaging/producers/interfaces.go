package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// EventPublisher delivers a serialized event to the events topic. The key
// selects the partition, so events sharing a key stay ordered.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
	Close() error
}

// DeadLetterPublisher handles publishing messages to a Dead Letter Queue
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// topicAdmin is the part of *kafka.Conn topic provisioning needs.
type topicAdmin interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
}

var _ topicAdmin = (*kafka.Conn)(nil)
