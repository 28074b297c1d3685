package consumers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/bounty-escrow-ledger/internal/config"
)

// Message is what a handler sees of a Kafka record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

type MessageHandler func(ctx context.Context, msg Message) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// reader is the part of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer implements Consumer using a Kafka consumer group
type KafkaConsumer struct {
	reader     reader
	topic      string
	groupID    string
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	done       chan struct{}
}

func NewKafkaConsumer(logger *slog.Logger, cfg *config.KafkaConfig) *KafkaConsumer {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == kafka.LastOffset {
		startOffset = kafka.LastOffset
	}
	return &KafkaConsumer{
		logger:  logger,
		topic:   cfg.EventsTopic,
		groupID: cfg.ConsumerGroup,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       cfg.EventsTopic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
		newBackOff: defaultBackOff,
		done:       make(chan struct{}),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Subscribe starts consuming in the background until ctx ends. A message whose
// handler fails is retried with backoff and its offset is not committed, so
// later messages of the same partition wait behind it.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Subscribed to Kafka topic", "topic", c.topic, "group_id", c.groupID)

	go func() {
		defer close(c.done)
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					c.logger.Info("Context canceled, stopping consumer", "topic", c.topic)
					return
				}
				c.logger.Error("Failed to fetch message from Kafka", "topic", c.topic, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			if !c.handle(ctx, handler, msg) {
				return
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("Failed to commit message after successful processing",
					"partition", msg.Partition, "offset", msg.Offset, "error", err)
			}
		}
	}()
	return nil
}

// handle reports false only when ctx ended before the handler succeeded.
func (c *KafkaConsumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) bool {
	m := Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
	}
	for _, h := range msg.Headers {
		m.Headers[h.Key] = string(h.Value)
	}

	err := backoff.RetryNotify(func() error {
		return handler(ctx, m)
	}, backoff.WithContext(c.newBackOff(), ctx), func(err error, wait time.Duration) {
		c.logger.Error("Failed to process message, will retry without committing",
			"partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key), "retry_in", wait, "error", err)
	})
	return err == nil
}

// Done is closed once the consume loop has returned.
func (c *KafkaConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
