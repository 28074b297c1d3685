package consumers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bounty-escrow-ledger/internal/config"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			msg := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return msg, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestConsumer(r reader) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     r,
		topic:      "escrow.events",
		groupID:    "notifier",
		newBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
		logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
		done:       make(chan struct{}),
	}
}

func TestNewKafkaConsumer(t *testing.T) {
	consumer := NewKafkaConsumer(slog.New(slog.NewJSONHandler(io.Discard, nil)), &config.KafkaConfig{
		Brokers:       "localhost:9092",
		EventsTopic:   "escrow.events",
		ConsumerGroup: "escrow-notifier",
		MinBytes:      1,
		MaxBytes:      1 << 20,
		MaxWait:       time.Second,
	})
	require.NotNil(t, consumer.reader)
	assert.Equal(t, "escrow.events", consumer.topic)
	assert.NoError(t, consumer.Close())
}

func TestKafkaConsumer_Subscribe(t *testing.T) {
	t.Run("CommitsAfterSuccess", func(t *testing.T) {
		r := &fakeReader{queue: []kafka.Message{
			{Offset: 1, Key: []byte("b1"), Value: []byte("one"), Headers: []kafka.Header{{Key: "event_type", Value: []byte("escrow.created")}}},
			{Offset: 2, Key: []byte("b1"), Value: []byte("two")},
		}}
		c := newTestConsumer(r)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var seen []Message
		require.NoError(t, c.Subscribe(ctx, func(_ context.Context, msg Message) error {
			mu.Lock()
			seen = append(seen, msg)
			mu.Unlock()
			return nil
		}))

		assert.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
		cancel()
		<-c.Done()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int64{1, 2}, r.commits())
		assert.Equal(t, "escrow.created", seen[0].Headers["event_type"])
		assert.Equal(t, "two", string(seen[1].Value))
	})

	t.Run("FailedMessageIsRetriedBeforeTheNext", func(t *testing.T) {
		r := &fakeReader{queue: []kafka.Message{{Offset: 7}, {Offset: 8}}}
		c := newTestConsumer(r)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var order []int64
		failures := 2
		require.NoError(t, c.Subscribe(ctx, func(_ context.Context, msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, msg.Offset)
			if msg.Offset == 7 && failures > 0 {
				failures--
				return errors.New("redis down")
			}
			return nil
		}))

		assert.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
		cancel()
		<-c.Done()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int64{7, 7, 7, 8}, order)
		assert.Equal(t, []int64{7, 8}, r.commits())
	})

	t.Run("StopsWithoutCommitWhenCanceledMidRetry", func(t *testing.T) {
		r := &fakeReader{queue: []kafka.Message{{Offset: 3}}}
		c := newTestConsumer(r)
		ctx, cancel := context.WithCancel(context.Background())

		attempts := make(chan struct{}, 100)
		require.NoError(t, c.Subscribe(ctx, func(context.Context, Message) error {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("still failing")
		}))

		<-attempts
		cancel()
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatal("consumer did not stop")
		}
		assert.Empty(t, r.commits())
	})
}
