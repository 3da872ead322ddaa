package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// KafkaBus implements EventBus using Apache Kafka.
// Used as the Pro tier event bus.
type KafkaBus struct {
	mu      sync.Mutex
	cfg     domain.EventBusConfig
	writer  *kafka.Writer
	readers []*kafkaSubscription
	closed  bool
}

type kafkaSubscription struct {
	topic  string
	reader *kafka.Reader
	cancel context.CancelFunc
}

// NewKafkaBus creates a new Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	batchSize := cfg.KafkaBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxAttempts := cfg.KafkaMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    batchSize,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  maxAttempts,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	return &KafkaBus{
		cfg:    cfg,
		writer: writer,
	}, nil
}

// Publish sends a message to a topic. The topic name is used as the
// Kafka topic directly, so subscribers in other processes see the same
// names the channel bus uses.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
		Time:  time.Now(),
	})
}

// Subscribe registers a handler for a topic. Each subscription owns a
// dedicated consumer joined to the configured group.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.KafkaBrokers,
		GroupID:     b.cfg.KafkaGroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader", "topic", topic)
		}),
	})

	subCtx, cancel := context.WithCancel(ctx)

	sub := &kafkaSubscription{
		topic:  topic,
		reader: reader,
		cancel: cancel,
	}
	b.readers = append(b.readers, sub)

	go b.consume(subCtx, sub, handler)

	return sub, nil
}

// consume reads messages until the subscription context is cancelled.
// Handler errors are logged and the offset is committed anyway; the
// bus is a notification channel, not a durable work queue.
func (b *KafkaBus) consume(ctx context.Context, sub *kafkaSubscription, handler domain.MessageHandler) {
	for {
		m, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("kafka read failed", "topic", sub.topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msg := &domain.Message{
			ID:        fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset),
			Topic:     m.Topic,
			Payload:   m.Value,
			Metadata:  make(map[string]string),
			Timestamp: m.Time.UnixNano(),
		}
		for _, h := range m.Headers {
			msg.Metadata[h.Key] = string(h.Value)
		}

		if err := handler(ctx, msg); err != nil {
			slog.Error("kafka handler failed", "topic", sub.topic, "error", err)
		}
	}
}

// Ping checks connectivity to the first configured broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	conn, err := kafka.DialContext(ctx, "tcp", b.cfg.KafkaBrokers[0])
	if err != nil {
		return fmt.Errorf("kafka ping failed: %w", err)
	}
	return conn.Close()
}

// Close closes the writer and all active subscriptions.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.readers {
		sub.cancel()
		_ = sub.reader.Close()
	}
	b.readers = nil

	return b.writer.Close()
}

// Unsubscribe stops the consumer.
func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	return s.reader.Close()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
