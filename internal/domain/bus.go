package domain

import (
	"context"
)

// EventBus carries the emitted event stream (scored transactions,
// findings, alerts) to external subscribers. Supports Go channels
// (Community) or Kafka (Pro). Delivery is best-effort: the alert
// decision itself is re-derivable from persisted history + thresholds,
// only the notification may be lost.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "kafka"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channel_buffer_size"`

	// Kafka settings (Pro tier)
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaGroupID     string   `yaml:"kafka_group_id"`
	KafkaBatchSize   int      `yaml:"kafka_batch_size"`
	KafkaMaxAttempts int      `yaml:"kafka_max_attempts"`
}

// Standard topic names for the monitoring pipeline.
const (
	// TopicTransactionSubmitted carries raw transactions for async
	// ingestion by the worker.
	TopicTransactionSubmitted = "kestrel.transaction.submitted"

	// TopicTransactionScored carries completed score results.
	TopicTransactionScored = "kestrel.transaction.scored"

	TopicFinding = "kestrel.finding"
	TopicAlert   = "kestrel.alert"
)
