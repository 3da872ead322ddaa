// Package worker provides async transaction processing for the Pro
// tier: transactions published to the bus are drained through the same
// scoring pipeline the synchronous API uses.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker consumes submitted transactions from the EventBus and feeds
// them to the monitor.
type Worker struct {
	bus     domain.EventBus
	monitor *engine.Monitor

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async worker.
func NewWorker(bus domain.EventBus, monitor *engine.Monitor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		monitor: monitor,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the submitted-transaction topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicTransactionSubmitted)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		// Malformed payloads are not retryable.
		return nil
	}

	result, err := w.monitor.RecordAndScore(ctx, &tx)
	if err != nil {
		// Invalid transactions are dropped; anything else is worth a
		// redelivery attempt.
		if errors.Is(err, domain.ErrInvalidInput) {
			slog.Warn("dropping invalid transaction",
				"tx_id", tx.ID,
				"error", err,
			)
			return nil
		}
		slog.Error("async scoring failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}
	if result == nil {
		slog.Debug("monitoring disabled, transaction skipped", "tx_id", tx.ID)
		return nil
	}

	slog.Info("transaction processed",
		"tx_id", result.TxID,
		"sender_score", result.SenderScore,
		"recipient_score", result.RecipientScore,
		"alerted", result.Alert != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
