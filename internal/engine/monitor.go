// Package engine wires the scoring pipeline together: history
// recording, additive scoring, pattern detection, heuristic overlay,
// AI blending, and the alert decision.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/ai"
	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/heuristics"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

var tracer = otel.Tracer("kestrel-engine")

// Monitor is the composite monitoring service. All mutable policy
// (thresholds, blend config, the circuit breaker) lives behind one
// RWMutex; the hot path takes a snapshot and never holds the lock
// across I/O.
type Monitor struct {
	mu                sync.RWMutex
	thresholds        domain.RiskThresholds
	aiBlend           domain.AIBlendConfig
	monitoringEnabled bool
	adminID           string

	registry   *registry.Registry
	history    *history.Store
	heuristics *heuristics.Engine
	oracle     ai.Oracle

	// Optional infrastructure; nil disables the concern.
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
}

// Options collects the Monitor dependencies. Registry and History are
// required; everything else may be nil.
type Options struct {
	AdminID           string
	Thresholds        domain.RiskThresholds
	AIBlend           domain.AIBlendConfig
	MonitoringEnabled bool

	Registry   *registry.Registry
	History    *history.Store
	Heuristics *heuristics.Engine
	Oracle     ai.Oracle

	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
}

// New creates a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Registry == nil || opts.History == nil {
		return nil, fmt.Errorf("registry and history are required")
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if err := opts.AIBlend.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ai blend config: %w", err)
	}

	return &Monitor{
		thresholds:        opts.Thresholds,
		aiBlend:           opts.AIBlend,
		monitoringEnabled: opts.MonitoringEnabled,
		adminID:           opts.AdminID,
		registry:          opts.Registry,
		history:           opts.History,
		heuristics:        opts.Heuristics,
		oracle:            opts.Oracle,
		repo:              opts.Repository,
		cache:             opts.Cache,
		bus:               opts.Bus,
	}, nil
}

type partyResult struct {
	record domain.AddressRecord
	score  int
}

// RecordAndScore is the composite entry point: it records the transfer
// against both parties, scores them, runs pattern detection and the
// heuristic overlay, optionally blends in the oracle assessment, and
// decides whether to alert.
//
// When monitoring is disabled it is a pure no-op: nothing is recorded,
// scored, or emitted, and the result is nil.
func (m *Monitor) RecordAndScore(ctx context.Context, tx *domain.Transaction) (*domain.ScoreResult, error) {
	m.mu.RLock()
	enabled := m.monitoringEnabled
	th := m.thresholds
	blend := m.aiBlend
	m.mu.RUnlock()

	if !enabled {
		return nil, nil
	}

	if tx == nil || tx.Sender == "" || tx.Recipient == "" {
		return nil, fmt.Errorf("%w: sender and recipient are required", domain.ErrInvalidInput)
	}
	tx.Sender = domain.NormalizeAddress(tx.Sender)
	tx.Recipient = domain.NormalizeAddress(tx.Recipient)
	if !domain.ValidCategory(tx.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, tx.Category)
	}

	ctx, span := tracer.Start(ctx, "monitor.record_and_score")
	defer span.End()

	start := time.Now()

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	// Record and score both parties. Per-address shard locking inside
	// the history store makes the two sides independent; the sender
	// keeps the submitted category, the recipient is always a receive.
	var sender, recipient partyResult

	var g errgroup.Group
	g.Go(func() error {
		sender.record = m.history.Record(tx.Sender, tx.Amount, tx.Timestamp, tx.Category, th)
		sender.score = scoring.Score(tx.Sender, tx.Amount, m.registry, th, &sender.record)
		return nil
	})
	g.Go(func() error {
		recipient.record = m.history.Record(tx.Recipient, tx.Amount, tx.Timestamp, domain.CategoryReceive, th)
		recipient.score = scoring.Score(tx.Recipient, tx.Amount, m.registry, th, &recipient.record)
		return nil
	})
	_ = g.Wait()

	result := &domain.ScoreResult{
		TxID:           tx.ID,
		SenderScore:    sender.score,
		RecipientScore: recipient.score,
	}

	// One oracle call per transaction, blended into both party scores.
	if blend.Enabled && m.oracle != nil {
		assessment, err := m.assess(ctx, tx, blend.MaxWait)
		if err != nil {
			// Scoring never fails on an oracle outage; the rule scores
			// stand and the result carries the degraded marker. The
			// fallback flag only controls how loudly we report it.
			result.AIDegraded = true
			metrics.AIBlendDegradedTotal.Inc()
			logFn := slog.Warn
			if !blend.FallbackOnFailure {
				logFn = slog.Error
			}
			logFn("oracle assessment failed, using rule scores",
				"tx_id", tx.ID,
				"error", err,
			)
		} else {
			result.SenderScore = scoring.Blend(sender.score, assessment.Score, assessment.Confidence, blend)
			result.RecipientScore = scoring.Blend(recipient.score, assessment.Score, assessment.Confidence, blend)
		}
	}

	m.history.SetRiskScore(tx.Sender, result.SenderScore)
	m.history.SetRiskScore(tx.Recipient, result.RecipientScore)

	// Pattern detection runs on the post-update aggregates.
	evidence := []string{tx.ID}
	now := time.Now().UTC()
	result.Findings = append(result.Findings,
		patterns.Detect(sender.record, th, now, evidence)...)
	result.Findings = append(result.Findings,
		patterns.Detect(recipient.record, th, now, evidence)...)

	if m.heuristics != nil {
		result.Findings = append(result.Findings, m.heuristics.EvaluateAll(ctx, &heuristics.EvaluateInput{
			TxID:      tx.ID,
			Amount:    tx.Amount,
			Category:  tx.Category,
			Record:    sender.record,
			RiskScore: result.SenderScore,
			Timestamp: tx.Timestamp,
		})...)
	}

	for i := range result.Findings {
		m.history.AddPattern(result.Findings[i].Address, result.Findings[i].Kind)
		metrics.FindingsTotal.WithLabelValues(string(result.Findings[i].Kind)).Inc()
	}

	result.Alert = alerting.Decide(tx, result.SenderScore, result.RecipientScore, result.Findings, now)

	m.persist(ctx, tx, result)
	m.publish(ctx, result)

	metrics.TransactionsTotal.WithLabelValues(string(tx.Category)).Inc()
	metrics.RiskScore.Observe(float64(result.FinalScore()))
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	metrics.TrackedAddresses.Set(float64(m.history.Len()))
	if result.Alert != nil {
		metrics.AlertsTotal.WithLabelValues(string(result.Alert.Severity)).Inc()
	}

	slog.Debug("transaction scored",
		"tx_id", tx.ID,
		"sender_score", result.SenderScore,
		"recipient_score", result.RecipientScore,
		"findings", len(result.Findings),
		"alerted", result.Alert != nil,
	)

	return result, nil
}

// assess calls the oracle bounded by the configured wait.
func (m *Monitor) assess(ctx context.Context, tx *domain.Transaction, maxWait time.Duration) (ai.Assessment, error) {
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	return m.oracle.Assess(ctx, tx)
}

// RecordFailure records a failed transaction attempt for an address.
// The failure counter only ever grows; subsequent activity never
// resets it. Failures are counted even while monitoring is disabled
// so re-enabling does not start from a blind spot.
func (m *Monitor) RecordFailure(ctx context.Context, address string) (domain.AddressRecord, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return domain.AddressRecord{}, fmt.Errorf("%w: address is required", domain.ErrInvalidInput)
	}

	rec := m.history.RecordFailure(address, time.Now().UTC())
	metrics.FailuresTotal.Inc()

	if m.repo != nil {
		if err := m.repo.UpsertAddressRecord(ctx, &rec); err != nil {
			slog.Error("failed to persist address record", "address", address, "error", err)
		}
	}

	return rec, nil
}

// AnalyzeBatch runs the cross-transaction detectors (large transfer
// averaging, unusual-hours clustering) over a submitted batch. The
// batch is analyzed as-is; it is not recorded into history.
func (m *Monitor) AnalyzeBatch(ctx context.Context, txs []*domain.Transaction) []domain.PatternFinding {
	m.mu.RLock()
	th := m.thresholds
	m.mu.RUnlock()

	ctx, span := tracer.Start(ctx, "monitor.analyze_batch")
	defer span.End()

	findings := patterns.DetectBatch(txs, th, time.Now().UTC())

	for i := range findings {
		metrics.FindingsTotal.WithLabelValues(string(findings[i].Kind)).Inc()
		if m.repo != nil {
			if err := m.repo.SaveFinding(ctx, &findings[i]); err != nil {
				slog.Error("failed to persist finding", "finding_id", findings[i].ID, "error", err)
			}
		}
		if m.bus != nil {
			if payload, err := json.Marshal(findings[i]); err == nil {
				_ = m.bus.Publish(ctx, domain.TopicFinding, payload)
			}
		}
	}

	return findings
}

// persist writes the transaction, both party snapshots, findings, and
// any alert. Persistence on the hot path is best-effort: failures are
// logged, scoring output is already final.
func (m *Monitor) persist(ctx context.Context, tx *domain.Transaction, result *domain.ScoreResult) {
	if m.repo != nil {
		if err := m.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to persist transaction", "tx_id", tx.ID, "error", err)
		}

		for _, addr := range []string{tx.Sender, tx.Recipient} {
			if rec, ok := m.history.Get(addr); ok {
				if err := m.repo.UpsertAddressRecord(ctx, &rec); err != nil {
					slog.Error("failed to persist address record", "address", addr, "error", err)
				}
			}
		}

		for i := range result.Findings {
			if err := m.repo.SaveFinding(ctx, &result.Findings[i]); err != nil {
				slog.Error("failed to persist finding", "finding_id", result.Findings[i].ID, "error", err)
			}
		}

		if result.Alert != nil {
			if err := m.repo.SaveAlert(ctx, result.Alert); err != nil {
				slog.Error("failed to persist alert", "alert_id", result.Alert.ID, "error", err)
			}
		}
	}

	if m.cache != nil {
		for _, addr := range []string{tx.Sender, tx.Recipient} {
			if rec, ok := m.history.Get(addr); ok {
				if err := m.cache.SetAddressRecord(ctx, addr, &rec, 5*time.Minute); err != nil {
					slog.Debug("failed to cache address record", "address", addr, "error", err)
				}
			}
		}
	}
}

// publish emits the score result, findings, and alert to the bus.
func (m *Monitor) publish(ctx context.Context, result *domain.ScoreResult) {
	if m.bus == nil {
		return
	}

	if payload, err := json.Marshal(result); err == nil {
		if err := m.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
			slog.Debug("failed to publish score result", "tx_id", result.TxID, "error", err)
		}
	}

	for i := range result.Findings {
		if payload, err := json.Marshal(result.Findings[i]); err == nil {
			_ = m.bus.Publish(ctx, domain.TopicFinding, payload)
		}
	}

	if result.Alert != nil {
		if payload, err := json.Marshal(result.Alert); err == nil {
			if err := m.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
				slog.Debug("failed to publish alert", "alert_id", result.Alert.ID, "error", err)
			}
		}
	}
}
