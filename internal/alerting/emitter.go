// Package alerting decides whether a scored transaction becomes a
// user-visible alert.
package alerting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// AlertThreshold is the score a transaction must strictly exceed to be
// flagged. Deliberately conservative and fixed: this is the single
// point where a transaction becomes visible to downstream consumers.
const AlertThreshold = 80

// Severity boundaries applied to the triggering score.
const (
	criticalBoundary = 90
	highBoundary     = 70
)

// Decide is the pure alert decision: no retained state, invoked once
// per transaction after scoring and detection complete. It returns nil
// when the transaction stays below the boundary, an alert otherwise.
// The decision is deterministic and re-derivable from persisted
// history and thresholds; only the notification can be lost.
func Decide(tx *domain.Transaction, senderScore, recipientScore int, findings []domain.PatternFinding, now time.Time) *domain.Alert {
	finalScore := senderScore
	if recipientScore > finalScore {
		finalScore = recipientScore
	}

	if finalScore > AlertThreshold {
		return &domain.Alert{
			ID:             uuid.New().String(),
			TransactionRef: tx.ID,
			Sender:         tx.Sender,
			Recipient:      tx.Recipient,
			Amount:         tx.Amount,
			RiskScore:      finalScore,
			Severity:       SeverityForScore(finalScore),
			Kind:           domain.AlertHighRiskScore,
			Message:        fmt.Sprintf("transaction scored %d, above alert threshold %d", finalScore, AlertThreshold),
			Timestamp:      now,
		}
	}

	// A critical pattern escalates even when neither score crosses
	// the boundary.
	for _, f := range findings {
		if f.Severity == domain.SeverityCritical {
			return &domain.Alert{
				ID:             uuid.New().String(),
				TransactionRef: tx.ID,
				Sender:         tx.Sender,
				Recipient:      tx.Recipient,
				Amount:         tx.Amount,
				RiskScore:      finalScore,
				Severity:       domain.SeverityCritical,
				Kind:           domain.AlertSuspiciousPattern,
				Message:        fmt.Sprintf("critical pattern detected: %s", f.Kind),
				Timestamp:      now,
			}
		}
	}

	return nil
}

// SeverityForScore maps a composite score to an alert severity tier.
func SeverityForScore(score int) domain.Severity {
	switch {
	case score > criticalBoundary:
		return domain.SeverityCritical
	case score > highBoundary:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}
