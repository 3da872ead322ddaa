package domain

import (
	"time"
)

// Severity is the ordered classification attached to findings and
// alerts: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering position of a severity. Unknown severities
// rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// PatternKind names a heuristic detection rule.
type PatternKind string

const (
	PatternRapidTransactions PatternKind = "rapid_transactions"
	PatternFailedSpike       PatternKind = "failed_spike"
	PatternLargeTransfer     PatternKind = "large_transfer"
	PatternContractRatio     PatternKind = "contract_ratio"
	PatternRoundAmounts      PatternKind = "round_amounts"
	PatternUnusualHours      PatternKind = "unusual_hours"

	// PatternCustom marks findings produced by admin-defined CEL
	// heuristics rather than the built-in rules.
	PatternCustom PatternKind = "custom"
)

// PatternFinding is a single heuristic detection. Findings are
// ephemeral values produced per evaluation pass; they are published and
// persisted for subscribers but never fed back into scoring.
type PatternFinding struct {
	ID          string      `json:"id"`
	Address     string      `json:"address"`
	Kind        PatternKind `json:"patternKind"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	EvidenceIDs []string    `json:"evidenceIds,omitempty"`

	// ScoreContribution is the rule's own 0-100 weight estimate,
	// informational alongside the composite score.
	ScoreContribution int `json:"scoreContribution"`

	DetectedAt time.Time `json:"detectedAt"`
}
