package domain

import (
	"time"
)

// AlertKind identifies what pushed a transaction over the alert
// boundary.
type AlertKind string

const (
	// AlertHighRiskScore: the composite score of one party exceeded
	// the alert threshold.
	AlertHighRiskScore AlertKind = "high_risk_score"

	// AlertSuspiciousPattern: a critical-severity pattern finding
	// escalated the transaction even though no score crossed the
	// threshold.
	AlertSuspiciousPattern AlertKind = "suspicious_pattern"
)

// Alert is the user-visible flag raised for a transaction. At most one
// alert is emitted per transaction; it is the single point where a
// transaction becomes visibly flagged to downstream consumers.
type Alert struct {
	ID             string    `json:"id"`
	TransactionRef string    `json:"transactionRef"`
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	Amount         uint64    `json:"amount"`
	RiskScore      int       `json:"riskScore"`
	Severity       Severity  `json:"severity"`
	Kind           AlertKind `json:"alertKind"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}
