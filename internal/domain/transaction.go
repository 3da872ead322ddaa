package domain

import (
	"time"
)

// Transaction represents an observed on-chain transfer submitted for
// risk assessment.
type Transaction struct {
	ID string `json:"id"`

	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	// Amount is in native token units. Unsigned: the history-store
	// accumulators and the truncating ratio math both assume
	// non-negative integers.
	Amount uint64 `json:"amount"`

	// Category is the sender-side classification. The recipient is
	// always recorded as a receive regardless of this value.
	Category Category `json:"category"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TransactionRequest is the API request payload for transaction
// submission.
type TransactionRequest struct {
	Sender    string                 `json:"sender"`
	Recipient string                 `json:"recipient"`
	Amount    uint64                 `json:"amount"`
	Category  Category               `json:"category"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object,
// normalizing both party addresses.
func (r *TransactionRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()
	ts := now
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	return &Transaction{
		Sender:    NormalizeAddress(r.Sender),
		Recipient: NormalizeAddress(r.Recipient),
		Amount:    r.Amount,
		Category:  r.Category,
		Timestamp: ts,
		CreatedAt: now,
		Metadata:  r.Metadata,
	}
}

// ScoreResult is the outcome of the composite record-and-score entry
// point: both party scores, any pattern findings, and at most one
// alert.
type ScoreResult struct {
	TxID string `json:"txId"`

	SenderScore    int `json:"senderScore"`
	RecipientScore int `json:"recipientScore"`

	Findings []PatternFinding `json:"findings,omitempty"`
	Alert    *Alert           `json:"alert,omitempty"`

	// AIDegraded is set when the AI blend was enabled but the oracle
	// failed or timed out and the rule-based score was used unmodified.
	AIDegraded bool `json:"aiDegraded,omitempty"`
}

// FinalScore returns the larger of the two party scores, the value the
// alert decision is made against.
func (r *ScoreResult) FinalScore() int {
	if r.SenderScore > r.RecipientScore {
		return r.SenderScore
	}
	return r.RecipientScore
}
