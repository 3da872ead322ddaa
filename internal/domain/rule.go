package domain

import "time"

// HeuristicRule is an admin-defined CEL expression evaluated over the
// per-address aggregate state after each transaction. A rule that
// evaluates to true (or a positive number) raises a detection-only
// PatternFinding of kind "custom" with the configured severity.
// Heuristic findings never feed the composite score; they layer on top
// of it the same way the built-in unusual-hour rule does.
type HeuristicRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is the CEL source. Available variables: address,
	// amount, category, tx_count, total_volume, rapid_count,
	// failed_count, contract_count, contract_ratio, risk_score, hour.
	Expression string `json:"expression"`

	Severity Severity `json:"severity"`
	Enabled  bool     `json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
