package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RiskThresholds is the admin-writable scoring and detection policy.
// Reads take a copy; writes replace the whole value, so in-flight
// evaluations may observe a snapshot at most one update stale.
type RiskThresholds struct {
	// RapidTransactionWindow is the gap under which consecutive
	// transactions from one address count as rapid.
	RapidTransactionWindow time.Duration `json:"rapidTransactionWindowMs" yaml:"rapid_transaction_window" validate:"min=0"`

	// LargeTransferCutoff is the native-unit amount above which a
	// transfer is considered large.
	LargeTransferCutoff uint64 `json:"largeTransferCutoff" yaml:"large_transfer_cutoff"`

	// FailedTransactionCutoff is the failure count above which the
	// failed-spike bonuses apply.
	FailedTransactionCutoff uint64 `json:"failedTransactionCutoff" yaml:"failed_transaction_cutoff"`

	// ContractInteractionRatioCutoffPct is the contract-call
	// percentage a history must strictly exceed to add risk.
	ContractInteractionRatioCutoffPct uint64 `json:"contractInteractionRatioCutoffPct" yaml:"contract_interaction_ratio_cutoff_pct" validate:"max=100"`

	// RoundAmountClusterCutoff is the round-amount transaction count
	// above which the clustering heuristic fires.
	RoundAmountClusterCutoff uint64 `json:"roundAmountClusterCutoff" yaml:"round_amount_cluster_cutoff"`

	// RoundAmountUnit defines what counts as a round amount: any
	// exact multiple of this unit. Zero disables the heuristic.
	RoundAmountUnit uint64 `json:"roundAmountUnit" yaml:"round_amount_unit"`

	// UnusualHourStart/End bound the [start,end) UTC hour band the
	// unusual-hour heuristic flags.
	UnusualHourStart int `json:"unusualHourStart" yaml:"unusual_hour_start" validate:"min=0,max=23"`
	UnusualHourEnd   int `json:"unusualHourEnd" yaml:"unusual_hour_end" validate:"min=0,max=24"`
}

// DefaultThresholds returns the stock policy used until an
// administrator overrides it.
func DefaultThresholds() RiskThresholds {
	return RiskThresholds{
		RapidTransactionWindow:            5 * time.Minute,
		LargeTransferCutoff:               1000,
		FailedTransactionCutoff:           5,
		ContractInteractionRatioCutoffPct: 70,
		RoundAmountClusterCutoff:          10,
		RoundAmountUnit:                   10,
		UnusualHourStart:                  2,
		UnusualHourEnd:                    6,
	}
}

// Validate rejects out-of-range threshold values before any mutation.
func (t RiskThresholds) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if t.RapidTransactionWindow < 0 {
		return fmt.Errorf("%w: rapid transaction window must be non-negative", ErrInvalidInput)
	}
	return nil
}

// InUnusualHours reports whether ts falls inside the configured UTC
// hour band.
func (t RiskThresholds) InUnusualHours(ts time.Time) bool {
	h := ts.UTC().Hour()
	if t.UnusualHourStart <= t.UnusualHourEnd {
		return h >= t.UnusualHourStart && h < t.UnusualHourEnd
	}
	// Band wraps midnight, e.g. 22:00-04:00.
	return h >= t.UnusualHourStart || h < t.UnusualHourEnd
}

// AIBlendConfig controls the optional external-oracle score blend.
type AIBlendConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// AIWeightPct is the oracle's share of the blended score.
	AIWeightPct int `json:"aiWeightPct" yaml:"ai_weight_pct" validate:"min=0,max=100"`

	// ConfidenceFloorPct is the minimum oracle confidence required for
	// the blend to apply at all.
	ConfidenceFloorPct int `json:"confidenceFloorPct" yaml:"confidence_floor_pct" validate:"min=0,max=100"`

	// MaxWait bounds the oracle call; the rule-based score is already
	// computed before the wait begins.
	MaxWait time.Duration `json:"maxWaitMs" yaml:"max_wait"`

	// FallbackOnFailure keeps the rule-based score when the oracle
	// fails or times out instead of surfacing the failure.
	FallbackOnFailure bool `json:"fallbackOnFailure" yaml:"fallback_on_failure"`
}

// DefaultAIBlendConfig returns the disabled stock configuration.
func DefaultAIBlendConfig() AIBlendConfig {
	return AIBlendConfig{
		Enabled:            false,
		AIWeightPct:        30,
		ConfidenceFloorPct: 60,
		MaxWait:            500 * time.Millisecond,
		FallbackOnFailure:  true,
	}
}

// Validate rejects out-of-range blend parameters.
func (c AIBlendConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("%w: max wait must be non-negative", ErrInvalidInput)
	}
	return nil
}
