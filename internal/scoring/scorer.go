// Package scoring computes the bounded composite risk score.
package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Membership is the registry view the scorer consults. Satisfied by
// *registry.Registry.
type Membership interface {
	IsBlacklisted(address string) bool
	IsWhitelisted(address string) bool
}

// Point values of the additive scoring system.
const (
	blacklistPoints     = 90
	largeTransferPoints = 25
	rapidPoints         = 20
	failedSpikePoints   = 15
	contractRatioPoints = 10

	maxScore = 100
)

// rapidCountTrigger is the rapid-transaction count a history must
// strictly exceed before the rapid bonus applies.
const rapidCountTrigger = 3

// Score computes the composite risk score for one party of a
// transaction. Pure read over current state; no side effects. The
// result is always in [0,100].
//
// The whitelist halving is applied after the blacklist addition and
// before everything else, so a blacklisted-but-whitelisted address
// nets 45: the whitelist mitigates prior reputation but does not erase
// it, and it never dampens the per-transaction factors.
func Score(address string, amount uint64, reg Membership, th domain.RiskThresholds, rec *domain.AddressRecord) int {
	score := 0

	if reg.IsBlacklisted(address) {
		score += blacklistPoints
	}
	if reg.IsWhitelisted(address) {
		score /= 2
	}

	if amount > th.LargeTransferCutoff {
		score += largeTransferPoints
	}

	if rec != nil {
		if rec.RapidTransactionCount > rapidCountTrigger {
			score += rapidPoints
		}
		if rec.FailedTransactionCount > th.FailedTransactionCutoff {
			score += failedSpikePoints
		}
		// Strict greater-than on the truncated percentage: a ratio
		// exactly at the cutoff does not trigger.
		if rec.TransactionCount > 0 && rec.ContractRatioPct() > th.ContractInteractionRatioCutoffPct {
			score += contractRatioPoints
		}
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}
