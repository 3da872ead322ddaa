package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Blend folds an external oracle assessment into a rule-based score.
// The blend only applies when the oracle's confidence clears the
// configured floor; otherwise the rule-based score passes through
// unmodified. Integer round-half-up keeps the result reproducible
// without floating point.
func Blend(ruleScore, aiScore, aiConfidence int, cfg domain.AIBlendConfig) int {
	if !cfg.Enabled || aiConfidence < cfg.ConfidenceFloorPct {
		return ruleScore
	}

	w := cfg.AIWeightPct
	blended := (ruleScore*(100-w) + aiScore*w + 50) / 100

	if blended > maxScore {
		blended = maxScore
	}
	if blended < 0 {
		blended = 0
	}
	return blended
}
