// Package ai defines the optional external assessment oracle used by
// the score blend. The oracle is a pluggable collaborator: scoring and
// detection never fail because it is unavailable.
package ai

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Assessment is an independent risk opinion from an external oracle.
type Assessment struct {
	// Score is the oracle's risk score in [0,100].
	Score int `json:"score"`

	// Confidence is the oracle's self-reported confidence in [0,100];
	// the blend only applies above the configured floor.
	Confidence int `json:"confidence"`
}

// Oracle returns an independent score/confidence pair for a
// transaction. Implementations must respect ctx cancellation; the
// caller bounds every call with the configured max wait and holds no
// address-level lock while waiting.
type Oracle interface {
	Assess(ctx context.Context, tx *domain.Transaction) (Assessment, error)
}
