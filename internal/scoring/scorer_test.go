package scoring

import (
	"math/rand"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

func TestScoreFactors(t *testing.T) {
	th := domain.DefaultThresholds()

	tests := []struct {
		name      string
		address   string
		amount    uint64
		blacklist []string
		whitelist []string
		rec       *domain.AddressRecord
		want      int
	}{
		{
			name:    "CleanAddressNoHistory",
			address: "addr-a",
			amount:  100,
			want:    0,
		},
		{
			name:      "Blacklisted",
			address:   "addr-a",
			amount:    100,
			blacklist: []string{"addr-a"},
			want:      90,
		},
		{
			name:      "BlacklistedAndWhitelistedNetsHalf",
			address:   "addr-a",
			amount:    100,
			blacklist: []string{"addr-a"},
			whitelist: []string{"addr-a"},
			want:      45,
		},
		{
			name:      "WhitelistOnlyStaysZero",
			address:   "addr-a",
			amount:    100,
			whitelist: []string{"addr-a"},
			want:      0,
		},
		{
			name:    "LargeTransfer",
			address: "addr-a",
			amount:  th.LargeTransferCutoff + 1,
			want:    25,
		},
		{
			name:    "LargeTransferCutoffIsStrict",
			address: "addr-a",
			amount:  th.LargeTransferCutoff,
			want:    0,
		},
		{
			name:    "RapidHistory",
			address: "addr-a",
			amount:  100,
			rec:     &domain.AddressRecord{TransactionCount: 5, RapidTransactionCount: 4},
			want:    20,
		},
		{
			name:    "RapidTriggerIsStrict",
			address: "addr-a",
			amount:  100,
			rec:     &domain.AddressRecord{TransactionCount: 4, RapidTransactionCount: 3},
			want:    0,
		},
		{
			name:    "FailedSpike",
			address: "addr-a",
			amount:  100,
			rec:     &domain.AddressRecord{TransactionCount: 10, FailedTransactionCount: th.FailedTransactionCutoff + 1},
			want:    15,
		},
		{
			name:    "ContractRatioAboveCutoff",
			address: "addr-a",
			amount:  100,
			rec:     &domain.AddressRecord{TransactionCount: 10, ContractInteractionCount: 8},
			want:    10,
		},
		{
			name:    "ContractRatioExactCutoffDoesNotTrigger",
			address: "addr-a",
			amount:  100,
			// 7/10 = exactly 70%, cutoff 70: strictly-greater-than policy.
			rec:  &domain.AddressRecord{TransactionCount: 10, ContractInteractionCount: 7},
			want: 0,
		},
		{
			name:      "EverythingClampsTo100",
			address:   "addr-a",
			amount:    th.LargeTransferCutoff + 1,
			blacklist: []string{"addr-a"},
			rec: &domain.AddressRecord{
				TransactionCount:         10,
				RapidTransactionCount:    12,
				FailedTransactionCount:   th.FailedTransactionCutoff + 10,
				ContractInteractionCount: 10,
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			reg.Add(domain.ListBlacklist, tt.blacklist)
			reg.Add(domain.ListWhitelist, tt.whitelist)

			got := Score(tt.address, tt.amount, reg, th, tt.rec)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreBounded(t *testing.T) {
	// Property: for any membership, amount, and history, the score
	// stays in [0,100].
	rng := rand.New(rand.NewSource(42))
	th := domain.DefaultThresholds()

	for i := 0; i < 10000; i++ {
		reg := registry.New()
		if rng.Intn(2) == 0 {
			reg.Add(domain.ListBlacklist, []string{"addr-a"})
		}
		if rng.Intn(2) == 0 {
			reg.Add(domain.ListWhitelist, []string{"addr-a"})
		}

		var rec *domain.AddressRecord
		if rng.Intn(4) > 0 {
			rec = &domain.AddressRecord{
				TransactionCount:         uint64(rng.Intn(1000)),
				RapidTransactionCount:    uint64(rng.Intn(50)),
				FailedTransactionCount:   uint64(rng.Intn(50)),
				ContractInteractionCount: uint64(rng.Intn(1000)),
			}
		}

		got := Score("addr-a", uint64(rng.Intn(1_000_000)), reg, th, rec)
		if got < 0 || got > 100 {
			t.Fatalf("score out of bounds: %d (iteration %d, rec %+v)", got, i, rec)
		}
	}
}

func TestBlend(t *testing.T) {
	cfg := domain.AIBlendConfig{
		Enabled:            true,
		AIWeightPct:        30,
		ConfidenceFloorPct: 60,
	}

	tests := []struct {
		name       string
		rule       int
		ai         int
		confidence int
		want       int
	}{
		{"ConfidenceBelowFloorPassesThrough", 40, 90, 59, 40},
		{"ConfidenceAtFloorBlends", 40, 90, 60, 55},    // 40*70 + 90*30 = 5500 -> 55
		{"RoundsHalfUp", 33, 66, 100, 43},              // 33*70 + 66*30 = 4290 -> 42.9 -> 43
		{"ZeroWeightKeepsRuleScore", 81, 0, 100, 81},   // overridden below
		{"FullAgreementIsIdentity", 70, 70, 100, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			if tt.name == "ZeroWeightKeepsRuleScore" {
				c.AIWeightPct = 0
			}
			got := Blend(tt.rule, tt.ai, tt.confidence, c)
			if got != tt.want {
				t.Errorf("Blend(%d, %d, %d) = %d, want %d", tt.rule, tt.ai, tt.confidence, got, tt.want)
			}
		})
	}

	t.Run("DisabledPassesThrough", func(t *testing.T) {
		c := cfg
		c.Enabled = false
		if got := Blend(10, 100, 100, c); got != 10 {
			t.Errorf("expected passthrough 10, got %d", got)
		}
	})

	t.Run("BlendStaysBounded", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 10000; i++ {
			c := domain.AIBlendConfig{
				Enabled:            true,
				AIWeightPct:        rng.Intn(101),
				ConfidenceFloorPct: rng.Intn(101),
			}
			got := Blend(rng.Intn(101), rng.Intn(101), rng.Intn(101), c)
			if got < 0 || got > 100 {
				t.Fatalf("blend out of bounds: %d", got)
			}
		}
	})
}
