// Package patterns evaluates aggregate state against named heuristic
// rules. Detection is read-only and layered on top of scoring: rules
// are independent, multiple may fire per pass, and findings are never
// deduplicated across rule types.
package patterns

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// rapidCountTrigger and rapidCriticalCount bound the rapid-transaction
// severity tiers.
const (
	rapidCountTrigger  = 3
	rapidCriticalCount = 10
)

// roundClusterSharePct is the minimum share of round-amount
// transactions for the clustering heuristic to fire.
const roundClusterSharePct = 30

// Detect runs the per-address rules over a history record and returns
// zero or more findings. evidenceIDs reference the transaction(s) that
// triggered this evaluation pass.
func Detect(rec domain.AddressRecord, th domain.RiskThresholds, now time.Time, evidenceIDs []string) []domain.PatternFinding {
	var findings []domain.PatternFinding

	if rec.RapidTransactionCount > rapidCountTrigger {
		sev := domain.SeverityHigh
		if rec.RapidTransactionCount > rapidCriticalCount {
			sev = domain.SeverityCritical
		}
		findings = append(findings, finding(rec.Address, domain.PatternRapidTransactions, sev,
			fmt.Sprintf("%d transactions inside the rapid window", rec.RapidTransactionCount),
			capContribution(rec.RapidTransactionCount*10), now, evidenceIDs))
	}

	if rec.FailedTransactionCount > th.FailedTransactionCutoff {
		findings = append(findings, finding(rec.Address, domain.PatternFailedSpike, domain.SeverityMedium,
			fmt.Sprintf("%d failed transactions exceeds cutoff %d", rec.FailedTransactionCount, th.FailedTransactionCutoff),
			capContribution(rec.FailedTransactionCount*15), now, evidenceIDs))
	}

	if rec.TransactionCount > 0 {
		if pct := rec.ContractRatioPct(); pct > th.ContractInteractionRatioCutoffPct {
			sev := domain.SeverityMedium
			if pct > 90 {
				sev = domain.SeverityHigh
			}
			findings = append(findings, finding(rec.Address, domain.PatternContractRatio, sev,
				fmt.Sprintf("contract interactions are %d%% of activity", pct),
				capContribution(pct), now, evidenceIDs))
		}
	}

	if rec.RoundAmountCount > th.RoundAmountClusterCutoff && rec.TransactionCount > 0 {
		share := rec.RoundAmountCount * 100 / rec.TransactionCount
		if share > roundClusterSharePct {
			findings = append(findings, finding(rec.Address, domain.PatternRoundAmounts, domain.SeverityLow,
				fmt.Sprintf("%d round-amount transactions (%d%% of activity)", rec.RoundAmountCount, share),
				capContribution(rec.RoundAmountCount*5), now, evidenceIDs))
		}
	}

	return findings
}

// DetectBatch runs the transaction-level rules over a batch of
// observed transactions: large transfers and unusual-hour activity.
func DetectBatch(txs []*domain.Transaction, th domain.RiskThresholds, now time.Time) []domain.PatternFinding {
	var findings []domain.PatternFinding

	// Large transfers: one finding per sender, severity scaling with how
	// far above the cutoff that sender's average flagged amount lands.
	type flagged struct {
		ids []string
		sum uint64
	}
	bySender := make(map[string]*flagged)
	var senders []string
	if th.LargeTransferCutoff > 0 {
		for _, tx := range txs {
			if tx.Amount > th.LargeTransferCutoff {
				fl := bySender[tx.Sender]
				if fl == nil {
					fl = &flagged{}
					bySender[tx.Sender] = fl
					senders = append(senders, tx.Sender)
				}
				fl.ids = append(fl.ids, tx.ID)
				fl.sum += tx.Amount
			}
		}
	}
	for _, sender := range senders {
		fl := bySender[sender]
		avg := fl.sum / uint64(len(fl.ids))
		sev := domain.SeverityMedium
		switch {
		case avg > 10*th.LargeTransferCutoff:
			sev = domain.SeverityCritical
		case avg > 5*th.LargeTransferCutoff:
			sev = domain.SeverityHigh
		}
		findings = append(findings, finding(sender, domain.PatternLargeTransfer, sev,
			fmt.Sprintf("%d transfer(s) above cutoff %d, average %d", len(fl.ids), th.LargeTransferCutoff, avg),
			25, now, fl.ids))
	}

	// Unusual hours: informational only, never scored.
	for _, tx := range txs {
		if th.InUnusualHours(tx.Timestamp) {
			findings = append(findings, finding(tx.Sender, domain.PatternUnusualHours, domain.SeverityLow,
				fmt.Sprintf("transaction at %02d:00 UTC falls in the unusual-hour band", tx.Timestamp.UTC().Hour()),
				0, now, []string{tx.ID}))
		}
	}

	return findings
}

func finding(address string, kind domain.PatternKind, sev domain.Severity, desc string, contribution int, now time.Time, evidence []string) domain.PatternFinding {
	return domain.PatternFinding{
		ID:                uuid.New().String(),
		Address:           address,
		Kind:              kind,
		Severity:          sev,
		Description:       desc,
		EvidenceIDs:       evidence,
		ScoreContribution: contribution,
		DetectedAt:        now,
	}
}

func capContribution(v uint64) int {
	if v > 100 {
		return 100
	}
	return int(v)
}
