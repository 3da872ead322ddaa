// Package history maintains per-address transaction aggregates.
package history

import (
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const shardCount = 64

// Store is the transaction history store: one AddressRecord per
// observed address, created lazily and never deleted. Records are
// sharded by address so concurrent transactions touching different
// addresses never contend, while all mutation of a single record is
// serialized; the read-compare-write sequence on the rapid counter is
// not atomic as a whole and must not interleave.
type Store struct {
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	records map[string]*domain.AddressRecord
}

// NewStore creates an empty history store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].records = make(map[string]*domain.AddressRecord)
	}
	return s
}

// Record observes one transaction side for an address and returns the
// post-update record. The rapid-window comparison uses the record's
// previous timestamp; the timestamp is advanced only afterwards.
func (s *Store) Record(address string, amount uint64, now time.Time, category domain.Category, th domain.RiskThresholds) domain.AddressRecord {
	sh := s.shard(address)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[address]
	if !ok {
		rec = &domain.AddressRecord{
			Address:             address,
			TransactionCount:    1,
			TotalVolume:         amount,
			LastTransactionTime: now,
			UpdatedAt:           now,
		}
		if category == domain.CategoryContract {
			rec.ContractInteractionCount = 1
		}
		if isRound(amount, th.RoundAmountUnit) {
			rec.RoundAmountCount = 1
		}
		sh.records[address] = rec
		return cloneRecord(rec)
	}

	rec.TransactionCount = satAdd(address, "transaction_count", rec.TransactionCount, 1)
	rec.TotalVolume = satAdd(address, "total_volume", rec.TotalVolume, amount)

	// Hard reset outside the window, not a gradual decay.
	if now.Sub(rec.LastTransactionTime) < th.RapidTransactionWindow {
		rec.RapidTransactionCount = satAdd(address, "rapid_transaction_count", rec.RapidTransactionCount, 1)
	} else {
		rec.RapidTransactionCount = 0
	}

	if category == domain.CategoryContract {
		rec.ContractInteractionCount = satAdd(address, "contract_interaction_count", rec.ContractInteractionCount, 1)
	}
	if isRound(amount, th.RoundAmountUnit) {
		rec.RoundAmountCount = satAdd(address, "round_amount_count", rec.RoundAmountCount, 1)
	}

	rec.LastTransactionTime = now
	rec.UpdatedAt = now

	return cloneRecord(rec)
}

// RecordFailure increments the failure counter for an address. The
// outcome is a caller-supplied fact; nothing here infers failure.
// The counter accumulates for the record's lifetime with no reset.
func (s *Store) RecordFailure(address string, now time.Time) domain.AddressRecord {
	sh := s.shard(address)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[address]
	if !ok {
		rec = &domain.AddressRecord{Address: address, UpdatedAt: now}
		sh.records[address] = rec
	}
	rec.FailedTransactionCount = satAdd(address, "failed_transaction_count", rec.FailedTransactionCount, 1)
	rec.UpdatedAt = now

	return cloneRecord(rec)
}

// Get returns a copy of the record for an address, if one exists.
func (s *Store) Get(address string) (domain.AddressRecord, bool) {
	sh := s.shard(address)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[address]
	if !ok {
		return domain.AddressRecord{}, false
	}
	return cloneRecord(rec), true
}

// SetRiskScore caches the last-computed composite score on the record.
func (s *Store) SetRiskScore(address string, score int) {
	sh := s.shard(address)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if rec, ok := sh.records[address]; ok {
		rec.RiskScore = score
	}
}

// AddPattern marks a pattern kind as raised for the address.
func (s *Store) AddPattern(address string, kind domain.PatternKind) {
	sh := s.shard(address)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[address]
	if !ok || rec.HasPattern(kind) {
		return
	}
	rec.SuspiciousPatterns = append(rec.SuspiciousPatterns, kind)
}

// Load seeds the store from persisted snapshots at startup. Existing
// in-memory records are never overwritten.
func (s *Store) Load(records []*domain.AddressRecord) {
	for _, rec := range records {
		if rec == nil || rec.Address == "" {
			continue
		}
		sh := s.shard(rec.Address)
		sh.mu.Lock()
		if _, ok := sh.records[rec.Address]; !ok {
			cp := cloneRecord(rec)
			sh.records[rec.Address] = &cp
		}
		sh.mu.Unlock()
	}
}

// Len returns the number of tracked addresses.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].records)
		s.shards[i].mu.Unlock()
	}
	return n
}

func (s *Store) shard(address string) *shard {
	h := fnv.New32a()
	h.Write([]byte(address))
	return &s.shards[h.Sum32()%shardCount]
}

func cloneRecord(rec *domain.AddressRecord) domain.AddressRecord {
	cp := *rec
	if len(rec.SuspiciousPatterns) > 0 {
		cp.SuspiciousPatterns = append([]domain.PatternKind(nil), rec.SuspiciousPatterns...)
	}
	return cp
}

func isRound(amount, unit uint64) bool {
	return unit > 0 && amount > 0 && amount%unit == 0
}

// satAdd adds with saturation. Counters must never wrap; hitting the
// ceiling is a logic-fatal condition that gets logged and pinned.
func satAdd(address, counter string, a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		slog.Error("counter saturated",
			"address", address,
			"counter", counter,
		)
		return math.MaxUint64
	}
	return a + b
}
