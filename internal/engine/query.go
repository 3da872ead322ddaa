package engine

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RiskScore returns the current risk score for an address. Unknown
// addresses score zero; the query path falls back to the cache so a
// freshly restarted node can answer before history is rehydrated.
func (m *Monitor) RiskScore(ctx context.Context, address string) int {
	address = domain.NormalizeAddress(address)

	if rec, ok := m.history.Get(address); ok {
		return rec.RiskScore
	}

	if m.cache != nil {
		if rec, err := m.cache.GetAddressRecord(ctx, address); err == nil && rec != nil {
			return rec.RiskScore
		}
	}

	return 0
}

// TransactionCount returns the observed transaction count for an
// address, zero when unknown.
func (m *Monitor) TransactionCount(ctx context.Context, address string) uint64 {
	address = domain.NormalizeAddress(address)

	if rec, ok := m.history.Get(address); ok {
		return rec.TransactionCount
	}

	if m.cache != nil {
		if rec, err := m.cache.GetAddressRecord(ctx, address); err == nil && rec != nil {
			return rec.TransactionCount
		}
	}

	return 0
}

// AddressRecord returns the full aggregate for an address. Unknown
// addresses yield a zero-valued record, not an error.
func (m *Monitor) AddressRecord(ctx context.Context, address string) domain.AddressRecord {
	address = domain.NormalizeAddress(address)

	if rec, ok := m.history.Get(address); ok {
		return rec
	}

	if m.cache != nil {
		if rec, err := m.cache.GetAddressRecord(ctx, address); err == nil && rec != nil {
			return *rec
		}
	}

	return domain.AddressRecord{Address: address}
}

// IsBlacklisted reports blacklist membership for an address.
func (m *Monitor) IsBlacklisted(address string) bool {
	return m.registry.IsBlacklisted(domain.NormalizeAddress(address))
}

// IsWhitelisted reports whitelist membership for an address.
func (m *Monitor) IsWhitelisted(address string) bool {
	return m.registry.IsWhitelisted(domain.NormalizeAddress(address))
}

// Transaction returns a persisted transaction by ID.
func (m *Monitor) Transaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.GetTransaction(ctx, txID)
}

// Alerts returns persisted alerts emitted at or after since.
func (m *Monitor) Alerts(ctx context.Context, since time.Time, limit int) ([]*domain.Alert, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.ListAlerts(ctx, since, limit)
}

// Findings returns persisted findings for an address.
func (m *Monitor) Findings(ctx context.Context, address string, limit int) ([]*domain.PatternFinding, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.ListFindingsByAddress(ctx, domain.NormalizeAddress(address), limit)
}

// Thresholds returns the active scoring thresholds.
func (m *Monitor) Thresholds() domain.RiskThresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// AIBlend returns the active blend configuration.
func (m *Monitor) AIBlend() domain.AIBlendConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aiBlend
}
