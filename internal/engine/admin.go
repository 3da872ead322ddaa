package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// authorize rejects any caller that is not the configured
// administrator. Rejected calls have no partial effect.
func (m *Monitor) authorize(callerID string) error {
	m.mu.RLock()
	admin := m.adminID
	m.mu.RUnlock()

	if callerID == "" || callerID != admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// SetMonitoringEnabled flips the global circuit breaker.
func (m *Monitor) SetMonitoringEnabled(ctx context.Context, callerID string, enabled bool) error {
	if err := m.authorize(callerID); err != nil {
		return err
	}

	m.mu.Lock()
	m.monitoringEnabled = enabled
	m.mu.Unlock()

	slog.Info("monitoring toggled", "enabled", enabled)
	return nil
}

// MonitoringEnabled reports the circuit breaker state.
func (m *Monitor) MonitoringEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitoringEnabled
}

// UpdateThresholds replaces the scoring thresholds. The new values are
// validated before anything is touched; an invalid set is rejected
// whole and the previous thresholds stay in force.
func (m *Monitor) UpdateThresholds(ctx context.Context, callerID string, th domain.RiskThresholds) error {
	if err := m.authorize(callerID); err != nil {
		return err
	}
	if err := th.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	if err := m.savePolicy(ctx, domain.PolicyThresholds, th); err != nil {
		return err
	}

	m.mu.Lock()
	m.thresholds = th
	m.mu.Unlock()

	slog.Info("thresholds updated",
		"large_transfer_cutoff", th.LargeTransferCutoff,
		"rapid_window", th.RapidTransactionWindow,
		"failed_cutoff", th.FailedTransactionCutoff,
	)
	return nil
}

// UpdateAIBlend replaces the AI blend configuration, validate-first
// like UpdateThresholds.
func (m *Monitor) UpdateAIBlend(ctx context.Context, callerID string, cfg domain.AIBlendConfig) error {
	if err := m.authorize(callerID); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	if err := m.savePolicy(ctx, domain.PolicyAIBlend, cfg); err != nil {
		return err
	}

	m.mu.Lock()
	m.aiBlend = cfg
	m.mu.Unlock()

	slog.Info("ai blend updated", "enabled", cfg.Enabled, "weight_pct", cfg.AIWeightPct)
	return nil
}

func (m *Monitor) savePolicy(ctx context.Context, kind domain.PolicyKind, v any) error {
	if m.repo == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := m.repo.SavePolicy(ctx, kind, payload); err != nil {
		return fmt.Errorf("failed to persist policy %s: %w", kind, err)
	}
	return nil
}

// UpdateRegistry adds and removes addresses on a blacklist or
// whitelist. Addresses are normalized before membership changes.
func (m *Monitor) UpdateRegistry(ctx context.Context, callerID string, list domain.RegistryList, add, remove []string) error {
	if err := m.authorize(callerID); err != nil {
		return err
	}
	if list != domain.ListBlacklist && list != domain.ListWhitelist {
		return fmt.Errorf("%w: unknown registry list %q", domain.ErrInvalidInput, list)
	}

	add = normalizeAll(add)
	remove = normalizeAll(remove)

	if m.repo != nil {
		if err := m.repo.AddRegistryEntries(ctx, list, add); err != nil {
			return fmt.Errorf("failed to persist registry additions: %w", err)
		}
		if err := m.repo.RemoveRegistryEntries(ctx, list, remove); err != nil {
			return fmt.Errorf("failed to persist registry removals: %w", err)
		}
	}

	m.registry.Add(list, add)
	m.registry.Remove(list, remove)

	slog.Info("registry updated", "list", list, "added", len(add), "removed", len(remove))
	return nil
}

// RegistryMembers returns a copy of a registry list.
func (m *Monitor) RegistryMembers(list domain.RegistryList) []string {
	return m.registry.Members(list)
}

// SaveHeuristicRule validates, persists, and hot-loads a CEL rule.
func (m *Monitor) SaveHeuristicRule(ctx context.Context, callerID string, rule *domain.HeuristicRule) error {
	if err := m.authorize(callerID); err != nil {
		return err
	}
	if m.heuristics == nil {
		return fmt.Errorf("heuristic engine is not configured")
	}
	if err := m.heuristics.ValidateRule(rule); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	if m.repo != nil {
		if err := m.repo.SaveHeuristicRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to persist heuristic rule: %w", err)
		}
	}

	if rule.Enabled {
		if err := m.heuristics.LoadRule(rule); err != nil {
			return err
		}
	} else {
		// A previously loaded version keeps firing unless it is dropped here.
		m.heuristics.UnloadRule(rule.ID)
	}

	slog.Info("heuristic rule saved", "rule_id", rule.ID, "name", rule.Name, "enabled", rule.Enabled)
	return nil
}

// DeleteHeuristicRule removes a CEL rule and reloads the engine.
func (m *Monitor) DeleteHeuristicRule(ctx context.Context, callerID string, ruleID string) error {
	if err := m.authorize(callerID); err != nil {
		return err
	}
	if m.heuristics == nil {
		return fmt.Errorf("heuristic engine is not configured")
	}

	var remaining []*domain.HeuristicRule
	if m.repo != nil {
		if err := m.repo.DeleteHeuristicRule(ctx, ruleID); err != nil {
			return err
		}
		rules, err := m.repo.ListHeuristicRules(ctx)
		if err != nil {
			return err
		}
		remaining = rules
	} else {
		for _, r := range m.heuristics.GetLoadedRules() {
			if r.ID != ruleID {
				remaining = append(remaining, r)
			}
		}
	}

	if err := m.heuristics.ReloadRules(remaining); err != nil {
		return err
	}

	slog.Info("heuristic rule deleted", "rule_id", ruleID)
	return nil
}

// ReloadHeuristicRules replaces the loaded rule set with the persisted
// one, dropping anything compiled in memory that is no longer enabled.
// Returns the number of rules loaded.
func (m *Monitor) ReloadHeuristicRules(ctx context.Context, callerID string) (int, error) {
	if err := m.authorize(callerID); err != nil {
		return 0, err
	}
	if m.heuristics == nil {
		return 0, fmt.Errorf("heuristic engine is not configured")
	}

	var rules []*domain.HeuristicRule
	if m.repo != nil {
		persisted, err := m.repo.ListHeuristicRules(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list heuristic rules: %w", err)
		}
		rules = persisted
	} else {
		rules = m.heuristics.GetLoadedRules()
	}

	if err := m.heuristics.ReloadRules(rules); err != nil {
		return 0, err
	}

	loaded := m.heuristics.RulesCount()
	slog.Info("heuristic rules reloaded", "loaded", loaded)
	return loaded, nil
}

// ListHeuristicRules returns the persisted rules, falling back to the
// loaded set when no repository is configured.
func (m *Monitor) ListHeuristicRules(ctx context.Context) ([]*domain.HeuristicRule, error) {
	if m.repo != nil {
		return m.repo.ListHeuristicRules(ctx)
	}
	return m.heuristics.GetLoadedRules(), nil
}

func normalizeAll(addresses []string) []string {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a == "" {
			continue
		}
		out = append(out, domain.NormalizeAddress(a))
	}
	return out
}
