// Package heuristics provides the CEL-Go based custom detection
// overlay. Administrators define expressions over per-address
// aggregate state; a rule that fires raises a detection-only finding
// and never feeds the composite score.
package heuristics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based heuristic evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.HeuristicRule
	Program cel.Program
}

// NewEngine creates a new heuristic evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the address aggregate state
	env, err := cel.NewEnv(
		cel.Variable("address", cel.StringType),
		cel.Variable("amount", cel.IntType),
		cel.Variable("category", cel.StringType),
		cel.Variable("tx_count", cel.IntType),
		cel.Variable("total_volume", cel.IntType),
		cel.Variable("rapid_count", cel.IntType),
		cel.Variable("failed_count", cel.IntType),
		cel.Variable("contract_count", cel.IntType),
		cel.Variable("contract_ratio", cel.IntType),
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.HeuristicRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.HeuristicRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// UnloadRule drops a compiled rule from the engine. Unknown IDs are a no-op.
func (e *Engine) UnloadRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.compiledRules, ruleID)
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.HeuristicRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput is one party's post-update state for rule evaluation.
type EvaluateInput struct {
	TxID      string
	Amount    uint64
	Category  domain.Category
	Record    domain.AddressRecord
	RiskScore int
	Timestamp time.Time
}

// EvaluateAll evaluates all loaded rules in parallel and returns a
// finding for each rule that fired.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) []domain.PatternFinding {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"address":        input.Record.Address,
		"amount":         int64(input.Amount),
		"category":       string(input.Category),
		"tx_count":       int64(input.Record.TransactionCount),
		"total_volume":   int64(input.Record.TotalVolume),
		"rapid_count":    int64(input.Record.RapidTransactionCount),
		"failed_count":   int64(input.Record.FailedTransactionCount),
		"contract_count": int64(input.Record.ContractInteractionCount),
		"contract_ratio": int64(input.Record.ContractRatioPct()),
		"risk_score":     int64(input.RiskScore),
		"hour":           int64(input.Timestamp.UTC().Hour()),
	}

	// Parallel evaluation with semaphore-bounded concurrency
	results := make([]*domain.PatternFinding, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation, input)
		}(i, rule)
	}

	wg.Wait()

	findings := make([]domain.PatternFinding, 0, len(rules))
	for _, f := range results {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

// evaluateRule evaluates a single rule; nil means it did not fire.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, input *EvaluateInput) *domain.PatternFinding {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		// Evaluation errors are treated as not-fired; a rule must not
		// take down the pipeline.
		return nil
	}

	if !fired(out) {
		return nil
	}

	sev := rule.Config.Severity
	if sev.Rank() == 0 {
		sev = domain.SeverityLow
	}

	return &domain.PatternFinding{
		ID:          uuid.New().String(),
		Address:     input.Record.Address,
		Kind:        domain.PatternCustom,
		Severity:    sev,
		Description: fmt.Sprintf("heuristic %q matched", rule.Config.Name),
		EvidenceIDs: []string{input.TxID},
		DetectedAt:  time.Now().UTC(),
	}
}

// fired converts a CEL value to a fired/not-fired decision.
func fired(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Int:
		return v > 0
	case types.Double:
		return v > 0
	default:
		return false
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.HeuristicRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.HeuristicRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.HeuristicRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.HeuristicRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
