// Package rules provides the CEL-Go based custom policy rule engine.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates bank-authored CEL rules over borrower
// factor variables. A boolean expression applies the rule's configured
// delta when true; a numeric expression is the delta itself, capped to
// the per-rule bound.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	historyGetter HistoryGetter
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.PolicyRule
	Program cel.Program
}

// HistoryGetter returns the number of prior evaluations for a borrower
// in a time window, for the prior_applications variable.
type HistoryGetter func(ctx context.Context, tenantID, borrowerID string, windowSecs int) (int64, error)

// historyWindowSecs is the lookback window for prior_applications.
const historyWindowSecs = 30 * 24 * 60 * 60

// NewEngine creates a new custom rule engine.
func NewEngine(historyGetter HistoryGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with borrower factor variables
	env, err := cel.NewEnv(
		cel.Variable("factors", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("payment_history", cel.DoubleType),
		cel.Variable("credit_utilization", cel.DoubleType),
		cel.Variable("credit_age", cel.DoubleType),
		cel.Variable("credit_mix", cel.DoubleType),
		cel.Variable("inquiries", cel.IntType),
		cel.Variable("active_loans", cel.IntType),
		cel.Variable("oldest_account_months", cel.IntType),
		cel.Variable("on_time_rate", cel.DoubleType),
		cel.Variable("on_time_rate_6mo", cel.DoubleType),
		cel.Variable("recent_defaults", cel.IntType),
		cel.Variable("missed_last_12", cel.IntType),
		cel.Variable("prior_applications", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		historyGetter: historyGetter,
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("policy rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(rules []*domain.PolicyRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll evaluates all loaded rules against a factor set in
// parallel. Implements the scoring engine's RuleEvaluator contract.
func (e *Engine) EvaluateAll(ctx context.Context, tenantID string, factors *domain.BorrowerFactors) ([]domain.PolicyRuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	// Prior application count if getter is available
	var priorApplications int64
	if e.historyGetter != nil && factors.BorrowerID != "" {
		count, err := e.historyGetter(ctx, tenantID, factors.BorrowerID, historyWindowSecs)
		if err == nil {
			priorApplications = count
		}
	}

	activation := map[string]any{
		"factors": map[string]any{
			"payment_history":    factors.PaymentHistory,
			"credit_utilization": factors.CreditUtilization,
			"credit_age":         factors.CreditAge,
			"credit_mix":         factors.CreditMix,
		},
		"payment_history":       factors.PaymentHistory,
		"credit_utilization":    factors.CreditUtilization,
		"credit_age":            factors.CreditAge,
		"credit_mix":            factors.CreditMix,
		"inquiries":             int64(factors.Inquiries),
		"active_loans":          int64(factors.ActiveLoanCount),
		"oldest_account_months": int64(factors.OldestAccountAge),
		"on_time_rate":          factors.OnTimePaymentRate,
		"on_time_rate_6mo":      factors.OnTimeRateLast6Months,
		"recent_defaults":       int64(factors.DefaultCountLast3Years),
		"missed_last_12":        int64(factors.MissedPaymentsLast12),
		"prior_applications":    priorApplications,
	}

	// Parallel evaluation using worker pool pattern
	results := make([]domain.PolicyRuleResult, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(tenantID, r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// evaluateRule evaluates a single rule and returns its result.
func (e *Engine) evaluateRule(tenantID string, rule *CompiledRule, activation map[string]any) domain.PolicyRuleResult {
	start := time.Now()

	result := domain.PolicyRuleResult{
		RuleID:   rule.Rule.ID,
		TenantID: tenantID,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Err = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Matched, result.Delta = toDelta(out, rule.Rule.ScoreDelta)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toDelta converts a CEL value into an applied score delta. Booleans
// apply the configured delta; numeric results are used directly, capped
// to the per-rule bound.
func toDelta(val ref.Val, configured float64) (bool, float64) {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return true, capDelta(configured)
		}
		return false, 0
	case types.Double:
		return true, capDelta(float64(v))
	case types.Int:
		return true, capDelta(float64(v))
	default:
		return false, 0
	}
}

func capDelta(d float64) float64 {
	if d > domain.MaxRuleDelta {
		return domain.MaxRuleDelta
	}
	if d < -domain.MaxRuleDelta {
		return -domain.MaxRuleDelta
	}
	return d
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.PolicyRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
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

func (e *Engine) compileRule(rule *domain.PolicyRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
