// Package lending implements the lending-decision engine and the legacy
// staged loan-offer calculator.
package lending

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RecommendationPaymentBehavior is appended to every decision.
const RecommendationPaymentBehavior = "Maintain consistent on-time payments to strengthen your credit profile"

// PolicyProvider loads the effective bank policy for a bank code.
// Implementations cache; the engine treats every returned policy as an
// immutable snapshot.
type PolicyProvider interface {
	GetBankConfig(ctx context.Context, tenantID string, bankCode string) (*domain.BankPolicy, error)
}

// Scorer produces a score result from raw factors, for the
// factors-first call shape.
type Scorer interface {
	Score(ctx context.Context, tenantID string, factors *domain.BorrowerFactors, policy *domain.BankPolicy, opts ScoringOptions) (*domain.ScoreResult, error)
}

// ScoringOptions mirrors the scoring engine's per-call options without
// importing it, keeping the dependency direction one way.
type ScoringOptions struct {
	RecessionMode bool
	HashPII       bool
	Debug         bool
}

// Engine turns a score result plus borrower attributes into a lending
// decision with an offer. Stateless and safe for concurrent use.
type Engine struct {
	logger   *slog.Logger
	policies PolicyProvider // may be nil, then the default policy applies
}

// NewEngine creates a lending-decision engine.
func NewEngine(logger *slog.Logger, policies PolicyProvider) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, policies: policies}
}

// Decide evaluates the threshold decision rules in priority order and
// builds the base offer for non-rejected outcomes.
// Returns a ValidationError when monthly income is not positive.
func (e *Engine) Decide(ctx context.Context, tenantID string, score *domain.ScoreResult, borrower *domain.BorrowerProfile, bankCode string) (*domain.Decision, error) {
	policy, err := e.loadPolicy(ctx, tenantID, bankCode)
	if err != nil {
		return nil, err
	}
	return e.decide(tenantID, score, borrower, bankCode, policy)
}

func (e *Engine) decide(tenantID string, score *domain.ScoreResult, borrower *domain.BorrowerProfile, bankCode string, policy *domain.BankPolicy) (*domain.Decision, error) {
	if score == nil {
		return nil, domain.NewValidationError("scoreResult", "must not be nil")
	}
	if borrower == nil {
		return nil, domain.NewValidationError("borrower", "must not be nil")
	}

	dti, err := borrower.DTI()
	if err != nil {
		return nil, err
	}

	decision := &domain.Decision{
		DecisionID:     uuid.New().String(),
		TenantID:       tenantID,
		BorrowerID:     borrower.BorrowerID,
		Classification: score.Classification,
		Score:          score.Score,
		DTI:            dti,
		EvaluatedAt:    time.Now().UTC(),
	}

	rules := policy.Rejection
	switch {
	case score.Score >= rules.ApproveMinScore && dti <= rules.ApproveMaxDTI && borrower.RecentDefaults == 0:
		decision.Decision = domain.DecisionApprove
	case score.Score >= rules.ReviewMinScore && dti <= rules.ReviewMaxDTI && borrower.RecentDefaults == 0:
		decision.Decision = domain.DecisionReview
		decision.Reasons = append(decision.Reasons, "Manual review required")
	default:
		decision.Decision = domain.DecisionReject
		decision.Reasons = append(decision.Reasons, domain.ReasonScoreBelowThreshold)
		if borrower.RecentDefaults > 0 {
			decision.Reasons = append(decision.Reasons, domain.ReasonRecentDefaults)
		}
		if dti > rules.ReviewMaxDTI {
			decision.Reasons = append(decision.Reasons, domain.ReasonHighDTI)
		}
	}

	decision.Reasons = append(decision.Reasons,
		fmt.Sprintf("Classification: %s", score.Classification),
		fmt.Sprintf("Debt-to-income ratio: %.1f%%", dti*100),
	)
	decision.Recommendations = append(decision.Recommendations, RecommendationPaymentBehavior)
	decision.RiskFlags = riskFlagsFor(borrower)

	if decision.Decision != domain.DecisionReject {
		decision.Offer = e.buildOffer(score, borrower, policy, dti)
	}

	e.logger.Info("lending decision",
		"tenantId", tenantID,
		"borrowerId", borrower.BorrowerID,
		"decision", decision.Decision,
		"score", score.Score,
		"dti", dti,
		"bankCode", bankCode,
	)

	return decision, nil
}

// DecideFromFactors scores the factors first, then decides. The policy
// resolved for bankCode governs both steps, so bank-specific weights,
// penalties and bonuses feed into the decision thresholds.
func (e *Engine) DecideFromFactors(ctx context.Context, tenantID string, scorer Scorer, factors *domain.BorrowerFactors, borrower *domain.BorrowerProfile, bankCode string, opts ScoringOptions) (*domain.ScoreResult, *domain.Decision, error) {
	policy, err := e.loadPolicy(ctx, tenantID, bankCode)
	if err != nil {
		return nil, nil, err
	}
	score, err := scorer.Score(ctx, tenantID, factors, policy, opts)
	if err != nil {
		return nil, nil, err
	}
	decision, err := e.decide(tenantID, score, borrower, bankCode, policy)
	if err != nil {
		return nil, nil, err
	}
	return score, decision, nil
}

// EffectivePolicy resolves the policy applied for the bank code, falling
// back to the default policy when none is configured.
func (e *Engine) EffectivePolicy(ctx context.Context, tenantID, bankCode string) (*domain.BankPolicy, error) {
	return e.loadPolicy(ctx, tenantID, bankCode)
}

func (e *Engine) loadPolicy(ctx context.Context, tenantID, bankCode string) (*domain.BankPolicy, error) {
	if bankCode == "" || e.policies == nil {
		return domain.DefaultPolicy(), nil
	}
	policy, err := e.policies.GetBankConfig(ctx, tenantID, bankCode)
	if err != nil {
		return nil, fmt.Errorf("load bank policy %q: %w", bankCode, err)
	}
	return policy, nil
}

// buildOffer derives the base offer for the borrower's classification
// tier: amount capped by both the tier table and annual income times the
// tier multiplier, rate from base plus risk adjustments.
func (e *Engine) buildOffer(score *domain.ScoreResult, borrower *domain.BorrowerProfile, policy *domain.BankPolicy, dti float64) *domain.DecisionOffer {
	tier := score.Classification
	baseAmount := policy.BaseLoanAmounts[tier]
	multiplier := policy.IncomeMultipliers[tier]

	maxAmount := baseAmount
	if cap := borrower.MonthlyIncome * 12 * multiplier; cap < maxAmount {
		maxAmount = cap
	}

	rates := policy.InterestRates
	rate := rates.BaseRate
	if dti > policy.Rejection.ApproveMaxDTI {
		rate += rates.Adjustments[domain.RateAdjHighDTI]
	}
	if !borrower.EmploymentStable {
		rate += rates.Adjustments[domain.RateAdjEmploymentUnstable]
	}
	if borrower.RecentDefaults > 0 {
		rate += rates.Adjustments[domain.RateAdjRecentDefault]
	}
	if rate > rates.MaxRate {
		rate = rates.MaxRate
	}

	terms := policy.TermOptions
	sampleTerm := 0
	if len(terms) > 0 {
		sampleTerm = terms[len(terms)-1]
	}

	return &domain.DecisionOffer{
		MaxAmount:      maxAmount,
		InterestRate:   rate,
		AvailableTerms: terms,
		SamplePayment:  AmortizedPayment(maxAmount, rate, sampleTerm),
	}
}

// riskFlagsFor derives the behavioral risk flags shared by both
// decision paths.
func riskFlagsFor(b *domain.BorrowerProfile) []string {
	var flags []string
	if b.RecentDefaults > 0 {
		flags = append(flags, domain.RiskFlagRecentDefault)
	}
	if b.MissedPaymentsLast12 >= 3 {
		flags = append(flags, domain.RiskFlagActiveRisk)
	}
	return flags
}

// AmortizedPayment computes the standard monthly payment for a loan of
// the given amount at an annual percentage rate over termMonths.
func AmortizedPayment(amount, annualRate float64, termMonths int) float64 {
	if amount <= 0 || termMonths <= 0 {
		return 0
	}
	if annualRate <= 0 {
		return amount / float64(termMonths)
	}
	r := annualRate / 100 / 12
	payment := amount * (r / (1 - math.Pow(1+r, -float64(termMonths))))
	return math.Round(payment*100) / 100
}
