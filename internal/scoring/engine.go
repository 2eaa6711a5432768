// Package scoring implements the weighted multi-factor credit scoring engine.
package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Version tags every ScoreResult so persisted reports can be traced back
// to the algorithm revision that produced them.
const Version = "1.0.0"

// InactivityThresholdDays is the idle period after which the inactivity
// penalty applies.
const InactivityThresholdDays = 180

// Options control per-call scoring behavior.
type Options struct {
	// RecessionMode forces the recession weight set regardless of the
	// policy flag.
	RecessionMode bool

	// HashPII one-way hashes the borrower phone number in the result.
	// When false the value passes through verbatim.
	HashPII bool

	// Debug logs a per-factor trace at debug level.
	Debug bool
}

// RuleEvaluator evaluates a tenant's custom policy rules against a
// factor set, producing auditable raw-score deltas.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, tenantID string, factors *domain.BorrowerFactors) ([]domain.PolicyRuleResult, error)
}

// Engine computes credit scores. It holds no per-evaluation state and is
// safe for concurrent use.
type Engine struct {
	logger *slog.Logger
	rules  RuleEvaluator // optional
}

// NewEngine creates a scoring engine. rules may be nil when the tenant
// has no custom policy rules.
func NewEngine(logger *slog.Logger, rules RuleEvaluator) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, rules: rules}
}

// Score computes a borrower's credit score under the given policy.
// Pure except for optional debug logging and custom rule evaluation.
// Returns a ValidationError when a bounded input is out of range.
func (e *Engine) Score(ctx context.Context, tenantID string, factors *domain.BorrowerFactors, policy *domain.BankPolicy, opts Options) (*domain.ScoreResult, error) {
	if factors == nil {
		return nil, domain.NewValidationError("factors", "must not be nil")
	}
	if err := factors.Validate(); err != nil {
		return nil, err
	}
	if policy == nil {
		policy = domain.DefaultPolicy()
	}

	recession := opts.RecessionMode || policy.RecessionMode
	weights := policy.Weights
	if recession {
		weights = policy.RecessionWeights
	}

	// Normalize. Utilization and inquiries are clamped here, not at
	// validation time.
	utilizationScore := math.Max(0, 1-factors.CreditUtilization)
	inquiryScore := math.Max(0, 1-float64(factors.Inquiries)*0.1)
	mixedBonus := 0.0
	if factors.HasMixedCredit() {
		mixedBonus = 1
	}
	mixFactor := math.Min(10, (factors.CreditMix+mixedBonus)*10)

	contributions := map[string]float64{
		"paymentHistory":    factors.PaymentHistory * weights.PaymentHistory,
		"creditUtilization": utilizationScore * weights.CreditUtilization,
		"creditAge":         factors.CreditAge * weights.CreditAge,
		"creditMix":         mixFactor,
		"inquiries":         inquiryScore * weights.Inquiries,
	}

	weightedScore := 0.0
	for _, c := range contributions {
		weightedScore += c
	}

	penalties := e.computePenalties(factors, policy.Penalties)
	bonuses := e.computeBonuses(factors, policy.Bonuses)

	rawScore := weightedScore
	for _, p := range penalties {
		rawScore += p
	}
	for _, b := range bonuses {
		rawScore += b
	}

	var customRules map[string]float64
	if e.rules != nil {
		results, err := e.rules.EvaluateAll(ctx, tenantID, factors)
		if err != nil {
			return nil, &domain.ComputationError{Op: "scoring.customRules", Err: err}
		}
		for _, r := range results {
			if r.Err != "" || !r.Matched {
				continue
			}
			if customRules == nil {
				customRules = make(map[string]float64)
			}
			customRules[r.RuleID] = r.Delta
			rawScore += r.Delta
		}
	}

	score := rescale(rawScore)
	classification := domain.Classify(score)

	var disclosures []string
	if score < domain.LowScoreNoticeThreshold {
		disclosures = append(disclosures, domain.DisclosureLowScore)
	}
	if factors.DefaultCountLast3Years > 0 {
		disclosures = append(disclosures, domain.DisclosureDerogatory)
	}

	result := &domain.ScoreResult{
		Score:          score,
		Classification: classification,
		BaseScore:      rawScore,
		Breakdown: domain.ScoreBreakdown{
			Contributions: contributions,
			Penalties:     penalties,
			Bonuses:       bonuses,
			CustomRules:   customRules,
			ComponentRatings: map[string]domain.ComponentRating{
				"paymentHistory":    {Value: factors.PaymentHistory, Rating: rateComponent(factors.PaymentHistory)},
				"creditUtilization": {Value: utilizationScore, Rating: rateComponent(utilizationScore)},
				"creditAge":         {Value: factors.CreditAge, Rating: rateComponent(factors.CreditAge)},
				"creditMix":         {Value: mixFactor / 10, Rating: rateComponent(mixFactor / 10)},
				"inquiries":         {Value: inquiryScore, Rating: rateComponent(inquiryScore)},
			},
		},
		RequiredDisclosures: disclosures,
		Version:             Version,
		RecessionMode:       recession,
	}

	if factors.PhoneNumber != "" {
		if opts.HashPII {
			result.PhoneNumber = hashPII(factors.PhoneNumber)
			result.PIIHashed = true
		} else {
			result.PhoneNumber = factors.PhoneNumber
		}
	}

	if opts.Debug {
		e.logger.Debug("score computed",
			"tenantId", tenantID,
			"weightedScore", weightedScore,
			"rawScore", rawScore,
			"score", score,
			"classification", classification,
			"penalties", penalties,
			"bonuses", bonuses,
			"recessionMode", recession,
		)
	}

	return result, nil
}

// computePenalties evaluates each penalty rule independently and returns
// the applied deltas (negative) keyed by penalty code.
func (e *Engine) computePenalties(f *domain.BorrowerFactors, rules domain.PenaltyRules) map[string]float64 {
	penalties := make(map[string]float64)

	if f.RecentLoanApplications > 0 {
		penalties["recentApplications"] = -rules.PerRecentApplication * float64(f.RecentLoanApplications)
	}
	if f.DefaultCountLast3Years > 0 {
		penalties["defaultHistory"] = -rules.PerDefault * float64(f.DefaultCountLast3Years)
	}
	if f.ConsecutiveMissedPayments > 0 {
		penalties["consecutiveMissed"] = -rules.PerConsecutiveMissed * float64(f.ConsecutiveMissedPayments)
	}
	switch {
	case f.MissedPaymentsLast12 >= 3:
		penalties["missedLast12"] = -rules.MissedPaymentsSevere
	case f.MissedPaymentsLast12 >= 1:
		penalties["missedLast12"] = -rules.MissedPaymentsWarning
	}
	// Zero months means no delinquency on record.
	if m := f.MonthsSinceLastDelinquency; m > 0 {
		switch {
		case m < 6:
			penalties["recentDelinquency"] = -rules.RecentDelinquency
		case m < 12:
			penalties["recentDelinquency"] = -rules.PastDelinquency
		}
	}
	if !f.LastActiveDate.IsZero() && time.Since(f.LastActiveDate) > InactivityThresholdDays*24*time.Hour {
		penalties["inactivity"] = -rules.Inactivity
	}
	if f.ActiveLoanCount > 5 {
		penalties["activeLoans"] = -rules.ManyActiveLoans
	}

	if len(penalties) == 0 {
		return nil
	}
	return penalties
}

// computeBonuses evaluates each bonus rule and returns the applied
// deltas (positive) keyed by bonus code.
func (e *Engine) computeBonuses(f *domain.BorrowerFactors, rules domain.BonusRules) map[string]float64 {
	bonuses := make(map[string]float64)

	if f.TransactionsLast90Days > 30 {
		bonuses["highActivity"] = rules.HighActivity
	}
	if f.OldestAccountAge > 36 {
		bonuses["establishedFile"] = rules.EstablishedFile
	}
	switch {
	case f.OnTimePaymentRate >= 0.95:
		bonuses["onTimeRate"] = rules.OnTimeExcellent
	case f.OnTimePaymentRate >= 0.85:
		bonuses["onTimeRate"] = rules.OnTimeGood
	}
	switch {
	case f.OnTimeRateLast6Months >= 0.95:
		bonuses["recentOnTime"] = rules.Recent6moStrong
	case f.OnTimeRateLast6Months >= 0.85:
		bonuses["recentOnTime"] = rules.Recent6moGood
	}

	if len(bonuses) == 0 {
		return nil
	}
	return bonuses
}

// rescale maps the raw 0-100 score linearly into [300,850] and clamps.
func rescale(raw float64) int {
	score := domain.MinScore + int(math.Round(raw/100*(domain.MaxScore-domain.MinScore)))
	if score < domain.MinScore {
		return domain.MinScore
	}
	if score > domain.MaxScore {
		return domain.MaxScore
	}
	return score
}

// rateComponent maps a normalized 0-1 factor value to a qualitative label.
func rateComponent(v float64) string {
	switch {
	case v >= 0.9:
		return "excellent"
	case v >= 0.7:
		return "good"
	case v >= 0.5:
		return "fair"
	default:
		return "poor"
	}
}

// hashPII one-way hashes a PII value for storage.
func hashPII(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
