package lending

import (
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Base-offer tiers for the staged calculator. These boundaries predate
// the threshold engine's classification bands and are kept for
// portfolios migrated from the older offer system.
const (
	tierVeryLowScore  = 750
	tierLowScore      = 700
	tierModerateScore = 650
	tierElevatedScore = 580
)

// Risk tier labels used by the staged calculator.
const (
	RiskTierVeryLow  = "Very Low"
	RiskTierLow      = "Low"
	RiskTierModerate = "Moderate"
	RiskTierElevated = "Elevated"
)

// ReasonScoreTooLow is the rejection reason for scores below the lowest tier.
const ReasonScoreTooLow = "Score too low for loan eligibility"

const countFieldMax = 1000

// CalculatorInput is the staged calculator's immutable input: the
// computed score plus the borrower's behavioral and financial data.
// Policy may be nil, then only the tier rules drive the offer.
type CalculatorInput struct {
	Score    int
	Factors  *domain.BorrowerFactors
	Borrower *domain.BorrowerProfile
	Policy   *domain.BankPolicy
}

// Calculator is the legacy staged loan-offer path. It starts from a
// tier-based base offer and applies an ordered list of additive
// adjustments, recording every step in an audit trail. A rejection is a
// returned outcome, not an error; only input validation fails with an
// error. One calculator instance serves one calculation.
type Calculator struct {
	logger *slog.Logger
	input  CalculatorInput

	state domain.OfferState
	offer *domain.LoanOffer
}

// NewCalculator creates a calculator for one evaluation.
func NewCalculator(logger *slog.Logger, input CalculatorInput) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{logger: logger, input: input, state: domain.StateValidating}
}

// Run executes the staged pipeline: Validating, BaseOfferSet,
// AdjustmentsApplied, Finalized. A rejection short-circuits the
// remaining stages.
func (c *Calculator) Run() (*domain.OfferOutcome, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	if rejection := c.setBaseOffer(); rejection != nil {
		c.state = domain.StateRejected
		return &domain.OfferOutcome{State: c.state, Rejection: rejection}, nil
	}

	c.applyAdjustments()
	c.finalize()

	return &domain.OfferOutcome{State: c.state, Offer: c.offer}, nil
}

func (c *Calculator) validate() error {
	f, b := c.input.Factors, c.input.Borrower
	if f == nil {
		return domain.NewValidationError("factors", "must not be nil")
	}
	if b == nil {
		return domain.NewValidationError("borrower", "must not be nil")
	}
	counts := []struct {
		field string
		value int
	}{
		{"activeLoanCount", f.ActiveLoanCount},
		{"recentDefaults", b.RecentDefaults},
		{"consecutiveMissedPayments", f.ConsecutiveMissedPayments},
		{"missedPaymentsLast12", f.MissedPaymentsLast12},
	}
	for _, cnt := range counts {
		if cnt.value < 0 || cnt.value > countFieldMax {
			return domain.NewValidationError(cnt.field, "must be within [0,%d], got %d", countFieldMax, cnt.value)
		}
	}
	return nil
}

func (c *Calculator) setBaseOffer() *domain.Rejection {
	amount, rate, term, tier, ok := baseOfferForScore(c.input.Score)
	if !ok {
		c.logger.Info("loan offer rejected",
			"borrowerId", c.input.Borrower.BorrowerID,
			"score", c.input.Score,
			"reason", ReasonScoreTooLow,
		)
		return &domain.Rejection{Reason: ReasonScoreTooLow}
	}

	c.offer = &domain.LoanOffer{
		Approved:        true,
		ApprovedAmount:  amount,
		InterestRate:    rate,
		TermMonths:      term,
		RiskTier:        tier,
		CollateralValue: c.input.Borrower.CollateralValue,
	}
	c.state = domain.StateBaseOfferSet
	return nil
}

// applyAdjustments runs the ordered additive adjustment list. Each
// applied adjustment is appended to the offer and to the audit trail.
func (c *Calculator) applyAdjustments() {
	f, b := c.input.Factors, c.input.Borrower

	if f.OnTimePaymentRate >= 0.95 {
		c.adjust("onTimePaymentRate", "bonus", 5000, -1, "Excellent long-term payment history")
	}
	if f.OnTimeRateLast6Months >= 0.95 {
		c.adjust("onTimeRateLast6Months", "bonus", 2000, -0.5, "Strong recent payment behavior")
	}
	if f.HasMixedCredit() {
		c.adjust("creditMix", "bonus", 3000, -0.5, "Mixed revolving and installment credit")
	}
	if b.RecentDefaults > 0 {
		c.adjust("recentDefaults", "penalty", -10000, 3, "Recent default on record")
	}
	if f.ConsecutiveMissedPayments >= 2 {
		c.adjust("consecutiveMissedPayments", "penalty", -3000, 2, "Consecutive missed payments")
	}
	if f.MissedPaymentsLast12 >= 3 {
		c.adjust("missedPaymentsLast12", "penalty", -5000, 2, "Multiple missed payments in last 12 months")
	}
	// Zero months means no delinquency on record.
	if m := f.MonthsSinceLastDelinquency; m > 0 && m <= 6 {
		c.adjust("monthsSinceLastDelinquency", "penalty", -4000, 1.5, "Delinquency within last 6 months")
	}
	if f.ActiveLoanCount > 5 {
		c.adjust("activeLoanCount", "penalty", -5000, 0, "High number of active loans")
	}
	if f.RecentLoanApplications > 3 {
		c.adjust("recentLoanApplications", "penalty", 0, 1.5, "Frequent recent loan applications")
	}
	if b.CollateralValue > 0 {
		c.adjust("collateralValue", "bonus", math.Floor(0.7*b.CollateralValue), -0.5, "Collateral pledged")
	}

	c.state = domain.StateAdjustmentsApplied
}

func (c *Calculator) adjust(field, kind string, amountAdj, rateAdj float64, message string) {
	adj := domain.OfferAdjustment{
		Field:     field,
		Type:      kind,
		AmountAdj: amountAdj,
		RateAdj:   rateAdj,
		Message:   message,
	}
	c.offer.ApprovedAmount += amountAdj
	c.offer.InterestRate += rateAdj
	c.offer.Adjustments = append(c.offer.Adjustments, adj)
	c.offer.AuditTrail = append(c.offer.AuditTrail, domain.AuditEntry{
		Stage:      c.state,
		Adjustment: adj,
		Timestamp:  time.Now().UTC(),
	})
}

// finalize clamps the offer to its contractual bounds and derives the
// summary fields.
func (c *Calculator) finalize() {
	f, b := c.input.Factors, c.input.Borrower
	offer := c.offer

	if offer.ApprovedAmount < domain.OfferMinAmount {
		offer.ApprovedAmount = domain.OfferMinAmount
	}
	if offer.InterestRate < domain.OfferMinRate {
		offer.InterestRate = domain.OfferMinRate
	}
	if offer.InterestRate > domain.OfferMaxRate {
		offer.InterestRate = domain.OfferMaxRate
	}
	if offer.TermMonths > domain.OfferMaxTermMonths {
		offer.TermMonths = domain.OfferMaxTermMonths
	}

	if _, _, _, tier, ok := baseOfferForScore(c.input.Score); ok {
		offer.RiskTier = tier
	}
	offer.CollateralRequired = offer.RiskTier == RiskTierElevated
	if p := c.input.Policy; p != nil && p.CollateralOverride {
		offer.CollateralRequired = true
	}

	offer.OfferScore = int(math.Min(100, math.Floor(float64(c.input.Score)*0.8+f.OnTimePaymentRate*20)))

	if b.RecentDefaults > 0 {
		offer.RiskFlags = append(offer.RiskFlags, domain.RiskFlagRecentDefault)
	}
	if f.ConsecutiveMissedPayments >= 3 {
		offer.RiskFlags = append(offer.RiskFlags, domain.RiskFlagChronicLate)
	}
	if f.MissedPaymentsLast12 >= 3 {
		offer.RiskFlags = append(offer.RiskFlags, domain.RiskFlagActiveRisk)
	}

	c.state = domain.StateFinalized
}

// baseOfferForScore resolves the tier table. ok is false below the
// lowest eligible tier.
func baseOfferForScore(score int) (amount, rate float64, termMonths int, tier string, ok bool) {
	switch {
	case score >= tierVeryLowScore:
		return 100000, 12, 36, RiskTierVeryLow, true
	case score >= tierLowScore:
		return 75000, 15, 24, RiskTierLow, true
	case score >= tierModerateScore:
		return 50000, 18, 18, RiskTierModerate, true
	case score >= tierElevatedScore:
		return 25000, 22, 12, RiskTierElevated, true
	default:
		return 0, 0, 0, "", false
	}
}
