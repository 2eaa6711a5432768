package lending

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func calculatorInput(score int) CalculatorInput {
	return CalculatorInput{
		Score: score,
		Factors: &domain.BorrowerFactors{
			BorrowerID:        "borrower-001",
			OnTimePaymentRate: 0.8,
		},
		Borrower: &domain.BorrowerProfile{
			BorrowerID:    "borrower-001",
			MonthlyIncome: 8000,
		},
	}
}

func TestCalculatorStrongProfile(t *testing.T) {
	input := calculatorInput(750)
	input.Factors.OnTimePaymentRate = 0.97
	input.Factors.OnTimeRateLast6Months = 0.97
	input.Factors.LoanTypeCounts = map[string]int{
		domain.LoanTypeRevolving:   1,
		domain.LoanTypeInstallment: 2,
	}

	outcome, err := NewCalculator(nil, input).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.Rejected() {
		t.Fatalf("expected approval, got rejection: %+v", outcome.Rejection)
	}
	if outcome.State != domain.StateFinalized {
		t.Errorf("expected finalized state, got %s", outcome.State)
	}

	offer := outcome.Offer
	// 100000 base + 5000 + 2000 + 3000 bonuses
	if offer.ApprovedAmount != 110000 {
		t.Errorf("expected amount 110000, got %g", offer.ApprovedAmount)
	}
	// 12 base - 1 - 0.5 - 0.5 = 10
	if offer.InterestRate != 10 {
		t.Errorf("expected rate 10, got %g", offer.InterestRate)
	}
	if offer.TermMonths != 36 {
		t.Errorf("expected term 36, got %d", offer.TermMonths)
	}
	if offer.RiskTier != RiskTierVeryLow {
		t.Errorf("expected tier %q, got %q", RiskTierVeryLow, offer.RiskTier)
	}
	if offer.CollateralRequired {
		t.Error("expected no collateral requirement for Very Low tier")
	}
	if offer.OfferScore != 100 {
		t.Errorf("expected offer score capped at 100, got %d", offer.OfferScore)
	}
	if len(offer.Adjustments) != 3 {
		t.Errorf("expected 3 adjustments, got %d", len(offer.Adjustments))
	}
	if len(offer.AuditTrail) != len(offer.Adjustments) {
		t.Errorf("audit trail should mirror adjustments: %d vs %d",
			len(offer.AuditTrail), len(offer.Adjustments))
	}
}

func TestCalculatorBaseTiers(t *testing.T) {
	tests := []struct {
		score  int
		amount float64
		rate   float64
		term   int
		tier   string
	}{
		{800, 100000, 12, 36, RiskTierVeryLow},
		{750, 100000, 12, 36, RiskTierVeryLow},
		{720, 75000, 15, 24, RiskTierLow},
		{660, 50000, 18, 18, RiskTierModerate},
		{580, 25000, 22, 12, RiskTierElevated},
	}

	for _, tt := range tests {
		outcome, err := NewCalculator(nil, calculatorInput(tt.score)).Run()
		if err != nil {
			t.Fatalf("Run failed for score %d: %v", tt.score, err)
		}
		if outcome.Rejected() {
			t.Fatalf("unexpected rejection for score %d", tt.score)
		}

		offer := outcome.Offer
		if offer.ApprovedAmount != tt.amount || offer.InterestRate != tt.rate || offer.TermMonths != tt.term {
			t.Errorf("score %d: expected %g/%g/%d, got %g/%g/%d",
				tt.score, tt.amount, tt.rate, tt.term,
				offer.ApprovedAmount, offer.InterestRate, offer.TermMonths)
		}
		if offer.RiskTier != tt.tier {
			t.Errorf("score %d: expected tier %q, got %q", tt.score, tt.tier, offer.RiskTier)
		}
	}
}

func TestCalculatorRejection(t *testing.T) {
	outcome, err := NewCalculator(nil, calculatorInput(550)).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !outcome.Rejected() {
		t.Fatal("expected rejection for score below lowest tier")
	}
	if outcome.State != domain.StateRejected {
		t.Errorf("expected rejected state, got %s", outcome.State)
	}
	if outcome.Rejection.Reason != ReasonScoreTooLow {
		t.Errorf("expected reason %q, got %q", ReasonScoreTooLow, outcome.Rejection.Reason)
	}
	if outcome.Offer != nil {
		t.Error("rejection must not carry an offer")
	}
}

func TestCalculatorElevatedTierCollateral(t *testing.T) {
	outcome, err := NewCalculator(nil, calculatorInput(600)).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !outcome.Offer.CollateralRequired {
		t.Error("expected collateral requirement for Elevated tier")
	}
}

func TestCalculatorCollateralOverride(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.CollateralOverride = true

	input := calculatorInput(780)
	input.Policy = policy

	outcome, err := NewCalculator(nil, input).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.Offer.RiskTier != RiskTierVeryLow {
		t.Fatalf("expected Very Low tier, got %s", outcome.Offer.RiskTier)
	}
	if !outcome.Offer.CollateralRequired {
		t.Error("expected collateral requirement from the policy override")
	}

	// Without the override the top tier needs no collateral.
	outcome, err = NewCalculator(nil, calculatorInput(780)).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Offer.CollateralRequired {
		t.Error("expected no collateral requirement for Very Low tier")
	}
}

func TestCalculatorAmountFloor(t *testing.T) {
	input := calculatorInput(600)
	input.Factors.ConsecutiveMissedPayments = 3
	input.Factors.MissedPaymentsLast12 = 3
	input.Factors.MonthsSinceLastDelinquency = 3
	input.Factors.ActiveLoanCount = 6
	input.Borrower.RecentDefaults = 1

	outcome, err := NewCalculator(nil, input).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Rejected() {
		t.Fatal("heavy penalties should reduce the offer, not reject it")
	}

	offer := outcome.Offer
	// 25000 - 10000 - 3000 - 5000 - 4000 - 5000 would go negative
	if offer.ApprovedAmount != domain.OfferMinAmount {
		t.Errorf("expected floor amount %g, got %g", float64(domain.OfferMinAmount), offer.ApprovedAmount)
	}

	flags := map[string]bool{}
	for _, f := range offer.RiskFlags {
		flags[f] = true
	}
	for _, want := range []string{domain.RiskFlagRecentDefault, domain.RiskFlagChronicLate, domain.RiskFlagActiveRisk} {
		if !flags[want] {
			t.Errorf("expected risk flag %s, got %v", want, offer.RiskFlags)
		}
	}
}

func TestCalculatorRateFloor(t *testing.T) {
	input := calculatorInput(800)
	input.Factors.OnTimePaymentRate = 0.98
	input.Factors.OnTimeRateLast6Months = 0.98
	input.Factors.LoanTypeCounts = map[string]int{
		domain.LoanTypeRevolving:   1,
		domain.LoanTypeInstallment: 1,
	}
	input.Borrower.CollateralValue = 10000

	outcome, err := NewCalculator(nil, input).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 12 - 1 - 0.5 - 0.5 - 0.5 = 9.5, clamped up to the contractual floor
	if outcome.Offer.InterestRate != domain.OfferMinRate {
		t.Errorf("expected rate floor %g, got %g", float64(domain.OfferMinRate), outcome.Offer.InterestRate)
	}
	// collateral bonus adds floor(0.7 * 10000)
	if outcome.Offer.ApprovedAmount != 100000+5000+2000+3000+7000 {
		t.Errorf("unexpected amount %g", outcome.Offer.ApprovedAmount)
	}
}

func TestCalculatorRecentDelinquencyWindow(t *testing.T) {
	recent := calculatorInput(700)
	recent.Factors.MonthsSinceLastDelinquency = 6

	outcome, err := NewCalculator(nil, recent).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Offer.ApprovedAmount != 75000-4000 {
		t.Errorf("expected delinquency penalty applied, got %g", outcome.Offer.ApprovedAmount)
	}

	// Zero months means no delinquency on record.
	clean := calculatorInput(700)
	clean.Factors.MonthsSinceLastDelinquency = 0

	outcome, err = NewCalculator(nil, clean).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Offer.ApprovedAmount != 75000 {
		t.Errorf("expected no penalty for zero months, got %g", outcome.Offer.ApprovedAmount)
	}
}

func TestCalculatorValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CalculatorInput)
	}{
		{"ActiveLoanCountTooHigh", func(in *CalculatorInput) { in.Factors.ActiveLoanCount = 1001 }},
		{"NegativeRecentDefaults", func(in *CalculatorInput) { in.Borrower.RecentDefaults = -1 }},
		{"ConsecutiveMissedTooHigh", func(in *CalculatorInput) { in.Factors.ConsecutiveMissedPayments = 5000 }},
		{"MissedLast12Negative", func(in *CalculatorInput) { in.Factors.MissedPaymentsLast12 = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := calculatorInput(700)
			tt.mutate(&input)

			_, err := NewCalculator(nil, input).Run()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !domain.IsValidationError(err) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestCalculatorNilInputs(t *testing.T) {
	if _, err := NewCalculator(nil, CalculatorInput{Score: 700, Borrower: &domain.BorrowerProfile{}}).Run(); err == nil {
		t.Error("expected error for nil factors")
	}
	if _, err := NewCalculator(nil, CalculatorInput{Score: 700, Factors: &domain.BorrowerFactors{}}).Run(); err == nil {
		t.Error("expected error for nil borrower")
	}
}
