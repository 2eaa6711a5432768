package domain

import (
	"math"
)

// Rate adjustment codes applied on top of a policy's base interest rate.
const (
	RateAdjHighDTI            = "HIGH_DTI"
	RateAdjEmploymentUnstable = "EMPLOYMENT_UNSTABLE"
	RateAdjRecentDefault      = "RECENT_DEFAULT"
)

// ScoringWeights holds the five factor weights, in percentage points.
// A valid set sums to 100 within a tolerance of 1.
type ScoringWeights struct {
	PaymentHistory    float64 `json:"paymentHistory"`
	CreditUtilization float64 `json:"creditUtilization"`
	CreditAge         float64 `json:"creditAge"`
	CreditMix         float64 `json:"creditMix"`
	Inquiries         float64 `json:"inquiries"`
}

// Sum returns the total of all five weights.
func (w ScoringWeights) Sum() float64 {
	return w.PaymentHistory + w.CreditUtilization + w.CreditAge + w.CreditMix + w.Inquiries
}

// FiveCsWeights holds the five-Cs underwriting weights, in percentage
// points, validated the same way as scoring weights.
type FiveCsWeights struct {
	Character  float64 `json:"character"`
	Capacity   float64 `json:"capacity"`
	Capital    float64 `json:"capital"`
	Collateral float64 `json:"collateral"`
	Conditions float64 `json:"conditions"`
}

// Sum returns the total of all five weights.
func (w FiveCsWeights) Sum() float64 {
	return w.Character + w.Capacity + w.Capital + w.Collateral + w.Conditions
}

// PenaltyRules are the additive raw-score deductions, expressed as
// positive magnitudes.
type PenaltyRules struct {
	PerRecentApplication  float64 `json:"perRecentApplication"`
	PerDefault            float64 `json:"perDefault"`
	PerConsecutiveMissed  float64 `json:"perConsecutiveMissed"`
	MissedPaymentsWarning float64 `json:"missedPaymentsWarning"` // 1-2 in last 12mo
	MissedPaymentsSevere  float64 `json:"missedPaymentsSevere"`  // 3+ in last 12mo
	RecentDelinquency     float64 `json:"recentDelinquency"`     // within 6mo
	PastDelinquency       float64 `json:"pastDelinquency"`       // within 12mo
	Inactivity            float64 `json:"inactivity"`            // >180 days idle
	ManyActiveLoans       float64 `json:"manyActiveLoans"`       // >5 open loans
}

// BonusRules are the additive raw-score increases.
type BonusRules struct {
	HighActivity    float64 `json:"highActivity"`    // >30 tx in 90 days
	EstablishedFile float64 `json:"establishedFile"` // oldest account >36mo
	OnTimeExcellent float64 `json:"onTimeExcellent"` // rate >= 0.95
	OnTimeGood      float64 `json:"onTimeGood"`      // rate >= 0.85
	Recent6moStrong float64 `json:"recent6moStrong"` // 6mo rate >= 0.95
	Recent6moGood   float64 `json:"recent6moGood"`   // 6mo rate >= 0.85
}

// RejectionRules hold the hard decision thresholds.
type RejectionRules struct {
	ApproveMinScore int     `json:"approveMinScore"`
	ApproveMaxDTI   float64 `json:"approveMaxDTI"`
	ReviewMinScore  int     `json:"reviewMinScore"`
	ReviewMaxDTI    float64 `json:"reviewMaxDTI"`
}

// InterestRateRules define base rate, additive risk adjustments keyed by
// adjustment code, and the cap.
type InterestRateRules struct {
	BaseRate    float64            `json:"baseRate"`
	Adjustments map[string]float64 `json:"adjustments"`
	MaxRate     float64            `json:"maxRate"`
}

// BankPolicy is the per-tenant configuration for scoring and lending.
// Treated as immutable once validated; replacement is a full swap.
type BankPolicy struct {
	BankCode string `json:"bankCode"`
	Name     string `json:"name,omitempty"`

	Weights          ScoringWeights `json:"weights"`
	RecessionWeights ScoringWeights `json:"recessionWeights"`
	FiveCs           FiveCsWeights  `json:"fiveCs"`

	Penalties PenaltyRules   `json:"penalties"`
	Bonuses   BonusRules     `json:"bonuses"`
	Rejection RejectionRules `json:"rejection"`

	MinScore int `json:"minScore"`
	MaxScore int `json:"maxScore"`

	// Offer construction, keyed by classification tier.
	BaseLoanAmounts   map[string]float64 `json:"baseLoanAmounts"`
	IncomeMultipliers map[string]float64 `json:"incomeMultipliers"`

	InterestRates InterestRateRules `json:"interestRates"`
	TermOptions   []int             `json:"termOptions"` // months

	RecessionMode bool `json:"recessionMode"`

	// CollateralOverride requires collateral on every staged offer,
	// regardless of risk tier.
	CollateralOverride bool `json:"collateralOverride"`
}

// Validate collects every invariant violation without stopping at the
// first. An empty slice means the policy may be activated.
func (p *BankPolicy) Validate() []ValidationError {
	var errs []ValidationError
	if p.BankCode == "" {
		errs = append(errs, ValidationError{Field: "bankCode", Reason: "must not be empty"})
	}
	if s := p.Weights.Sum(); math.Abs(s-100) > 1 {
		errs = append(errs, ValidationError{Field: "weights", Reason: "must sum to 100 within tolerance 1"})
	}
	if s := p.FiveCs.Sum(); math.Abs(s-100) > 1 {
		errs = append(errs, ValidationError{Field: "fiveCs", Reason: "must sum to 100 within tolerance 1"})
	}
	if p.MaxScore <= p.MinScore {
		errs = append(errs, ValidationError{Field: "maxScore", Reason: "must exceed minScore"})
	}
	if p.InterestRates.BaseRate > p.InterestRates.MaxRate {
		errs = append(errs, ValidationError{Field: "interestRates", Reason: "baseRate must not exceed maxRate"})
	}
	return errs
}

// EffectiveWeights returns the recession weight set when recession mode
// is active, otherwise the standard set.
func (p *BankPolicy) EffectiveWeights() ScoringWeights {
	if p.RecessionMode {
		return p.RecessionWeights
	}
	return p.Weights
}

// DefaultPolicy returns the built-in policy used when a bank has no
// stored configuration or its stored configuration fails validation.
func DefaultPolicy() *BankPolicy {
	return &BankPolicy{
		BankCode: "default",
		Name:     "Default Lending Policy",
		Weights: ScoringWeights{
			PaymentHistory:    35,
			CreditUtilization: 30,
			CreditAge:         15,
			CreditMix:         10,
			Inquiries:         10,
		},
		RecessionWeights: ScoringWeights{
			PaymentHistory:    40,
			CreditUtilization: 35,
			CreditAge:         10,
			CreditMix:         10,
			Inquiries:         5,
		},
		FiveCs: FiveCsWeights{
			Character:  35,
			Capacity:   30,
			Capital:    15,
			Collateral: 10,
			Conditions: 10,
		},
		Penalties: PenaltyRules{
			PerRecentApplication:  1.5,
			PerDefault:            3,
			PerConsecutiveMissed:  2,
			MissedPaymentsWarning: 1,
			MissedPaymentsSevere:  3,
			RecentDelinquency:     2,
			PastDelinquency:       1,
			Inactivity:            5,
			ManyActiveLoans:       2,
		},
		Bonuses: BonusRules{
			HighActivity:    3,
			EstablishedFile: 2,
			OnTimeExcellent: 5,
			OnTimeGood:      2,
			Recent6moStrong: 2,
			Recent6moGood:   1,
		},
		Rejection: RejectionRules{
			ApproveMinScore: ThresholdVeryGood,
			ApproveMaxDTI:   0.35,
			ReviewMinScore:  ThresholdGood,
			ReviewMaxDTI:    0.40,
		},
		MinScore: MinScore,
		MaxScore: MaxScore,
		BaseLoanAmounts: map[string]float64{
			ClassExcellent: 100000,
			ClassVeryGood:  75000,
			ClassGood:      50000,
			ClassFair:      25000,
			ClassPoor:      10000,
		},
		IncomeMultipliers: map[string]float64{
			ClassExcellent: 5,
			ClassVeryGood:  4,
			ClassGood:      3,
			ClassFair:      2,
			ClassPoor:      1,
		},
		InterestRates: InterestRateRules{
			BaseRate: 12,
			Adjustments: map[string]float64{
				RateAdjHighDTI:            2,
				RateAdjEmploymentUnstable: 1.5,
				RateAdjRecentDefault:      3,
			},
			MaxRate: 36,
		},
		TermOptions: []int{12, 24, 36, 48},
	}
}
