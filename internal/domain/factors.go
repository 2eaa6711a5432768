package domain

import (
	"time"
)

// Loan type categories used for the credit-mix calculation.
const (
	LoanTypeRevolving   = "revolving"
	LoanTypeInstallment = "installment"
)

// BorrowerFactors is the normalized credit-behavior input to the scoring
// engine. Ratio fields must fall within their documented ranges; the engine
// rejects out-of-range values rather than clamping them. Overall utilization
// and inquiries are the exception: both are clamped after use.
type BorrowerFactors struct {
	BorrowerID string `json:"borrowerId,omitempty"`

	// Ratio factors
	PaymentHistory    float64 `json:"paymentHistory"`    // 0-1
	CreditUtilization float64 `json:"creditUtilization"` // 0-5, 1.0 = fully utilized
	CreditAge         float64 `json:"creditAge"`         // 0-1 normalized
	CreditMix         float64 `json:"creditMix"`         // 0-1

	// Counts and ages
	Inquiries              int `json:"inquiries"`
	ActiveLoanCount        int `json:"activeLoanCount"`
	OldestAccountAge       int `json:"oldestAccountAge"` // months
	TransactionsLast90Days int `json:"transactionsLast90Days"`

	// Payment behavior
	OnTimePaymentRate     float64 `json:"onTimePaymentRate"`     // 0-1
	OnTimeRateLast6Months float64 `json:"onTimeRateLast6Months"` // 0-1

	// Derogatory history
	RecentLoanApplications    int `json:"recentLoanApplications"`
	DefaultCountLast3Years    int `json:"defaultCountLast3Years"`
	ConsecutiveMissedPayments int `json:"consecutiveMissedPayments"`
	MissedPaymentsLast12      int `json:"missedPaymentsLast12"`

	// Months since the most recent delinquency. Zero means no delinquency
	// on record; recency penalties apply only for values > 0.
	MonthsSinceLastDelinquency int `json:"monthsSinceLastDelinquency"`

	// Portfolio composition, keyed by loan type (revolving, installment, ...).
	LoanTypeCounts map[string]int `json:"loanTypeCounts,omitempty"`

	LastActiveDate time.Time `json:"lastActiveDate"`

	// PII. Passed through or one-way hashed depending on scoring options.
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Validate bounds-checks the contractually validated ratio fields.
// Returns a ValidationError for the first violation found.
func (f *BorrowerFactors) Validate() error {
	if f.PaymentHistory < 0 || f.PaymentHistory > 1 {
		return NewValidationError("paymentHistory", "must be within [0,1], got %g", f.PaymentHistory)
	}
	if f.CreditUtilization < 0 || f.CreditUtilization > 5 {
		return NewValidationError("creditUtilization", "must be within [0,5], got %g", f.CreditUtilization)
	}
	if f.CreditAge < 0 || f.CreditAge > 1 {
		return NewValidationError("creditAge", "must be within [0,1], got %g", f.CreditAge)
	}
	if f.OnTimePaymentRate < 0 || f.OnTimePaymentRate > 1 {
		return NewValidationError("onTimePaymentRate", "must be within [0,1], got %g", f.OnTimePaymentRate)
	}
	return nil
}

// HasMixedCredit reports whether the borrower holds both revolving and
// installment credit, which earns the mixed-credit bonus.
func (f *BorrowerFactors) HasMixedCredit() bool {
	return f.LoanTypeCounts[LoanTypeRevolving] > 0 && f.LoanTypeCounts[LoanTypeInstallment] > 0
}

// BorrowerProfile holds the behavioral and financial attributes the
// lending-decision engine consumes alongside a score result.
type BorrowerProfile struct {
	BorrowerID    string  `json:"borrowerId"`
	MonthlyIncome float64 `json:"monthlyIncome"`
	TotalDebt     float64 `json:"totalDebt"`

	EmploymentStable bool `json:"employmentStable"`

	RecentDefaults             int `json:"recentDefaults"`
	MissedPaymentsLast12       int `json:"missedPaymentsLast12"`
	MonthsSinceLastDelinquency int `json:"monthsSinceLastDelinquency"`

	CollateralValue float64 `json:"collateralValue"`
}

// DTI computes the debt-to-income ratio against annualized income.
// Returns a ValidationError when monthly income is not positive.
func (b *BorrowerProfile) DTI() (float64, error) {
	if b.MonthlyIncome <= 0 {
		return 0, NewValidationError("monthlyIncome", "must be positive, got %g", b.MonthlyIncome)
	}
	return b.TotalDebt / (b.MonthlyIncome * 12), nil
}
