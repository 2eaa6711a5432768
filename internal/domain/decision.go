package domain

import (
	"time"
)

// DecisionStatus is the lending verdict.
type DecisionStatus string

const (
	DecisionApprove DecisionStatus = "Approve"
	DecisionReview  DecisionStatus = "Review"
	DecisionReject  DecisionStatus = "Reject"
)

// Rejection reasons appended by the threshold decision path.
const (
	ReasonScoreBelowThreshold = "Credit score below lending threshold"
	ReasonRecentDefaults      = "Recent default(s) found"
	ReasonHighDTI             = "High debt-to-income ratio"
)

// DecisionOffer is the base loan offer attached to a threshold-path
// decision: ceiling amount, rate and the policy's term options.
type DecisionOffer struct {
	MaxAmount      float64 `json:"maxAmount"`
	InterestRate   float64 `json:"interestRate"` // annual percentage
	AvailableTerms []int   `json:"availableTerms"`
	SamplePayment  float64 `json:"samplePayment"`
}

// Decision is the output of the lending-decision engine for one
// borrower evaluation. Reasons accumulate in evaluation order and always
// end with the classification and the formatted DTI. Never mutated once
// stored; administrator overrides are appended fields.
type Decision struct {
	DecisionID string         `json:"decisionId"`
	TenantID   string         `json:"tenantId,omitempty"`
	BorrowerID string         `json:"borrowerId,omitempty"`
	Decision   DecisionStatus `json:"decision"`

	Reasons         []string `json:"reasons"`
	Recommendations []string `json:"recommendations"`

	Offer          *DecisionOffer `json:"offer,omitempty"`
	Classification string         `json:"classification"`
	Score          int            `json:"score"`
	DTI            float64        `json:"dti"`
	RiskFlags      []string       `json:"riskFlags,omitempty"`

	// Appended by administrators, never replacing history.
	RiskTierOverride      string `json:"riskTierOverride,omitempty"`
	OverrideJustification string `json:"overrideJustification,omitempty"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Explanation is the reasoning engine's human-readable narrative built
// purely from engine outputs.
type Explanation struct {
	Summary           string            `json:"summary"`
	FactorNarrative   map[string]string `json:"factorNarrative"`
	DecisionRationale string            `json:"decisionRationale,omitempty"`
	Recommendations   []string          `json:"recommendations"`
	Source            string            `json:"source"` // "template" or "ai"
}
