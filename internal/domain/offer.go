package domain

import (
	"time"
)

// Calculator stages. The staged path moves strictly forward; Rejected is
// terminal from any stage.
type OfferState string

const (
	StateValidating         OfferState = "Validating"
	StateBaseOfferSet       OfferState = "BaseOfferSet"
	StateAdjustmentsApplied OfferState = "AdjustmentsApplied"
	StateFinalized          OfferState = "Finalized"
	StateRejected           OfferState = "Rejected"
)

// Risk flags attached to finalized offers and decisions.
const (
	RiskFlagRecentDefault = "RECENT_DEFAULT"
	RiskFlagChronicLate   = "CHRONIC_LATE"
	RiskFlagActiveRisk    = "ACTIVE_RISK"
)

// Offer clamps applied at finalization.
const (
	OfferMinAmount     = 10000.0
	OfferMinRate       = 10.0
	OfferMaxRate       = 36.0
	OfferMaxTermMonths = 48
)

// OfferAdjustment is one named, auditable delta applied to a base offer.
type OfferAdjustment struct {
	Field     string  `json:"field"`
	Type      string  `json:"type"` // "bonus" or "penalty"
	AmountAdj float64 `json:"amountAdj"`
	RateAdj   float64 `json:"rateAdj"`
	Message   string  `json:"message"`
}

// AuditEntry is a timestamped copy of an adjustment, recorded as the
// staged calculator applies it.
type AuditEntry struct {
	Stage      OfferState      `json:"stage"`
	Adjustment OfferAdjustment `json:"adjustment"`
	Timestamp  time.Time       `json:"timestamp"`
}

// LoanOffer is the staged calculator's finalized output.
type LoanOffer struct {
	Approved       bool    `json:"approved"`
	ApprovedAmount float64 `json:"approvedAmount"`
	InterestRate   float64 `json:"interestRate"`
	TermMonths     int     `json:"termMonths"`
	RiskTier       string  `json:"riskTier"`

	Adjustments []OfferAdjustment `json:"adjustments"`
	AuditTrail  []AuditEntry      `json:"auditTrail"`

	OfferScore int      `json:"offerScore"` // 0-100
	RiskFlags  []string `json:"riskFlags,omitempty"`

	CollateralValue    float64 `json:"collateralValue"`
	CollateralRequired bool    `json:"collateralRequired"`
}

// Rejection is a value, not an error: the calculator declining to make
// an offer is a normal business outcome.
type Rejection struct {
	Approved bool   `json:"approved"` // always false
	Reason   string `json:"reason"`
}

// OfferOutcome is the staged calculator's result sum type: exactly one
// of Offer or Rejection is set.
type OfferOutcome struct {
	State     OfferState `json:"state"`
	Offer     *LoanOffer `json:"offer,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
}

// Rejected reports whether the outcome is a rejection.
func (o *OfferOutcome) Rejected() bool {
	return o.Rejection != nil
}
