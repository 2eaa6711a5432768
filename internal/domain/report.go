package domain

import (
	"time"
)

// CreditReport is the persisted per-borrower record: the latest score,
// the factors it was computed from, the latest lending decision and an
// append-only history of prior decisions.
type CreditReport struct {
	ReportID   string `json:"reportId"`
	TenantID   string `json:"tenantId"`
	BorrowerID string `json:"borrowerId"`

	Factors  *BorrowerFactors `json:"factors,omitempty"`
	Score    *ScoreResult     `json:"score,omitempty"`
	Decision *Decision        `json:"lendingDecision,omitempty"`
	History  []*Decision      `json:"lendingDecisionHistory,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}
