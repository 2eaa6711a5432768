package domain

// Score bounds and classification thresholds.
const (
	MinScore = 300
	MaxScore = 850

	ThresholdExcellent = 800
	ThresholdVeryGood  = 740
	ThresholdGood      = 670
	ThresholdFair      = 580
)

// Classification tiers ordered from best to worst.
const (
	ClassExcellent = "Excellent"
	ClassVeryGood  = "Very Good"
	ClassGood      = "Good"
	ClassFair      = "Fair"
	ClassPoor      = "Poor"
)

// Disclosure codes attached to score results.
const (
	DisclosureLowScore   = "LOW_SCORE_NOTICE"
	DisclosureDerogatory = "DEROGATORY_MARK_WARNING"

	// LowScoreNoticeThreshold triggers DisclosureLowScore below it.
	LowScoreNoticeThreshold = 650
)

// Classify maps a bounded score to its classification tier.
func Classify(score int) string {
	switch {
	case score >= ThresholdExcellent:
		return ClassExcellent
	case score >= ThresholdVeryGood:
		return ClassVeryGood
	case score >= ThresholdGood:
		return ClassGood
	case score >= ThresholdFair:
		return ClassFair
	default:
		return ClassPoor
	}
}

// ComponentRating pairs a factor's normalized value with a qualitative label.
type ComponentRating struct {
	Value  float64 `json:"value"`
	Rating string  `json:"rating"`
}

// ScoreBreakdown details how the raw score was assembled: weighted
// per-factor contributions plus the penalty and bonus deltas by code.
type ScoreBreakdown struct {
	Contributions    map[string]float64         `json:"contributions"`
	Penalties        map[string]float64         `json:"penalties,omitempty"`
	Bonuses          map[string]float64         `json:"bonuses,omitempty"`
	CustomRules      map[string]float64         `json:"customRules,omitempty"`
	ComponentRatings map[string]ComponentRating `json:"componentRatings"`
}

// ScoreResult is the immutable output of the scoring engine.
type ScoreResult struct {
	Score          int            `json:"score"` // always within [300,850]
	Classification string         `json:"classification"`
	BaseScore      float64        `json:"baseScore"` // raw 0-100 before rescale
	Breakdown      ScoreBreakdown `json:"breakdown"`

	RequiredDisclosures []string `json:"requiredDisclosures,omitempty"`

	Version       string `json:"version"`
	AIEnabled     bool   `json:"aiEnabled"`
	RecessionMode bool   `json:"recessionMode"`

	// PhoneNumber carries the borrower PII either verbatim or one-way
	// hashed, never both forms.
	PhoneNumber string `json:"phoneNumber,omitempty"`
	PIIHashed   bool   `json:"piiHashed,omitempty"`
}
