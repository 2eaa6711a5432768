package domain

// PolicyRule is a bank-authored custom scoring rule: a CEL expression
// over borrower factor variables. A boolean result applies ScoreDelta; a
// numeric result is the delta itself, capped to [-MaxRuleDelta, MaxRuleDelta].
type PolicyRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Raw-score delta applied when the expression yields true
	ScoreDelta float64 `json:"scoreDelta"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// MaxRuleDelta bounds the raw-score impact of any single custom rule.
const MaxRuleDelta = 25.0

// PolicyRuleResult is the output of one custom rule evaluation.
type PolicyRuleResult struct {
	RuleID    string  `json:"ruleId"`
	TenantID  string  `json:"tenantId"`
	Matched   bool    `json:"matched"`
	Delta     float64 `json:"delta"`
	Err       string  `json:"err,omitempty"`
	ProcessMs int64   `json:"processMs"`
}
