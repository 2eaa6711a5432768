// Package reasoning turns score results and decisions into
// human-readable explanations. It consumes engine outputs only.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Explanation sources.
const (
	SourceTemplate = "template"
	SourceAI       = "ai"
)

// Augmenter produces an optional narrative from an external model.
// Implementations must be best effort; any failure falls back to the
// deterministic templates.
type Augmenter interface {
	Enabled() bool
	Narrate(ctx context.Context, score *domain.ScoreResult, decision *domain.Decision) (string, error)
}

// Engine builds explanations. Stateless and safe for concurrent use.
type Engine struct {
	logger    *slog.Logger
	augmenter Augmenter // optional
}

// NewEngine creates a reasoning engine. augmenter may be nil.
func NewEngine(logger *slog.Logger, augmenter Augmenter) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, augmenter: augmenter}
}

// AIEnabled reports whether an augmenter is configured and active.
func (e *Engine) AIEnabled() bool {
	return e.augmenter != nil && e.augmenter.Enabled()
}

// Explain builds a narrative for a score result and, optionally, the
// decision derived from it. decision may be nil for score-only requests.
func (e *Engine) Explain(ctx context.Context, score *domain.ScoreResult, decision *domain.Decision) (*domain.Explanation, error) {
	if score == nil {
		return nil, domain.NewValidationError("scoreResult", "must not be nil")
	}

	expl := &domain.Explanation{
		Summary:         e.summary(score, decision),
		FactorNarrative: e.factorNarrative(score),
		Recommendations: e.recommendations(score, decision),
		Source:          SourceTemplate,
	}
	if decision != nil {
		expl.DecisionRationale = e.rationale(decision)
	}

	if e.augmenter != nil && e.augmenter.Enabled() {
		narrative, err := e.augmenter.Narrate(ctx, score, decision)
		if err != nil {
			e.logger.Warn("AI narration failed, using template", "error", err)
		} else if narrative != "" {
			expl.Summary = narrative
			expl.Source = SourceAI
		}
	}

	return expl, nil
}

func (e *Engine) summary(score *domain.ScoreResult, decision *domain.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your credit score is %d, which is rated %s.", score.Score, score.Classification)
	if score.RecessionMode {
		b.WriteString(" Recession-adjusted weighting was applied.")
	}
	if decision != nil {
		fmt.Fprintf(&b, " Lending outcome: %s.", decision.Decision)
	}
	return b.String()
}

// factorNarrative describes each component rating in plain language.
func (e *Engine) factorNarrative(score *domain.ScoreResult) map[string]string {
	labels := map[string]string{
		"paymentHistory":    "Payment history",
		"creditUtilization": "Credit utilization",
		"creditAge":         "Credit age",
		"creditMix":         "Credit mix",
		"inquiries":         "Recent inquiries",
	}

	narrative := make(map[string]string, len(score.Breakdown.ComponentRatings))
	for factor, rating := range score.Breakdown.ComponentRatings {
		label := labels[factor]
		if label == "" {
			label = factor
		}
		narrative[factor] = fmt.Sprintf("%s is %s (%.0f%% of its possible contribution).", label, rating.Rating, rating.Value*100)
	}
	return narrative
}

func (e *Engine) rationale(decision *domain.Decision) string {
	switch decision.Decision {
	case domain.DecisionApprove:
		return fmt.Sprintf("Approved: score %d meets the lending threshold with a debt-to-income ratio of %.1f%%.", decision.Score, decision.DTI*100)
	case domain.DecisionReview:
		return fmt.Sprintf("Referred for review: score %d qualifies conditionally at a debt-to-income ratio of %.1f%%.", decision.Score, decision.DTI*100)
	default:
		return "Rejected: " + strings.Join(decision.Reasons, "; ")
	}
}

// recommendations lists concrete improvement steps, worst factors first.
func (e *Engine) recommendations(score *domain.ScoreResult, decision *domain.Decision) []string {
	tips := map[string]string{
		"paymentHistory":    "Pay every account on time; payment history carries the largest weight",
		"creditUtilization": "Reduce balances to lower your credit utilization",
		"creditAge":         "Keep your oldest accounts open to lengthen your credit history",
		"creditMix":         "A mix of revolving and installment credit strengthens your profile",
		"inquiries":         "Avoid new credit applications for the next few months",
	}

	type weak struct {
		factor string
		value  float64
	}
	var weakest []weak
	for factor, rating := range score.Breakdown.ComponentRatings {
		if rating.Value < 0.7 {
			weakest = append(weakest, weak{factor, rating.Value})
		}
	}
	sort.Slice(weakest, func(i, j int) bool { return weakest[i].value < weakest[j].value })

	var recs []string
	for _, w := range weakest {
		if tip := tips[w.factor]; tip != "" {
			recs = append(recs, tip)
		}
	}
	if decision != nil {
		recs = append(recs, decision.Recommendations...)
	}
	if len(recs) == 0 {
		recs = append(recs, "Maintain your current credit habits to preserve your score")
	}
	return recs
}
