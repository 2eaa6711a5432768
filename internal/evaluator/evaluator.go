// Package evaluator orchestrates the full evaluation pipeline: score,
// decide, persist the credit report and publish pipeline events.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/lending"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// reportCacheTTL bounds staleness of the cached latest report.
const reportCacheTTL = 5 * time.Minute

// Evaluator wires the engines to storage and the event bus. All
// persistence and publishing is best effort: a computed decision is
// returned to the caller even when a downstream write fails.
type Evaluator struct {
	logger  *slog.Logger
	scoring *scoring.Engine
	lending *lending.Engine
	history *history.Service

	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	path   domain.DecisionPath
	tracer trace.Tracer
}

// New creates an evaluator. repo, cache, bus and history may be nil for
// pure in-memory evaluation.
func New(logger *slog.Logger, scoringEngine *scoring.Engine, lendingEngine *lending.Engine, historySvc *history.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, path domain.DecisionPath) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = domain.PathThreshold
	}
	return &Evaluator{
		logger:  logger,
		scoring: scoringEngine,
		lending: lendingEngine,
		history: historySvc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		path:    path,
		tracer:  otel.Tracer("kestrel.evaluator"),
	}
}

// Input is one evaluation request.
type Input struct {
	TenantID string
	BankCode string
	Factors  *domain.BorrowerFactors
	Borrower *domain.BorrowerProfile
	Options  scoring.Options

	// Path overrides the configured decision path when set.
	Path domain.DecisionPath
}

// Result is the pipeline output: the persisted report plus, on the
// staged path, the raw calculator outcome.
type Result struct {
	Report  *domain.CreditReport `json:"report"`
	Outcome *domain.OfferOutcome `json:"outcome,omitempty"`
}

// Evaluate runs the full pipeline for one borrower. The bank policy
// resolved for input.BankCode governs both scoring and the decision.
func (ev *Evaluator) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	ctx, span := ev.tracer.Start(ctx, "evaluate",
		trace.WithAttributes(
			attribute.String("tenant.id", input.TenantID),
			attribute.String("bank.code", input.BankCode),
		),
	)
	defer span.End()

	start := time.Now()

	path := input.Path
	if path == "" {
		path = ev.path
	}

	var (
		score    *domain.ScoreResult
		decision *domain.Decision
		outcome  *domain.OfferOutcome
	)

	switch path {
	case domain.PathStaged:
		policy, err := ev.lending.EffectivePolicy(ctx, input.TenantID, input.BankCode)
		if err != nil {
			return nil, err
		}
		score, err = ev.scoring.Score(ctx, input.TenantID, input.Factors, policy, input.Options)
		if err != nil {
			return nil, err
		}
		outcome, err = ev.runStaged(score, input, policy)
		if err != nil {
			return nil, err
		}
		decision = decisionFromOutcome(input, score, outcome)
	default:
		var err error
		score, decision, err = ev.lending.DecideFromFactors(ctx, input.TenantID, scorerAdapter{ev.scoring},
			input.Factors, input.Borrower, input.BankCode, lending.ScoringOptions{
				RecessionMode: input.Options.RecessionMode,
				HashPII:       input.Options.HashPII,
				Debug:         input.Options.Debug,
			})
		if err != nil {
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("score", score.Score))
	ev.publish(ctx, input.TenantID, domain.TopicScoreComputed, score)

	report := &domain.CreditReport{
		ReportID:   uuid.New().String(),
		TenantID:   input.TenantID,
		BorrowerID: input.Borrower.BorrowerID,
		Factors:    input.Factors,
		Score:      score,
		Decision:   decision,
		UpdatedAt:  time.Now().UTC(),
	}

	ev.persist(ctx, input.TenantID, report)
	ev.publishDecision(ctx, input.TenantID, decision)

	ev.logger.Info("evaluation complete",
		"tenantId", input.TenantID,
		"borrowerId", input.Borrower.BorrowerID,
		"score", score.Score,
		"decision", decision.Decision,
		"path", path,
		"durationMs", time.Since(start).Milliseconds(),
	)

	return &Result{Report: report, Outcome: outcome}, nil
}

func (ev *Evaluator) runStaged(score *domain.ScoreResult, input *Input, policy *domain.BankPolicy) (*domain.OfferOutcome, error) {
	calc := lending.NewCalculator(ev.logger, lending.CalculatorInput{
		Score:    score.Score,
		Factors:  input.Factors,
		Borrower: input.Borrower,
		Policy:   policy,
	})
	return calc.Run()
}

// scorerAdapter bridges the scoring engine into the lending engine's
// factors-first call shape.
type scorerAdapter struct {
	engine *scoring.Engine
}

func (a scorerAdapter) Score(ctx context.Context, tenantID string, factors *domain.BorrowerFactors, policy *domain.BankPolicy, opts lending.ScoringOptions) (*domain.ScoreResult, error) {
	return a.engine.Score(ctx, tenantID, factors, policy, scoring.Options{
		RecessionMode: opts.RecessionMode,
		HashPII:       opts.HashPII,
		Debug:         opts.Debug,
	})
}

// decisionFromOutcome normalizes a staged outcome into the canonical
// decision schema so both paths persist the same report shape.
func decisionFromOutcome(input *Input, score *domain.ScoreResult, outcome *domain.OfferOutcome) *domain.Decision {
	decision := &domain.Decision{
		DecisionID:     uuid.New().String(),
		TenantID:       input.TenantID,
		BorrowerID:     input.Borrower.BorrowerID,
		Classification: score.Classification,
		Score:          score.Score,
		EvaluatedAt:    time.Now().UTC(),
	}
	if dti, err := input.Borrower.DTI(); err == nil {
		decision.DTI = dti
	}

	if outcome.Rejected() {
		decision.Decision = domain.DecisionReject
		decision.Reasons = append(decision.Reasons, outcome.Rejection.Reason)
		return decision
	}

	offer := outcome.Offer
	decision.Decision = domain.DecisionApprove
	decision.RiskFlags = offer.RiskFlags
	decision.Offer = &domain.DecisionOffer{
		MaxAmount:      offer.ApprovedAmount,
		InterestRate:   offer.InterestRate,
		AvailableTerms: []int{offer.TermMonths},
		SamplePayment:  lending.AmortizedPayment(offer.ApprovedAmount, offer.InterestRate, offer.TermMonths),
	}
	return decision
}

// persist writes the report to the repository and refreshes the report
// cache and the borrower's evaluation counter. Failures are logged, not
// returned.
func (ev *Evaluator) persist(ctx context.Context, tenantID string, report *domain.CreditReport) {
	if ev.repo != nil {
		if err := ev.repo.SaveReport(ctx, tenantID, report); err != nil {
			ev.logger.Error("failed to save credit report",
				"tenantId", tenantID,
				"borrowerId", report.BorrowerID,
				"error", err,
			)
		}
	}
	if ev.cache != nil {
		if err := ev.cache.SetReport(ctx, tenantID, report.BorrowerID, report, reportCacheTTL); err != nil {
			ev.logger.Warn("failed to cache credit report",
				"tenantId", tenantID,
				"borrowerId", report.BorrowerID,
				"error", err,
			)
		}
	}
	if ev.history != nil {
		if _, err := ev.history.RecordEvaluation(ctx, tenantID, report.BorrowerID, 30*24*time.Hour); err != nil {
			ev.logger.Warn("failed to record evaluation",
				"tenantId", tenantID,
				"borrowerId", report.BorrowerID,
				"error", err,
			)
		}
	}
}

func (ev *Evaluator) publishDecision(ctx context.Context, tenantID string, decision *domain.Decision) {
	ev.publish(ctx, tenantID, domain.TopicDecision, decision)
	if decision.Offer != nil {
		ev.publish(ctx, tenantID, domain.TopicOffer, decision.Offer)
	}
	if decision.Decision == domain.DecisionReview {
		ev.publish(ctx, tenantID, domain.TopicReviewAlert, decision)
	}
}

func (ev *Evaluator) publish(ctx context.Context, tenantID, topic string, v any) {
	if ev.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		ev.logger.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := ev.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		ev.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// RecalcStats summarizes a batch recalculation.
type RecalcStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RecalculateAll re-scores every stored report for a tenant using its
// persisted factors. A failure on one record is counted and logged, and
// the loop continues.
func (ev *Evaluator) RecalculateAll(ctx context.Context, tenantID string, opts scoring.Options) (*RecalcStats, error) {
	if ev.repo == nil {
		return nil, fmt.Errorf("no repository configured")
	}

	reports, err := ev.repo.ListReports(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	stats := &RecalcStats{Total: len(reports)}
	for _, report := range reports {
		if report.Factors == nil {
			stats.Failed++
			ev.logger.Warn("skipping report without factors",
				"tenantId", tenantID,
				"borrowerId", report.BorrowerID,
			)
			continue
		}

		score, err := ev.scoring.Score(ctx, tenantID, report.Factors, nil, opts)
		if err != nil {
			stats.Failed++
			ev.logger.Error("recalculation failed for borrower",
				"tenantId", tenantID,
				"borrowerId", report.BorrowerID,
				"error", err,
			)
			continue
		}

		report.Score = score
		report.ReportID = uuid.New().String()
		report.UpdatedAt = time.Now().UTC()
		report.Decision = nil // decisions are only made on explicit requests

		if err := ev.repo.SaveReport(ctx, tenantID, report); err != nil {
			stats.Failed++
			ev.logger.Error("failed to save recalculated report",
				"tenantId", tenantID,
				"borrowerId", report.BorrowerID,
				"error", err,
			)
			continue
		}
		if ev.cache != nil {
			_ = ev.cache.SetReport(ctx, tenantID, report.BorrowerID, report, reportCacheTTL)
		}
		stats.Succeeded++
	}

	ev.logger.Info("batch recalculation complete",
		"tenantId", tenantID,
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)

	return stats, nil
}

// GetReport returns the borrower's latest report, cache first.
func (ev *Evaluator) GetReport(ctx context.Context, tenantID, borrowerID string) (*domain.CreditReport, error) {
	if ev.cache != nil {
		report, err := ev.cache.GetReport(ctx, tenantID, borrowerID)
		if err == nil && report != nil {
			return report, nil
		}
	}
	if ev.repo == nil {
		return nil, fmt.Errorf("no repository configured")
	}
	return ev.repo.GetReport(ctx, tenantID, borrowerID)
}
