package evaluator

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/lending"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

func newTestEvaluator(t *testing.T) (*Evaluator, domain.Repository, domain.Cache, domain.EventBus) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-evaluator-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	ev := New(nil, scoring.NewEngine(nil, nil), lending.NewEngine(nil, nil),
		history.NewService(repo, lru), repo, lru, eventBus, domain.PathThreshold)

	return ev, repo, lru, eventBus
}

func evalInput(borrowerID string) *Input {
	return &Input{
		TenantID: "tenant-001",
		Factors: &domain.BorrowerFactors{
			BorrowerID:        borrowerID,
			PaymentHistory:    1.0,
			CreditUtilization: 0.0,
			CreditAge:         1.0,
			CreditMix:         1.0,
		},
		Borrower: &domain.BorrowerProfile{
			BorrowerID:       borrowerID,
			MonthlyIncome:    10000,
			TotalDebt:        12000,
			EmploymentStable: true,
		},
	}
}

func TestEvaluateThresholdPath(t *testing.T) {
	ev, repo, lru, _ := newTestEvaluator(t)
	ctx := context.Background()

	result, err := ev.Evaluate(ctx, evalInput("borrower-001"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if result.Report.Score.Score != 850 {
		t.Errorf("expected score 850, got %d", result.Report.Score.Score)
	}
	if result.Report.Decision.Decision != domain.DecisionApprove {
		t.Errorf("expected Approve, got %s", result.Report.Decision.Decision)
	}
	if result.Outcome != nil {
		t.Error("threshold path must not produce a staged outcome")
	}

	// Persisted and cached.
	stored, err := repo.GetReport(ctx, "tenant-001", "borrower-001")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if stored.ReportID != result.Report.ReportID {
		t.Errorf("expected persisted report %s, got %s", result.Report.ReportID, stored.ReportID)
	}

	cached, err := lru.GetReport(ctx, "tenant-001", "borrower-001")
	if err != nil || cached == nil {
		t.Fatalf("expected cached report, got %v/%v", cached, err)
	}
}

func TestEvaluateStagedPath(t *testing.T) {
	ev, _, _, _ := newTestEvaluator(t)

	input := evalInput("borrower-001")
	input.Path = domain.PathStaged

	result, err := ev.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if result.Outcome == nil || result.Outcome.Offer == nil {
		t.Fatalf("expected a staged offer, got %+v", result.Outcome)
	}

	// The staged outcome is normalized into the canonical decision shape.
	decision := result.Report.Decision
	if decision.Decision != domain.DecisionApprove {
		t.Errorf("expected Approve, got %s", decision.Decision)
	}
	if decision.Offer == nil {
		t.Fatal("expected a decision offer")
	}
	if decision.Offer.MaxAmount != result.Outcome.Offer.ApprovedAmount {
		t.Errorf("decision offer %g must mirror the calculator amount %g",
			decision.Offer.MaxAmount, result.Outcome.Offer.ApprovedAmount)
	}
	if len(decision.Offer.AvailableTerms) != 1 || decision.Offer.AvailableTerms[0] != result.Outcome.Offer.TermMonths {
		t.Errorf("expected the calculator term only, got %v", decision.Offer.AvailableTerms)
	}
}

func TestEvaluateStagedRejection(t *testing.T) {
	ev, _, _, _ := newTestEvaluator(t)

	input := evalInput("borrower-low")
	input.Path = domain.PathStaged
	input.Factors.PaymentHistory = 0.2
	input.Factors.CreditUtilization = 0.95
	input.Factors.CreditAge = 0.1
	input.Factors.CreditMix = 0.1
	input.Factors.Inquiries = 9

	result, err := ev.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if result.Outcome == nil || result.Outcome.Rejection == nil {
		t.Fatalf("expected a staged rejection, got %+v", result.Outcome)
	}
	if result.Report.Decision.Decision != domain.DecisionReject {
		t.Errorf("expected Reject, got %s", result.Report.Decision.Decision)
	}
	if result.Report.Decision.Offer != nil {
		t.Error("rejection must not carry an offer")
	}
}

func TestEvaluatePublishesEvents(t *testing.T) {
	ev, _, _, eventBus := newTestEvaluator(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	var scoreEvents, decisionEvents, offerEvents atomic.Int32
	eventBus.Subscribe(ctx, tenantID, domain.TopicScoreComputed, func(ctx context.Context, msg *domain.Message) error {
		var score domain.ScoreResult
		if err := json.Unmarshal(msg.Payload, &score); err == nil && score.Score == 850 {
			scoreEvents.Add(1)
		}
		return nil
	})
	eventBus.Subscribe(ctx, tenantID, domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		decisionEvents.Add(1)
		return nil
	})
	eventBus.Subscribe(ctx, tenantID, domain.TopicOffer, func(ctx context.Context, msg *domain.Message) error {
		offerEvents.Add(1)
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	if _, err := ev.Evaluate(ctx, evalInput("borrower-001")); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if scoreEvents.Load() == 1 && decisionEvents.Load() == 1 && offerEvents.Load() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected score/decision/offer events, got %d/%d/%d",
		scoreEvents.Load(), decisionEvents.Load(), offerEvents.Load())
}

func TestEvaluateInMemory(t *testing.T) {
	ev := New(nil, scoring.NewEngine(nil, nil), lending.NewEngine(nil, nil),
		nil, nil, nil, nil, "")

	result, err := ev.Evaluate(context.Background(), evalInput("borrower-001"))
	if err != nil {
		t.Fatalf("Evaluate failed without storage: %v", err)
	}
	if result.Report.Decision.Decision != domain.DecisionApprove {
		t.Errorf("expected Approve, got %s", result.Report.Decision.Decision)
	}
}

type stubPolicies struct {
	policy *domain.BankPolicy
}

func (s *stubPolicies) GetBankConfig(ctx context.Context, tenantID, bankCode string) (*domain.BankPolicy, error) {
	return s.policy, nil
}

func TestEvaluateAppliesBankPolicy(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.BankCode = "bank-x"
	policy.Weights = domain.ScoringWeights{PaymentHistory: 100}
	policy.InterestRates.BaseRate = 20

	ev := New(nil, scoring.NewEngine(nil, nil), lending.NewEngine(nil, &stubPolicies{policy: policy}),
		nil, nil, nil, nil, "")

	input := evalInput("borrower-001")
	input.BankCode = "bank-x"
	input.Factors.CreditUtilization = 1.0
	input.Factors.CreditAge = 0
	input.Factors.CreditMix = 0
	input.Factors.Inquiries = 10

	// Perfect payment history carries the bank's full weight.
	result, err := ev.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Report.Score.Score != 850 {
		t.Errorf("expected score 850 under the bank's weights, got %d", result.Report.Score.Score)
	}
	if result.Report.Decision.Decision != domain.DecisionApprove {
		t.Errorf("expected Approve, got %s", result.Report.Decision.Decision)
	}
	if result.Report.Decision.Offer.InterestRate != 20 {
		t.Errorf("expected the bank's base rate 20, got %g", result.Report.Decision.Offer.InterestRate)
	}

	// Without a bank code the default weights apply and the thin
	// profile falls below the lending threshold.
	input.BankCode = ""
	result, err = ev.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Report.Score.Score != 493 {
		t.Errorf("expected score 493 under default weights, got %d", result.Report.Score.Score)
	}
	if result.Report.Decision.Decision != domain.DecisionReject {
		t.Errorf("expected Reject, got %s", result.Report.Decision.Decision)
	}
}

func TestEvaluateStagedAppliesBankPolicy(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.BankCode = "bank-x"
	policy.CollateralOverride = true

	ev := New(nil, scoring.NewEngine(nil, nil), lending.NewEngine(nil, &stubPolicies{policy: policy}),
		nil, nil, nil, nil, "")

	input := evalInput("borrower-001")
	input.BankCode = "bank-x"
	input.Path = domain.PathStaged

	result, err := ev.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Outcome == nil || result.Outcome.Offer == nil {
		t.Fatalf("expected a staged offer, got %+v", result.Outcome)
	}
	if !result.Outcome.Offer.CollateralRequired {
		t.Error("expected the bank's collateral override on the staged offer")
	}
}

func TestGetReportCacheFirst(t *testing.T) {
	ev, _, lru, _ := newTestEvaluator(t)
	ctx := context.Background()

	cachedReport := &domain.CreditReport{
		ReportID:   "cached-only",
		TenantID:   "tenant-001",
		BorrowerID: "borrower-001",
		Score:      &domain.ScoreResult{Score: 700},
		UpdatedAt:  time.Now().UTC(),
	}
	if err := lru.SetReport(ctx, "tenant-001", "borrower-001", cachedReport, time.Minute); err != nil {
		t.Fatalf("SetReport failed: %v", err)
	}

	report, err := ev.GetReport(ctx, "tenant-001", "borrower-001")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if report.ReportID != "cached-only" {
		t.Errorf("expected the cached report, got %s", report.ReportID)
	}

	// Cache miss falls through to the repository.
	if _, err := ev.GetReport(ctx, "tenant-001", "borrower-unknown"); err != repository.ErrNotFound {
		t.Errorf("expected ErrNotFound on full miss, got %v", err)
	}
}

func TestRecalculateAll(t *testing.T) {
	ev, repo, _, _ := newTestEvaluator(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	for _, id := range []string{"borrower-001", "borrower-002"} {
		if _, err := ev.Evaluate(ctx, evalInput(id)); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
	}

	stats, err := ev.RecalculateAll(ctx, tenantID, scoring.Options{RecessionMode: true})
	if err != nil {
		t.Fatalf("RecalculateAll failed: %v", err)
	}
	if stats.Total != 2 || stats.Succeeded != 2 || stats.Failed != 0 {
		t.Errorf("expected 2/2/0, got %+v", stats)
	}

	report, err := repo.GetReport(ctx, tenantID, "borrower-001")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if !report.Score.RecessionMode {
		t.Error("expected recession-mode score after recalculation")
	}
	// Recalculation re-scores without issuing a new decision.
	if report.Decision != nil {
		t.Errorf("expected no fresh decision, got %+v", report.Decision)
	}
	if len(report.History) != 1 {
		t.Errorf("decision history must be preserved, got %d entries", len(report.History))
	}
}

func TestRecalculateAllSkipsMissingFactors(t *testing.T) {
	ev, repo, _, _ := newTestEvaluator(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	report := &domain.CreditReport{
		ReportID:   "report-bare",
		TenantID:   tenantID,
		BorrowerID: "borrower-bare",
		Score:      &domain.ScoreResult{Score: 650},
		UpdatedAt:  time.Now().UTC(),
	}
	if err := repo.SaveReport(ctx, tenantID, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	stats, err := ev.RecalculateAll(ctx, tenantID, scoring.Options{})
	if err != nil {
		t.Fatalf("RecalculateAll failed: %v", err)
	}
	if stats.Total != 1 || stats.Failed != 1 || stats.Succeeded != 0 {
		t.Errorf("expected the factorless report counted as failed, got %+v", stats)
	}
}

func TestRecalculateAllWithoutRepository(t *testing.T) {
	ev := New(nil, scoring.NewEngine(nil, nil), lending.NewEngine(nil, nil),
		nil, nil, nil, nil, "")

	if _, err := ev.RecalculateAll(context.Background(), "tenant-001", scoring.Options{}); err == nil {
		t.Error("expected error without a repository")
	}
}
