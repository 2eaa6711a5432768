// Package worker provides async evaluation processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluator"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker processes evaluation requests asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	evaluator *evaluator.Evaluator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, ev *evaluator.Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		evaluator: ev,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicScoreRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicScoreRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processEvaluation(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	recalcSub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicReportRecalculate, func(ctx context.Context, msg *domain.Message) error {
		return w.processRecalculation(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, recalcSub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicScoreRequested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processEvaluation(ctx, msg.TenantID, msg)
}

// EvaluationMessage is the message payload for async evaluation requests.
type EvaluationMessage struct {
	TenantID      string                  `json:"tenantId"`
	BankCode      string                  `json:"bankCode,omitempty"`
	Factors       *domain.BorrowerFactors `json:"factors"`
	Borrower      *domain.BorrowerProfile `json:"borrower"`
	RecessionMode bool                    `json:"recessionMode,omitempty"`
	HashPII       bool                    `json:"hashPII,omitempty"`
	Path          domain.DecisionPath     `json:"path,omitempty"`
}

// RecalculationMessage is the payload for batch recalculation triggers.
type RecalculationMessage struct {
	TenantID      string `json:"tenantId"`
	RecessionMode bool   `json:"recessionMode,omitempty"`
}

// processEvaluation runs one evaluation through the pipeline.
func (w *Worker) processEvaluation(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var evalMsg EvaluationMessage
	if err := json.Unmarshal(msg.Payload, &evalMsg); err != nil {
		slog.Error("failed to parse evaluation message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if evalMsg.TenantID != "" {
		tenantID = evalMsg.TenantID
	}

	slog.Debug("processing evaluation",
		"tenant_id", tenantID,
		"bank_code", evalMsg.BankCode,
	)

	result, err := w.evaluator.Evaluate(ctx, &evaluator.Input{
		TenantID: tenantID,
		BankCode: evalMsg.BankCode,
		Factors:  evalMsg.Factors,
		Borrower: evalMsg.Borrower,
		Options: scoring.Options{
			RecessionMode: evalMsg.RecessionMode,
			HashPII:       evalMsg.HashPII,
		},
		Path: evalMsg.Path,
	})
	if err != nil {
		slog.Error("evaluation failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("evaluation processed",
		"tenant_id", tenantID,
		"borrower_id", result.Report.BorrowerID,
		"score", result.Report.Score.Score,
		"decision", result.Report.Decision.Decision,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// processRecalculation runs a tenant-wide score recalculation.
func (w *Worker) processRecalculation(ctx context.Context, tenantID string, msg *domain.Message) error {
	var recalcMsg RecalculationMessage
	if err := json.Unmarshal(msg.Payload, &recalcMsg); err != nil {
		slog.Error("failed to parse recalculation message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if recalcMsg.TenantID != "" {
		tenantID = recalcMsg.TenantID
	}

	stats, err := w.evaluator.RecalculateAll(ctx, tenantID, scoring.Options{
		RecessionMode: recalcMsg.RecessionMode,
	})
	if err != nil {
		slog.Error("batch recalculation failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("batch recalculation processed",
		"tenant_id", tenantID,
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
