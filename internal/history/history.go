// Package history counts a borrower's prior evaluations.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service counts recent lending evaluations per borrower. The count
// feeds the rule engine's prior_applications variable and cross-checks
// the reported recentLoanApplications factor.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// CountRecentApplications returns the number of decisions recorded for a
// borrower within the time window.
// This is the HistoryGetter function signature expected by the rule engine.
func (s *Service) CountRecentApplications(ctx context.Context, tenantID, borrowerID string, windowSecs int) (int64, error) {
	if tenantID == "" || borrowerID == "" {
		return 0, fmt.Errorf("tenantID and borrowerID are required")
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)

	if s.repo != nil {
		count, err := s.repo.CountDecisionsSince(ctx, tenantID, borrowerID, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count decisions: %w", err)
		}
		return int64(count), nil
	}

	return 0, fmt.Errorf("no data source available")
}

// RecordEvaluation bumps the borrower's windowed evaluation counter.
// Best effort: counting falls back to the repository when no cache is
// configured.
func (s *Service) RecordEvaluation(ctx context.Context, tenantID, borrowerID string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "evals:"+borrowerID, window)
}

// Getter returns a HistoryGetter function for the rule engine.
func (s *Service) Getter() func(ctx context.Context, tenantID, borrowerID string, windowSecs int) (int64, error) {
	return s.CountRecentApplications
}
