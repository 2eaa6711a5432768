// Package policy provides the cached bank configuration service.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Service loads bank policies through a cache with a 5-minute TTL,
// falling back to the repository and then to the default policy.
// A stored policy that fails validation never reaches the cache and
// never crashes in-flight scoring.
//
// Cache refills are idempotent snapshot re-fetches; last write wins.
type Service struct {
	logger *slog.Logger
	cache  domain.Cache
	repo   domain.Repository
	ttl    time.Duration
}

// NewService creates a bank configuration service.
func NewService(logger *slog.Logger, cache domain.Cache, repo domain.Repository) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, cache: cache, repo: repo, ttl: domain.PolicyCacheTTL}
}

// GetBankConfig returns the effective policy for a bank code. Missing or
// invalid stored policies resolve to the default policy.
func (s *Service) GetBankConfig(ctx context.Context, tenantID string, bankCode string) (*domain.BankPolicy, error) {
	if bankCode == "" {
		return domain.DefaultPolicy(), nil
	}

	if s.cache != nil {
		cached, err := s.cache.GetPolicy(ctx, tenantID, bankCode)
		if err != nil {
			s.logger.Warn("policy cache read failed", "tenantId", tenantID, "bankCode", bankCode, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	stored, err := s.repo.GetPolicy(ctx, tenantID, bankCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("load policy %q: %w", bankCode, err)
	}

	if violations := stored.Validate(); len(violations) > 0 {
		s.logger.Error("stored policy failed validation, using default",
			"tenantId", tenantID,
			"bankCode", bankCode,
			"violations", len(violations),
		)
		return domain.DefaultPolicy(), nil
	}

	if s.cache != nil {
		if err := s.cache.SetPolicy(ctx, tenantID, bankCode, stored, s.ttl); err != nil {
			s.logger.Warn("policy cache write failed", "tenantId", tenantID, "bankCode", bankCode, "error", err)
		}
	}

	return stored, nil
}

// SavePolicy validates and persists a policy, then invalidates its
// cache entry. Invalid policies are rejected with a ConfigurationError
// and never persisted as active.
func (s *Service) SavePolicy(ctx context.Context, tenantID string, policy *domain.BankPolicy) error {
	if policy == nil {
		return domain.NewValidationError("policy", "must not be nil")
	}
	if violations := policy.Validate(); len(violations) > 0 {
		return &domain.ConfigurationError{BankCode: policy.BankCode, Violations: violations}
	}
	if err := s.repo.SavePolicy(ctx, tenantID, policy); err != nil {
		return fmt.Errorf("save policy %q: %w", policy.BankCode, err)
	}
	s.ClearCache(ctx, tenantID, policy.BankCode)
	return nil
}

// ClearCache drops the cached policy for one bank code, or all policies
// for the tenant when bankCode is empty.
func (s *Service) ClearCache(ctx context.Context, tenantID string, bankCode string) {
	if s.cache == nil {
		return
	}
	if bankCode != "" {
		if err := s.cache.Delete(ctx, tenantID, policyCacheKey(bankCode)); err != nil {
			s.logger.Warn("policy cache clear failed", "tenantId", tenantID, "bankCode", bankCode, "error", err)
		}
		return
	}
	policies, err := s.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		s.logger.Warn("policy cache clear-all failed", "tenantId", tenantID, "error", err)
		return
	}
	for _, p := range policies {
		if err := s.cache.Delete(ctx, tenantID, policyCacheKey(p.BankCode)); err != nil {
			s.logger.Warn("policy cache clear failed", "tenantId", tenantID, "bankCode", p.BankCode, "error", err)
		}
	}
}

func policyCacheKey(bankCode string) string {
	return "policy:" + bankCode
}
