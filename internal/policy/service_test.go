package policy

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestService(t *testing.T) (*Service, domain.Repository, domain.Cache) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-policy-test-*.db")
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
	return NewService(nil, lru, repo), repo, lru
}

func TestGetBankConfigDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	t.Run("EmptyBankCode", func(t *testing.T) {
		policy, err := svc.GetBankConfig(ctx, "tenant-001", "")
		if err != nil {
			t.Fatalf("GetBankConfig failed: %v", err)
		}
		if policy.BankCode != "default" {
			t.Errorf("expected default policy, got %s", policy.BankCode)
		}
	})

	t.Run("UnknownBankCode", func(t *testing.T) {
		policy, err := svc.GetBankConfig(ctx, "tenant-001", "NOSUCHBANK")
		if err != nil {
			t.Fatalf("GetBankConfig failed: %v", err)
		}
		if policy.BankCode != "default" {
			t.Errorf("expected default policy fallback, got %s", policy.BankCode)
		}
	})
}

func TestSaveAndGetBankConfig(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	policy := domain.DefaultPolicy()
	policy.BankCode = "FIRSTNATL"
	policy.InterestRates.BaseRate = 10

	if err := svc.SavePolicy(ctx, tenantID, policy); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}

	loaded, err := svc.GetBankConfig(ctx, tenantID, "FIRSTNATL")
	if err != nil {
		t.Fatalf("GetBankConfig failed: %v", err)
	}
	if loaded.InterestRates.BaseRate != 10 {
		t.Errorf("expected BaseRate 10, got %g", loaded.InterestRates.BaseRate)
	}

	// Second lookup is served from cache: removing the stored row must
	// not change the result until the cache entry is cleared.
	if err := repo.DeletePolicy(ctx, tenantID, "FIRSTNATL"); err != nil {
		t.Fatalf("DeletePolicy failed: %v", err)
	}

	cached, err := svc.GetBankConfig(ctx, tenantID, "FIRSTNATL")
	if err != nil {
		t.Fatalf("GetBankConfig failed: %v", err)
	}
	if cached.BankCode != "FIRSTNATL" {
		t.Errorf("expected cached policy, got %s", cached.BankCode)
	}

	svc.ClearCache(ctx, tenantID, "FIRSTNATL")

	fallback, err := svc.GetBankConfig(ctx, tenantID, "FIRSTNATL")
	if err != nil {
		t.Fatalf("GetBankConfig failed: %v", err)
	}
	if fallback.BankCode != "default" {
		t.Errorf("expected default after cache clear and delete, got %s", fallback.BankCode)
	}
}

func TestSavePolicyRejectsInvalid(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	policy := domain.DefaultPolicy()
	policy.BankCode = "BADBANK"
	policy.Weights.PaymentHistory = 80 // weights no longer sum to 100

	err := svc.SavePolicy(ctx, "tenant-001", policy)
	if err == nil {
		t.Fatal("expected ConfigurationError")
	}

	var confErr *domain.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
	if confErr.BankCode != "BADBANK" {
		t.Errorf("expected bank code BADBANK, got %s", confErr.BankCode)
	}
	if len(confErr.Violations) == 0 {
		t.Error("expected violations to be reported")
	}

	// Invalid policy must never be persisted.
	loaded, err := svc.GetBankConfig(ctx, "tenant-001", "BADBANK")
	if err != nil {
		t.Fatalf("GetBankConfig failed: %v", err)
	}
	if loaded.BankCode != "default" {
		t.Errorf("invalid policy leaked into storage: %s", loaded.BankCode)
	}
}

func TestGetBankConfigInvalidStoredPolicy(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	// Write an invalid policy directly, bypassing service validation.
	broken := domain.DefaultPolicy()
	broken.BankCode = "BROKEN"
	broken.MaxScore = broken.MinScore
	if err := repo.SavePolicy(ctx, tenantID, broken); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}

	loaded, err := svc.GetBankConfig(ctx, tenantID, "BROKEN")
	if err != nil {
		t.Fatalf("GetBankConfig failed: %v", err)
	}
	if loaded.BankCode != "default" {
		t.Errorf("expected default fallback for invalid stored policy, got %s", loaded.BankCode)
	}
}

func TestSavePolicyNil(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.SavePolicy(context.Background(), "tenant-001", nil)
	if err == nil || !domain.IsValidationError(err) {
		t.Errorf("expected ValidationError for nil policy, got %v", err)
	}
}

func TestClearCacheAllPolicies(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	for _, code := range []string{"BANKA", "BANKB"} {
		p := domain.DefaultPolicy()
		p.BankCode = code
		if err := svc.SavePolicy(ctx, tenantID, p); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}
		if _, err := svc.GetBankConfig(ctx, tenantID, code); err != nil {
			t.Fatalf("GetBankConfig failed: %v", err)
		}
	}

	// Update the stored policy behind the cache's back.
	updated := domain.DefaultPolicy()
	updated.BankCode = "BANKA"
	updated.InterestRates.BaseRate = 9
	if err := repo.SavePolicy(ctx, tenantID, updated); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}

	stale, err := svc.GetBankConfig(ctx, tenantID, "BANKA")
	if err != nil {
		t.Fatalf("GetBankConfig failed: %v", err)
	}
	if stale.InterestRates.BaseRate != 12 {
		t.Errorf("expected stale cached BaseRate 12, got %g", stale.InterestRates.BaseRate)
	}

	// Empty bank code clears every cached policy for the tenant.
	svc.ClearCache(ctx, tenantID, "")

	fresh, err := svc.GetBankConfig(ctx, tenantID, "BANKA")
	if err != nil {
		t.Fatalf("GetBankConfig failed: %v", err)
	}
	if fresh.InterestRates.BaseRate != 9 {
		t.Errorf("expected refreshed BaseRate 9, got %g", fresh.InterestRates.BaseRate)
	}
}
