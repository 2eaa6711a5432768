package domain

import (
	"context"
	"time"
)

// PolicyCacheTTL is how long a bank policy snapshot stays cached before
// the config service rereads it from the repository.
const PolicyCacheTTL = 5 * time.Minute

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetPolicy retrieves a cached bank policy snapshot.
	GetPolicy(ctx context.Context, tenantID string, bankCode string) (*BankPolicy, error)

	// SetPolicy caches a validated bank policy.
	SetPolicy(ctx context.Context, tenantID string, bankCode string, policy *BankPolicy, ttl time.Duration) error

	// GetReport retrieves a borrower's cached latest credit report.
	GetReport(ctx context.Context, tenantID string, borrowerID string) (*CreditReport, error)

	// SetReport caches a borrower's latest credit report.
	SetReport(ctx context.Context, tenantID string, borrowerID string, report *CreditReport, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for application-frequency checks (e.g., evaluations in time window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
