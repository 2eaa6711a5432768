// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Bank policy operations
	SavePolicy(ctx context.Context, tenantID string, policy *BankPolicy) error
	GetPolicy(ctx context.Context, tenantID string, bankCode string) (*BankPolicy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*BankPolicy, error)
	DeletePolicy(ctx context.Context, tenantID string, bankCode string) error

	// Custom policy rule operations
	SavePolicyRule(ctx context.Context, tenantID string, rule *PolicyRule) error
	GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*PolicyRule, error)
	ListPolicyRules(ctx context.Context, tenantID string) ([]*PolicyRule, error)
	DeletePolicyRule(ctx context.Context, tenantID string, ruleID string) error

	// Credit report operations. SaveReport upserts the latest report and
	// appends its decision to the borrower's decision history.
	SaveReport(ctx context.Context, tenantID string, report *CreditReport) error
	GetReport(ctx context.Context, tenantID string, borrowerID string) (*CreditReport, error)
	ListReports(ctx context.Context, tenantID string) ([]*CreditReport, error)

	// Decision history
	GetDecisionHistory(ctx context.Context, tenantID string, borrowerID string) ([]*Decision, error)
	CountDecisionsSince(ctx context.Context, tenantID string, borrowerID string, since time.Time) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
