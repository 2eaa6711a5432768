// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SavePolicy upserts a bank policy with tenant isolation. Validation is
// the caller's responsibility; the policy service rejects invalid
// policies before they reach persistence.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.BankPolicy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if policy == nil || policy.BankCode == "" {
		return fmt.Errorf("%w: bankCode is required", ErrInvalidInput)
	}

	config, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO bank_policies (
			bank_code, tenant_id, name, config, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(bank_code, tenant_id) DO UPDATE SET
			name = excluded.name,
			config = excluded.config,
			active = 1,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		policy.BankCode, tenantID, policy.Name, string(config), now, now,
	)
	return err
}

// GetPolicy retrieves an active bank policy with tenant isolation.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, bankCode string) (*domain.BankPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT config FROM bank_policies
		WHERE tenant_id = ? AND bank_code = ? AND active = 1
	`

	var config string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, bankCode).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var policy domain.BankPolicy
	if err := json.Unmarshal([]byte(config), &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", bankCode, err)
	}

	return &policy, nil
}

// ListPolicies retrieves all active bank policies for a tenant.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.BankPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT config FROM bank_policies
		WHERE tenant_id = ? AND active = 1
		ORDER BY bank_code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.BankPolicy
	for rows.Next() {
		var config string
		if err := rows.Scan(&config); err != nil {
			return nil, err
		}

		var policy domain.BankPolicy
		if err := json.Unmarshal([]byte(config), &policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy: %w", err)
		}
		policies = append(policies, &policy)
	}

	return policies, rows.Err()
}

// DeletePolicy soft-deletes a policy by setting active = 0.
func (r *SQLRepository) DeletePolicy(ctx context.Context, tenantID string, bankCode string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE bank_policies
		SET active = 0, updated_at = ?
		WHERE tenant_id = ? AND bank_code = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, bankCode)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SavePolicyRule stores a custom rule with tenant isolation.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, tenantID string, rule *domain.PolicyRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (
			id, tenant_id, name, description, version, expression, score_delta, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			score_delta = excluded.score_delta,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.ScoreDelta, enabled,
		now, now,
	)
	return err
}

// GetPolicyRule retrieves a custom rule with tenant isolation.
func (r *SQLRepository) GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, score_delta, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.PolicyRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.ScoreDelta, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListPolicyRules retrieves all active custom rules for a tenant.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, tenantID string) ([]*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, score_delta, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.ScoreDelta, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeletePolicyRule soft-deletes a custom rule by setting enabled = 0.
func (r *SQLRepository) DeletePolicyRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE policy_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveReport upserts the borrower's latest credit report and appends its
// decision to the append-only decision history.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.CreditReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report == nil || report.BorrowerID == "" {
		return fmt.Errorf("%w: borrowerID is required", ErrInvalidInput)
	}

	factors, _ := json.Marshal(report.Factors)
	scoreResult, _ := json.Marshal(report.Score)
	decision, _ := json.Marshal(report.Decision)

	now := time.Now().UTC()

	query := `
		INSERT INTO credit_reports (
			borrower_id, tenant_id, report_id, factors, score_result, lending_decision, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(borrower_id, tenant_id) DO UPDATE SET
			report_id = excluded.report_id,
			factors = excluded.factors,
			score_result = excluded.score_result,
			lending_decision = excluded.lending_decision,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.BorrowerID, tenantID, report.ReportID,
		string(factors), string(scoreResult), string(decision), now,
	)
	if err != nil {
		return err
	}

	if report.Decision != nil {
		return r.appendDecision(ctx, tenantID, report.BorrowerID, report.Decision)
	}
	return nil
}

func (r *SQLRepository) appendDecision(ctx context.Context, tenantID, borrowerID string, decision *domain.Decision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	query := `
		INSERT INTO decision_history (
			decision_id, tenant_id, borrower_id, decision, score, payload, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		decision.DecisionID, tenantID, borrowerID,
		string(decision.Decision), decision.Score, string(payload), decision.EvaluatedAt,
	)
	return err
}

// GetReport retrieves the borrower's latest credit report, with the
// decision history attached.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, borrowerID string) (*domain.CreditReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT borrower_id, tenant_id, report_id, factors, score_result, lending_decision, updated_at
		FROM credit_reports
		WHERE tenant_id = ? AND borrower_id = ?
	`

	var report domain.CreditReport
	var factors, scoreResult, decision sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, borrowerID).Scan(
		&report.BorrowerID, &report.TenantID, &report.ReportID,
		&factors, &scoreResult, &decision, &report.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if factors.Valid && factors.String != "" && factors.String != "null" {
		json.Unmarshal([]byte(factors.String), &report.Factors)
	}
	if scoreResult.Valid && scoreResult.String != "" && scoreResult.String != "null" {
		json.Unmarshal([]byte(scoreResult.String), &report.Score)
	}
	if decision.Valid && decision.String != "" && decision.String != "null" {
		json.Unmarshal([]byte(decision.String), &report.Decision)
	}

	history, err := r.GetDecisionHistory(ctx, tenantID, borrowerID)
	if err != nil {
		return nil, err
	}
	report.History = history

	return &report, nil
}

// ListReports retrieves all credit reports for a tenant, most recently
// updated first. History is not attached; use GetReport for one borrower.
func (r *SQLRepository) ListReports(ctx context.Context, tenantID string) ([]*domain.CreditReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT borrower_id, tenant_id, report_id, factors, score_result, lending_decision, updated_at
		FROM credit_reports
		WHERE tenant_id = ?
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.CreditReport
	for rows.Next() {
		var report domain.CreditReport
		var factors, scoreResult, decision sql.NullString

		if err := rows.Scan(
			&report.BorrowerID, &report.TenantID, &report.ReportID,
			&factors, &scoreResult, &decision, &report.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if factors.Valid && factors.String != "" && factors.String != "null" {
			json.Unmarshal([]byte(factors.String), &report.Factors)
		}
		if scoreResult.Valid && scoreResult.String != "" && scoreResult.String != "null" {
			json.Unmarshal([]byte(scoreResult.String), &report.Score)
		}
		if decision.Valid && decision.String != "" && decision.String != "null" {
			json.Unmarshal([]byte(decision.String), &report.Decision)
		}

		reports = append(reports, &report)
	}

	return reports, rows.Err()
}

// GetDecisionHistory retrieves a borrower's decisions, newest first.
func (r *SQLRepository) GetDecisionHistory(ctx context.Context, tenantID string, borrowerID string) ([]*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload FROM decision_history
		WHERE tenant_id = ? AND borrower_id = ?
		ORDER BY evaluated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, borrowerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var decision domain.Decision
		if err := json.Unmarshal([]byte(payload), &decision); err != nil {
			return nil, fmt.Errorf("failed to parse decision: %w", err)
		}
		decisions = append(decisions, &decision)
	}

	return decisions, rows.Err()
}

// CountDecisionsSince counts a borrower's decisions within a time window.
func (r *SQLRepository) CountDecisionsSince(ctx context.Context, tenantID string, borrowerID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM decision_history
		WHERE tenant_id = ? AND borrower_id = ? AND evaluated_at >= ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, borrowerID, since).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
