package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaBankPolicies = `
CREATE TABLE IF NOT EXISTS bank_policies (
    bank_code TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT,
    config TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (bank_code, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_bank_policies_tenant ON bank_policies(tenant_id);
CREATE INDEX IF NOT EXISTS idx_bank_policies_active ON bank_policies(tenant_id, active);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    score_delta REAL NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_tenant ON policy_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(tenant_id, enabled);
`

const schemaCreditReports = `
CREATE TABLE IF NOT EXISTS credit_reports (
    borrower_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    report_id TEXT NOT NULL,
    factors TEXT,
    score_result TEXT,
    lending_decision TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (borrower_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_credit_reports_tenant ON credit_reports(tenant_id);
CREATE INDEX IF NOT EXISTS idx_credit_reports_updated ON credit_reports(tenant_id, updated_at);
`

// schemaDecisionHistory is the append-only log of lending decisions.
// Rows are never updated or deleted.
const schemaDecisionHistory = `
CREATE TABLE IF NOT EXISTS decision_history (
    decision_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    borrower_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    score INTEGER NOT NULL,
    payload TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_history_tenant ON decision_history(tenant_id);
CREATE INDEX IF NOT EXISTS idx_decision_history_borrower ON decision_history(tenant_id, borrower_id);
CREATE INDEX IF NOT EXISTS idx_decision_history_time ON decision_history(tenant_id, borrower_id, evaluated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBankPolicies,
		schemaPolicyRules,
		schemaCreditReports,
		schemaDecisionHistory,
	}
}
