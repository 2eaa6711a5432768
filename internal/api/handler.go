package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluator"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/reasoning"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	scoring   *scoring.Engine
	evaluator *evaluator.Evaluator
	policies  *policy.Service
	rules     *rules.Engine
	reasoning *reasoning.Engine
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, scoringEngine *scoring.Engine, ev *evaluator.Evaluator, policies *policy.Service, rulesEngine *rules.Engine, reasoningEngine *reasoning.Engine, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		scoring:   scoringEngine,
		evaluator: ev,
		policies:  policies,
		rules:     rulesEngine,
		reasoning: reasoningEngine,
		version:   version,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	BankCode      string                  `json:"bankCode,omitempty"`
	Factors       *domain.BorrowerFactors `json:"factors"`
	RecessionMode bool                    `json:"recessionMode,omitempty"`
	HashPII       bool                    `json:"hashPII,omitempty"`
	Debug         bool                    `json:"debug,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Result   *domain.ScoreResult `json:"result"`
	Metadata ResponseMetadata    `json:"metadata"`
}

// ResponseMetadata carries trace and timing info on engine responses.
type ResponseMetadata struct {
	TraceID    string `json:"traceId"`
	DurationMs int64  `json:"durationMs"`
	Version    string `json:"version"`
}

// Score handles POST /score: synchronous scoring without a lending
// decision.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Factors == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "factors is required",
		})
		return
	}

	// Bank-specific policy when a bankCode is supplied; default otherwise.
	var bankPolicy *domain.BankPolicy
	if req.BankCode != "" && h.policies != nil {
		p, err := h.policies.GetBankConfig(ctx, tenantID, req.BankCode)
		if err == nil {
			bankPolicy = p
		}
	}

	result, err := h.scoring.Score(ctx, tenantID, req.Factors, bankPolicy, scoring.Options{
		RecessionMode: req.RecessionMode,
		HashPII:       req.HashPII,
		Debug:         req.Debug,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	result.AIEnabled = h.aiEnabled()

	writeJSON(w, http.StatusOK, ScoreResponse{
		Result: result,
		Metadata: ResponseMetadata{
			TraceID:    traceID,
			DurationMs: time.Since(start).Milliseconds(),
			Version:    h.version,
		},
	})
}

// DecisionRequest is the request body for POST /decisions and POST /offers.
type DecisionRequest struct {
	BankCode      string                  `json:"bankCode,omitempty"`
	Factors       *domain.BorrowerFactors `json:"factors"`
	Borrower      *domain.BorrowerProfile `json:"borrower"`
	RecessionMode bool                    `json:"recessionMode,omitempty"`
	HashPII       bool                    `json:"hashPII,omitempty"`
	Explain       bool                    `json:"explain,omitempty"`
}

// DecisionResponse is the response for POST /decisions and POST /offers.
type DecisionResponse struct {
	Report      *domain.CreditReport `json:"report"`
	Outcome     *domain.OfferOutcome `json:"outcome,omitempty"`
	Explanation *domain.Explanation  `json:"explanation,omitempty"`
	Metadata    ResponseMetadata     `json:"metadata"`
}

// Decide handles POST /decisions: score, threshold decision and offer in
// one call.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, domain.PathThreshold)
}

// Offer handles POST /offers: the staged calculator path with a full
// adjustment audit trail.
func (h *Handler) Offer(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, domain.PathStaged)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, path domain.DecisionPath) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Factors == nil || req.Borrower == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "factors and borrower are required",
		})
		return
	}
	if req.Borrower.BorrowerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "borrower.borrowerId is required",
		})
		return
	}

	result, err := h.evaluator.Evaluate(ctx, &evaluator.Input{
		TenantID: tenantID,
		BankCode: req.BankCode,
		Factors:  req.Factors,
		Borrower: req.Borrower,
		Options: scoring.Options{
			RecessionMode: req.RecessionMode,
			HashPII:       req.HashPII,
		},
		Path: path,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Report.Score != nil {
		result.Report.Score.AIEnabled = h.aiEnabled()
	}

	resp := DecisionResponse{
		Report:  result.Report,
		Outcome: result.Outcome,
		Metadata: ResponseMetadata{
			TraceID:    traceID,
			DurationMs: time.Since(start).Milliseconds(),
			Version:    h.version,
		},
	}

	if req.Explain && h.reasoning != nil {
		explanation, err := h.reasoning.Explain(ctx, result.Report.Score, result.Report.Decision)
		if err != nil {
			slog.Warn("explanation generation failed", "error", err)
		} else {
			resp.Explanation = explanation
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Explain handles POST /explanations: a narrative for a previously
// stored report.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	borrowerID := chi.URLParam(r, "borrowerId")

	if borrowerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "borrower id is required",
		})
		return
	}
	if h.reasoning == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "reasoning engine not available",
		})
		return
	}

	report, err := h.evaluator.GetReport(ctx, tenantID, borrowerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if report.Score == nil || report.Decision == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "report has no decision to explain",
		})
		return
	}

	explanation, err := h.reasoning.Explain(ctx, report.Score, report.Decision)
	if err != nil {
		slog.Error("explanation generation failed", "borrower_id", borrowerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to generate explanation",
		})
		return
	}

	writeJSON(w, http.StatusOK, explanation)
}

// GetReport retrieves a borrower's latest credit report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	borrowerID := chi.URLParam(r, "borrowerId")

	if borrowerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "borrower id is required",
		})
		return
	}

	report, err := h.evaluator.GetReport(ctx, tenantID, borrowerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if report.Score != nil {
		report.Score.AIEnabled = h.aiEnabled()
	}

	writeJSON(w, http.StatusOK, report)
}

// GetDecisionHistory retrieves a borrower's full decision history.
func (h *Handler) GetDecisionHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	borrowerID := chi.URLParam(r, "borrowerId")

	if borrowerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "borrower id is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	history, err := h.repo.GetDecisionHistory(ctx, tenantID, borrowerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"borrowerId": borrowerID,
		"decisions":  history,
		"count":      len(history),
	})
}

// RecalculateRequest is the request body for POST /reports/recalculate.
type RecalculateRequest struct {
	RecessionMode bool `json:"recessionMode,omitempty"`

	// Async queues the recalculation on the event bus instead of
	// running it inline.
	Async bool `json:"async,omitempty"`
}

// Recalculate handles POST /reports/recalculate: re-score every stored
// report for the tenant, typically after a policy or weight change.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req RecalculateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	if req.Async && h.bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"tenantId":      tenantID,
			"recessionMode": req.RecessionMode,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicReportRecalculate, payload); err != nil {
			slog.Error("failed to queue recalculation", "tenant_id", tenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue recalculation",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
		})
		return
	}

	stats, err := h.evaluator.RecalculateAll(ctx, tenantID, scoring.Options{
		RecessionMode: req.RecessionMode,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// BANK POLICY HANDLERS
// ============================================================================

// ListPolicies returns all active bank policies for the tenant.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	policies, err := h.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"count":    len(policies),
	})
}

// GetPolicy retrieves a bank policy by bank code. The response is the
// effective policy, so an unknown bank code returns the default.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	bankCode := chi.URLParam(r, "bankCode")

	if bankCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "bank code is required",
		})
		return
	}

	p, err := h.policies.GetBankConfig(ctx, tenantID, bankCode)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// SavePolicy creates or replaces a bank policy. Invalid policies are
// rejected with the full violation list and never activated.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	bankCode := chi.URLParam(r, "bankCode")

	var p domain.BankPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if bankCode != "" {
		p.BankCode = bankCode
	}

	if err := h.policies.SavePolicy(ctx, tenantID, &p); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("bank policy saved", "tenant_id", tenantID, "bank_code", p.BankCode)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bankCode": p.BankCode,
		"message":  "policy saved",
	})
}

// ValidatePolicy checks a bank policy against its invariants without
// persisting it.
func (h *Handler) ValidatePolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.BankPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	violations := p.Validate()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bankCode":   p.BankCode,
		"valid":      len(violations) == 0,
		"violations": violations,
	})
}

// DeletePolicy deactivates a bank policy. Subsequent lookups fall back
// to the default policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	bankCode := chi.URLParam(r, "bankCode")

	if bankCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "bank code is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeletePolicy(ctx, tenantID, bankCode); err != nil {
		writeError(w, err)
		return
	}
	h.policies.ClearCache(ctx, tenantID, bankCode)

	slog.Info("bank policy deleted", "tenant_id", tenantID, "bank_code", bankCode)
	writeJSON(w, http.StatusOK, map[string]string{
		"bankCode": bankCode,
		"message":  "policy deleted",
	})
}

// ClearPolicyCacheRequest is the request body for POST /policies/cache/clear.
type ClearPolicyCacheRequest struct {
	BankCode string `json:"bankCode,omitempty"`
}

// ClearPolicyCache evicts cached policy snapshots. An empty bank code
// clears every policy for the tenant.
func (h *Handler) ClearPolicyCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ClearPolicyCacheRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	h.policies.ClearCache(ctx, tenantID, req.BankCode)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "policy cache cleared",
	})
}

// ============================================================================
// POLICY RULE HANDLERS
// ============================================================================

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// ListRules returns all loaded custom scoring rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.rules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a scoring rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	ScoreDelta  float64 `json:"scoreDelta"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule creates a new scoring rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.PolicyRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		ScoreDelta:  req.ScoreDelta,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression by attempting to load it.
	if err := h.rules.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePolicyRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("scoring rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule disables a stored rule. The engine keeps serving the old
// rule set until the next reload.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeletePolicyRule(ctx, GlobalTenantID, ruleID); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("scoring rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      ruleID,
		"message": "Rule deleted. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListPolicyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// aiEnabled reports whether AI narration is available for explanations.
func (h *Handler) aiEnabled() bool {
	return h.reasoning != nil && h.reasoning.AIEnabled()
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var confErr *domain.ConfigurationError
	if errors.As(err, &confErr) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      confErr.Error(),
			"bankCode":   confErr.BankCode,
			"violations": confErr.Violations,
		})
		return
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  valErr.Error(),
			"field":  valErr.Field,
			"reason": valErr.Reason,
		})
		return
	}

	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
		return
	}
	if errors.Is(err, repository.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
