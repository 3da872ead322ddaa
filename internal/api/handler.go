package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	monitor *engine.Monitor
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(monitor *engine.Monitor, cache domain.Cache, version string) *Handler {
	return &Handler{
		monitor: monitor,
		cache:   cache,
		version: version,
	}
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["cache"] = err.Error()
		} else {
			checks["cache"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"version":    h.version,
		"monitoring": h.monitor.MonitoringEnabled(),
		"checks":     checks,
	})
}

// Ready handles GET /ready requests.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// SubmitTransaction handles POST /transactions requests. The
// transaction is recorded against both parties and scored in-line.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.monitor.RecordAndScore(r.Context(), req.ToTransaction())
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		// Monitoring is switched off; the submission was dropped.
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":     "skipped",
			"monitoring": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// BatchRequest is the request body for POST /transactions/batch.
type BatchRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

// AnalyzeBatch handles POST /transactions/batch requests. The batch is
// scanned for cross-transaction patterns without touching per-address
// history.
func (h *Handler) AnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions must not be empty",
		})
		return
	}

	txs := make([]*domain.Transaction, 0, len(req.Transactions))
	for i := range req.Transactions {
		txs = append(txs, req.Transactions[i].ToTransaction())
	}

	findings := h.monitor.AnalyzeBatch(r.Context(), txs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyzed": len(txs),
		"findings": findings,
	})
}

// RecordFailure handles POST /addresses/{address}/failures requests.
func (h *Handler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	record, err := h.monitor.RecordFailure(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GetTransaction handles GET /transactions/{id} requests.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	tx, err := h.monitor.Transaction(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tx == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetAddress handles GET /addresses/{address} requests.
func (h *Handler) GetAddress(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	record := h.monitor.AddressRecord(r.Context(), address)
	writeJSON(w, http.StatusOK, record)
}

// GetAddressRisk handles GET /addresses/{address}/risk requests.
func (h *Handler) GetAddressRisk(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":          domain.NormalizeAddress(address),
		"riskScore":        h.monitor.RiskScore(r.Context(), address),
		"transactionCount": h.monitor.TransactionCount(r.Context(), address),
		"blacklisted":      h.monitor.IsBlacklisted(address),
		"whitelisted":      h.monitor.IsWhitelisted(address),
	})
}

// GetAddressFindings handles GET /addresses/{address}/findings requests.
func (h *Handler) GetAddressFindings(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	limit := queryInt(r, "limit", 100)

	findings, err := h.monitor.Findings(r.Context(), address, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if findings == nil {
		findings = []*domain.PatternFinding{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  domain.NormalizeAddress(address),
		"findings": findings,
	})
}

// ListAlerts handles GET /alerts requests. Accepts optional "since"
// (RFC 3339) and "limit" query parameters; the window defaults to the
// last 24 hours.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be an RFC 3339 timestamp",
			})
			return
		}
		since = parsed
	}
	limit := queryInt(r, "limit", 100)

	alerts, err := h.monitor.Alerts(r.Context(), since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since":  since,
		"alerts": alerts,
	})
}

// MonitoringRequest is the request body for POST /admin/monitoring.
type MonitoringRequest struct {
	Enabled bool `json:"enabled"`
}

// SetMonitoring handles POST /admin/monitoring requests.
func (h *Handler) SetMonitoring(w http.ResponseWriter, r *http.Request) {
	var req MonitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.monitor.SetMonitoringEnabled(r.Context(), GetCallerID(r.Context()), req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// GetMonitoring handles GET /admin/monitoring requests.
func (h *Handler) GetMonitoring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"enabled": h.monitor.MonitoringEnabled(),
	})
}

// GetThresholds handles GET /admin/thresholds requests.
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Thresholds())
}

// UpdateThresholds handles PUT /admin/thresholds requests.
func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var th domain.RiskThresholds
	if err := json.NewDecoder(r.Body).Decode(&th); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.monitor.UpdateThresholds(r.Context(), GetCallerID(r.Context()), th); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Thresholds())
}

// GetAIBlend handles GET /admin/ai-blend requests.
func (h *Handler) GetAIBlend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.AIBlend())
}

// UpdateAIBlend handles PUT /admin/ai-blend requests.
func (h *Handler) UpdateAIBlend(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AIBlendConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.monitor.UpdateAIBlend(r.Context(), GetCallerID(r.Context()), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.AIBlend())
}

// RegistryUpdateRequest is the request body for POST /admin/registry/{list}.
type RegistryUpdateRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// GetRegistry handles GET /admin/registry/{list} requests.
func (h *Handler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	list, ok := parseRegistryList(w, r)
	if !ok {
		return
	}
	members := h.monitor.RegistryMembers(list)
	if members == nil {
		members = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"list":      list,
		"addresses": members,
	})
}

// UpdateRegistry handles POST /admin/registry/{list} requests.
func (h *Handler) UpdateRegistry(w http.ResponseWriter, r *http.Request) {
	list, ok := parseRegistryList(w, r)
	if !ok {
		return
	}

	var req RegistryUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Add) == 0 && len(req.Remove) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "add or remove must list at least one address",
		})
		return
	}

	if err := h.monitor.UpdateRegistry(r.Context(), GetCallerID(r.Context()), list, req.Add, req.Remove); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"list":    list,
		"added":   len(req.Add),
		"removed": len(req.Remove),
	})
}

// ListRules handles GET /admin/rules requests.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.monitor.ListHeuristicRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rules == nil {
		rules = []*domain.HeuristicRule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// SaveRule handles POST /admin/rules requests.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.HeuristicRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.monitor.SaveHeuristicRule(r.Context(), GetCallerID(r.Context()), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules handles POST /admin/heuristics/reload requests.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	loaded, err := h.monitor.ReloadHeuristicRules(r.Context(), GetCallerID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loaded": loaded})
}

// DeleteRule handles DELETE /admin/rules/{id} requests.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if err := h.monitor.DeleteHeuristicRule(r.Context(), GetCallerID(r.Context()), ruleID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": ruleID})
}

func parseRegistryList(w http.ResponseWriter, r *http.Request) (domain.RegistryList, bool) {
	switch list := domain.RegistryList(chi.URLParam(r, "list")); list {
	case domain.ListBlacklist, domain.ListWhitelist:
		return list, true
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "list must be blacklist or whitelist",
		})
		return "", false
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// writeError maps domain and repository errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
