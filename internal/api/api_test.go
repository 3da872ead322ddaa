package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/heuristics"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/registry"
)

const (
	testAdminID    = "ops-admin"
	testAdminToken = "test-token"

	senderAddr    = "0x1111111111111111111111111111111111111111"
	recipientAddr = "0x2222222222222222222222222222222222222222"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	monitor, err := engine.New(engine.Options{
		AdminID:           testAdminID,
		Thresholds:        domain.DefaultThresholds(),
		AIBlend:           domain.DefaultAIBlendConfig(),
		MonitoringEnabled: true,
		Registry:          registry.New(),
		History:           history.NewStore(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	server := NewServer(
		domain.ServerConfig{Host: "127.0.0.1", Port: 0},
		monitor,
		domain.AdminConfig{ID: testAdminID, Token: testAdminToken},
		ServerOptions{Version: "test"},
	)
	return server.Router()
}

func doJSON(t *testing.T, router *chi.Mux, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(AdminTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestSubmitTransaction(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/transactions", domain.TransactionRequest{
		Sender:    senderAddr,
		Recipient: recipientAddr,
		Amount:    2000,
		Category:  domain.CategorySend,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var result domain.ScoreResult
	decodeBody(t, rec, &result)
	if result.TxID == "" {
		t.Error("txId not assigned")
	}
	if result.SenderScore != 25 || result.RecipientScore != 25 {
		t.Errorf("scores = %d/%d, want 25/25", result.SenderScore, result.RecipientScore)
	}
	if result.Alert != nil {
		t.Errorf("unexpected alert: %+v", result.Alert)
	}
}

func TestSubmitTransactionRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing sender", domain.TransactionRequest{
			Recipient: recipientAddr,
			Amount:    100,
			Category:  domain.CategorySend,
		}},
		{"unknown category", domain.TransactionRequest{
			Sender:    senderAddr,
			Recipient: recipientAddr,
			Amount:    100,
			Category:  domain.Category("teleport"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/transactions", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestGetAddressRisk(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/transactions", domain.TransactionRequest{
		Sender:    senderAddr,
		Recipient: recipientAddr,
		Amount:    2000,
		Category:  domain.CategorySend,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/addresses/"+senderAddr+"/risk", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Address          string `json:"address"`
		RiskScore        int    `json:"riskScore"`
		TransactionCount uint64 `json:"transactionCount"`
		Blacklisted      bool   `json:"blacklisted"`
		Whitelisted      bool   `json:"whitelisted"`
	}
	decodeBody(t, rec, &body)
	if body.RiskScore != 25 {
		t.Errorf("riskScore = %d, want 25", body.RiskScore)
	}
	if body.TransactionCount != 1 {
		t.Errorf("transactionCount = %d, want 1", body.TransactionCount)
	}
	if body.Blacklisted || body.Whitelisted {
		t.Errorf("clean address flagged: %+v", body)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/transactions/nonexistent", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong token", "not-the-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodGet, "/admin/monitoring", nil, tt.token)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}

	rec := doJSON(t, router, http.MethodGet, "/admin/monitoring", nil, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Errorf("authorized status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHeuristicsReload(t *testing.T) {
	he, err := heuristics.NewEngine(5)
	if err != nil {
		t.Fatalf("heuristics.NewEngine: %v", err)
	}
	defer he.Close()

	monitor, err := engine.New(engine.Options{
		AdminID:           testAdminID,
		Thresholds:        domain.DefaultThresholds(),
		AIBlend:           domain.DefaultAIBlendConfig(),
		MonitoringEnabled: true,
		Registry:          registry.New(),
		History:           history.NewStore(),
		Heuristics:        he,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	server := NewServer(
		domain.ServerConfig{Host: "127.0.0.1", Port: 0},
		monitor,
		domain.AdminConfig{ID: testAdminID, Token: testAdminToken},
		ServerOptions{Version: "test"},
	)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/admin/rules", domain.HeuristicRule{
		ID:         "hr-whale",
		Name:       "Whale Watch",
		Expression: "amount > 100000",
		Severity:   domain.SeverityMedium,
		Enabled:    true,
	}, testAdminToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save rule status = %d, want %d", rec.Code, http.StatusCreated)
	}

	rec = doJSON(t, router, http.MethodPost, "/admin/heuristics/reload", nil, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["loaded"] != float64(1) {
		t.Errorf("loaded = %v, want 1", body["loaded"])
	}

	rec = doJSON(t, router, http.MethodPost, "/admin/heuristics/reload", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated reload status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMonitoringToggle(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/admin/monitoring", MonitoringRequest{Enabled: false}, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d: %s", rec.Code, rec.Body.String())
	}

	// Submissions are dropped while monitoring is off.
	rec = doJSON(t, router, http.MethodPost, "/transactions", domain.TransactionRequest{
		Sender:    senderAddr,
		Recipient: recipientAddr,
		Amount:    100,
		Category:  domain.CategorySend,
	}, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "skipped" {
		t.Errorf("status = %v, want skipped", body["status"])
	}

	rec = doJSON(t, router, http.MethodPost, "/admin/monitoring", MonitoringRequest{Enabled: true}, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-enable status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/admin/monitoring", nil, testAdminToken)
	var state map[string]bool
	decodeBody(t, rec, &state)
	if !state["enabled"] {
		t.Error("monitoring still disabled after re-enable")
	}
}

func TestRegistryUpdate(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/admin/registry/blacklist", RegistryUpdateRequest{
		Add: []string{senderAddr},
	}, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/admin/registry/blacklist", nil, testAdminToken)
	var listing struct {
		List      string   `json:"list"`
		Addresses []string `json:"addresses"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Addresses) != 1 || listing.Addresses[0] != domain.NormalizeAddress(senderAddr) {
		t.Errorf("addresses = %v, want [%s]", listing.Addresses, domain.NormalizeAddress(senderAddr))
	}

	rec = doJSON(t, router, http.MethodGet, "/addresses/"+senderAddr+"/risk", nil, "")
	var risk struct {
		Blacklisted bool `json:"blacklisted"`
	}
	decodeBody(t, rec, &risk)
	if !risk.Blacklisted {
		t.Error("address not reported blacklisted after registry update")
	}

	t.Run("unknown list", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/admin/registry/greylist", RegistryUpdateRequest{
			Add: []string{senderAddr},
		}, testAdminToken)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("empty update", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/admin/registry/blacklist", RegistryUpdateRequest{}, testAdminToken)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestUpdateThresholds(t *testing.T) {
	router := newTestRouter(t)

	bad := domain.DefaultThresholds()
	bad.ContractInteractionRatioCutoffPct = 150
	rec := doJSON(t, router, http.MethodPut, "/admin/thresholds", bad, testAdminToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid thresholds status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	good := domain.DefaultThresholds()
	good.LargeTransferCutoff = 5000
	rec = doJSON(t, router, http.MethodPut, "/admin/thresholds", good, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid thresholds status = %d: %s", rec.Code, rec.Body.String())
	}

	var applied domain.RiskThresholds
	decodeBody(t, rec, &applied)
	if applied.LargeTransferCutoff != 5000 {
		t.Errorf("largeTransferCutoff = %d, want 5000", applied.LargeTransferCutoff)
	}
}

func TestAnalyzeBatch(t *testing.T) {
	router := newTestRouter(t)

	txs := make([]domain.TransactionRequest, 0, 3)
	for i := 0; i < 3; i++ {
		txs = append(txs, domain.TransactionRequest{
			Sender:    senderAddr,
			Recipient: fmt.Sprintf("0x%040d", i+1),
			Amount:    5000,
			Category:  domain.CategorySend,
		})
	}

	rec := doJSON(t, router, http.MethodPost, "/transactions/batch", BatchRequest{Transactions: txs}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Analyzed int                     `json:"analyzed"`
		Findings []domain.PatternFinding `json:"findings"`
	}
	decodeBody(t, rec, &body)
	if body.Analyzed != 3 {
		t.Errorf("analyzed = %d, want 3", body.Analyzed)
	}
	if len(body.Findings) == 0 {
		t.Error("expected large-transfer findings for 5000-unit batch")
	}

	t.Run("empty batch", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/transactions/batch", BatchRequest{}, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestRecordFailure(t *testing.T) {
	router := newTestRouter(t)

	var record domain.AddressRecord
	for i := 0; i < 3; i++ {
		rec := doJSON(t, router, http.MethodPost, "/addresses/"+senderAddr+"/failures", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		decodeBody(t, rec, &record)
	}
	if record.FailedTransactionCount != 3 {
		t.Errorf("failedTransactionCount = %d, want 3", record.FailedTransactionCount)
	}
}
