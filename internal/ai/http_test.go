package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestHTTPOracleAssess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tx domain.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if tx.Sender != "addr-a" {
			t.Errorf("unexpected sender %s", tx.Sender)
		}
		json.NewEncoder(w).Encode(Assessment{Score: 62, Confidence: 85})
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL)
	got, err := oracle.Assess(context.Background(), &domain.Transaction{Sender: "addr-a", Recipient: "addr-b", Amount: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 62 || got.Confidence != 85 {
		t.Errorf("assessment = %+v, want score 62 confidence 85", got)
	}
}

func TestHTTPOracleRejectsOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Assessment{Score: 140, Confidence: 85})
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL)
	if _, err := oracle.Assess(context.Background(), &domain.Transaction{}); err == nil {
		t.Error("expected error for out-of-range score")
	}
}

func TestHTTPOracleErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL)
	if _, err := oracle.Assess(context.Background(), &domain.Transaction{}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHTTPOracleHonorsContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(Assessment{Score: 10, Confidence: 90})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	oracle := NewHTTPOracle(srv.URL)
	start := time.Now()
	if _, err := oracle.Assess(ctx, &domain.Transaction{}); err == nil {
		t.Error("expected timeout error")
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("assess did not abort on context deadline")
	}
}
