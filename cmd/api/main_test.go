package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/config"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/payments"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func setupTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	log := zaptest.NewLogger(t)
	links := payments.LinkConfig{Secret: "api-test", BaseURL: "https://pay.example.com", DefaultValidity: 24 * time.Hour}
	clk := clock.NewFixed(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	server, err := NewServer(store.NewMemoryStore(), notify.NewLogMessenger(log), links, config.SchedulerConfig{}, clk, log)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { server.storage.Close() })
	return server, server.Routes()
}

func do(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func openLoanWithCase(t *testing.T, router *mux.Router) models.LoanAccount {
	t.Helper()
	rr := do(t, router, "POST", "/loans", map[string]any{
		"account_number": "LN-9001",
		"customer_code":  "C-9001",
		"customer_name":  "Meera Iyer",
		"principal":      "1000",
		"interest":       "100",
		"penalty":        "50",
		"days_past_due":  45,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 opening loan, got %d: %s", rr.Code, rr.Body.String())
	}
	var loan models.LoanAccount
	json.Unmarshal(rr.Body.Bytes(), &loan)

	rr = do(t, router, "POST", "/cases", map[string]any{"loan_account_id": loan.ID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating case, got %d: %s", rr.Code, rr.Body.String())
	}
	return loan
}

func TestAPI_RecordAndReversePayment(t *testing.T) {
	_, router := setupTestServer(t)
	loan := openLoanWithCase(t, router)

	rr := do(t, router, "POST", "/loans/"+loan.ID.String()+"/payments", map[string]any{"amount": "120", "mode": "upi"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var p models.Payment
	json.Unmarshal(rr.Body.Bytes(), &p)
	if !p.InterestAmount.Equal(decimal.NewFromInt(100)) || !p.PenaltyAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected 100 interest and 20 penalty, got %s and %s", p.InterestAmount, p.PenaltyAmount)
	}

	rr = do(t, router, "GET", "/loans/"+loan.ID.String(), nil)
	var fetched models.LoanAccount
	json.Unmarshal(rr.Body.Bytes(), &fetched)
	if !fetched.TotalOutstanding.Equal(decimal.NewFromInt(1030)) {
		t.Errorf("Expected outstanding 1030, got %s", fetched.TotalOutstanding)
	}

	rr = do(t, router, "POST", "/payments/"+p.ID.String()+"/reverse", map[string]any{"reason": "duplicate entry"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 reversing, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, "POST", "/payments/"+p.ID.String()+"/reverse", map[string]any{"reason": "again"})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on second reversal, got %d", rr.Code)
	}

	rr = do(t, router, "GET", "/loans/"+loan.ID.String(), nil)
	json.Unmarshal(rr.Body.Bytes(), &fetched)
	if !fetched.TotalOutstanding.Equal(decimal.NewFromInt(1150)) {
		t.Errorf("Expected outstanding restored to 1150, got %s", fetched.TotalOutstanding)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	_, router := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown loan", "GET", "/loans/8d7b7c0e-5a4e-4d7f-9d1a-0d6f2f3c9b11", nil, http.StatusNotFound},
		{"bad id", "GET", "/loans/not-a-uuid", nil, http.StatusBadRequest},
		{"invalid loan", "POST", "/loans", map[string]any{"account_number": "LN-1"}, http.StatusBadRequest},
		{"malformed body", "POST", "/cases", "{", http.StatusBadRequest},
		{"range required", "GET", "/analytics/efficiency", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, router, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if tt.want != http.StatusBadRequest && tt.want != http.StatusNotFound {
				return
			}
			var e errorResponse
			json.Unmarshal(rr.Body.Bytes(), &e)
			if e.Code == "" {
				t.Errorf("Expected an error code in %s", rr.Body.String())
			}
		})
	}
}

func TestAPI_PaymentLinkRedeem(t *testing.T) {
	_, router := setupTestServer(t)
	loan := openLoanWithCase(t, router)

	rr := do(t, router, "POST", "/loans/"+loan.ID.String()+"/payment-links", map[string]any{"amount": "150", "validity_hours": 2})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Link  models.PaymentLink `json:"link"`
		Token string             `json:"token"`
	}
	json.Unmarshal(rr.Body.Bytes(), &created)
	if created.Token == "" {
		t.Fatal("Expected a link token")
	}

	redeem := func() bool {
		rr := do(t, router, "POST", "/payment-links/redeem", map[string]any{"token": created.Token, "transaction_id": "GW-1"})
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var out map[string]bool
		json.Unmarshal(rr.Body.Bytes(), &out)
		return out["redeemed"]
	}
	if !redeem() {
		t.Error("Expected first redemption to succeed")
	}
	if redeem() {
		t.Error("Expected a used link to be refused")
	}

	rr = do(t, router, "GET", "/loans/"+loan.ID.String()+"/payments", nil)
	var paid []models.Payment
	json.Unmarshal(rr.Body.Bytes(), &paid)
	if len(paid) != 1 || paid[0].Mode != models.PaymentModePaymentLink {
		t.Errorf("Expected one payment-link payment, got %+v", paid)
	}
}

func TestAPI_RunJob(t *testing.T) {
	_, router := setupTestServer(t)
	openLoanWithCase(t, router)

	rr := do(t, router, "POST", "/jobs/"+jobBucketRefresh, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Job     string `json:"job"`
		Updated int    `json:"updated"`
	}
	json.Unmarshal(rr.Body.Bytes(), &out)
	if out.Job != jobBucketRefresh {
		t.Errorf("Expected job %s, got %s", jobBucketRefresh, out.Job)
	}

	rr = do(t, router, "POST", "/jobs/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown job, got %d", rr.Code)
	}
}
