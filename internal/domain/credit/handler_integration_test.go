package credit_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/domain/credit"
	"github.com/creditrail/credit-api/internal/middleware"
	"github.com/creditrail/credit-api/internal/pkg/jwt"
)

const testServiceToken = "credit-integration-service-token"

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func setupRouter(t *testing.T, svc *credit.Service, jwtSvc *jwt.Service) chi.Router {
	t.Helper()
	h := credit.NewHandler(svc)
	r := chi.NewRouter()
	r.Mount("/api/v1/credits", h.Routes(middleware.Auth(jwtSvc), middleware.ServiceAuth(testServiceToken)))
	return r
}

func performRequest(t *testing.T, r chi.Router, method, path, token string, asService bool, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if asService {
		req.Header.Set("X-Internal-Token", testServiceToken)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestCreditEndpointsIntegration(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(db)

	svc := newTestService(db)
	jwtSvc := jwt.NewService("credit-integration-secret", time.Hour)
	r := setupRouter(t, svc, jwtSvc)

	userID := uuid.New()
	token, err := jwtSvc.GenerateAccessToken(userID)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	t.Run("POST /allocate requires service token", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodPost, "/api/v1/credits/allocate", token, false, map[string]interface{}{
			"user_id": userID, "credit_type": "bonus", "amount": 100,
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 without service token, got %d", rec.Code)
		}
	})

	t.Run("POST /allocate", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodPost, "/api/v1/credits/allocate", "", true, map[string]interface{}{
			"user_id": userID, "credit_type": "bonus", "amount": 100,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("GET /balance", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodGet, "/api/v1/credits/balance", token, false, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decodeResponse(t, rec)
		var summary credit.BalanceSummary
		if err := json.Unmarshal(resp.Data, &summary); err != nil {
			t.Fatalf("decode summary failed: %v", err)
		}
		if summary.Total != 100 {
			t.Fatalf("expected total 100, got %d", summary.Total)
		}
	})

	t.Run("POST /consume insufficient is 422 with detail", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodPost, "/api/v1/credits/consume", "", true, map[string]interface{}{
			"user_id": userID, "amount": 250,
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d (%s)", rec.Code, rec.Body.String())
		}
		resp := decodeResponse(t, rec)
		if resp.Error == nil || resp.Error.Code != "INSUFFICIENT_CREDITS" {
			t.Fatalf("expected INSUFFICIENT_CREDITS error, got %+v", resp.Error)
		}
		if resp.Error.Details["available"] != "100" || resp.Error.Details["deficit"] != "150" {
			t.Fatalf("unexpected shortfall details: %+v", resp.Error.Details)
		}
	})

	t.Run("POST /consume", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodPost, "/api/v1/credits/consume", "", true, map[string]interface{}{
			"user_id": userID, "amount": 30, "billing_record_id": "http-bill-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("POST /refund without reason fails validation", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodPost, "/api/v1/credits/refund", "", true, map[string]interface{}{
			"transaction_id": uuid.New(), "amount": 10,
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for missing reason, got %d (%s)", rec.Code, rec.Body.String())
		}
		resp := decodeResponse(t, rec)
		if resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" || resp.Error.Details["reason"] == "" {
			t.Fatalf("expected a field error on reason, got %+v", resp.Error)
		}
	})

	t.Run("POST /transfer", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodPost, "/api/v1/credits/transfer", token, false, map[string]interface{}{
			"to_user_id": uuid.New(), "credit_type": "bonus", "amount": 20,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("POST /transfer to self is 400", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodPost, "/api/v1/credits/transfer", token, false, map[string]interface{}{
			"to_user_id": userID, "credit_type": "bonus", "amount": 10,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for self transfer, got %d", rec.Code)
		}
	})

	t.Run("GET /transactions", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodGet, "/api/v1/credits/transactions", token, false, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decodeResponse(t, rec)
		var transactions []credit.Transaction
		if err := json.Unmarshal(resp.Data, &transactions); err != nil {
			t.Fatalf("decode transactions failed: %v", err)
		}
		if len(transactions) != 3 {
			t.Fatalf("expected 3 ledger rows (allocate, consume, transfer_out), got %d", len(transactions))
		}
	})

	t.Run("GET /admin/stats", func(t *testing.T) {
		rec := performRequest(t, r, http.MethodGet, "/api/v1/credits/admin/stats", "", true, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decodeResponse(t, rec)
		var stats account.Stats
		if err := json.Unmarshal(resp.Data, &stats); err != nil {
			t.Fatalf("decode stats failed: %v", err)
		}
	})
}
