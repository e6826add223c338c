package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"riskauth-service/internal/bucketing"
	"riskauth-service/internal/config"
	"riskauth-service/internal/encryption"
	"riskauth-service/internal/features"
	"riskauth-service/internal/hashing"
	"riskauth-service/internal/service"
	"riskauth-service/internal/util"
)

// testRouter wires the router with a service whose stores are absent; only
// paths that fail validation before touching a store are exercised here.
func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"test-pepper-v1"},
		},
		Bucketing: config.BucketingConfig{UserBuckets: 64, EventBuckets: 16},
		Session:   config.SessionConfig{TTL: time.Hour},
	}

	svc := service.NewAuthService(
		nil, nil, nil, nil, nil,
		features.NewAggregator(nil),
		hashing.NewHasher(cfg),
		encryption.NewEncryptionManager(cfg, nil),
		bucketing.NewBucketingManager(cfg),
		cfg.Session.TTL,
	)

	authHandler := NewAuthHandler(svc, util.Get())
	return NewRouter(authHandler, nil, util.Get())
}

func TestStatusEndpointIsIdempotent(t *testing.T) {
	router := testRouter(t)

	var first string
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if i == 0 {
			first = rec.Body.String()
			continue
		}
		if rec.Body.String() != first {
			t.Errorf("status payload changed between calls: %q vs %q", first, rec.Body.String())
		}
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(first), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "running" {
		t.Errorf("status = %q, want running", body["status"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}

func TestAuthRejectsMalformedBody(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader("{not json"))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthRejectsUnknownAction(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth",
		strings.NewReader(`{"action":"disable","password":"x"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthRejectsRegisterWithoutEmail(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth",
		strings.NewReader(`{"action":"register","password":"x"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthRejectsLoginWithoutUserID(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth",
		strings.NewReader(`{"action":"login","password":"x"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEventsRejectsMissingUser(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
