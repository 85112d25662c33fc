package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardinalpay/arbiter/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "error",
		DecisionBudget:      config.DefaultDecisionBudget,
		RulesTimeout:        config.DefaultRulesTimeout,
		ScoreTimeout:        config.DefaultScoreTimeout,
		MidThreshold:        config.DefaultMidThreshold,
		HighThreshold:       config.DefaultHighThreshold,
		RuleRefreshInterval: time.Minute,
		IdempotencyTTL:      time.Hour,
		AuditSecret:         "test-audit-secret-0123456789",
		BreakerThreshold:    config.DefaultBreakerThreshold,
		BreakerOpenDuration: 10 * time.Second,
		RateLimitRPS:        1000,
		AdminSecret:         "test-admin-secret",
	}
}

// newTestServer creates an in-memory server
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// issueKey provisions a tenant API key through the operator endpoint
func issueKey(t *testing.T, s *Server, tenantID string) string {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/admin/tenants/"+tenantID+"/keys", nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 issuing key, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	key, _ := resp["apiKey"].(string)
	if !strings.HasPrefix(key, "sk_") {
		t.Fatalf("Expected sk_ key in response, got %q", key)
	}
	return key
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("Expected status 'ok', got %v", resp.Status)
	}
	if len(resp.Subsystems) == 0 {
		t.Error("Expected subsystem statuses in health response")
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestDecisionRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := map[string]bool{
		"POST:/v1/decisions/score":              false,
		"GET:/v1/decisions/:id":                 false,
		"GET:/v1/events/:eventId/decisions":     false,
		"GET:/v1/audit/entries":                 false,
		"GET:/v1/audit/verify":                  false,
		"GET:/v1/feed":                          false,
		"POST:/v1/admin/rules":                  false,
		"POST:/v1/admin/tenants/:tenantId/keys": false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for route, found := range expected {
		if !found {
			t.Errorf("Route %s not registered", route)
		}
	}
}

// ---------------------------------------------------------------------------
// Auth boundary tests
// ---------------------------------------------------------------------------

func TestScoreRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	body := `{"eventId":"evt_1","idempotencyKey":"idem-1","amount":25,"currency":"USD","channel":"card_not_present"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/decisions/score", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

func TestAdminRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/admin/tenants/ten_acme/keys", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong admin secret, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end decision flow
// ---------------------------------------------------------------------------

func TestScoreEndToEnd(t *testing.T) {
	s := newTestServer(t)
	key := issueKey(t, s, "ten_acme")

	score := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/decisions/score", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)
		s.router.ServeHTTP(w, req)
		return w
	}

	body := `{"eventId":"evt_1001","idempotencyKey":"idem-1001","amount":42.50,"currency":"USD","channel":"card_not_present"}`
	w := score(body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var dec map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &dec); err != nil {
		t.Fatalf("Failed to parse decision: %v", err)
	}

	// No rules loaded and no scorer configured: the request allows
	if dec["verdict"] != "ALLOW" {
		t.Errorf("Expected ALLOW, got %v", dec["verdict"])
	}
	if dec["tenantId"] != "ten_acme" {
		t.Errorf("Expected tenantId from auth context, got %v", dec["tenantId"])
	}
	id, _ := dec["id"].(string)
	if !strings.HasPrefix(id, "dec_") {
		t.Errorf("Expected dec_ decision ID, got %q", id)
	}

	// Replaying the same idempotency key returns the stored decision
	w2 := score(body)
	if w2.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replay, got %d", w2.Code)
	}
	var replay map[string]interface{}
	if err := json.Unmarshal(w2.Body.Bytes(), &replay); err != nil {
		t.Fatalf("Failed to parse replay: %v", err)
	}
	if replay["id"] != dec["id"] {
		t.Errorf("Expected replayed decision %v, got %v", dec["id"], replay["id"])
	}

	// The stored decision is retrievable
	w3 := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/decisions/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+key)
	s.router.ServeHTTP(w3, req)
	if w3.Code != http.StatusOK {
		t.Errorf("Expected 200 fetching decision, got %d: %s", w3.Code, w3.Body.String())
	}
}

func TestScoreValidationFailure(t *testing.T) {
	s := newTestServer(t)
	key := issueKey(t, s, "ten_acme")

	// Missing amount and currency
	body := `{"eventId":"evt_2001","idempotencyKey":"idem-2001"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/decisions/score", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestScoreTenantMismatch(t *testing.T) {
	s := newTestServer(t)
	key := issueKey(t, s, "ten_acme")

	body := `{"tenantId":"ten_other","eventId":"evt_3001","idempotencyKey":"idem-3001","amount":10,"currency":"USD","channel":"card_present"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/decisions/score", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for mismatched tenant, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// List management
// ---------------------------------------------------------------------------

func TestListEntryManagement(t *testing.T) {
	s := newTestServer(t)

	add := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/admin/lists/rule_blocked_devices/entries",
		strings.NewReader(`{"value":"dev-123","reason":"chargeback"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	s.router.ServeHTTP(add, req)
	if add.Code != http.StatusOK {
		t.Fatalf("Expected 200 adding entry, got %d: %s", add.Code, add.Body.String())
	}

	del := httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/v1/admin/lists/rule_blocked_devices/entries/dev-123", nil)
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	s.router.ServeHTTP(del, req)
	if del.Code != http.StatusOK {
		t.Fatalf("Expected 200 removing entry, got %d: %s", del.Code, del.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
