package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/scorer"
)

func testRouter(t *testing.T, authTenant string) (*gin.Engine, *testHarness) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := newHarness(t, &scorer.Static{Result: scorer.Result{Score: 0.1, ModelVersion: "m-1"}}, defaultRules())
	handler := NewHandler(h.service)

	r := gin.New()
	if authTenant != "" {
		r.Use(func(c *gin.Context) {
			c.Set("authTenantID", authTenant)
			c.Next()
		})
	}
	handler.RegisterRoutes(r.Group("/v1"))
	return r, h
}

func postScore(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/decisions/score", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestScoreEndpoint(t *testing.T) {
	r, _ := testRouter(t, "ten_a")

	w := postScore(t, r, decision.ScoreRequest{
		EventID:        "evt_1",
		IdempotencyKey: "key1",
		Amount:         250,
		Currency:       "USD",
		Channel:        "web",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var dec decision.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, decision.VerdictAllow, dec.Verdict)
	assert.Equal(t, "ten_a", dec.TenantID, "tenant comes from the authenticated identity")
}

func TestScoreEndpointTenantMismatch(t *testing.T) {
	r, _ := testRouter(t, "ten_a")

	w := postScore(t, r, decision.ScoreRequest{
		EventID:        "evt_1",
		TenantID:       "ten_b",
		IdempotencyKey: "key1",
		Amount:         250,
		Currency:       "USD",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestScoreEndpointValidation(t *testing.T) {
	r, _ := testRouter(t, "ten_a")

	w := postScore(t, r, decision.ScoreRequest{
		EventID:        "evt_1",
		IdempotencyKey: "key1",
		Amount:         -5,
		Currency:       "usd!",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error  string                     `json:"error"`
		Fields []decision.ValidationError `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp.Error)
	assert.NotEmpty(t, resp.Fields)
}

func TestScoreEndpointBadJSON(t *testing.T) {
	r, _ := testRouter(t, "ten_a")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/decisions/score", bytes.NewReader([]byte("{not json")))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDecisionEndpoint(t *testing.T) {
	r, h := testRouter(t, "ten_a")

	dec, err := h.service.Score(context.Background(), scoreRequest("evt_1", "key1"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/decisions/"+dec.ID, nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got decision.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, dec.ID, got.ID)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/decisions/dec_missing", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEventDecisionsEndpoint(t *testing.T) {
	r, h := testRouter(t, "ten_a")

	_, err := h.service.Score(context.Background(), scoreRequest("evt_1", "key1"))
	require.NoError(t, err)
	_, err = h.service.Score(context.Background(), scoreRequest("evt_1", "key2"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/events/evt_1/decisions", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count     int                  `json:"count"`
		Decisions []*decision.Decision `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestListDecisionsEndpointPaged(t *testing.T) {
	r, h := testRouter(t, "ten_a")

	for _, key := range []string{"key1", "key2", "key3"} {
		_, err := h.service.Score(context.Background(), scoreRequest("evt_"+key, key))
		require.NoError(t, err)
	}

	type page struct {
		Count      int                  `json:"count"`
		Decisions  []*decision.Decision `json:"decisions"`
		NextCursor string               `json:"nextCursor"`
		HasMore    bool                 `json:"hasMore"`
	}
	listPage := func(url string) (page, int) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", url, nil)
		r.ServeHTTP(w, req)
		var resp page
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp, w.Code
	}

	first, code := listPage("/v1/decisions?limit=2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, first.Count)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	second, code := listPage("/v1/decisions?limit=2&cursor=" + first.NextCursor)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, second.Count)
	assert.False(t, second.HasMore)

	// No overlap between pages
	seen := map[string]bool{}
	for _, d := range first.Decisions {
		seen[d.ID] = true
	}
	for _, d := range second.Decisions {
		assert.False(t, seen[d.ID], "decision %s appeared on both pages", d.ID)
	}

	_, code = listPage("/v1/decisions?cursor=!!!")
	assert.Equal(t, http.StatusBadRequest, code)

	_, code = listPage("/v1/decisions?limit=0")
	assert.Equal(t, http.StatusBadRequest, code)
}
