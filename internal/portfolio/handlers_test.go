package portfolio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/portfolio"
	"github.com/cryptassist/portfolio-engine/internal/pricing"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

// newTestEnv creates a Service over an in-memory store and its chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *fakeGateway, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	gw := newFakeGateway()
	svc := portfolio.NewService(ms, gw, nil, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", portfolio.NewHandler(svc, nil).Routes)
	return ms, gw, r
}

func do(t *testing.T, router chi.Router, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHTTP_RequiresUser(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/portfolios", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, w).Error.Code)
}

func TestHTTP_PortfolioLifecycle(t *testing.T) {
	ms, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/portfolios", "alice", map[string]string{"name": "Main"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p model.Portfolio
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "alice", p.OwnerID)

	w = do(t, router, "POST", "/api/v1/portfolios/"+p.ID+"/assets", "alice",
		`{"crypto_id":"bitcoin","amount":"0.5","buy_price":35000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var added portfolio.MutationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))
	assertDec(t, "20000", added.Asset.TotalValue, "total_value")

	w = do(t, router, "POST", "/api/v1/portfolios/"+p.ID+"/assets/"+added.Asset.ID+"/transactions", "alice",
		map[string]string{"transaction_type": "sell", "amount": "0.5", "price_per_unit": "45000"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sold portfolio.MutationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sold))
	assert.True(t, sold.Closed)
	assertDec(t, "5000", sold.Portfolio.TotalRealizedPL, "realized")

	w = do(t, router, "GET", "/api/v1/portfolios/"+p.ID+"/assets/"+added.Asset.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/portfolios/"+p.ID+"/transactions", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []model.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Len(t, history, 2)

	w = do(t, router, "GET", "/api/v1/portfolios/"+p.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view model.PortfolioView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Empty(t, view.Assets)

	w = do(t, router, "DELETE", "/api/v1/portfolios/"+p.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, router, "GET", "/api/v1/portfolios/"+p.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	rep, err := portfolio.Reconcile(context.Background(), ms)
	require.NoError(t, err)
	assert.Zero(t, rep.Portfolios)
	assert.True(t, rep.OK())
}

func TestHTTP_ErrorShapes(t *testing.T) {
	_, gw, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/portfolios", "alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Error.Code)

	w = do(t, router, "POST", "/api/v1/portfolios", "alice", map[string]string{"name": "Main"})
	require.Equal(t, http.StatusCreated, w.Code)
	var p model.Portfolio
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))

	w = do(t, router, "POST", "/api/v1/portfolios/"+p.ID+"/assets", "alice",
		map[string]any{"crypto_id": "bitcoin", "amount": -1, "buy_price": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, "amount", resp.Error.Details["field"])

	w = do(t, router, "GET", "/api/v1/portfolios/"+p.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Error.Code)

	gw.fail(pricing.ErrUnavailable)
	w = do(t, router, "POST", "/api/v1/portfolios/"+p.ID+"/assets", "alice",
		map[string]any{"crypto_id": "bitcoin", "amount": 1, "buy_price": 100})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", decodeError(t, w).Error.Code)
}

func TestHTTP_MarketEndpoints(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/cryptocurrencies?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var coins []model.MarketCoin
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coins))
	assert.Len(t, coins, 2)

	w = do(t, router, "GET", "/api/v1/cryptocurrencies/bitcoin", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/cryptocurrencies/nocoin", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/cryptocurrencies/bitcoin/history?days=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/cryptocurrencies/bitcoin/history?days=30", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHTTP_AdviceDegradesWithoutGenerator(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/portfolios", "alice", map[string]string{"name": "Main"})
	require.Equal(t, http.StatusCreated, w.Code)
	var p model.Portfolio
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))

	w = do(t, router, "GET", "/api/v1/portfolios/"+p.ID+"/advice", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["degraded"])
	assert.NotEmpty(t, body["advice"])
}
