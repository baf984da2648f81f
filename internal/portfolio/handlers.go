package portfolio

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cryptassist/portfolio-engine/internal/apperr"
	"github.com/cryptassist/portfolio-engine/internal/model"
)

// userHeader carries the caller's user id, set by the authenticating proxy.
const userHeader = "X-User-ID"

var errMissingUser = &apperr.Error{
	Category:   apperr.CategoryValidation,
	StatusCode: http.StatusUnauthorized,
	Code:       "UNAUTHORIZED",
	Message:    "missing " + userHeader + " header",
}

type ownerKey struct{}

// Handler exposes the Service over HTTP.
type Handler struct {
	svc *Service
	hub *WSHub
}

// NewHandler creates the HTTP handler. hub may be nil.
func NewHandler(svc *Service, hub *WSHub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes registers the API under r, typically mounted at /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/cryptocurrencies", h.ListCryptocurrencies)
	r.Get("/cryptocurrencies/{cryptoID}", h.GetCryptocurrency)
	r.Get("/cryptocurrencies/{cryptoID}/history", h.GetPriceHistory)
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/portfolios", h.ListPortfolios)
		r.Post("/portfolios", h.CreatePortfolio)
		r.Route("/portfolios/{portfolioID}", func(r chi.Router) {
			r.Get("/", h.GetPortfolio)
			r.Patch("/", h.UpdatePortfolio)
			r.Delete("/", h.DeletePortfolio)
			r.Get("/transactions", h.ListPortfolioTransactions)
			r.Get("/advice", h.GetAdvice)

			r.Post("/assets", h.AddAsset)
			r.Get("/assets/{assetID}", h.GetAsset)
			r.Put("/assets/{assetID}", h.UpdateAsset)
			r.Delete("/assets/{assetID}", h.RemoveAsset)
			r.Post("/assets/{assetID}/transactions", h.AddTransaction)
		})
	})
}

// RequireUser rejects requests without a user id and stores it in the
// request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(userHeader)
		if owner == "" {
			writeError(w, errMissingUser)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

// --- Portfolios ---

type createPortfolioRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListPortfolios handles GET /api/v1/portfolios
func (h *Handler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.svc.Portfolios(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if portfolios == nil {
		portfolios = []model.Portfolio{}
	}
	writeJSON(w, http.StatusOK, portfolios)
}

// CreatePortfolio handles POST /api/v1/portfolios
func (h *Handler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePortfolio(r.Context(), ownerFrom(r), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetPortfolio handles GET /api/v1/portfolios/{portfolioID}
// Returns the portfolio with its active assets and their journals.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Portfolio(r.Context(), ownerFrom(r), chi.URLParam(r, "portfolioID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdatePortfolio handles PATCH /api/v1/portfolios/{portfolioID}
func (h *Handler) UpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	var in UpdatePortfolioInput
	if !decode(w, r, &in) {
		return
	}
	p, err := h.svc.UpdatePortfolio(r.Context(), ownerFrom(r), chi.URLParam(r, "portfolioID"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePortfolio handles DELETE /api/v1/portfolios/{portfolioID}
func (h *Handler) DeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePortfolio(r.Context(), ownerFrom(r), chi.URLParam(r, "portfolioID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPortfolioTransactions handles GET /api/v1/portfolios/{portfolioID}/transactions
// Includes entries of assets that have since been closed or removed.
func (h *Handler) ListPortfolioTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.PortfolioTransactions(r.Context(), ownerFrom(r), chi.URLParam(r, "portfolioID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetAdvice handles GET /api/v1/portfolios/{portfolioID}/advice
func (h *Handler) GetAdvice(w http.ResponseWriter, r *http.Request) {
	advice, err := h.svc.Advice(r.Context(), ownerFrom(r), chi.URLParam(r, "portfolioID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

// --- Assets ---

// AddAsset handles POST /api/v1/portfolios/{portfolioID}/assets
func (h *Handler) AddAsset(w http.ResponseWriter, r *http.Request) {
	var in AddAssetInput
	if !decode(w, r, &in) {
		return
	}
	in.PortfolioID = chi.URLParam(r, "portfolioID")
	res, err := h.svc.AddAsset(r.Context(), ownerFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetAsset handles GET /api/v1/portfolios/{portfolioID}/assets/{assetID}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Asset(r.Context(), ownerFrom(r), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateAsset handles PUT /api/v1/portfolios/{portfolioID}/assets/{assetID}
func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	var in UpdateAssetInput
	if !decode(w, r, &in) {
		return
	}
	in.PortfolioID = chi.URLParam(r, "portfolioID")
	in.AssetID = chi.URLParam(r, "assetID")
	res, err := h.svc.UpdateAsset(r.Context(), ownerFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RemoveAsset handles DELETE /api/v1/portfolios/{portfolioID}/assets/{assetID}
// Returns the refreshed portfolio.
func (h *Handler) RemoveAsset(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.RemoveAsset(r.Context(), ownerFrom(r), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AddTransaction handles POST /api/v1/portfolios/{portfolioID}/assets/{assetID}/transactions
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var in AddTransactionInput
	if !decode(w, r, &in) {
		return
	}
	in.PortfolioID = chi.URLParam(r, "portfolioID")
	in.AssetID = chi.URLParam(r, "assetID")
	res, err := h.svc.AddTransaction(r.Context(), ownerFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- Market data ---

// ListCryptocurrencies handles GET /api/v1/cryptocurrencies?limit=N
func (h *Handler) ListCryptocurrencies(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultMarketLimit)
	if !ok {
		return
	}
	coins, err := h.svc.Cryptocurrencies(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if coins == nil {
		coins = []model.MarketCoin{}
	}
	writeJSON(w, http.StatusOK, coins)
}

// GetCryptocurrency handles GET /api/v1/cryptocurrencies/{cryptoID}
func (h *Handler) GetCryptocurrency(w http.ResponseWriter, r *http.Request) {
	quote, err := h.svc.Cryptocurrency(r.Context(), chi.URLParam(r, "cryptoID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetPriceHistory handles GET /api/v1/cryptocurrencies/{cryptoID}/history?days=N
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", 7)
	if !ok {
		return
	}
	points, err := h.svc.PriceHistory(r.Context(), chi.URLParam(r, "cryptoID"), days)
	if err != nil {
		writeError(w, err)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Encoding ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperr.Validation("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, apperr.Validation(name, "must be an integer"))
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError writes a JSON error response. Uncategorized errors are
// reported as internal without their cause.
func writeError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("internal error", err)
	}
	if e.Category == apperr.CategoryInternal || e.Category == apperr.CategoryConsistency {
		slog.Error("request failed", "code", e.Code, "err", err)
	}
	writeJSON(w, e.StatusCode, map[string]errorBody{
		"error": {Code: e.Code, Message: e.Message, Details: e.Details},
	})
}
