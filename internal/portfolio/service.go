// Package portfolio provides the portfolio facade: the mutations and queries
// callers use, the transaction journal, the materialized asset store, the
// portfolio aggregator and their HTTP handlers.
//
// Each mutation fetches market prices first, then runs journal append,
// asset recompute and portfolio refresh in one store transaction. The
// portfolio row is locked before the asset row.
//
// All monetary values use shopspring/decimal, never float64.
package portfolio

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/advisor"
	"github.com/cryptassist/portfolio-engine/internal/apperr"
	"github.com/cryptassist/portfolio-engine/internal/ledger"
	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/pricing"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 1000
	maxNotesLength       = 1000
	maxHistoryDays       = 365
	defaultMarketLimit   = 100
	maxMarketLimit       = 250
)

// Service handles portfolio operations on behalf of an already
// authenticated owner. Portfolios of other owners are reported as not found.
type Service struct {
	store   store.Store
	prices  pricing.Gateway
	advisor *advisor.Advisor
	hub     *WSHub // optional WebSocket hub for portfolio updates
	journal *journal
	assets  *assetStore
	totals  *aggregator
	now     func() time.Time
	newID   func() string
}

// NewService creates a new portfolio service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for adv
// to answer every advice request with the apology text.
func NewService(st store.Store, prices pricing.Gateway, adv *advisor.Advisor, hub *WSHub) *Service {
	now := func() time.Time { return time.Now().UTC() }
	if adv == nil {
		adv = advisor.New(nil, nil, 0)
	}
	j := newJournal(now)
	return &Service{
		store:   st,
		prices:  prices,
		advisor: adv,
		hub:     hub,
		journal: j,
		assets:  newAssetStore(j, now),
		totals:  &aggregator{now: now},
		now:     now,
		newID:   uuid.NewString,
	}
}

// --- Inputs and results ---

// AddAssetInput is the JSON body for adding an asset.
type AddAssetInput struct {
	PortfolioID string          `json:"-"`
	CryptoID    string          `json:"crypto_id"`
	Amount      decimal.Decimal `json:"amount"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	Notes       string          `json:"notes,omitempty"`
}

// UpdateAssetInput is the JSON body for updating an asset. Amount may be
// zero, which closes the position.
type UpdateAssetInput struct {
	PortfolioID string          `json:"-"`
	AssetID     string          `json:"-"`
	Amount      decimal.Decimal `json:"amount"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
}

// AddTransactionInput is the JSON body for recording a buy or sell.
type AddTransactionInput struct {
	PortfolioID  string          `json:"-"`
	AssetID      string          `json:"-"`
	Type         model.TxType    `json:"transaction_type"`
	Amount       decimal.Decimal `json:"amount"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Notes        string          `json:"notes,omitempty"`
}

// UpdatePortfolioInput edits portfolio metadata. Nil fields are unchanged.
type UpdatePortfolioInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// MutationResult is returned by mutations that touch an asset. Asset is nil
// when the mutation closed the position; Transaction is nil when no journal
// entry was needed.
type MutationResult struct {
	Asset       *model.Asset       `json:"asset"`
	Closed      bool               `json:"closed"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Portfolio   model.Portfolio    `json:"portfolio"`
}

// --- Queries ---

// Portfolios returns the owner's portfolios, oldest first.
func (s *Service) Portfolios(ctx context.Context, owner string) ([]model.Portfolio, error) {
	portfolios, err := s.store.ListPortfolios(ctx, owner)
	if err != nil {
		return nil, apperr.Internal("list portfolios", err)
	}
	return portfolios, nil
}

// Portfolio returns a portfolio with its active assets, each with its full
// journal.
func (s *Service) Portfolio(ctx context.Context, owner, id string) (*model.PortfolioView, error) {
	p, err := s.owned(ctx, s.store, owner, id)
	if err != nil {
		return nil, err
	}
	assets, err := s.store.ListAssets(ctx, id)
	if err != nil {
		return nil, fromStore(err, "portfolio", id)
	}

	view := &model.PortfolioView{Portfolio: *p, Assets: make([]model.AssetView, 0, len(assets))}
	for _, a := range assets {
		if !a.Amount.IsPositive() {
			continue
		}
		entries, err := s.journal.listByAsset(ctx, s.store, a.ID)
		if err != nil {
			return nil, err
		}
		view.Assets = append(view.Assets, model.AssetView{Asset: a, Transactions: entries})
	}
	return view, nil
}

// Asset returns one active asset with its journal.
func (s *Service) Asset(ctx context.Context, owner, portfolioID, assetID string) (*model.AssetView, error) {
	if _, err := s.owned(ctx, s.store, owner, portfolioID); err != nil {
		return nil, err
	}
	a, err := s.store.GetAsset(ctx, portfolioID, assetID)
	if err != nil {
		return nil, fromStore(err, "asset", assetID)
	}
	entries, err := s.journal.listByAsset(ctx, s.store, assetID)
	if err != nil {
		return nil, err
	}
	return &model.AssetView{Asset: *a, Transactions: entries}, nil
}

// PortfolioTransactions returns the portfolio's full history across asset
// lifetimes, closed and removed assets included.
func (s *Service) PortfolioTransactions(ctx context.Context, owner, portfolioID string) ([]model.Transaction, error) {
	if _, err := s.owned(ctx, s.store, owner, portfolioID); err != nil {
		return nil, err
	}
	return s.journal.listByPortfolio(ctx, s.store, portfolioID)
}

// Cryptocurrencies returns the market listing, top coins by market cap.
func (s *Service) Cryptocurrencies(ctx context.Context, limit int) ([]model.MarketCoin, error) {
	if limit <= 0 {
		limit = defaultMarketLimit
	}
	if limit > maxMarketLimit {
		return nil, apperr.Validation("limit", "must be at most 250")
	}
	coins, err := s.prices.ListMarket(ctx, limit)
	if err != nil {
		return nil, apperr.UpstreamUnavailable("market listing", err)
	}
	return coins, nil
}

// Cryptocurrency returns the current quote of one coin.
func (s *Service) Cryptocurrency(ctx context.Context, cryptoID string) (*model.PriceQuote, error) {
	id, err := ledger.NormalizeCryptoID(cryptoID)
	if err != nil {
		return nil, fromLedger(err)
	}
	quote, err := s.prices.GetCurrentPrice(ctx, id)
	if err != nil {
		return nil, fromPricing(err, "price lookup", id)
	}
	return &quote, nil
}

// PriceHistory returns USD price samples for the last days days.
func (s *Service) PriceHistory(ctx context.Context, cryptoID string, days int) ([]model.PricePoint, error) {
	id, err := ledger.NormalizeCryptoID(cryptoID)
	if err != nil {
		return nil, fromLedger(err)
	}
	if days < 1 || days > maxHistoryDays {
		return nil, apperr.Validation("days", "must be between 1 and 365")
	}
	points, err := s.prices.GetPriceHistory(ctx, id, days)
	if err != nil {
		return nil, fromPricing(err, "price history", id)
	}
	return points, nil
}

// Advice asks the advisor about a portfolio. Only an unknown portfolio is
// an error; generation failures come back as the apology text.
func (s *Service) Advice(ctx context.Context, owner, portfolioID string) (advisor.Advice, error) {
	view, err := s.Portfolio(ctx, owner, portfolioID)
	if err != nil {
		return advisor.Advice{}, err
	}
	return s.advisor.Advise(ctx, *view), nil
}

// owned reads a portfolio and hides it unless owner owns it.
func (s *Service) owned(ctx context.Context, r store.Reader, owner, id string) (*model.Portfolio, error) {
	p, err := r.GetPortfolio(ctx, id)
	if err != nil {
		return nil, fromStore(err, "portfolio", id)
	}
	if p.OwnerID != owner {
		return nil, apperr.NotFound("portfolio", id)
	}
	return p, nil
}

// lockOwned is owned with the portfolio row lock held.
func (s *Service) lockOwned(ctx context.Context, tx store.Tx, owner, id string) (*model.Portfolio, error) {
	p, err := tx.LockPortfolio(ctx, id)
	if err != nil {
		return nil, fromStore(err, "portfolio", id)
	}
	if p.OwnerID != owner {
		return nil, apperr.NotFound("portfolio", id)
	}
	return p, nil
}

func validateText(field, value string, max int, required bool) error {
	value = strings.TrimSpace(value)
	if required && value == "" {
		return apperr.Validation(field, "must not be empty")
	}
	if len(value) > max {
		return apperr.Validation(field, "is too long")
	}
	return nil
}
