// Package model defines the core domain types shared across the portfolio engine.
// All monetary values and quantities use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType is the direction of a journal entry.
type TxType string

const (
	TxBuy  TxType = "buy"
	TxSell TxType = "sell"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == TxBuy || t == TxSell
}

// Transaction is an immutable journal entry for one buy or sell.
// Once created, it is never modified. The crypto fields are denormalized
// so the entry stays readable as portfolio history after its asset is gone.
type Transaction struct {
	ID                 string          `json:"id" db:"id"`
	AssetID            string          `json:"asset_id" db:"asset_id"`
	PortfolioID        string          `json:"portfolio_id" db:"portfolio_id"`
	CryptoID           string          `json:"crypto_id" db:"crypto_id"`
	Symbol             string          `json:"symbol" db:"symbol"`
	Name               string          `json:"name" db:"name"`
	Type               TxType          `json:"transaction_type" db:"transaction_type"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	PricePerUnit       decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	TotalValue         decimal.Decimal `json:"total_value" db:"total_value"`                   // amount * price_per_unit
	RealizedProfitLoss decimal.Decimal `json:"realized_profit_loss" db:"realized_profit_loss"` // sells only
	Timestamp          time.Time       `json:"timestamp" db:"timestamp"`
	Notes              string          `json:"notes,omitempty" db:"notes"`
}

// Asset is the materialized state of one active holding. Every derived
// field is a cache of the ledger engine's output over the asset's journal.
type Asset struct {
	ID                   string          `json:"id" db:"id"`
	PortfolioID          string          `json:"portfolio_id" db:"portfolio_id"`
	CryptoID             string          `json:"crypto_id" db:"crypto_id"`
	Symbol               string          `json:"symbol" db:"symbol"`
	Name                 string          `json:"name" db:"name"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	AverageBuyPrice      decimal.Decimal `json:"average_buy_price" db:"average_buy_price"`
	CurrentPrice         decimal.Decimal `json:"current_price" db:"current_price"`
	TotalValue           decimal.Decimal `json:"total_value" db:"total_value"`
	ProfitLoss           decimal.Decimal `json:"profit_loss" db:"profit_loss"`
	ProfitLossPercentage decimal.Decimal `json:"profit_loss_percentage" db:"profit_loss_percentage"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Portfolio is a named collection of assets owned by one user.
// The Total* fields are never hand-edited, only recomputed.
type Portfolio struct {
	ID                   string          `json:"id" db:"id"`
	OwnerID              string          `json:"owner_id" db:"owner_id"`
	Name                 string          `json:"name" db:"name"`
	Description          string          `json:"description" db:"description"`
	TotalValue           decimal.Decimal `json:"total_value" db:"total_value"`
	TotalUnrealizedPL    decimal.Decimal `json:"total_unrealized_pl" db:"total_unrealized_pl"`
	TotalUnrealizedPLPct decimal.Decimal `json:"total_unrealized_pl_pct" db:"total_unrealized_pl_pct"`
	TotalRealizedPL      decimal.Decimal `json:"total_realized_pl" db:"total_realized_pl"`
	TotalCostBasis       decimal.Decimal `json:"total_cost_basis" db:"total_cost_basis"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// AssetView is an active asset together with its full journal.
type AssetView struct {
	Asset
	Transactions []Transaction `json:"transactions"`
}

// PortfolioView is the read model returned by the portfolio query.
type PortfolioView struct {
	Portfolio
	Assets []AssetView `json:"assets"`
}

// PriceQuote is the normalized result of a price lookup, whatever payload
// shape the provider answered with.
type PriceQuote struct {
	CryptoID  string          `json:"crypto_id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// PricePoint is one sample of a price history series.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// MarketCoin is one row of the provider's bulk market listing.
type MarketCoin struct {
	ID                       string          `json:"id"`
	Symbol                   string          `json:"symbol"`
	Name                     string          `json:"name"`
	CurrentPrice             decimal.Decimal `json:"current_price"`
	MarketCap                decimal.Decimal `json:"market_cap"`
	MarketCapRank            int             `json:"market_cap_rank"`
	TotalVolume              decimal.Decimal `json:"total_volume"`
	High24h                  decimal.Decimal `json:"high_24h"`
	Low24h                   decimal.Decimal `json:"low_24h"`
	PriceChange24h           decimal.Decimal `json:"price_change_24h"`
	PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
	LastUpdated              time.Time       `json:"last_updated"`
}
