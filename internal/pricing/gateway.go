// Package pricing is the price gateway: current quotes, price history and the
// market listing, normalized into model types at the boundary so that no
// provider payload shape leaks into the ledger.
package pricing

import (
	"context"
	"errors"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

var (
	// ErrNotFound is returned only after every lookup path agreed the coin
	// does not exist.
	ErrNotFound = errors.New("pricing: cryptocurrency not found")

	// ErrUnavailable wraps transport failures, timeouts, rate limiting and
	// malformed payloads.
	ErrUnavailable = errors.New("pricing: provider unavailable")
)

// Gateway is what the portfolio service needs from a market-data provider.
type Gateway interface {
	// GetCurrentPrice returns the USD quote for a coin id.
	GetCurrentPrice(ctx context.Context, cryptoID string) (model.PriceQuote, error)

	// GetPriceHistory returns USD samples ordered by time: daily when
	// days > 1, hourly otherwise.
	GetPriceHistory(ctx context.Context, cryptoID string, days int) ([]model.PricePoint, error)

	// ListMarket returns the top coins by market cap.
	ListMarket(ctx context.Context, limit int) ([]model.MarketCoin, error)
}
