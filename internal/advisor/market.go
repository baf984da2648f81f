package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

const (
	marketSample  = 10 // coins used for sentiment
	marketDisplay = 5  // coins listed in the prompt

	unavailableContext = "Current market data is unavailable."
)

// Sentiment labels.
const (
	Bullish = "Bullish"
	Bearish = "Bearish"
	Mixed   = "Mixed"
)

// MarketContext is the market summary attached to an advice prompt.
type MarketContext struct {
	Text      string
	Sentiment string
	Positive  int
	Total     int
}

// Sentiment classifies a listing: Bullish when more than 60% of the coins
// rose over 24h, Bearish below 40%, Mixed otherwise. An empty listing is
// Bearish, since its ratio is zero.
func Sentiment(coins []model.MarketCoin) (label string, positive int) {
	for _, c := range coins {
		if c.PriceChangePercentage24h.IsPositive() {
			positive++
		}
	}
	ratio := 0.0
	if len(coins) > 0 {
		ratio = float64(positive) / float64(len(coins))
	}
	switch {
	case ratio > 0.6:
		return Bullish, positive
	case ratio < 0.4:
		return Bearish, positive
	default:
		return Mixed, positive
	}
}

// BuildMarketContext summarizes the top of the market listing.
func BuildMarketContext(ctx context.Context, src MarketSource) (MarketContext, error) {
	coins, err := src.ListMarket(ctx, marketSample)
	if err != nil {
		return MarketContext{}, err
	}
	if len(coins) == 0 {
		return MarketContext{}, fmt.Errorf("advisor: empty market listing")
	}

	var b strings.Builder
	b.WriteString("Current market data:\n")
	for i, c := range coins {
		if i == marketDisplay {
			break
		}
		fmt.Fprintf(&b, "- %s (%s): %s %s%% (24h), rank #%d\n",
			c.Name, strings.ToUpper(c.Symbol), usd(c.CurrentPrice), signed(c.PriceChangePercentage24h), c.MarketCapRank)
	}

	label, positive := Sentiment(coins)
	fmt.Fprintf(&b, "Market sentiment: %s (%d/%d of the top coins are up over 24h)\n", label, positive, len(coins))

	return MarketContext{
		Text:      b.String(),
		Sentiment: label,
		Positive:  positive,
		Total:     len(coins),
	}, nil
}
