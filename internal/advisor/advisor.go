// Package advisor produces AI portfolio advice. Advice is a non-critical
// path: every failure degrades to a fixed apology instead of an error.
package advisor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cryptassist/portfolio-engine/internal/metrics"
	"github.com/cryptassist/portfolio-engine/internal/model"
)

// Apology is returned in place of advice whenever generation fails.
const Apology = "I'm sorry, I'm unable to generate portfolio advice right now. Please try again later."

// ErrNoGenerator is logged when no text generator is configured.
var ErrNoGenerator = errors.New("advisor: no generator configured")

// Generator turns a system and a user prompt into text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// MarketSource supplies the market listing used as context.
// pricing.Gateway satisfies it.
type MarketSource interface {
	ListMarket(ctx context.Context, limit int) ([]model.MarketCoin, error)
}

// Advice is the result of an advice request.
type Advice struct {
	PortfolioID string    `json:"portfolio_id"`
	Text        string    `json:"advice"`
	Sentiment   string    `json:"market_sentiment,omitempty"`
	Degraded    bool      `json:"degraded"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Advisor builds prompts from a portfolio snapshot and market context.
type Advisor struct {
	gen     Generator
	market  MarketSource
	timeout time.Duration
}

// New creates an Advisor. gen and market may be nil; a nil generator makes
// every request degrade, a nil market source drops the market context.
func New(gen Generator, market MarketSource, timeout time.Duration) *Advisor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Advisor{gen: gen, market: market, timeout: timeout}
}

// Advise never fails. Errors are logged and replaced by Apology.
func (a *Advisor) Advise(ctx context.Context, view model.PortfolioView) Advice {
	advice := Advice{
		PortfolioID: view.ID,
		GeneratedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var marketContext string
	if a.market != nil {
		mc, err := BuildMarketContext(ctx, a.market)
		if err != nil {
			slog.Warn("market context unavailable", "portfolio_id", view.ID, "err", err)
			marketContext = unavailableContext
		} else {
			marketContext = mc.Text
			advice.Sentiment = mc.Sentiment
		}
	}

	text, err := a.generate(ctx, view, marketContext)
	if err != nil {
		slog.Warn("advice generation degraded", "portfolio_id", view.ID, "err", err)
		metrics.AdviceRequests.WithLabelValues("degraded").Inc()
		advice.Text = Apology
		advice.Degraded = true
		return advice
	}

	metrics.AdviceRequests.WithLabelValues("ok").Inc()
	advice.Text = text
	return advice
}

func (a *Advisor) generate(ctx context.Context, view model.PortfolioView, marketContext string) (string, error) {
	if a.gen == nil {
		return "", ErrNoGenerator
	}
	text, err := a.gen.Generate(ctx, systemPrompt, UserPrompt(view, marketContext))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("advisor: empty response")
	}
	return text, nil
}
