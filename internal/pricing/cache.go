package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptassist/portfolio-engine/internal/metrics"
	"github.com/cryptassist/portfolio-engine/internal/model"
)

// CachedGateway wraps a Gateway with a short-lived Redis cache. Failures
// are never cached, and a Redis outage degrades to direct provider calls.
type CachedGateway struct {
	next Gateway
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedGateway creates a cached wrapper around a gateway.
func NewCachedGateway(next Gateway, rdb *redis.Client, ttl time.Duration) *CachedGateway {
	return &CachedGateway{next: next, rdb: rdb, ttl: ttl}
}

func (g *CachedGateway) GetCurrentPrice(ctx context.Context, cryptoID string) (model.PriceQuote, error) {
	var quote model.PriceQuote
	if g.get(ctx, quoteKey(cryptoID), &quote) {
		metrics.PriceLookups.WithLabelValues("cache", "hit").Inc()
		return quote, nil
	}
	metrics.PriceLookups.WithLabelValues("cache", "miss").Inc()

	quote, err := g.next.GetCurrentPrice(ctx, cryptoID)
	if err != nil {
		return model.PriceQuote{}, err
	}
	g.set(ctx, quoteKey(cryptoID), quote)
	return quote, nil
}

func (g *CachedGateway) GetPriceHistory(ctx context.Context, cryptoID string, days int) ([]model.PricePoint, error) {
	var points []model.PricePoint
	if g.get(ctx, historyKey(cryptoID, days), &points) {
		return points, nil
	}

	points, err := g.next.GetPriceHistory(ctx, cryptoID, days)
	if err != nil {
		return nil, err
	}
	g.set(ctx, historyKey(cryptoID, days), points)
	return points, nil
}

func (g *CachedGateway) ListMarket(ctx context.Context, limit int) ([]model.MarketCoin, error) {
	var coins []model.MarketCoin
	if g.get(ctx, listingKey(limit), &coins) {
		return coins, nil
	}

	coins, err := g.next.ListMarket(ctx, limit)
	if err != nil {
		return nil, err
	}
	g.set(ctx, listingKey(limit), coins)
	return coins, nil
}

func (g *CachedGateway) get(ctx context.Context, key string, dst any) bool {
	data, err := g.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (g *CachedGateway) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		g.rdb.Set(ctx, key, data, g.ttl)
	}
}

func quoteKey(id string) string             { return fmt.Sprintf("price:%s", id) }
func historyKey(id string, days int) string { return fmt.Sprintf("price:%s:history:%d", id, days) }
func listingKey(limit int) string           { return fmt.Sprintf("market:top:%d", limit) }
