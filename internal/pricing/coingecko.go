package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/cryptassist/portfolio-engine/internal/metrics"
	"github.com/cryptassist/portfolio-engine/internal/model"
)

const (
	DefaultBaseURL     = "https://api.coingecko.com/api/v3"
	defaultTimeout     = 10 * time.Second
	defaultListingSize = 250
	maxListingSize     = 250
)

// errNoSuchCoin marks a 404 from the provider. It only becomes ErrNotFound
// once the fallback path has also missed.
var errNoSuchCoin = errors.New("coingecko: no such coin")

// Config configures the CoinGecko client.
type Config struct {
	BaseURL string
	APIKey  string // sent as X-CG-Pro-API-Key when set

	// Timeout bounds every provider call, rate limiter wait included.
	Timeout time.Duration

	// RatePerSecond throttles outbound calls; 0 disables throttling.
	RatePerSecond float64

	// ListingSize is how many coins the fallback listing scans.
	ListingSize int

	HTTPClient *http.Client
}

// CoinGecko implements Gateway against the CoinGecko v3 REST API.
type CoinGecko struct {
	baseURL     string
	apiKey      string
	timeout     time.Duration
	listingSize int
	client      *http.Client
	limiter     *rate.Limiter
}

// NewCoinGecko creates a CoinGecko client.
func NewCoinGecko(cfg Config) *CoinGecko {
	c := &CoinGecko{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		timeout:     cfg.Timeout,
		listingSize: cfg.ListingSize,
		client:      cfg.HTTPClient,
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.listingSize <= 0 || c.listingSize > maxListingSize {
		c.listingSize = defaultListingSize
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c
}

// GetCurrentPrice looks the coin up directly and, on any failure, scans the
// bulk market listing for it.
func (c *CoinGecko) GetCurrentPrice(ctx context.Context, cryptoID string) (model.PriceQuote, error) {
	quote, primaryErr := c.lookupByID(ctx, cryptoID)
	if primaryErr == nil {
		metrics.PriceLookups.WithLabelValues("primary", "hit").Inc()
		return quote, nil
	}
	if errors.Is(primaryErr, errNoSuchCoin) {
		metrics.PriceLookups.WithLabelValues("primary", "miss").Inc()
	} else {
		metrics.PriceLookups.WithLabelValues("primary", "error").Inc()
		slog.Warn("primary price lookup failed, trying market listing",
			"crypto_id", cryptoID, "err", primaryErr)
	}

	quote, found, err := c.lookupInListing(ctx, cryptoID)
	switch {
	case err != nil:
		metrics.PriceLookups.WithLabelValues("fallback", "error").Inc()
		return model.PriceQuote{}, fmt.Errorf("%w: price of %s: %v; fallback: %v",
			ErrUnavailable, cryptoID, primaryErr, err)
	case found:
		metrics.PriceLookups.WithLabelValues("fallback", "hit").Inc()
		return quote, nil
	}

	metrics.PriceLookups.WithLabelValues("fallback", "miss").Inc()
	if errors.Is(primaryErr, errNoSuchCoin) {
		return model.PriceQuote{}, fmt.Errorf("%w: %s", ErrNotFound, cryptoID)
	}
	// The listing only covers the top coins, so a miss there cannot prove
	// the coin does not exist.
	return model.PriceQuote{}, fmt.Errorf("%w: price of %s: %v", ErrUnavailable, cryptoID, primaryErr)
}

// Paths into the /coins/{id} payload.
const (
	pathPrice  = "$.market_data.current_price.usd"
	pathSymbol = "$.symbol"
	pathName   = "$.name"
)

func (c *CoinGecko) lookupByID(ctx context.Context, cryptoID string) (model.PriceQuote, error) {
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("market_data", "true")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	q.Set("sparkline", "false")

	var doc any
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(cryptoID), q, &doc); err != nil {
		return model.PriceQuote{}, err
	}

	raw, err := jsonpath.Get(pathPrice, doc)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("coin %s has no usd price: %w", cryptoID, err)
	}
	price, err := toDecimal(raw)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("coin %s: %w", cryptoID, err)
	}

	quote := model.PriceQuote{
		CryptoID:  cryptoID,
		Price:     price,
		FetchedAt: time.Now().UTC(),
	}
	if v, err := jsonpath.Get(pathSymbol, doc); err == nil {
		quote.Symbol, _ = v.(string)
	}
	if v, err := jsonpath.Get(pathName, doc); err == nil {
		quote.Name, _ = v.(string)
	}
	quote.Symbol = strings.ToUpper(quote.Symbol)
	return quote, nil
}

func (c *CoinGecko) lookupInListing(ctx context.Context, cryptoID string) (model.PriceQuote, bool, error) {
	coins, err := c.ListMarket(ctx, c.listingSize)
	if err != nil {
		return model.PriceQuote{}, false, err
	}
	for _, coin := range coins {
		if coin.ID == cryptoID {
			return model.PriceQuote{
				CryptoID:  coin.ID,
				Symbol:    strings.ToUpper(coin.Symbol),
				Name:      coin.Name,
				Price:     coin.CurrentPrice,
				FetchedAt: time.Now().UTC(),
			}, true, nil
		}
	}
	return model.PriceQuote{}, false, nil
}

// ListMarket returns the first page of /coins/markets ordered by market cap.
func (c *CoinGecko) ListMarket(ctx context.Context, limit int) ([]model.MarketCoin, error) {
	if limit <= 0 || limit > maxListingSize {
		limit = c.listingSize
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("page", "1")
	q.Set("sparkline", "false")

	var coins []model.MarketCoin
	if err := c.getJSON(ctx, "/coins/markets", q, &coins); err != nil {
		if errors.Is(err, errNoSuchCoin) {
			return nil, fmt.Errorf("%w: market listing returned 404", ErrUnavailable)
		}
		return nil, err
	}
	return coins, nil
}

// GetPriceHistory reads /coins/{id}/market_chart.
func (c *CoinGecko) GetPriceHistory(ctx context.Context, cryptoID string, days int) ([]model.PricePoint, error) {
	interval := "hourly"
	if days > 1 {
		interval = "daily"
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(days))
	q.Set("interval", interval)

	var chart struct {
		Prices [][]json.Number `json:"prices"`
	}
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(cryptoID)+"/market_chart", q, &chart); err != nil {
		if errors.Is(err, errNoSuchCoin) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cryptoID)
		}
		return nil, err
	}

	points := make([]model.PricePoint, 0, len(chart.Prices))
	for _, sample := range chart.Prices {
		if len(sample) < 2 {
			continue
		}
		ms, err := sample[0].Float64()
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(sample[1].String())
		if err != nil {
			continue
		}
		points = append(points, model.PricePoint{
			Timestamp: time.UnixMilli(int64(ms)).UTC(),
			Price:     price,
		})
	}
	return points, nil
}

// getJSON performs a rate-limited, time-bounded GET and decodes the body.
// A 404 yields errNoSuchCoin; every other failure wraps ErrUnavailable.
func (c *CoinGecko) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-CG-Pro-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errNoSuchCoin
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s: status %d: %s", ErrUnavailable, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// toDecimal converts a decoded JSON scalar to a decimal without a float
// round trip when the decoder kept the literal.
func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Zero, fmt.Errorf("unexpected price type %T", v)
	}
}
