package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go through the primary store's transactions and invalidate
// the touched keys after commit; reads check Redis first then fall back to
// the primary.
//
// Reads made inside WithTx always hit the primary so that recomputes see
// the locked rows, never a cached snapshot.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary transaction, invalidate after commit) ---

func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tracked := &trackingTx{
		portfolios: make(map[string]struct{}),
		assets:     make(map[string]struct{}),
	}
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		tracked.Tx = tx
		return fn(tracked)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tracked)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, t *trackingTx) {
	keys := make([]string, 0, 6*len(t.portfolios)+2*len(t.assets))
	for id := range t.portfolios {
		for _, k := range []string{portfolioKey(id), assetsKey(id), historyKey(id)} {
			keys = append(keys, k, fillKey(k))
		}
	}
	for id := range t.assets {
		keys = append(keys, journalKey(id), fillKey(journalKey(id)))
	}
	if len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", len(keys), "err", err)
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	return readThrough(ctx, s, portfolioKey(id), func() (*model.Portfolio, error) {
		return s.primary.GetPortfolio(ctx, id)
	})
}

func (s *CachedStore) ListAssets(ctx context.Context, portfolioID string) ([]model.Asset, error) {
	return readThrough(ctx, s, assetsKey(portfolioID), func() ([]model.Asset, error) {
		return s.primary.ListAssets(ctx, portfolioID)
	})
}

func (s *CachedStore) ListTransactionsByAsset(ctx context.Context, assetID string) ([]model.Transaction, error) {
	return readThrough(ctx, s, journalKey(assetID), func() ([]model.Transaction, error) {
		return s.primary.ListTransactionsByAsset(ctx, assetID)
	})
}

func (s *CachedStore) ListTransactionsByPortfolio(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	return readThrough(ctx, s, historyKey(portfolioID), func() ([]model.Transaction, error) {
		return s.primary.ListTransactionsByPortfolio(ctx, portfolioID)
	})
}

// readThrough serves key from Redis, or loads it from the primary and
// caches it. A miss first claims a fill guard; invalidation deletes the
// guard, so a value read before a concurrent commit is never cached.
func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (T, error)) (T, error) {
	var cached T
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}

	token := uuid.NewString()
	guarded := s.rdb.SetNX(ctx, fillKey(key), token, fillGuardTTL).Val()

	fresh, err := load()
	if err != nil {
		if guarded {
			s.rdb.Del(ctx, fillKey(key))
		}
		var zero T
		return zero, err
	}
	if guarded {
		s.fill(ctx, key, token, fresh)
	}
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPortfolios(ctx context.Context, ownerID string) ([]model.Portfolio, error) {
	return s.primary.ListPortfolios(ctx, ownerID)
}

func (s *CachedStore) GetAsset(ctx context.Context, portfolioID, assetID string) (*model.Asset, error) {
	return s.primary.GetAsset(ctx, portfolioID, assetID)
}

// --- Cache helpers ---

func (s *CachedStore) fromCache(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// fill stores v only while this reader's guard still holds.
func (s *CachedStore) fill(ctx context.Context, key, token string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = fillScript.Run(ctx, s.rdb, []string{key, fillKey(key)}, token, data, s.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Debug("cache fill failed", "key", key, "err", err)
	}
}

// fillGuardTTL bounds how long a slow primary read may still populate.
const fillGuardTTL = 5 * time.Second

var fillScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
redis.call('DEL', KEYS[2])
return 1
`)

func portfolioKey(id string) string { return fmt.Sprintf("portfolio:%s", id) }
func assetsKey(id string) string    { return fmt.Sprintf("portfolio:%s:assets", id) }
func historyKey(id string) string   { return fmt.Sprintf("portfolio:%s:history", id) }
func journalKey(id string) string   { return fmt.Sprintf("asset:%s:journal", id) }
func fillKey(key string) string     { return key + ":fill" }

// trackingTx records which cache keys a transaction's writes make stale.
type trackingTx struct {
	Tx
	portfolios map[string]struct{}
	assets     map[string]struct{}
}

func (t *trackingTx) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	t.portfolios[p.ID] = struct{}{}
	return t.Tx.CreatePortfolio(ctx, p)
}

func (t *trackingTx) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	t.portfolios[p.ID] = struct{}{}
	return t.Tx.UpdatePortfolio(ctx, p)
}

func (t *trackingTx) DeletePortfolio(ctx context.Context, id string) error {
	t.portfolios[id] = struct{}{}
	assets, err := t.Tx.ListAssets(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range assets {
		t.assets[a.ID] = struct{}{}
	}
	return t.Tx.DeletePortfolio(ctx, id)
}

func (t *trackingTx) InsertAsset(ctx context.Context, a *model.Asset) error {
	t.portfolios[a.PortfolioID] = struct{}{}
	t.assets[a.ID] = struct{}{}
	return t.Tx.InsertAsset(ctx, a)
}

func (t *trackingTx) UpdateAsset(ctx context.Context, a *model.Asset) error {
	t.portfolios[a.PortfolioID] = struct{}{}
	t.assets[a.ID] = struct{}{}
	return t.Tx.UpdateAsset(ctx, a)
}

func (t *trackingTx) DeleteAsset(ctx context.Context, portfolioID, assetID string) error {
	t.portfolios[portfolioID] = struct{}{}
	t.assets[assetID] = struct{}{}
	return t.Tx.DeleteAsset(ctx, portfolioID, assetID)
}

func (t *trackingTx) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	t.portfolios[tx.PortfolioID] = struct{}{}
	t.assets[tx.AssetID] = struct{}{}
	return t.Tx.AppendTransaction(ctx, tx)
}
