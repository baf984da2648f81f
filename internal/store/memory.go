package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized by a single mutex and run against a private
// copy of the state that replaces the live state only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	portfolios map[string]model.Portfolio
	assets     map[string]model.Asset
	assetTx    map[string][]model.Transaction // asset id -> journal
	history    map[string][]model.Transaction // portfolio id -> history index
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		portfolios: make(map[string]model.Portfolio),
		assets:     make(map[string]model.Asset),
		assetTx:    make(map[string][]model.Transaction),
		history:    make(map[string][]model.Transaction),
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.portfolios {
		c.portfolios[k] = v
	}
	for k, v := range m.assets {
		c.assets[k] = v
	}
	for k, v := range m.assetTx {
		c.assetTx[k] = append([]model.Transaction(nil), v...)
	}
	for k, v := range m.history {
		c.history[k] = append([]model.Transaction(nil), v...)
	}
	return c
}

// WithTx runs fn against a copy of the state and commits it on success.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&memTx{memState: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// --- Read side ---

func (s *MemoryStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetPortfolio(ctx, id)
}

func (s *MemoryStore) ListPortfolios(ctx context.Context, ownerID string) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListPortfolios(ctx, ownerID)
}

func (s *MemoryStore) ListAssets(ctx context.Context, portfolioID string) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListAssets(ctx, portfolioID)
}

func (s *MemoryStore) GetAsset(ctx context.Context, portfolioID, assetID string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetAsset(ctx, portfolioID, assetID)
}

func (s *MemoryStore) ListTransactionsByAsset(ctx context.Context, assetID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListTransactionsByAsset(ctx, assetID)
}

func (s *MemoryStore) ListTransactionsByPortfolio(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListTransactionsByPortfolio(ctx, portfolioID)
}

func (m *memState) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	p, ok := m.portfolios[id]
	if !ok {
		return nil, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m *memState) ListPortfolios(_ context.Context, ownerID string) ([]model.Portfolio, error) {
	result := make([]model.Portfolio, 0)
	for _, p := range m.portfolios {
		if ownerID == "" || p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *memState) ListAssets(_ context.Context, portfolioID string) ([]model.Asset, error) {
	result := make([]model.Asset, 0)
	for _, a := range m.assets {
		if a.PortfolioID == portfolioID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *memState) GetAsset(_ context.Context, portfolioID, assetID string) (*model.Asset, error) {
	a, ok := m.assets[assetID]
	if !ok || a.PortfolioID != portfolioID {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	return &a, nil
}

func (m *memState) ListTransactionsByAsset(_ context.Context, assetID string) ([]model.Transaction, error) {
	return append([]model.Transaction{}, m.assetTx[assetID]...), nil
}

func (m *memState) ListTransactionsByPortfolio(_ context.Context, portfolioID string) ([]model.Transaction, error) {
	return append([]model.Transaction{}, m.history[portfolioID]...), nil
}

// --- Write side ---

// memTx needs no row locks: the store mutex already serializes writers.
type memTx struct {
	*memState
}

func (t *memTx) LockPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	return t.GetPortfolio(ctx, id)
}

func (t *memTx) LockAsset(ctx context.Context, portfolioID, assetID string) (*model.Asset, error) {
	return t.GetAsset(ctx, portfolioID, assetID)
}

func (t *memTx) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	if _, exists := t.portfolios[p.ID]; exists {
		return fmt.Errorf("portfolio %s already exists", p.ID)
	}
	t.portfolios[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePortfolio(_ context.Context, p *model.Portfolio) error {
	if _, ok := t.portfolios[p.ID]; !ok {
		return fmt.Errorf("portfolio %s: %w", p.ID, ErrNotFound)
	}
	t.portfolios[p.ID] = *p
	return nil
}

func (t *memTx) DeletePortfolio(_ context.Context, id string) error {
	if _, ok := t.portfolios[id]; !ok {
		return fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	for assetID, a := range t.assets {
		if a.PortfolioID == id {
			delete(t.assets, assetID)
			delete(t.assetTx, assetID)
		}
	}
	delete(t.history, id)
	delete(t.portfolios, id)
	return nil
}

func (t *memTx) InsertAsset(_ context.Context, a *model.Asset) error {
	if _, ok := t.portfolios[a.PortfolioID]; !ok {
		return fmt.Errorf("portfolio %s: %w", a.PortfolioID, ErrNotFound)
	}
	if _, exists := t.assets[a.ID]; exists {
		return fmt.Errorf("asset %s already exists", a.ID)
	}
	t.assets[a.ID] = *a
	return nil
}

func (t *memTx) UpdateAsset(_ context.Context, a *model.Asset) error {
	existing, ok := t.assets[a.ID]
	if !ok || existing.PortfolioID != a.PortfolioID {
		return fmt.Errorf("asset %s: %w", a.ID, ErrNotFound)
	}
	t.assets[a.ID] = *a
	return nil
}

func (t *memTx) DeleteAsset(_ context.Context, portfolioID, assetID string) error {
	a, ok := t.assets[assetID]
	if !ok || a.PortfolioID != portfolioID {
		return fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	delete(t.assets, assetID)
	delete(t.assetTx, assetID)
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, tx *model.Transaction) error {
	a, ok := t.assets[tx.AssetID]
	if !ok || a.PortfolioID != tx.PortfolioID {
		return fmt.Errorf("asset %s: %w", tx.AssetID, ErrNotFound)
	}
	t.assetTx[tx.AssetID] = append(t.assetTx[tx.AssetID], *tx)
	t.history[tx.PortfolioID] = append(t.history[tx.PortfolioID], *tx)
	return nil
}
