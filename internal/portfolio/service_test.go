package portfolio_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptassist/portfolio-engine/internal/advisor"
	"github.com/cryptassist/portfolio-engine/internal/apperr"
	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/portfolio"
	"github.com/cryptassist/portfolio-engine/internal/pricing"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	w := decimal.RequireFromString(want)
	assert.Truef(t, w.Equal(got), "%s: want %s, got %s", field, w, got)
}

// fakeGateway is a Price Gateway with settable prices. A coin with no price
// is unknown; a set err fails every call.
type fakeGateway struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{prices: map[string]decimal.Decimal{
		"bitcoin":  d(40000),
		"ethereum": d(2500),
	}}
}

func (g *fakeGateway) set(id string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[id] = d(price)
}

func (g *fakeGateway) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGateway) GetCurrentPrice(_ context.Context, id string) (model.PriceQuote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return model.PriceQuote{}, g.err
	}
	p, ok := g.prices[id]
	if !ok {
		return model.PriceQuote{}, pricing.ErrNotFound
	}
	return model.PriceQuote{
		CryptoID:  id,
		Symbol:    strings.ToUpper(id[:3]),
		Name:      strings.ToUpper(id[:1]) + id[1:],
		Price:     p,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (g *fakeGateway) GetPriceHistory(ctx context.Context, id string, days int) ([]model.PricePoint, error) {
	q, err := g.GetCurrentPrice(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return []model.PricePoint{
		{Timestamp: now.AddDate(0, 0, -days), Price: q.Price.Sub(d(1))},
		{Timestamp: now, Price: q.Price},
	}, nil
}

func (g *fakeGateway) ListMarket(_ context.Context, limit int) ([]model.MarketCoin, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	coins := []model.MarketCoin{
		{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: g.prices["bitcoin"], MarketCapRank: 1, PriceChangePercentage24h: d(2.5)},
		{ID: "ethereum", Symbol: "eth", Name: "Ethereum", CurrentPrice: g.prices["ethereum"], MarketCapRank: 2, PriceChangePercentage24h: d(-1)},
	}
	if limit < len(coins) {
		coins = coins[:limit]
	}
	return coins, nil
}

type fixedGenerator struct {
	text string
	err  error
}

func (g fixedGenerator) Generate(context.Context, string, string) (string, error) {
	return g.text, g.err
}

func newService(t *testing.T) (*portfolio.Service, *store.MemoryStore, *fakeGateway) {
	t.Helper()
	ms := store.NewMemoryStore()
	gw := newFakeGateway()
	return portfolio.NewService(ms, gw, nil, nil), ms, gw
}

func createPortfolio(t *testing.T, svc *portfolio.Service, owner string) *model.Portfolio {
	t.Helper()
	p, err := svc.CreatePortfolio(context.Background(), owner, "Main", "long term")
	require.NoError(t, err)
	return p
}

func addAsset(t *testing.T, svc *portfolio.Service, owner, portfolioID, cryptoID string, amount, buyPrice float64) *model.Asset {
	t.Helper()
	res, err := svc.AddAsset(context.Background(), owner, portfolio.AddAssetInput{
		PortfolioID: portfolioID,
		CryptoID:    cryptoID,
		Amount:      d(amount),
		BuyPrice:    d(buyPrice),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Asset)
	return res.Asset
}

func addTx(svc *portfolio.Service, owner, portfolioID, assetID string, typ model.TxType, amount, price float64) (*portfolio.MutationResult, error) {
	return svc.AddTransaction(context.Background(), owner, portfolio.AddTransactionInput{
		PortfolioID:  portfolioID,
		AssetID:      assetID,
		Type:         typ,
		Amount:       d(amount),
		PricePerUnit: d(price),
	})
}

// assertConsistent checks that the portfolio total equals the sum over its
// active assets and that nothing disagrees with the journal.
func assertConsistent(t *testing.T, ms *store.MemoryStore, portfolioID string) {
	t.Helper()
	ctx := context.Background()
	p, err := ms.GetPortfolio(ctx, portfolioID)
	require.NoError(t, err)
	assets, err := ms.ListAssets(ctx, portfolioID)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, a := range assets {
		assert.True(t, a.Amount.IsPositive(), "asset %s kept at zero", a.ID)
		sum = sum.Add(a.TotalValue)
	}
	assert.Truef(t, sum.Equal(p.TotalValue), "total_value %s != sum of assets %s", p.TotalValue, sum)

	rep, err := portfolio.Reconcile(ctx, ms)
	require.NoError(t, err)
	assert.Empty(t, rep.Issues)
}

func assertCategory(t *testing.T, err error, c apperr.Category) {
	t.Helper()
	require.Error(t, err)
	assert.Truef(t, apperr.Is(err, c), "want %s error, got %v", c, err)
}

// --- Add asset ---

func TestAddAsset_ValuesAtMarketPrice(t *testing.T) {
	svc, ms, _ := newService(t)
	p := createPortfolio(t, svc, "alice")

	res, err := svc.AddAsset(context.Background(), "alice", portfolio.AddAssetInput{
		PortfolioID: p.ID, CryptoID: "bitcoin", Amount: d(0.5), BuyPrice: d(35000),
	})
	require.NoError(t, err)

	a := res.Asset
	assert.Equal(t, "bitcoin", a.CryptoID)
	assertDec(t, "0.5", a.Amount, "amount")
	assertDec(t, "35000", a.AverageBuyPrice, "average_buy_price")
	assertDec(t, "40000", a.CurrentPrice, "current_price")
	assertDec(t, "20000", a.TotalValue, "total_value")
	assertDec(t, "2500", a.ProfitLoss, "profit_loss")
	assertDec(t, "14.29", a.ProfitLossPercentage.Round(2), "profit_loss_pct")

	require.NotNil(t, res.Transaction)
	assert.Equal(t, model.TxBuy, res.Transaction.Type)
	assertDec(t, "17500", res.Transaction.TotalValue, "opening total_value")

	assertDec(t, "20000", res.Portfolio.TotalValue, "portfolio total_value")
	assertDec(t, "2500", res.Portfolio.TotalUnrealizedPL, "portfolio unrealized")
	assertDec(t, "17500", res.Portfolio.TotalCostBasis, "portfolio cost basis")
	assertConsistent(t, ms, p.ID)
}

func TestAddAsset_NormalizesCryptoID(t *testing.T) {
	svc, _, _ := newService(t)
	p := createPortfolio(t, svc, "alice")

	a := addAsset(t, svc, "alice", p.ID, "  Bitcoin ", 1, 100)
	assert.Equal(t, "bitcoin", a.CryptoID)
}

func TestAddAsset_Validation(t *testing.T) {
	svc, ms, _ := newService(t)
	p := createPortfolio(t, svc, "alice")

	tests := []struct {
		name string
		in   portfolio.AddAssetInput
	}{
		{"zero amount", portfolio.AddAssetInput{CryptoID: "bitcoin", Amount: d(0), BuyPrice: d(1)}},
		{"negative amount", portfolio.AddAssetInput{CryptoID: "bitcoin", Amount: d(-1), BuyPrice: d(1)}},
		{"zero price", portfolio.AddAssetInput{CryptoID: "bitcoin", Amount: d(1), BuyPrice: d(0)}},
		{"bad crypto id", portfolio.AddAssetInput{CryptoID: "bit coin!", Amount: d(1), BuyPrice: d(1)}},
		{"empty crypto id", portfolio.AddAssetInput{Amount: d(1), BuyPrice: d(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.PortfolioID = p.ID
			_, err := svc.AddAsset(context.Background(), "alice", tt.in)
			assertCategory(t, err, apperr.CategoryValidation)
		})
	}

	assets, err := ms.ListAssets(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestAddAsset_AbortsWithoutLivePrice(t *testing.T) {
	svc, ms, gw := newService(t)
	p := createPortfolio(t, svc, "alice")

	gw.fail(pricing.ErrUnavailable)
	_, err := svc.AddAsset(context.Background(), "alice", portfolio.AddAssetInput{
		PortfolioID: p.ID, CryptoID: "bitcoin", Amount: d(1), BuyPrice: d(100),
	})
	assertCategory(t, err, apperr.CategoryUpstream)

	history, err := ms.ListTransactionsByPortfolio(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAddAsset_UnknownCoin(t *testing.T) {
	svc, _, _ := newService(t)
	p := createPortfolio(t, svc, "alice")

	_, err := svc.AddAsset(context.Background(), "alice", portfolio.AddAssetInput{
		PortfolioID: p.ID, CryptoID: "nocoin", Amount: d(1), BuyPrice: d(100),
	})
	assertCategory(t, err, apperr.CategoryNotFound)
	e, _ := apperr.As(err)
	assert.Equal(t, "cryptocurrency", e.Details["resource"])
}

// --- Add transaction ---

func TestAddTransaction_WeightedAverageAndRealized(t *testing.T) {
	svc, ms, gw := newService(t)
	gw.set("bitcoin", 250)
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 100)

	res, err := addTx(svc, "alice", p.ID, a.ID, model.TxBuy, 1, 200)
	require.NoError(t, err)
	assertDec(t, "150", res.Asset.AverageBuyPrice, "average after buys")
	assertDec(t, "2", res.Asset.Amount, "amount after buys")
	assertConsistent(t, ms, p.ID)

	res, err = addTx(svc, "alice", p.ID, a.ID, model.TxSell, 0.5, 300)
	require.NoError(t, err)
	assertDec(t, "75", res.Transaction.RealizedProfitLoss, "realized")
	assertDec(t, "1.5", res.Asset.Amount, "amount after sell")
	assertDec(t, "150", res.Asset.AverageBuyPrice, "average after sell")
	assertDec(t, "375", res.Asset.TotalValue, "total_value")
	assertDec(t, "150", res.Asset.ProfitLoss, "profit_loss")
	assert.False(t, res.Closed)

	assertDec(t, "75", res.Portfolio.TotalRealizedPL, "portfolio realized")
	assertDec(t, "300", res.Portfolio.TotalCostBasis, "portfolio cost basis")
	assertDec(t, "375", res.Portfolio.TotalValue, "portfolio total_value")
	assertConsistent(t, ms, p.ID)
}

func TestAddTransaction_FullSellClosesAsset(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)

	res, err := addTx(svc, "alice", p.ID, a.ID, model.TxSell, 1, 45000)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Nil(t, res.Asset)
	assertDec(t, "15000", res.Portfolio.TotalRealizedPL, "realized")
	assertDec(t, "0", res.Portfolio.TotalValue, "total_value")

	_, err = svc.Asset(ctx, "alice", p.ID, a.ID)
	assertCategory(t, err, apperr.CategoryNotFound)

	view, err := svc.Portfolio(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Assets)

	history, err := svc.PortfolioTransactions(ctx, "alice", p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.TxBuy, history[0].Type)
	assert.Equal(t, model.TxSell, history[1].Type)
	assert.Equal(t, "bitcoin", history[1].CryptoID)
	assert.Equal(t, a.ID, history[1].AssetID)
	assertConsistent(t, ms, p.ID)
}

func TestAddTransaction_ConcurrentSellsSerialize(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)

	const sellers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		closed    int
		failures  []error
	)
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := addTx(svc, "alice", p.ID, a.ID, model.TxSell, 0.1, 31000)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			succeeded++
			if res.Closed {
				closed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 1, closed, "only the last sell closes the asset")
	for _, err := range failures {
		// Late sellers see either the oversell or the already-closed asset.
		assert.Truef(t, apperr.Is(err, apperr.CategoryValidation) || apperr.Is(err, apperr.CategoryNotFound),
			"unexpected error: %v", err)
	}

	history, err := svc.PortfolioTransactions(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 11)

	view, err := svc.Portfolio(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Assets)
	assertDec(t, "1000", view.Portfolio.TotalRealizedPL, "ten sells of 0.1 at +1000")
	assertConsistent(t, ms, p.ID)
}

func TestAddTransaction_OversellRejected(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 100)

	_, err := addTx(svc, "alice", p.ID, a.ID, model.TxSell, 1.5, 100)
	assertCategory(t, err, apperr.CategoryValidation)

	entries, err := ms.ListTransactionsByAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	stored, err := ms.GetAsset(ctx, p.ID, a.ID)
	require.NoError(t, err)
	assertDec(t, "1", stored.Amount, "amount")
}

func TestAddTransaction_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 100)

	_, err := addTx(svc, "alice", p.ID, a.ID, "hold", 1, 100)
	assertCategory(t, err, apperr.CategoryValidation)
	_, err = addTx(svc, "alice", p.ID, a.ID, model.TxBuy, 0, 100)
	assertCategory(t, err, apperr.CategoryValidation)
	_, err = addTx(svc, "alice", p.ID, a.ID, model.TxBuy, 1, -5)
	assertCategory(t, err, apperr.CategoryValidation)
	_, err = addTx(svc, "alice", p.ID, "missing", model.TxBuy, 1, 5)
	assertCategory(t, err, apperr.CategoryNotFound)
}

func TestAddTransaction_FallsBackToCachedPrice(t *testing.T) {
	svc, ms, gw := newService(t)
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)

	gw.fail(pricing.ErrUnavailable)
	res, err := addTx(svc, "alice", p.ID, a.ID, model.TxBuy, 1, 50000)
	require.NoError(t, err)
	assertDec(t, "40000", res.Asset.CurrentPrice, "cached price")
	assertDec(t, "80000", res.Asset.TotalValue, "total_value")
	assertConsistent(t, ms, p.ID)
}

func TestAddTransaction_DetectsTamperedAsset(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 100)

	err := ms.WithTx(ctx, func(tx store.Tx) error {
		row, err := tx.LockAsset(ctx, p.ID, a.ID)
		if err != nil {
			return err
		}
		row.Amount = d(5)
		return tx.UpdateAsset(ctx, row)
	})
	require.NoError(t, err)

	_, err = addTx(svc, "alice", p.ID, a.ID, model.TxSell, 3, 100)
	assertCategory(t, err, apperr.CategoryConsistency)

	history, err := ms.ListTransactionsByPortfolio(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "rolled back entry must not reach the history")

	rep, err := portfolio.Reconcile(ctx, ms)
	require.NoError(t, err)
	require.False(t, rep.OK())
	assert.Equal(t, a.ID, rep.Issues[0].AssetID)
	assert.Equal(t, "amount", rep.Issues[0].Field)
}

// --- Update / remove asset ---

func TestUpdateAsset_AdjustsThroughJournal(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)

	res, err := svc.UpdateAsset(ctx, "alice", portfolio.UpdateAssetInput{
		PortfolioID: p.ID, AssetID: a.ID, Amount: d(3), BuyPrice: d(36000),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, model.TxBuy, res.Transaction.Type)
	assertDec(t, "2", res.Transaction.Amount, "adjusting buy")
	assertDec(t, "3", res.Asset.Amount, "amount")
	assertDec(t, "34000", res.Asset.AverageBuyPrice, "average")
	assertConsistent(t, ms, p.ID)

	res, err = svc.UpdateAsset(ctx, "alice", portfolio.UpdateAssetInput{
		PortfolioID: p.ID, AssetID: a.ID, Amount: d(2), BuyPrice: d(40000),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TxSell, res.Transaction.Type)
	assertDec(t, "6000", res.Transaction.RealizedProfitLoss, "adjusting sell realized")
	assertDec(t, "2", res.Asset.Amount, "amount")
	assertDec(t, "34000", res.Asset.AverageBuyPrice, "average")
	assertConsistent(t, ms, p.ID)
}

func TestUpdateAsset_SameAmountOnlyRevalues(t *testing.T) {
	svc, ms, gw := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)

	gw.set("bitcoin", 42000)
	res, err := svc.UpdateAsset(ctx, "alice", portfolio.UpdateAssetInput{
		PortfolioID: p.ID, AssetID: a.ID, Amount: d(1), BuyPrice: d(30000),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Transaction)
	assertDec(t, "42000", res.Asset.TotalValue, "revalued")

	entries, err := ms.ListTransactionsByAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assertConsistent(t, ms, p.ID)
}

func TestUpdateAsset_SameAmountRejectsNewBuyPrice(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)

	_, err := svc.UpdateAsset(ctx, "alice", portfolio.UpdateAssetInput{
		PortfolioID: p.ID, AssetID: a.ID, Amount: d(1), BuyPrice: d(35000),
	})
	assertCategory(t, err, apperr.CategoryValidation)
	e, _ := apperr.As(err)
	assert.Equal(t, "buy_price", e.Details["field"])

	got, err := ms.GetAsset(ctx, p.ID, a.ID)
	require.NoError(t, err)
	assertDec(t, "30000", got.AverageBuyPrice, "average untouched")
	entries, err := ms.ListTransactionsByAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assertConsistent(t, ms, p.ID)
}

func TestUpdateAsset_ZeroCloses(t *testing.T) {
	svc, ms, _ := newService(t)
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)

	res, err := svc.UpdateAsset(context.Background(), "alice", portfolio.UpdateAssetInput{
		PortfolioID: p.ID, AssetID: a.ID, Amount: decimal.Zero, BuyPrice: d(30000),
	})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assertConsistent(t, ms, p.ID)

	_, err = svc.UpdateAsset(context.Background(), "alice", portfolio.UpdateAssetInput{
		PortfolioID: p.ID, AssetID: a.ID, Amount: d(-1), BuyPrice: d(1),
	})
	assertCategory(t, err, apperr.CategoryValidation)
}

func TestRemoveAsset_KeepsHistoryAndRealized(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	btc := addAsset(t, svc, "alice", p.ID, "bitcoin", 2, 30000)
	addAsset(t, svc, "alice", p.ID, "ethereum", 4, 2000)
	_, err := addTx(svc, "alice", p.ID, btc.ID, model.TxSell, 1, 35000)
	require.NoError(t, err)

	refreshed, err := svc.RemoveAsset(ctx, "alice", p.ID, btc.ID)
	require.NoError(t, err)
	assertDec(t, "10000", refreshed.TotalValue, "eth only")
	assertDec(t, "5000", refreshed.TotalRealizedPL, "realized kept")

	history, err := svc.PortfolioTransactions(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assertConsistent(t, ms, p.ID)

	_, err = svc.RemoveAsset(ctx, "alice", p.ID, btc.ID)
	assertCategory(t, err, apperr.CategoryNotFound)
}

// --- Portfolios ---

func TestDeletePortfolio_Cascades(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	btc := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 30000)
	eth := addAsset(t, svc, "alice", p.ID, "ethereum", 1, 2000)
	for _, step := range []struct {
		assetID string
		price   float64
	}{{btc.ID, 31000}, {btc.ID, 32000}, {eth.ID, 2100}} {
		_, err := addTx(svc, "alice", p.ID, step.assetID, model.TxBuy, 1, step.price)
		require.NoError(t, err)
	}
	history, err := svc.PortfolioTransactions(ctx, "alice", p.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)

	require.NoError(t, svc.DeletePortfolio(ctx, "alice", p.ID))

	_, err = svc.Portfolio(ctx, "alice", p.ID)
	assertCategory(t, err, apperr.CategoryNotFound)
	for _, id := range []string{btc.ID, eth.ID} {
		entries, err := ms.ListTransactionsByAsset(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
	left, err := ms.ListTransactionsByPortfolio(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	err = svc.DeletePortfolio(ctx, "alice", p.ID)
	assertCategory(t, err, apperr.CategoryNotFound)
}

func TestPortfolio_OwnershipHidesOthers(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "alice")
	a := addAsset(t, svc, "alice", p.ID, "bitcoin", 1, 100)

	_, err := svc.Portfolio(ctx, "mallory", p.ID)
	assertCategory(t, err, apperr.CategoryNotFound)
	_, err = addTx(svc, "mallory", p.ID, a.ID, model.TxSell, 1, 100)
	assertCategory(t, err, apperr.CategoryNotFound)
	err = svc.DeletePortfolio(ctx, "mallory", p.ID)
	assertCategory(t, err, apperr.CategoryNotFound)

	mine, err := svc.Portfolios(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestCreateAndUpdatePortfolio(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreatePortfolio(ctx, "alice", "   ", "")
	assertCategory(t, err, apperr.CategoryValidation)

	p := createPortfolio(t, svc, "alice")
	assert.True(t, p.TotalValue.IsZero())

	name := "Retirement"
	updated, err := svc.UpdatePortfolio(ctx, "alice", p.ID, portfolio.UpdatePortfolioInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Retirement", updated.Name)
	assert.Equal(t, "long term", updated.Description)

	empty := ""
	_, err = svc.UpdatePortfolio(ctx, "alice", p.ID, portfolio.UpdatePortfolioInput{Name: &empty})
	assertCategory(t, err, apperr.CategoryValidation)
}

// --- Market data and advice ---

func TestMarketQueries(t *testing.T) {
	svc, _, gw := newService(t)
	ctx := context.Background()

	coins, err := svc.Cryptocurrencies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "bitcoin", coins[0].ID)

	_, err = svc.Cryptocurrencies(ctx, 1000)
	assertCategory(t, err, apperr.CategoryValidation)

	quote, err := svc.Cryptocurrency(ctx, "ethereum")
	require.NoError(t, err)
	assertDec(t, "2500", quote.Price, "quote")

	_, err = svc.PriceHistory(ctx, "bitcoin", 0)
	assertCategory(t, err, apperr.CategoryValidation)
	points, err := svc.PriceHistory(ctx, "bitcoin", 7)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	gw.fail(errors.New("connection reset"))
	_, err = svc.Cryptocurrency(ctx, "bitcoin")
	assertCategory(t, err, apperr.CategoryUpstream)
}

func TestAdvice(t *testing.T) {
	ms := store.NewMemoryStore()
	gw := newFakeGateway()
	ctx := context.Background()

	ok := portfolio.NewService(ms, gw, advisor.New(fixedGenerator{text: "Hold."}, gw, time.Second), nil)
	p := createPortfolio(t, ok, "alice")
	addAsset(t, ok, "alice", p.ID, "bitcoin", 1, 30000)

	advice, err := ok.Advice(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hold.", advice.Text)
	assert.False(t, advice.Degraded)

	failing := portfolio.NewService(ms, gw, advisor.New(fixedGenerator{err: errors.New("quota")}, gw, time.Second), nil)
	advice, err = failing.Advice(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Equal(t, advisor.Apology, advice.Text)
	assert.True(t, advice.Degraded)

	_, err = failing.Advice(ctx, "alice", "missing")
	assertCategory(t, err, apperr.CategoryNotFound)
}
