package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/apperr"
	"github.com/cryptassist/portfolio-engine/internal/ledger"
	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

// assetStore keeps the materialized asset rows in step with their journals.
// Every method runs inside a store transaction, and every caller refreshes
// the owning portfolio afterwards.
type assetStore struct {
	journal *journal
	now     func() time.Time
	newID   func() string
}

func newAssetStore(j *journal, now func() time.Time) *assetStore {
	return &assetStore{journal: j, now: now, newID: uuid.NewString}
}

// create opens a position with an implicit buy of amount at buyPrice,
// valued at currentPrice. The asset row and its opening entry are written
// together.
func (s *assetStore) create(ctx context.Context, tx store.Tx, portfolioID string, quote model.PriceQuote,
	amount, buyPrice decimal.Decimal, notes string) (*model.Asset, model.Transaction, error) {

	opening, err := ledger.Apply(ledger.State{}, model.TxBuy, amount, buyPrice)
	if err != nil {
		return nil, model.Transaction{}, fromLedger(err)
	}
	opening.Notes = notes

	st, err := ledger.Derive([]model.Transaction{opening}, quote.Price)
	if err != nil {
		return nil, model.Transaction{}, fromLedger(err)
	}

	now := s.now()
	a := &model.Asset{
		ID:          s.newID(),
		PortfolioID: portfolioID,
		CryptoID:    quote.CryptoID,
		Symbol:      quote.Symbol,
		Name:        quote.Name,
		CreatedAt:   now,
	}
	applyState(a, st, now)

	if err := tx.InsertAsset(ctx, a); err != nil {
		return nil, model.Transaction{}, fromStore(err, "portfolio", portfolioID)
	}
	opening.Timestamp = now
	entry, err := s.journal.append(ctx, tx, a, opening)
	if err != nil {
		return nil, model.Transaction{}, err
	}
	return a, entry, nil
}

// current derives the state of a locked asset from its journal and checks
// it against the materialized row. A disagreement means the row was written
// outside the journal, so the mutation must not build on it.
func (s *assetStore) current(ctx context.Context, tx store.Tx, a *model.Asset, price decimal.Decimal) (ledger.State, error) {
	entries, err := s.journal.listByAsset(ctx, tx, a.ID)
	if err != nil {
		return ledger.State{}, err
	}
	st, err := ledger.Derive(entries, price)
	if err != nil {
		return ledger.State{}, fromLedger(err)
	}
	if st.Closed || !st.Amount.Equal(a.Amount) {
		return ledger.State{}, apperr.Consistency(fmt.Sprintf(
			"asset %s holds %s but its journal sums to %s", a.ID, a.Amount, st.Amount))
	}
	return st, nil
}

// recompute re-reads the journal inside tx and rewrites the asset from it.
// A position with nothing left is deleted and reported as closed.
func (s *assetStore) recompute(ctx context.Context, tx store.Tx, a *model.Asset, price decimal.Decimal) (*model.Asset, bool, error) {
	entries, err := s.journal.listByAsset(ctx, tx, a.ID)
	if err != nil {
		return nil, false, err
	}
	st, err := ledger.Derive(entries, price)
	if err != nil {
		return nil, false, fromLedger(err)
	}

	if st.Closed {
		if err := s.delete(ctx, tx, a.PortfolioID, a.ID); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	updated := *a
	applyState(&updated, st, s.now())
	if err := tx.UpdateAsset(ctx, &updated); err != nil {
		return nil, false, fromStore(err, "asset", a.ID)
	}
	return &updated, false, nil
}

// delete removes the asset and its journal; the portfolio history index
// keeps its copies of the entries.
func (s *assetStore) delete(ctx context.Context, tx store.Tx, portfolioID, assetID string) error {
	return fromStore(tx.DeleteAsset(ctx, portfolioID, assetID), "asset", assetID)
}

func applyState(a *model.Asset, st ledger.State, now time.Time) {
	a.Amount = st.Amount
	a.AverageBuyPrice = st.AverageBuyPrice
	a.CurrentPrice = st.CurrentPrice
	a.TotalValue = st.TotalValue
	a.ProfitLoss = st.ProfitLoss
	a.ProfitLossPercentage = st.ProfitLossPercentage
	a.UpdatedAt = now
}
