package portfolio

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

// journal is the append-only transaction record. Entries are written once,
// to the asset's journal and to the portfolio history index in the same
// store transaction, and never edited afterwards.
type journal struct {
	now   func() time.Time
	newID func() string
}

func newJournal(now func() time.Time) *journal {
	return &journal{now: now, newID: uuid.NewString}
}

// append stamps entry with an id, the asset's denormalized crypto fields and
// the server time (unless already set), then persists it.
func (j *journal) append(ctx context.Context, tx store.Tx, a *model.Asset, entry model.Transaction) (model.Transaction, error) {
	entry.ID = j.newID()
	entry.AssetID = a.ID
	entry.PortfolioID = a.PortfolioID
	entry.CryptoID = a.CryptoID
	entry.Symbol = a.Symbol
	entry.Name = a.Name
	if entry.Timestamp.IsZero() {
		entry.Timestamp = j.now()
	}
	if err := tx.AppendTransaction(ctx, &entry); err != nil {
		return model.Transaction{}, fromStore(err, "asset", a.ID)
	}
	return entry, nil
}

// listByAsset returns the asset's journal in insertion order.
func (j *journal) listByAsset(ctx context.Context, r store.Reader, assetID string) ([]model.Transaction, error) {
	entries, err := r.ListTransactionsByAsset(ctx, assetID)
	if err != nil {
		return nil, fromStore(err, "asset", assetID)
	}
	return entries, nil
}

// listByPortfolio returns every entry ever recorded in the portfolio,
// including those of assets that have since been closed or removed.
func (j *journal) listByPortfolio(ctx context.Context, r store.Reader, portfolioID string) ([]model.Transaction, error) {
	entries, err := r.ListTransactionsByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fromStore(err, "portfolio", portfolioID)
	}
	return entries, nil
}
