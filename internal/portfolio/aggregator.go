package portfolio

import (
	"context"
	"time"

	"github.com/cryptassist/portfolio-engine/internal/ledger"
	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

// aggregator recomputes portfolio totals. Value and unrealized P&L are
// summed from the active assets read inside the transaction; realized P&L
// and cost basis are running sums advanced by the entries just journaled.
type aggregator struct {
	now func() time.Time
}

// refresh must run after every asset create, update, delete or recompute,
// inside the same transaction and with the portfolio row locked.
func (g *aggregator) refresh(ctx context.Context, tx store.Tx, p *model.Portfolio, accrued ...model.Transaction) (*model.Portfolio, error) {
	assets, err := tx.ListAssets(ctx, p.ID)
	if err != nil {
		return nil, fromStore(err, "portfolio", p.ID)
	}
	totals := ledger.Aggregate(assets)

	running := ledger.Running{RealizedPL: p.TotalRealizedPL, CostBasis: p.TotalCostBasis}
	for _, entry := range accrued {
		running = running.Accrue(entry)
	}

	updated := *p
	updated.TotalValue = totals.TotalValue
	updated.TotalUnrealizedPL = totals.TotalUnrealizedPL
	updated.TotalUnrealizedPLPct = totals.TotalUnrealizedPLPct
	updated.TotalRealizedPL = running.RealizedPL
	updated.TotalCostBasis = running.CostBasis
	updated.UpdatedAt = g.now()

	if err := tx.UpdatePortfolio(ctx, &updated); err != nil {
		return nil, fromStore(err, "portfolio", p.ID)
	}
	return &updated, nil
}
