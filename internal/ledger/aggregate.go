package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

// Totals are the portfolio-level sums over currently active assets.
type Totals struct {
	TotalValue           decimal.Decimal
	TotalUnrealizedPL    decimal.Decimal
	TotalUnrealizedPLPct decimal.Decimal
}

// Aggregate sums active assets (amount > 0). The percentage is taken against
// total_value - total_unrealized_pl, which approximates the cost basis of
// what is still held; it is 0 when that denominator is not positive.
func Aggregate(assets []model.Asset) Totals {
	var t Totals
	for _, a := range assets {
		if !a.Amount.IsPositive() {
			continue
		}
		t.TotalValue = t.TotalValue.Add(a.TotalValue)
		t.TotalUnrealizedPL = t.TotalUnrealizedPL.Add(a.ProfitLoss)
	}
	heldCost := t.TotalValue.Sub(t.TotalUnrealizedPL)
	if heldCost.IsPositive() {
		t.TotalUnrealizedPLPct = t.TotalUnrealizedPL.Div(heldCost).Mul(hundred)
	}
	return t
}

// Running is the incremental part of the portfolio aggregates: history that
// must survive asset deletion, so it is never recomputed from active assets.
type Running struct {
	RealizedPL decimal.Decimal
	CostBasis  decimal.Decimal
}

// Accrue folds one journal entry into the running sums. Buys add their
// total value to the cost basis; sells add their realized P&L.
func (r Running) Accrue(tx model.Transaction) Running {
	switch tx.Type {
	case model.TxBuy:
		r.CostBasis = r.CostBasis.Add(tx.TotalValue)
	case model.TxSell:
		r.RealizedPL = r.RealizedPL.Add(tx.RealizedProfitLoss)
	}
	return r
}

// Replay rebuilds the running sums from a full portfolio history.
func Replay(history []model.Transaction) Running {
	var r Running
	for _, tx := range history {
		r = r.Accrue(tx)
	}
	return r
}
