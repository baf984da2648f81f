package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/ledger"
	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

// Issue is one disagreement between materialized state and the journal.
type Issue struct {
	PortfolioID string `json:"portfolio_id"`
	AssetID     string `json:"asset_id,omitempty"`
	Field       string `json:"field"`
	Stored      string `json:"stored"`
	Derived     string `json:"derived"`
}

func (i Issue) String() string {
	if i.AssetID != "" {
		return fmt.Sprintf("portfolio %s asset %s: %s stored %s, derived %s", i.PortfolioID, i.AssetID, i.Field, i.Stored, i.Derived)
	}
	return fmt.Sprintf("portfolio %s: %s stored %s, derived %s", i.PortfolioID, i.Field, i.Stored, i.Derived)
}

// Report summarizes a reconciliation run.
type Report struct {
	Portfolios int     `json:"portfolios"`
	Assets     int     `json:"assets"`
	Entries    int     `json:"entries"`
	Issues     []Issue `json:"issues"`
}

// OK reports whether no disagreement was found.
func (r Report) OK() bool { return len(r.Issues) == 0 }

// Reconcile re-derives every asset from its journal at the asset's cached
// price, and every portfolio's totals from its assets and history, and
// reports where the stored rows disagree. It does not write.
func Reconcile(ctx context.Context, r store.Reader) (Report, error) {
	var rep Report
	portfolios, err := r.ListPortfolios(ctx, "")
	if err != nil {
		return rep, fmt.Errorf("list portfolios: %w", err)
	}

	for _, p := range portfolios {
		rep.Portfolios++
		assets, err := r.ListAssets(ctx, p.ID)
		if err != nil {
			return rep, fmt.Errorf("list assets of %s: %w", p.ID, err)
		}
		for _, a := range assets {
			rep.Assets++
			entries, err := r.ListTransactionsByAsset(ctx, a.ID)
			if err != nil {
				return rep, fmt.Errorf("journal of %s: %w", a.ID, err)
			}
			rep.Entries += len(entries)
			rep.Issues = append(rep.Issues, checkAsset(a, entries)...)
		}

		history, err := r.ListTransactionsByPortfolio(ctx, p.ID)
		if err != nil {
			return rep, fmt.Errorf("history of %s: %w", p.ID, err)
		}
		rep.Issues = append(rep.Issues, checkPortfolio(p, assets, history)...)
	}
	return rep, nil
}

func checkAsset(a model.Asset, entries []model.Transaction) []Issue {
	issue := func(field string, stored, derived decimal.Decimal) Issue {
		return Issue{PortfolioID: a.PortfolioID, AssetID: a.ID, Field: field, Stored: stored.String(), Derived: derived.String()}
	}

	st, err := ledger.Derive(entries, a.CurrentPrice)
	if err != nil {
		return []Issue{{PortfolioID: a.PortfolioID, AssetID: a.ID, Field: "journal", Stored: a.Amount.String(), Derived: err.Error()}}
	}
	if st.Closed {
		return []Issue{issue("amount", a.Amount, decimal.Zero)}
	}

	var issues []Issue
	for _, c := range []struct {
		field           string
		stored, derived decimal.Decimal
	}{
		{"amount", a.Amount, st.Amount},
		{"average_buy_price", a.AverageBuyPrice, st.AverageBuyPrice},
		{"total_value", a.TotalValue, st.TotalValue},
		{"profit_loss", a.ProfitLoss, st.ProfitLoss},
	} {
		if !c.stored.Equal(c.derived) {
			issues = append(issues, issue(c.field, c.stored, c.derived))
		}
	}
	return issues
}

func checkPortfolio(p model.Portfolio, assets []model.Asset, history []model.Transaction) []Issue {
	totals := ledger.Aggregate(assets)
	running := ledger.Replay(history)

	var issues []Issue
	for _, c := range []struct {
		field           string
		stored, derived decimal.Decimal
	}{
		{"total_value", p.TotalValue, totals.TotalValue},
		{"total_unrealized_pl", p.TotalUnrealizedPL, totals.TotalUnrealizedPL},
		{"total_realized_pl", p.TotalRealizedPL, running.RealizedPL},
		{"total_cost_basis", p.TotalCostBasis, running.CostBasis},
	} {
		if !c.stored.Equal(c.derived) {
			issues = append(issues, Issue{PortfolioID: p.ID, Field: c.field, Stored: c.stored.String(), Derived: c.derived.String()})
		}
	}
	return issues
}
