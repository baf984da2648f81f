package portfolio

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/apperr"
	"github.com/cryptassist/portfolio-engine/internal/ledger"
	"github.com/cryptassist/portfolio-engine/internal/metrics"
	"github.com/cryptassist/portfolio-engine/internal/model"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

// CreatePortfolio creates an empty portfolio for owner.
func (s *Service) CreatePortfolio(ctx context.Context, owner, name, description string) (_ *model.Portfolio, err error) {
	defer observe("create_portfolio", time.Now(), &err)

	name, description = strings.TrimSpace(name), strings.TrimSpace(description)
	if err := validateText("name", name, maxNameLength, true); err != nil {
		return nil, err
	}
	if err := validateText("description", description, maxDescriptionLength, false); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Portfolio{
		ID:          s.newID(),
		OwnerID:     owner,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.inTx(ctx, func(tx store.Tx) error {
		return fromStore(tx.CreatePortfolio(ctx, p), "portfolio", p.ID)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("portfolio created", "portfolio_id", p.ID, "owner", owner)
	s.broadcast("portfolio_created", p, "")
	return p, nil
}

// UpdatePortfolio edits name and description. Aggregates are left alone.
func (s *Service) UpdatePortfolio(ctx context.Context, owner, id string, in UpdatePortfolioInput) (_ *model.Portfolio, err error) {
	defer observe("update_portfolio", time.Now(), &err)

	if in.Name != nil {
		if err := validateText("name", *in.Name, maxNameLength, true); err != nil {
			return nil, err
		}
	}
	if in.Description != nil {
		if err := validateText("description", *in.Description, maxDescriptionLength, false); err != nil {
			return nil, err
		}
	}

	var updated *model.Portfolio
	err = s.inTx(ctx, func(tx store.Tx) error {
		p, err := s.lockOwned(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			p.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			p.Description = strings.TrimSpace(*in.Description)
		}
		p.UpdatedAt = s.now()
		if err := tx.UpdatePortfolio(ctx, p); err != nil {
			return fromStore(err, "portfolio", id)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("portfolio updated", "portfolio_id", id)
	s.broadcast("portfolio_updated", updated, "")
	return updated, nil
}

// DeletePortfolio removes the portfolio with all its assets and history.
func (s *Service) DeletePortfolio(ctx context.Context, owner, id string) (err error) {
	defer observe("delete_portfolio", time.Now(), &err)

	var deleted *model.Portfolio
	err = s.inTx(ctx, func(tx store.Tx) error {
		p, err := s.lockOwned(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		deleted = p
		return fromStore(tx.DeletePortfolio(ctx, id), "portfolio", id)
	})
	if err != nil {
		return err
	}

	slog.Info("portfolio deleted", "portfolio_id", id)
	s.broadcast("portfolio_deleted", deleted, "")
	return nil
}

// AddAsset opens a position with an implicit buy at the given price and
// values it at the live market price. Without a live price the request
// fails; nothing is written.
func (s *Service) AddAsset(ctx context.Context, owner string, in AddAssetInput) (_ *MutationResult, err error) {
	defer observe("add_asset", time.Now(), &err)

	cryptoID, err := ledger.NormalizeCryptoID(in.CryptoID)
	if err != nil {
		return nil, fromLedger(err)
	}
	if err := ledger.ValidateEntry(model.TxBuy, in.Amount, in.BuyPrice); err != nil {
		return nil, fromLedger(err)
	}
	if err := validateText("notes", in.Notes, maxNotesLength, false); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, s.store, owner, in.PortfolioID); err != nil {
		return nil, err
	}

	quote, err := s.prices.GetCurrentPrice(ctx, cryptoID)
	if err != nil {
		return nil, fromPricing(err, "add asset", cryptoID)
	}

	res := &MutationResult{}
	err = s.inTx(ctx, func(tx store.Tx) error {
		p, err := s.lockOwned(ctx, tx, owner, in.PortfolioID)
		if err != nil {
			return err
		}
		a, opening, err := s.assets.create(ctx, tx, p.ID, quote, in.Amount, in.BuyPrice, in.Notes)
		if err != nil {
			return err
		}
		refreshed, err := s.totals.refresh(ctx, tx, p, opening)
		if err != nil {
			return err
		}
		res.Asset, res.Transaction, res.Portfolio = a, &opening, *refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("asset added",
		"portfolio_id", in.PortfolioID,
		"asset_id", res.Asset.ID,
		"crypto_id", cryptoID,
		"amount", in.Amount.String(),
		"buy_price", in.BuyPrice.String(),
		"current_price", quote.Price.String(),
	)
	s.broadcast("asset_added", &res.Portfolio, res.Asset.ID)
	return res, nil
}

// UpdateAsset moves a holding to the requested amount by journaling an
// adjusting entry at buy_price: a buy of the difference when growing, a sell
// when shrinking. An unchanged amount only revalues the asset. Amount zero
// closes it.
func (s *Service) UpdateAsset(ctx context.Context, owner string, in UpdateAssetInput) (_ *MutationResult, err error) {
	defer observe("update_asset", time.Now(), &err)

	if in.Amount.IsNegative() {
		return nil, apperr.Validation("amount", "must not be negative")
	}
	if !in.BuyPrice.IsPositive() {
		return nil, apperr.Validation("buy_price", "must be greater than zero")
	}
	if _, err := s.owned(ctx, s.store, owner, in.PortfolioID); err != nil {
		return nil, err
	}
	existing, err := s.store.GetAsset(ctx, in.PortfolioID, in.AssetID)
	if err != nil {
		return nil, fromStore(err, "asset", in.AssetID)
	}

	quote, err := s.prices.GetCurrentPrice(ctx, existing.CryptoID)
	if err != nil {
		return nil, fromPricing(err, "update asset", existing.CryptoID)
	}

	res := &MutationResult{}
	err = s.inTx(ctx, func(tx store.Tx) error {
		p, err := s.lockOwned(ctx, tx, owner, in.PortfolioID)
		if err != nil {
			return err
		}
		a, err := tx.LockAsset(ctx, in.PortfolioID, in.AssetID)
		if err != nil {
			return fromStore(err, "asset", in.AssetID)
		}
		st, err := s.assets.current(ctx, tx, a, quote.Price)
		if err != nil {
			return err
		}

		delta := in.Amount.Sub(st.Amount)
		// The average only moves through journaled buys.
		if delta.IsZero() && !in.BuyPrice.Equal(st.AverageBuyPrice) {
			return apperr.Validation("buy_price", "cannot change without an amount change; record a transaction instead")
		}

		var accrued []model.Transaction
		if !delta.IsZero() {
			txType := model.TxBuy
			if delta.IsNegative() {
				txType = model.TxSell
			}
			adjusting, err := ledger.Apply(st, txType, delta.Abs(), in.BuyPrice)
			if err != nil {
				return fromLedger(err)
			}
			adjusting.Notes = "position adjusted to " + in.Amount.String()
			entry, err := s.journal.append(ctx, tx, a, adjusting)
			if err != nil {
				return err
			}
			res.Transaction = &entry
			accrued = append(accrued, entry)
		}

		updated, closed, err := s.assets.recompute(ctx, tx, a, quote.Price)
		if err != nil {
			return err
		}
		refreshed, err := s.totals.refresh(ctx, tx, p, accrued...)
		if err != nil {
			return err
		}
		res.Asset, res.Closed, res.Portfolio = updated, closed, *refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Closed {
		metrics.ClosedAssets.Inc()
	}
	slog.Info("asset updated",
		"portfolio_id", in.PortfolioID,
		"asset_id", in.AssetID,
		"amount", in.Amount.String(),
		"closed", res.Closed,
	)
	s.broadcast("asset_updated", &res.Portfolio, in.AssetID)
	return res, nil
}

// RemoveAsset deletes an asset and its journal. The portfolio history keeps
// the asset's entries and the realized totals are unchanged.
func (s *Service) RemoveAsset(ctx context.Context, owner, portfolioID, assetID string) (_ *model.Portfolio, err error) {
	defer observe("remove_asset", time.Now(), &err)

	var refreshed *model.Portfolio
	err = s.inTx(ctx, func(tx store.Tx) error {
		p, err := s.lockOwned(ctx, tx, owner, portfolioID)
		if err != nil {
			return err
		}
		if _, err := tx.LockAsset(ctx, portfolioID, assetID); err != nil {
			return fromStore(err, "asset", assetID)
		}
		if err := s.assets.delete(ctx, tx, portfolioID, assetID); err != nil {
			return err
		}
		refreshed, err = s.totals.refresh(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("asset removed", "portfolio_id", portfolioID, "asset_id", assetID)
	s.broadcast("asset_removed", refreshed, assetID)
	return refreshed, nil
}

// AddTransaction journals a buy or sell, recomputes the asset from its full
// journal and refreshes the portfolio. A sell of the whole holding closes
// the asset; a larger sell is rejected.
//
// When the market price cannot be fetched the asset's cached price is used.
func (s *Service) AddTransaction(ctx context.Context, owner string, in AddTransactionInput) (_ *MutationResult, err error) {
	defer observe("add_transaction", time.Now(), &err)

	if err := ledger.ValidateEntry(in.Type, in.Amount, in.PricePerUnit); err != nil {
		return nil, fromLedger(err)
	}
	if err := validateText("notes", in.Notes, maxNotesLength, false); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, s.store, owner, in.PortfolioID); err != nil {
		return nil, err
	}
	existing, err := s.store.GetAsset(ctx, in.PortfolioID, in.AssetID)
	if err != nil {
		return nil, fromStore(err, "asset", in.AssetID)
	}
	price := s.priceOrCached(ctx, existing)

	res := &MutationResult{}
	err = s.inTx(ctx, func(tx store.Tx) error {
		p, err := s.lockOwned(ctx, tx, owner, in.PortfolioID)
		if err != nil {
			return err
		}
		a, err := tx.LockAsset(ctx, in.PortfolioID, in.AssetID)
		if err != nil {
			return fromStore(err, "asset", in.AssetID)
		}
		st, err := s.assets.current(ctx, tx, a, price)
		if err != nil {
			return err
		}
		next, err := ledger.Apply(st, in.Type, in.Amount, in.PricePerUnit)
		if err != nil {
			return fromLedger(err)
		}
		next.Notes = strings.TrimSpace(in.Notes)
		entry, err := s.journal.append(ctx, tx, a, next)
		if err != nil {
			return err
		}
		updated, closed, err := s.assets.recompute(ctx, tx, a, price)
		if err != nil {
			return err
		}
		refreshed, err := s.totals.refresh(ctx, tx, p, entry)
		if err != nil {
			return err
		}
		res.Asset, res.Closed, res.Transaction, res.Portfolio = updated, closed, &entry, *refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Closed {
		metrics.ClosedAssets.Inc()
	}
	slog.Info("transaction recorded",
		"portfolio_id", in.PortfolioID,
		"asset_id", in.AssetID,
		"transaction_id", res.Transaction.ID,
		"type", string(in.Type),
		"amount", in.Amount.String(),
		"price_per_unit", in.PricePerUnit.String(),
		"realized_pl", res.Transaction.RealizedProfitLoss.String(),
		"closed", res.Closed,
	)
	s.broadcast("transaction_added", &res.Portfolio, in.AssetID)
	return res, nil
}

// priceOrCached returns the live price of the asset's coin, or the price
// the asset was last valued at when the gateway fails.
func (s *Service) priceOrCached(ctx context.Context, a *model.Asset) decimal.Decimal {
	quote, err := s.prices.GetCurrentPrice(ctx, a.CryptoID)
	if err == nil {
		return quote.Price
	}
	slog.Warn("price lookup failed, using cached asset price",
		"asset_id", a.ID,
		"crypto_id", a.CryptoID,
		"cached_price", a.CurrentPrice.String(),
		"err", err,
	)
	metrics.StalePriceFallbacks.Inc()
	return a.CurrentPrice
}

// inTx runs fn in a store transaction. Failures that carry no category,
// such as a failed commit, are reported as internal errors.
func (s *Service) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.store.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	slog.Error("store transaction failed", "err", err)
	return apperr.Internal("store transaction failed", err)
}

func (s *Service) broadcast(kind string, p *model.Portfolio, assetID string) {
	if s.hub == nil || p == nil {
		return
	}
	s.hub.Broadcast(WSMessage{
		Type:        "portfolio_update",
		Event:       kind,
		OwnerID:     p.OwnerID,
		PortfolioID: p.ID,
		AssetID:     assetID,
		TotalValue:  p.TotalValue.String(),
		RealizedPL:  p.TotalRealizedPL.String(),
	})
}

func observe(operation string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = string(apperr.CategoryInternal)
		if e, ok := apperr.As(*err); ok {
			outcome = string(e.Category)
		}
	}
	metrics.ObserveMutation(operation, outcome, start)
}
