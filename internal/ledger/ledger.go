// Package ledger derives holding and portfolio state from an append-only
// journal of buy and sell transactions.
//
// Cost basis uses the weighted-average method:
//   - average buy price = Σ buy total_value / Σ buy amount
//   - sells never move the average buy price
//   - realized P&L on a sell = (sell price - average before the sale) * amount
//
// The package is pure. It never touches storage; callers persist what it
// returns. All arithmetic is done in shopspring/decimal.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

var (
	// ErrNonPositiveAmount is returned when a transaction amount is <= 0.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")

	// ErrNonPositivePrice is returned when a price per unit is <= 0.
	ErrNonPositivePrice = errors.New("ledger: price per unit must be positive")

	// ErrNegativeMarketPrice is returned when the current market price is < 0.
	ErrNegativeMarketPrice = errors.New("ledger: market price must not be negative")

	// ErrUnknownType is returned for a transaction type other than buy/sell.
	ErrUnknownType = errors.New("ledger: transaction type must be buy or sell")

	// ErrOversell is returned when a sell exceeds the current holding.
	ErrOversell = errors.New("ledger: sell amount exceeds current holding")

	// ErrEmptyJournal is returned when state is derived for an asset that
	// has no journal entries at all.
	ErrEmptyJournal = errors.New("ledger: asset journal is empty")

	hundred = decimal.NewFromInt(100)
)

// State is the derived state of one asset at a given market price.
type State struct {
	// Closed is set when no position remains (amount <= 0). The caller
	// must delete the asset; the valuation fields are zero.
	Closed bool

	TotalBought decimal.Decimal
	TotalSold   decimal.Decimal
	TotalCost   decimal.Decimal // Σ buy total_value

	Amount               decimal.Decimal
	AverageBuyPrice      decimal.Decimal
	CurrentPrice         decimal.Decimal
	TotalValue           decimal.Decimal
	ProfitLoss           decimal.Decimal
	ProfitLossPercentage decimal.Decimal
}

// ValidateEntry checks a single transaction before it is journaled.
func ValidateEntry(txType model.TxType, amount, pricePerUnit decimal.Decimal) error {
	if !txType.Valid() {
		return ErrUnknownType
	}
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !pricePerUnit.IsPositive() {
		return ErrNonPositivePrice
	}
	return nil
}

// Derive replays the journal and values the remaining position at
// currentPrice. Order only matters for realized P&L, which is fixed on each
// sell when it is recorded; the derived amount and average are order-free.
func Derive(journal []model.Transaction, currentPrice decimal.Decimal) (State, error) {
	if currentPrice.IsNegative() {
		return State{}, ErrNegativeMarketPrice
	}
	if len(journal) == 0 {
		return State{}, ErrEmptyJournal
	}

	var st State
	for _, tx := range journal {
		if err := ValidateEntry(tx.Type, tx.Amount, tx.PricePerUnit); err != nil {
			return State{}, err
		}
		switch tx.Type {
		case model.TxBuy:
			st.TotalBought = st.TotalBought.Add(tx.Amount)
			st.TotalCost = st.TotalCost.Add(tx.TotalValue)
		case model.TxSell:
			st.TotalSold = st.TotalSold.Add(tx.Amount)
		}
	}

	st.Amount = st.TotalBought.Sub(st.TotalSold)
	if !st.Amount.IsPositive() {
		st.Closed = true
		st.Amount = decimal.Zero
		return st, nil
	}

	// Amount > 0 implies TotalBought > 0.
	st.AverageBuyPrice = st.TotalCost.Div(st.TotalBought)
	st.CurrentPrice = currentPrice
	st.TotalValue, st.ProfitLoss, st.ProfitLossPercentage = Valuation(st.Amount, st.TotalBought, st.TotalCost, currentPrice)
	return st, nil
}

// Valuation marks a position to market from the journal's exact cost sums,
// multiplying before dividing so a repeating average cannot drift.
//
//	total_value     = amount * price
//	profit_loss     = total_value - total_cost * amount / total_bought
//	profit_loss_pct = (price * total_bought - total_cost) / total_cost * 100
//
// Both P&L figures are 0 when nothing was bought at a positive cost.
func Valuation(amount, totalBought, totalCost, price decimal.Decimal) (totalValue, profitLoss, profitLossPct decimal.Decimal) {
	totalValue = amount.Mul(price)
	if !totalBought.IsPositive() || !totalCost.IsPositive() {
		return totalValue, decimal.Zero, decimal.Zero
	}
	profitLoss = totalValue.Sub(totalCost.Mul(amount).Div(totalBought))
	profitLossPct = price.Mul(totalBought).Sub(totalCost).Mul(hundred).Div(totalCost)
	return totalValue, profitLoss, profitLossPct
}

// RealizedProfitLoss locks in the P&L of a sell against the average buy
// price immediately before the sale.
func RealizedProfitLoss(averageBeforeSale, sellPrice, amount decimal.Decimal) decimal.Decimal {
	return sellPrice.Sub(averageBeforeSale).Mul(amount)
}

// CheckSell rejects a sell larger than the open position.
func CheckSell(current State, amount decimal.Decimal) error {
	if current.Closed || amount.GreaterThan(current.Amount) {
		return ErrOversell
	}
	return nil
}

// Apply returns the journal entry for a new transaction, with total value
// and (for sells) realized P&L filled in from the state before it.
func Apply(before State, txType model.TxType, amount, pricePerUnit decimal.Decimal) (model.Transaction, error) {
	if err := ValidateEntry(txType, amount, pricePerUnit); err != nil {
		return model.Transaction{}, err
	}
	tx := model.Transaction{
		Type:         txType,
		Amount:       amount,
		PricePerUnit: pricePerUnit,
		TotalValue:   amount.Mul(pricePerUnit),
	}
	if txType == model.TxSell {
		if err := CheckSell(before, amount); err != nil {
			return model.Transaction{}, err
		}
		tx.RealizedProfitLoss = RealizedProfitLoss(before.AverageBuyPrice, pricePerUnit, amount)
	}
	return tx, nil
}
