package ledger

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

// cents turns a generated integer into a two-decimal quantity.
func cents(n int) decimal.Decimal {
	return decimal.New(int64(n), -2)
}

func journalOf(buys, sells []int, price decimal.Decimal) []model.Transaction {
	journal := make([]model.Transaction, 0, len(buys)+len(sells))
	for _, b := range buys {
		journal = append(journal, model.Transaction{Type: model.TxBuy, Amount: cents(b), PricePerUnit: price, TotalValue: cents(b).Mul(price)})
	}
	for _, s := range sells {
		journal = append(journal, model.Transaction{Type: model.TxSell, Amount: cents(s), PricePerUnit: price, TotalValue: cents(s).Mul(price)})
	}
	return journal
}

func sum(xs []int) decimal.Decimal {
	total := decimal.Zero
	for _, x := range xs {
		total = total.Add(cents(x))
	}
	return total
}

func TestDerive_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	amounts := gen.SliceOf(gen.IntRange(1, 100000))

	properties.Property("amount equals bought minus sold", prop.ForAll(
		func(buys, sells []int) bool {
			if len(buys)+len(sells) == 0 {
				return true
			}
			st, err := Derive(journalOf(buys, sells, d(42.5)), d(50))
			if err != nil {
				return false
			}
			net := sum(buys).Sub(sum(sells))
			if !net.IsPositive() {
				return st.Closed && st.Amount.IsZero()
			}
			return !st.Closed && st.Amount.Equal(net)
		},
		amounts, amounts,
	))

	properties.Property("derived state does not depend on journal order", prop.ForAll(
		func(buys, sells []int) bool {
			if len(buys) == 0 {
				return true
			}
			journal := journalOf(buys, sells, d(17.25))
			reversed := make([]model.Transaction, len(journal))
			for i, tx := range journal {
				reversed[len(journal)-1-i] = tx
			}
			a, errA := Derive(journal, d(20))
			b, errB := Derive(reversed, d(20))
			if errA != nil || errB != nil {
				return false
			}
			return a.Closed == b.Closed &&
				a.Amount.Equal(b.Amount) &&
				a.AverageBuyPrice.Equal(b.AverageBuyPrice) &&
				a.TotalValue.Equal(b.TotalValue)
		},
		amounts, amounts,
	))

	properties.Property("recompute is idempotent", prop.ForAll(
		func(buys []int, price int) bool {
			if len(buys) == 0 {
				return true
			}
			journal := journalOf(buys, nil, cents(price))
			a, _ := Derive(journal, cents(price+1))
			b, _ := Derive(journal, cents(price+1))
			return a.AverageBuyPrice.Equal(b.AverageBuyPrice) &&
				a.ProfitLoss.Equal(b.ProfitLoss) &&
				a.ProfitLossPercentage.Equal(b.ProfitLossPercentage)
		},
		amounts, gen.IntRange(1, 10000000),
	))

	properties.Property("sells never move the average buy price", prop.ForAll(
		func(buys []int, sellFraction int) bool {
			if len(buys) == 0 {
				return true
			}
			before, err := Derive(journalOf(buys, nil, d(10)), d(10))
			if err != nil {
				return false
			}
			sellAmount := before.Amount.Mul(decimal.New(int64(sellFraction), -2)).Truncate(2)
			if !sellAmount.IsPositive() || sellAmount.GreaterThanOrEqual(before.Amount) {
				return true
			}
			tx, err := Apply(before, model.TxSell, sellAmount, d(12))
			if err != nil {
				return false
			}
			after, err := Derive(append(journalOf(buys, nil, d(10)), tx), d(10))
			if err != nil {
				return false
			}
			return after.AverageBuyPrice.Equal(before.AverageBuyPrice)
		},
		amounts, gen.IntRange(1, 99),
	))

	properties.TestingRun(t)
}

func TestAggregate_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("total value is the sum over active assets", prop.ForAll(
		func(values []int) bool {
			assets := make([]model.Asset, 0, len(values))
			want := decimal.Zero
			for i, v := range values {
				a := model.Asset{Amount: d(1), TotalValue: cents(v)}
				if i%3 == 2 {
					// Closed assets never count.
					a.Amount = decimal.Zero
				} else {
					want = want.Add(cents(v))
				}
				assets = append(assets, a)
			}
			return Aggregate(assets).TotalValue.Equal(want)
		},
		gen.SliceOf(gen.IntRange(0, 1000000)),
	))

	properties.TestingRun(t)
}
