package advisor

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

const systemPrompt = `You are an expert cryptocurrency portfolio advisor with deep knowledge of markets, risk management and diversification.
Give concrete, actionable analysis: allocation and rebalancing suggestions, a risk assessment of the holdings, diversification ideas and red flags.
Always include this disclaimer: "This analysis is for educational purposes and is not personalized financial advice. Cryptocurrency investments are highly volatile. Only invest what you can afford to lose."`

var hundred = decimal.NewFromInt(100)

// usd formats an amount as US dollars, rounded to cents.
func usd(amount decimal.Decimal) string {
	cents := amount.Mul(hundred).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

// FormatPortfolio renders the holdings summary sent to the model.
func FormatPortfolio(view model.PortfolioView) string {
	if len(view.Assets) == 0 {
		return "The portfolio has no holdings."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total Portfolio Value: %s\n", usd(view.TotalValue))
	fmt.Fprintf(&b, "Unrealized P&L: %s (%s%%)\n", usd(view.TotalUnrealizedPL), view.TotalUnrealizedPLPct.StringFixed(2))
	fmt.Fprintf(&b, "Realized P&L: %s\n\n", usd(view.TotalRealizedPL))
	b.WriteString("Holdings:\n")

	for _, a := range view.Assets {
		share := decimal.Zero
		if view.TotalValue.IsPositive() {
			share = a.TotalValue.Div(view.TotalValue).Mul(hundred)
		}
		fmt.Fprintf(&b, "- %s: %s tokens @ $%s = %s (%s%% of portfolio)\n",
			a.Symbol, a.Amount.StringFixed(6), a.CurrentPrice.StringFixed(4), usd(a.TotalValue), share.StringFixed(1))
		fmt.Fprintf(&b, "  P&L: %s (%s%%)\n", usd(a.ProfitLoss), signed(a.ProfitLossPercentage))
	}
	return b.String()
}

// UserPrompt combines the holdings summary with optional market context.
func UserPrompt(view model.PortfolioView, marketContext string) string {
	var b strings.Builder
	b.WriteString("Here's my current crypto portfolio:\n\n")
	b.WriteString(FormatPortfolio(view))
	if marketContext != "" {
		b.WriteString("\n")
		b.WriteString(marketContext)
	}
	b.WriteString(`
Can you analyze my portfolio and provide suggestions for:
1. Overall risk level assessment
2. Diversification improvements
3. Potential rebalancing opportunities
4. Any red flags or concerns
`)
	return b.String()
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}
