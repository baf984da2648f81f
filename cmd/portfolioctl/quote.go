package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/cryptassist/portfolio-engine/internal/config"
	"github.com/cryptassist/portfolio-engine/internal/ledger"
	"github.com/cryptassist/portfolio-engine/internal/pricing"
)

type quoteCmd struct {
	cfg *config.Config
}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "fetch current USD prices from the market data provider" }
func (*quoteCmd) Usage() string {
	return `portfolioctl quote <crypto_id>...

  Looks each coin up the way the server does: by id first, then in the
  market listing.
`
}

func (*quoteCmd) SetFlags(*flag.FlagSet) {}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	gw := pricing.NewCoinGecko(pricing.Config{
		BaseURL:       c.cfg.Pricing.BaseURL,
		APIKey:        c.cfg.Pricing.APIKey,
		Timeout:       c.cfg.Pricing.Timeout,
		RatePerSecond: c.cfg.Pricing.RatePerSecond,
		ListingSize:   c.cfg.Pricing.ListingSize,
	})

	status := subcommands.ExitSuccess
	for _, arg := range f.Args() {
		id, err := ledger.NormalizeCryptoID(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
			status = subcommands.ExitFailure
			continue
		}
		q, err := gw.GetCurrentPrice(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%-20s %-8s %s USD\n", q.CryptoID, q.Symbol, q.Price.String())
	}
	return status
}
