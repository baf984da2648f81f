package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptassist/portfolio-engine/internal/config"
	"github.com/cryptassist/portfolio-engine/internal/portfolio"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

type checkCmd struct {
	cfg     *config.Config
	jsonOut bool
}

func (*checkCmd) Name() string { return "check" }
func (*checkCmd) Synopsis() string {
	return "re-derive every asset and portfolio from its journal and report disagreements"
}
func (*checkCmd) Usage() string {
	return `portfolioctl check [-json]

  Replays every asset journal and portfolio history and compares the result
  with the stored rows. Nothing is written. Exits non-zero when any
  disagreement is found.
`
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.jsonOut, "json", false, "print the report as JSON")
}

func (c *checkCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.cfg.Database.URL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		return subcommands.ExitFailure
	}
	pool, err := pgxpool.New(ctx, c.cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		return subcommands.ExitFailure
	}
	defer pool.Close()

	rep, err := portfolio.Reconcile(ctx, store.NewPostgresStore(pool))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if c.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rep)
	} else {
		fmt.Printf("checked %d portfolios, %d assets, %d journal entries\n", rep.Portfolios, rep.Assets, rep.Entries)
		for _, issue := range rep.Issues {
			fmt.Println("  " + issue.String())
		}
	}
	if !rep.OK() {
		fmt.Fprintf(os.Stderr, "%d disagreements found\n", len(rep.Issues))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
