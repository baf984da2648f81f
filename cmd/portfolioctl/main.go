// Command portfolioctl runs maintenance tasks against the portfolio
// database: schema migrations, journal reconciliation and price checks.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/cryptassist/portfolio-engine/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logging.Logger(os.Stderr))

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&migrateCmd{cfg: cfg}, "database")
	commander.Register(&checkCmd{cfg: cfg}, "database")
	commander.Register(&quoteCmd{cfg: cfg}, "market")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
