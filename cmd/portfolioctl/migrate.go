package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/cryptassist/portfolio-engine/internal/config"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

type migrateCmd struct {
	cfg *config.Config
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply, roll back or inspect schema migrations" }
func (*migrateCmd) Usage() string {
	return `portfolioctl migrate up|down|version

  up       applies every pending migration
  down     rolls back the most recent migration
  version  prints the current schema version

  Uses DATABASE_URL.
`
}

func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	url := c.cfg.Database.URL
	if url == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		return subcommands.ExitFailure
	}

	switch f.Arg(0) {
	case "up":
		if err := store.RunMigrations(url); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		fmt.Println("migrations applied")
	case "down":
		if err := store.RollbackMigrations(url); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		fmt.Println("rolled back one migration")
	case "version":
		version, dirty, err := store.MigrationVersion(url)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate action %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}
	return subcommands.ExitSuccess
}
