// Command financectl administers the paper-trading ledger: it applies
// migrations, creates accounts, looks up quotes, and trades or reports on
// behalf of a user directly against the database.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&migrateCmd{}, "admin")
	commander.Register(&addUserCmd{}, "admin")
	commander.Register(&quoteCmd{}, "market")
	commander.Register(&tradeCmd{side: "buy"}, "trading")
	commander.Register(&tradeCmd{side: "sell"}, "trading")
	commander.Register(&portfolioCmd{}, "reports")
	commander.Register(&historyCmd{}, "reports")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
