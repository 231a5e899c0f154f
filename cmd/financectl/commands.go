package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/papertrade/finance/internal/config"
	"github.com/papertrade/finance/internal/ledger"
	"github.com/papertrade/finance/internal/migrate"
	"github.com/papertrade/finance/internal/model"
	"github.com/papertrade/finance/internal/quote"
	"github.com/papertrade/finance/internal/usd"
)

// --- migrate ---

type migrateCmd struct {
	list bool
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending database migrations" }
func (*migrateCmd) Usage() string {
	return `financectl migrate [-list]

  Applies every embedded schema migration that has not been applied yet,
  verifying the checksums of those that have.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.list, "list", false, "only list applied migrations")
}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	m := migrate.New(e.pool)
	if !c.list {
		if err := m.ApplyAll(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}
	applied, err := m.ListApplied(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	for _, name := range applied {
		fmt.Println(name)
	}
	return subcommands.ExitSuccess
}

// --- adduser ---

type addUserCmd struct {
	username string
	password string
}

func (*addUserCmd) Name() string     { return "adduser" }
func (*addUserCmd) Synopsis() string { return "register a new account with the starting cash" }
func (*addUserCmd) Usage() string {
	return `financectl adduser -username <name> -password <password>
`
}

func (c *addUserCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "username", "", "account username")
	f.StringVar(&c.password, "password", "", "account password")
}

func (c *addUserCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	acct, _, err := e.auth().Register(ctx, c.username, c.password, c.password)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("created %s (%s) with %s\n", acct.Username, acct.UserID, usd.Format(acct.Cash))
	return subcommands.ExitSuccess
}

// --- quote ---

type quoteCmd struct{}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "look up the current price of one or more symbols" }
func (*quoteCmd) Usage() string {
	return `financectl quote <symbol>...
`
}
func (*quoteCmd) SetFlags(*flag.FlagSet) {}

func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "at least one symbol is required")
		return subcommands.ExitUsageError
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	// Quotes need no database.
	eng := ledger.NewEngine(nil, quote.NewHTTPProvider(cfg.QuoteURL, cfg.QuoteAPIKey, cfg.QuoteTimeout))
	status := subcommands.ExitSuccess
	for _, raw := range f.Args() {
		q, err := eng.Quote(ctx, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", raw, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("A share of %s (%s) costs %s.\n", q.Name, q.Symbol, usd.Format(q.Price))
	}
	return status
}

// --- buy / sell ---

type tradeCmd struct {
	side   string
	user   string
	symbol string
	shares string
}

func (c *tradeCmd) Name() string     { return c.side }
func (c *tradeCmd) Synopsis() string { return c.side + " shares at the current price for a user" }
func (c *tradeCmd) Usage() string {
	return fmt.Sprintf(`financectl %s -user <name> -symbol <symbol> -shares <n>
`, c.side)
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username to trade for")
	f.StringVar(&c.symbol, "symbol", "", "ticker symbol")
	f.StringVar(&c.shares, "shares", "", "positive whole number of shares")
}

func (c *tradeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	shares, err := ledger.ParseShares(c.shares)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	uid, err := e.userID(ctx, c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	run := e.engine.ExecuteBuy
	if c.side == "sell" {
		run = e.engine.ExecuteSell
	}
	exec, err := run(ctx, uid, c.symbol, shares)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	txn := exec.Transaction
	fmt.Printf("%s %d %s at %s: %s, cash now %s\n",
		txn.Side(), shares, txn.Symbol, usd.Format(txn.Price), usd.Format(exec.Total), usd.Format(exec.Cash))
	return subcommands.ExitSuccess
}

// --- portfolio ---

type portfolioCmd struct {
	user string
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "value a user's cash and holdings at current prices" }
func (*portfolioCmd) Usage() string {
	return `financectl portfolio -user <name>
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username to report on")
}

func (c *portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	uid, err := e.userID(ctx, c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	pf, err := e.engine.GetPortfolioValue(ctx, uid)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	writePortfolio(os.Stdout, pf)
	return subcommands.ExitSuccess
}

func writePortfolio(out io.Writer, pf *model.Portfolio) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Symbol\tShares\tPrice\tTotal\t")
	for _, p := range pf.Positions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", p.Symbol, p.Shares, usd.Format(p.Price), usd.Format(p.Value))
	}
	fmt.Fprintf(w, "Cash\t\t\t%s\t\n", usd.Format(pf.Cash))
	fmt.Fprintf(w, "TOTAL\t\t\t%s\t\n", usd.Format(pf.Total))
	w.Flush()
	if pf.Stale {
		fmt.Fprintln(out, "some prices are last known, not live")
	}
}

// --- history ---

type historyCmd struct {
	user string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list a user's transactions, most recent first" }
func (*historyCmd) Usage() string {
	return `financectl history -user <name>
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "username to report on")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	uid, err := e.userID(ctx, c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	txns, err := e.engine.History(ctx, uid)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	writeHistory(os.Stdout, txns)
	return subcommands.ExitSuccess
}

func writeHistory(out io.Writer, txns []model.Transaction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tShares\tPrice\tTransacted")
	for _, t := range txns {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", t.Symbol, t.Shares, usd.Format(t.Price), t.Timestamp.Format(time.DateTime))
	}
	w.Flush()
}
