package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/etnz/gridledger"
	"github.com/etnz/gridledger/renderer"
	"github.com/google/subcommands"
)

type reconcileCmd struct {
	pair  string
	apply bool
	html  bool
}

func (*reconcileCmd) Name() string { return "reconcile" }
func (*reconcileCmd) Synopsis() string {
	return "compare a book with the exchange history and balance"
}
func (*reconcileCmd) Usage() string {
	return `gls reconcile [-pair <pair>] [-apply] [-html]

  Compares the book with the configured exchange trade dump and balances and
  prints the drift found and the corrections that repair it.
  With -apply the corrections are committed, all or none.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.BoolVar(&c.apply, "apply", false, "Apply the corrections")
	f.BoolVar(&c.html, "html", false, "Output HTML instead of the terminal rendering")
}

func (c *reconcileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer s.Close()
	pair, err := s.pair(c.pair)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	b, err := s.book(ctx, pair)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading book %s: %v\n", pair, err)
		return subcommands.ExitFailure
	}
	r, err := s.reconciler()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	rep, err := r.Reconcile(ctx, b)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reconciling %s: %v\n", pair, err)
		return subcommands.ExitFailure
	}
	if c.apply {
		if err := b.Apply(rep); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		if err := s.save(ctx, b); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving book %s: %v\n", pair, err)
			return subcommands.ExitFailure
		}
	}
	if err := s.store.SaveReport(ctx, rep); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving report: %v\n", err)
		return subcommands.ExitFailure
	}

	status := output(renderer.ReportMarkdown(rep), c.html)
	if err := rep.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Drift that needs an operator:\n%v\n", err)
		return subcommands.ExitFailure
	}
	return status
}

type mergeCmd struct {
	pair   string
	keep   string
	drop   string
	reason string
}

func (*mergeCmd) Name() string     { return "merge" }
func (*mergeCmd) Synopsis() string { return "close a duplicate lot in favor of another" }
func (*mergeCmd) Usage() string {
	return `gls merge [-pair <pair>] -keep <lot> -drop <lot> -reason <text>

  Closes the lot -drop, a duplicate of -keep with the same base trade id.
  Both lots keep a note of the operation in their audit trail.
`
}

func (c *mergeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.StringVar(&c.keep, "keep", "", "Lot to keep")
	f.StringVar(&c.drop, "drop", "", "Duplicate lot to close")
	f.StringVar(&c.reason, "reason", "", "Reason recorded in the audit trail")
}

func (c *mergeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.keep == "" || c.drop == "" || c.reason == "" {
		fmt.Fprintln(os.Stderr, "Error: -keep, -drop and -reason are required")
		return subcommands.ExitUsageError
	}
	return updateBook(ctx, c.pair, func(b *gridledger.Book) error {
		if err := b.MergeDuplicate(c.keep, c.drop, c.reason); err != nil {
			return err
		}
		fmt.Printf("%s closed, %s kept\n", c.drop, c.keep)
		return nil
	})
}

type resolveCmd struct {
	pair   string
	sell   string
	lot    string
	amount string
	reason string
}

func (*resolveCmd) Name() string     { return "resolve" }
func (*resolveCmd) Synopsis() string { return "match a flagged sell with a lot by hand" }
func (*resolveCmd) Usage() string {
	return `gls resolve [-pair <pair>] -sell <sell id> -lot <lot> [-amount <amount>] -reason <text>

  Matches the unmatched part of a sell against a lot. The resulting profit
  is ESTIMATED. The amount defaults to the part still unmatched.
`
}

func (c *resolveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.StringVar(&c.sell, "sell", "", "Flagged sell id")
	f.StringVar(&c.lot, "lot", "", "Lot to consume")
	f.StringVar(&c.amount, "amount", "", "Amount to match, defaults to the unmatched part")
	f.StringVar(&c.reason, "reason", "", "Reason recorded in the ledger and the audit trail")
}

func (c *resolveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.sell == "" || c.lot == "" || c.reason == "" {
		fmt.Fprintln(os.Stderr, "Error: -sell, -lot and -reason are required")
		return subcommands.ExitUsageError
	}
	var amount gridledger.Quantity
	if c.amount != "" {
		var err error
		if amount, err = gridledger.ParseQuantity(c.amount); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -amount: %v\n", err)
			return subcommands.ExitUsageError
		}
	}
	return updateBook(ctx, c.pair, func(b *gridledger.Book) error {
		e, err := b.Resolve(c.sell, c.lot, amount, c.reason)
		if err != nil {
			return err
		}
		fmt.Printf("%s resolved against %s: %s profit %s\n", c.sell, c.lot, e.Policy, e.TotalProfit)
		return nil
	})
}

type estimateCmd struct {
	pair   string
	id     string
	price  string
	amount string
	at     string
	reason string
}

func (*estimateCmd) Name() string     { return "estimate" }
func (*estimateCmd) Synopsis() string { return "add a lot whose buy is not in the exchange history" }
func (*estimateCmd) Usage() string {
	return `gls estimate [-pair <pair>] -id <lot> -price <price> -amount <amount> [-at <time>] -reason <text>

  Adds an operator estimated lot, e.g. for an asset transferred in.
  Profits made against it are ESTIMATED.
`
}

func (c *estimateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.StringVar(&c.id, "id", "", "Lot id")
	f.StringVar(&c.price, "price", "", "Estimated price in quote currency")
	f.StringVar(&c.amount, "amount", "", "Amount of base asset")
	f.StringVar(&c.at, "at", "", "Time of acquisition (RFC 3339), defaults to now")
	f.StringVar(&c.reason, "reason", "", "Reason recorded in the audit trail")
}

func (c *estimateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.id == "" || c.reason == "" {
		fmt.Fprintln(os.Stderr, "Error: -id and -reason are required")
		return subcommands.ExitUsageError
	}
	amount, err := gridledger.ParseQuantity(c.amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -amount: %v\n", err)
		return subcommands.ExitUsageError
	}
	at, err := parseTime(c.at)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return updateBook(ctx, c.pair, func(b *gridledger.Book) error {
		price, err := gridledger.ParseMoney(c.price, b.Config().Quote)
		if err != nil {
			return err
		}
		return b.AddEstimatedLot(c.id, price, amount, at, c.reason)
	})
}

type archiveCmd struct {
	pair string
}

func (*archiveCmd) Name() string     { return "archive" }
func (*archiveCmd) Synopsis() string { return "move old closed lots out of the working set" }
func (*archiveCmd) Usage() string {
	return `gls archive [-pair <pair>]

  Archives the lots closed for longer than the pair retention.
`
}

func (c *archiveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
}

func (c *archiveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return updateBook(ctx, c.pair, func(b *gridledger.Book) error {
		archived := b.Archive(time.Now())
		fmt.Printf("%d lots archived\n", len(archived))
		return nil
	})
}

// updateBook loads a book, changes it and saves it.
func updateBook(ctx context.Context, pairFlag string, update func(*gridledger.Book) error) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer s.Close()
	pair, err := s.pair(pairFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	b, err := s.book(ctx, pair)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading book %s: %v\n", pair, err)
		return subcommands.ExitFailure
	}
	if err := update(b); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := s.save(ctx, b); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving book %s: %v\n", pair, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
