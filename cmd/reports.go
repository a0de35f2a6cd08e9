package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/gridledger"
	"github.com/etnz/gridledger/exchange"
	"github.com/etnz/gridledger/renderer"
	"github.com/google/subcommands"
)

// output prints markdown, or HTML when html is set.
func output(md string, html bool) subcommands.ExitStatus {
	if !html {
		printMarkdown(md)
		return subcommands.ExitSuccess
	}
	out, err := renderer.HTML(md)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}

type lotsCmd struct {
	pair string
	all  bool
	html bool
}

func (*lotsCmd) Name() string     { return "lots" }
func (*lotsCmd) Synopsis() string { return "display the open lots of a pair" }
func (*lotsCmd) Usage() string {
	return `gls lots [-pair <pair>] [-all] [-html]

  Displays the open lots, oldest first, and their audit trail.
`
}

func (c *lotsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.BoolVar(&c.all, "all", false, "Include closed lots of the working set")
	f.BoolVar(&c.html, "html", false, "Output HTML instead of the terminal rendering")
}

func (c *lotsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, status := loadBook(ctx, c.pair)
	if b == nil {
		return status
	}
	lots := b.OpenLots()
	if c.all {
		lots = b.Lots()
	}
	return output(renderer.LotsMarkdown(b.Pair(), lots), c.html)
}

type profitCmd struct {
	pair  string
	since string
	html  bool
}

func (*profitCmd) Name() string     { return "profit" }
func (*profitCmd) Synopsis() string { return "display the realized profit of a pair" }
func (*profitCmd) Usage() string {
	return `gls profit [-pair <pair>] [-since <time>] [-html]

  Displays the ledger entries and the realized profit, recomputed from the
  matches, followed by the sells still waiting for a match.
`
}

func (c *profitCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.StringVar(&c.since, "since", "", "Only the entries at or after this time (RFC 3339)")
	f.BoolVar(&c.html, "html", false, "Output HTML instead of the terminal rendering")
}

func (c *profitCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, status := loadBook(ctx, c.pair)
	if b == nil {
		return status
	}
	entries := b.Entries()
	if c.since != "" {
		since, err := parseTime(c.since)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
		entries = b.EntriesSince(since)
	}
	return output(renderer.ProfitMarkdown(b.Pair(), entries, b.Flagged()), c.html)
}

type fifoCmd struct {
	pair string
	file string
}

func (*fifoCmd) Name() string     { return "fifo" }
func (*fifoCmd) Synopsis() string { return "compare the realized profit with FIFO" }
func (*fifoCmd) Usage() string {
	return `gls fifo [-pair <pair>] [-f <file>]

  Replays a trade dump with the pair policy and with FIFO. Once every lot is
  sold and every sell matched, both totals must agree.
`
}

func (c *fifoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.StringVar(&c.file, "f", "", "Trade dump file, defaults to the configured exchange.trades_file")
}

func (c *fifoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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
	cfg, err := s.cfg.Pair(pair)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	file := c.file
	if file == "" {
		file = s.cfg.Exchange.TradesFile
	}
	trades, err := exchange.NewFile(file).FetchTrades(ctx, pair, exchange.Cursor{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading trades: %v\n", err)
		return subcommands.ExitFailure
	}
	check, err := gridledger.CrossCheck(cfg, trades)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	fmt.Printf("%s %s: %s\nFIFO: %s\nDifference: %s\n", pair, cfg.Policy, check.Policy, check.FIFO, check.Difference().SignedString())
	switch {
	case !check.Comparable():
		fmt.Printf("Not comparable: %s still open or a sell is unmatched.\n", check.Remaining)
	case check.Agree():
		fmt.Println("Both policies agree.")
	default:
		fmt.Println("The policies disagree on a full liquidation.")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type historyCmd struct {
	pair    string
	reports int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list the saved revisions and reports of a book" }
func (*historyCmd) Usage() string {
	return `gls history [-pair <pair>] [-reports <n>]

  Lists the saved revisions of a book, latest first, and its last reconciliation reports.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.IntVar(&c.reports, "reports", 10, "Number of reports to list")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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
	revisions, err := s.store.History(ctx, pair)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	reports, err := s.store.Reports(ctx, pair, c.reports)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	md := fmt.Sprintf("# %s History\n\n| Revision | Saved | Lots | Entries | Profit |\n|---:|:---|---:|---:|---:|\n", pair)
	for _, r := range revisions {
		md += fmt.Sprintf("| %d | %s | %d | %d | %s |\n", r.Revision, r.SavedAt.Format("2006-01-02 15:04:05"), r.Lots, r.Entries, r.TotalProfit)
	}
	if len(reports) > 0 {
		md += "\n## Reconciliations\n\n| Report | Finished | Findings | Applied |\n|:---|:---|---:|:---:|\n"
		for _, r := range reports {
			applied := " "
			if r.Applied {
				applied = "X"
			}
			md += fmt.Sprintf("| %s | %s | %d | %s |\n", r.ID, r.Finished.Format("2006-01-02 15:04:05"), r.Findings, applied)
		}
	}
	printMarkdown(md)
	return subcommands.ExitSuccess
}

// loadBook opens the session and loads the book of a pair, read only.
// It returns a nil book and the exit status on failure.
func loadBook(ctx context.Context, pairFlag string) (*gridledger.Book, subcommands.ExitStatus) {
	s, err := openSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, subcommands.ExitFailure
	}
	defer s.Close()
	pair, err := s.pair(pairFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, subcommands.ExitUsageError
	}
	b, err := s.book(ctx, pair)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading book %s: %v\n", pair, err)
		return nil, subcommands.ExitFailure
	}
	return b, subcommands.ExitSuccess
}
