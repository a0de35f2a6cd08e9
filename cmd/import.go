package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/gridledger/exchange"
	"github.com/google/subcommands"
)

type importCmd struct {
	file string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "record the trades of an exchange dump file" }
func (*importCmd) Usage() string {
	return `gls import [-f <file>]

  Records the trades of a ccxt trade dump (JSON) into the books of the
  configured pairs, resuming after the last trade of each book.
  Trades of other pairs are ignored. A failing trade does not stop the others.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "Trade dump file, defaults to the configured exchange.trades_file")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	file := c.file
	if file == "" {
		file = s.cfg.Exchange.TradesFile
	}
	if file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f is required when exchange.trades_file is not configured")
		return subcommands.ExitUsageError
	}

	e, err := s.engine(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading books: %v\n", err)
		return subcommands.ExitFailure
	}
	status := subcommands.ExitSuccess
	if err := e.Sync(ctx, exchange.NewFile(file), exchange.Backoff{Attempts: 1}); err != nil {
		fmt.Fprintf(os.Stderr, "Some trades were not recorded:\n%v\n", err)
		status = subcommands.ExitFailure
	}
	for _, pair := range e.Pairs() {
		b, _ := e.Book(pair)
		if err := s.save(ctx, b); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving book %s: %v\n", pair, err)
			return subcommands.ExitFailure
		}
		fmt.Printf("%s: %d lots, %d ledger entries, %d flagged\n", pair, len(b.Lots()), len(b.Entries()), len(b.Flagged()))
	}
	return status
}
