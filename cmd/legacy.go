package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/gridledger"
	"github.com/google/subcommands"
)

type legacyCmd struct {
	pair  string
	file  string
	force bool
}

func (*legacyCmd) Name() string     { return "legacy" }
func (*legacyCmd) Synopsis() string { return "create a book from the state file of the former bot" }
func (*legacyCmd) Usage() string {
	return `gls legacy [-pair <pair>] -f <state.json> [-force]

  Creates the book of a pair from the lots of a former bot state file. The
  lots are unverified until a reconciliation checks them, and the profit the
  file recorded is ignored. An existing book is only replaced with -force.
`
}

func (c *legacyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.StringVar(&c.file, "f", "", "Legacy state file")
	f.BoolVar(&c.force, "force", false, "Replace an existing book")
}

func (c *legacyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f is required")
		return subcommands.ExitUsageError
	}
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
	if existing, err := s.book(ctx, pair); err == nil && len(existing.Lots()) > 0 && !c.force {
		fmt.Fprintf(os.Stderr, "Error: book %s already has lots, use -force to replace it\n", pair)
		return subcommands.ExitFailure
	}

	r, err := os.Open(c.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer r.Close()
	legacy, err := gridledger.DecodeLegacyState(r, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %q: %v\n", c.file, err)
		return subcommands.ExitFailure
	}
	b, err := gridledger.ImportLegacy(cfg, legacy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := s.save(ctx, b); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving book %s: %v\n", pair, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s: %d lots imported, %s open. The recorded profit of %s was not imported.\n",
		pair, len(b.Lots()), b.TotalRemaining(), legacy.TotalProfit)
	return subcommands.ExitSuccess
}
