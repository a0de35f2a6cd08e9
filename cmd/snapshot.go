package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/gridledger"
	"github.com/google/subcommands"
)

type exportCmd struct {
	pair     string
	output   string
	revision int64
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write a book snapshot as JSON" }
func (*exportCmd) Usage() string {
	return `gls export [-pair <pair>] [-revision <n>] [-o <file>]

  Writes the latest, or a given revision of, a book as a JSON snapshot.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, defaults to the only configured pair")
	f.StringVar(&c.output, "o", "", "Output file, defaults to the standard output")
	f.Int64Var(&c.revision, "revision", 0, "Revision to export, see 'gls history'")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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
	var snap gridledger.Snapshot
	if c.revision > 0 {
		snap, err = s.store.LoadRevision(ctx, pair, c.revision)
	} else {
		var b *gridledger.Book
		if b, err = s.book(ctx, pair); err == nil {
			snap = b.Snapshot()
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if c.output == "" {
		err = gridledger.EncodeSnapshot(os.Stdout, snap)
	} else {
		err = gridledger.SaveSnapshotFile(c.output, snap)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type restoreCmd struct {
	file string
}

func (*restoreCmd) Name() string     { return "restore" }
func (*restoreCmd) Synopsis() string { return "save a JSON snapshot as the current book" }
func (*restoreCmd) Usage() string {
	return `gls restore -f <file>

  Checks a JSON snapshot and saves it as a new revision of its pair book.
  Snapshots with over-consumed lots or duplicate ids are rejected.
`
}

func (c *restoreCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "Snapshot file")
}

func (c *restoreCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f is required")
		return subcommands.ExitUsageError
	}
	snap, err := gridledger.LoadSnapshotFile(c.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	s, err := openSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer s.Close()
	cfg, err := s.cfg.Pair(snap.Pair)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	b, err := gridledger.RestoreBook(cfg, snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := s.save(ctx, b); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving book %s: %v\n", cfg.Pair, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s restored: %d lots, %d entries, profit %s\n", cfg.Pair, len(b.Lots()), len(b.Entries()), b.TotalProfit())
	return subcommands.ExitSuccess
}
