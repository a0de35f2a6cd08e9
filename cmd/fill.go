package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/gridledger"
	"github.com/etnz/gridledger/exchange"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// fillCmd records a buy or a sell reported by the exchange.
type fillCmd struct {
	side        exchange.Side
	pair        string
	id          string
	price       string
	amount      string
	fee         string
	feeCurrency string
	at          string
}

func (c *fillCmd) Name() string { return string(c.side) }
func (c *fillCmd) Synopsis() string {
	if c.side == exchange.Buy {
		return "record a buy fill, creating a lot"
	}
	return "record a sell fill, matching it against the open lots"
}
func (c *fillCmd) Usage() string {
	return fmt.Sprintf(`gls %s [-pair <pair>] -id <trade id> -price <price> -amount <amount> [-fee <fee>] [-fee-currency <cur>] [-at <time>]

  Records a %s fill. Recording the same fill twice does nothing.
`, c.side, c.side)
}

func (c *fillCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.pair, "pair", "", "Trading pair, e.g. BTC/USDT. Defaults to the only configured pair.")
	f.StringVar(&c.id, "id", "", "Exchange trade id")
	f.StringVar(&c.price, "price", "", "Price in quote currency")
	f.StringVar(&c.amount, "amount", "", "Amount of base asset")
	f.StringVar(&c.fee, "fee", "0", "Fee paid")
	f.StringVar(&c.feeCurrency, "fee-currency", "", "Currency of the fee, defaults to the quote currency")
	f.StringVar(&c.at, "at", "", "Time of the fill (RFC 3339), defaults to now")
}

func (c *fillCmd) trade() (exchange.Trade, error) {
	t := exchange.Trade{ID: c.id, Side: c.side, FeeCurrency: c.feeCurrency}
	var err error
	if t.Price, err = decimal.NewFromString(c.price); err != nil {
		return t, fmt.Errorf("invalid -price: %w", err)
	}
	if t.Amount, err = decimal.NewFromString(c.amount); err != nil {
		return t, fmt.Errorf("invalid -amount: %w", err)
	}
	if t.Fee, err = decimal.NewFromString(c.fee); err != nil {
		return t, fmt.Errorf("invalid -fee: %w", err)
	}
	if t.Timestamp, err = parseTime(c.at); err != nil {
		return t, err
	}
	return t, nil
}

func (c *fillCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	t, err := c.trade()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	s, err := openSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	if t.Pair, err = s.pair(c.pair); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	b, err := s.book(ctx, t.Pair)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading book %s: %v\n", t.Pair, err)
		return subcommands.ExitFailure
	}
	if err := b.Process(t); err != nil {
		fmt.Fprintf(os.Stderr, "Error recording %s %q: %v\n", c.side, t.ID, err)
		return subcommands.ExitFailure
	}
	if err := s.save(ctx, b); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving book %s: %v\n", t.Pair, err)
		return subcommands.ExitFailure
	}

	if c.side == exchange.Sell {
		for _, e := range b.Entries() {
			if e.SellID == t.ID && e.Kind == gridledger.SellEntry {
				fmt.Printf("%s: %s profit %s\n", t.ID, e.Policy, e.TotalProfit)
				if err := e.Err(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v\n", err)
				}
			}
		}
		return subcommands.ExitSuccess
	}
	fmt.Printf("%s: lot recorded, %s open\n", t.ID, b.TotalRemaining())
	return subcommands.ExitSuccess
}
