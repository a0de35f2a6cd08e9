// Package exchange defines what the ledger consumes from the exchange client:
// the account trade history and the asset balances.
//
// The package never talks to the network. It provides in-memory and file
// backed sources for imports and tests; a live client only has to implement
// TradeSource and BalanceSource.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownFeeCurrency = errors.New("unknown fee currency")
	ErrInvalidTrade       = errors.New("invalid trade")
)

// Side of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is a fill of the account as reported by the exchange.
type Trade struct {
	ID          string
	Pair        string
	Side        Side
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	Timestamp   time.Time
}

// Validate checks that the trade can be accounted.
func (t Trade) Validate() error {
	var errs error
	if t.ID == "" {
		errs = errors.Join(errs, errors.New("id is missing"))
	}
	if t.Side != Buy && t.Side != Sell {
		errs = errors.Join(errs, fmt.Errorf("unknown side %q", t.Side))
	}
	if !t.Price.IsPositive() {
		errs = errors.Join(errs, fmt.Errorf("price must be positive, got %s", t.Price))
	}
	if !t.Amount.IsPositive() {
		errs = errors.Join(errs, fmt.Errorf("amount must be positive, got %s", t.Amount))
	}
	if t.Fee.IsNegative() {
		errs = errors.Join(errs, fmt.Errorf("fee must not be negative, got %s", t.Fee))
	}
	if t.Timestamp.IsZero() {
		errs = errors.Join(errs, errors.New("timestamp is missing"))
	}
	if errs != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidTrade, t.ID, errs)
	}
	return nil
}

// QuoteFee returns the trade fee expressed in the quote currency.
//
// Fees paid in the quote currency are returned as is, fees paid in the base
// asset are converted at the trade price, and any other currency must have a
// rate in rates (quote per unit of fee currency).
func (t Trade) QuoteFee(base, quote string, rates map[string]decimal.Decimal) (decimal.Decimal, error) {
	if t.Fee.IsZero() {
		return decimal.Zero, nil
	}
	switch cur := strings.ToUpper(t.FeeCurrency); cur {
	case "", strings.ToUpper(quote):
		return t.Fee, nil
	case strings.ToUpper(base):
		return t.Fee.Mul(t.Price), nil
	default:
		rate, ok := rates[cur]
		if !ok {
			return decimal.Zero, fmt.Errorf("trade %q: %w %q", t.ID, ErrUnknownFeeCurrency, t.FeeCurrency)
		}
		return t.Fee.Mul(rate), nil
	}
}

// Balance is a snapshot of an asset balance.
type Balance struct {
	Asset string
	Free  decimal.Decimal
	Used  decimal.Decimal // locked in open orders
	Total decimal.Decimal
}

// Cursor resumes a trade history fetch.
type Cursor struct {
	// SinceID, if set, skips this trade, the last one recorded.
	SinceID string `json:"sinceId,omitempty"`
	// Since skips trades strictly older than this time.
	Since time.Time `json:"since,omitzero"`
}

// Apply filters trades, sorted with SortTrades, according to the cursor.
//
// Trades at the cursor time are kept, except the cursor trade itself: a trade
// recorded out of order does not hide the others of the same time, and
// redelivering a recorded one is a no-op.
func (c Cursor) Apply(trades []Trade) []Trade {
	since := c.Since
	if since.IsZero() && c.SinceID != "" {
		if i := slices.IndexFunc(trades, func(t Trade) bool { return t.ID == c.SinceID }); i >= 0 {
			since = trades[i].Timestamp
		}
	}
	if !since.IsZero() {
		i, _ := slices.BinarySearchFunc(trades, since, func(t Trade, since time.Time) int {
			return t.Timestamp.Compare(since)
		})
		// BinarySearchFunc returns the first match, trades at since are kept.
		trades = trades[i:]
	}
	if c.SinceID == "" {
		return trades
	}
	kept := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if t.ID == c.SinceID && t.Timestamp.Equal(since) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// Next returns the cursor resuming after the last trade of a fetched page.
func (c Cursor) Next(page []Trade) Cursor {
	if len(page) == 0 {
		return c
	}
	last := page[len(page)-1]
	return Cursor{SinceID: last.ID, Since: last.Timestamp}
}

// SortTrades sorts trades chronologically. Trades at the same time are sorted by id.
func SortTrades(trades []Trade) {
	slices.SortStableFunc(trades, func(a, b Trade) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// TradeSource fetches the account trade history of a pair.
// The returned trades are sorted with SortTrades and filtered by the cursor.
type TradeSource interface {
	FetchTrades(ctx context.Context, pair string, cursor Cursor) ([]Trade, error)
}

// BalanceSource fetches an asset balance.
type BalanceSource interface {
	FetchBalance(ctx context.Context, asset string) (Balance, error)
}
