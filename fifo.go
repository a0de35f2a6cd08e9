package gridledger

import (
	"errors"
	"fmt"

	"github.com/etnz/gridledger/exchange"
	"github.com/shopspring/decimal"
)

// profitEpsilon absorbs the rounding of fee apportionment when comparing totals.
var profitEpsilon = decimal.New(1, -8)

// FIFOCheck compares the profit of a trade history under the pair policy and
// under FIFO.
type FIFOCheck struct {
	Pair   string
	Policy Money // Policy is the total profit under the pair policy.
	FIFO   Money // FIFO is the total profit consuming the oldest lots first.

	// Remaining is the open quantity left under the pair policy.
	Remaining Quantity
	// Unmatched is true when a sell could not be fully matched under either policy.
	Unmatched bool
}

// Difference returns Policy - FIFO.
func (c FIFOCheck) Difference() Money { return c.Policy.Sub(c.FIFO) }

// Comparable returns true when every lot was sold and every sell matched.
// Only then both policies must realize the same total.
func (c FIFOCheck) Comparable() bool { return c.Remaining.IsZero() && !c.Unmatched }

// Agree returns true when the totals are comparable and equal.
func (c FIFOCheck) Agree() bool {
	return c.Comparable() && c.Difference().Decimal().Abs().LessThanOrEqual(profitEpsilon)
}

// CrossCheck replays trades, oldest first, in two books of the pair: one with
// the configured policy and one with FIFO.
func CrossCheck(cfg PairConfig, trades []exchange.Trade) (FIFOCheck, error) {
	fifo := cfg
	fifo.Policy, fifo.FIFOFallback = FIFO, false
	primary, err := NewBook(cfg)
	if err != nil {
		return FIFOCheck{}, err
	}
	reference, err := NewBook(fifo)
	if err != nil {
		return FIFOCheck{}, err
	}
	sorted := append([]exchange.Trade(nil), trades...)
	exchange.SortTrades(sorted)

	var errs []error
	for _, t := range sorted {
		if t.Pair == "" {
			t.Pair = cfg.Pair
		}
		if err := primary.Process(t); err != nil {
			errs = append(errs, fmt.Errorf("trade %q: %w", t.ID, err))
			continue
		}
		if err := reference.Process(t); err != nil {
			errs = append(errs, fmt.Errorf("trade %q: %w", t.ID, err))
		}
	}
	return FIFOCheck{
		Pair:      cfg.Pair,
		Policy:    primary.TotalProfit(),
		FIFO:      reference.TotalProfit(),
		Remaining: primary.TotalRemaining(),
		Unmatched: len(primary.Flagged()) > 0 || len(reference.Flagged()) > 0,
	}, errors.Join(errs...)
}
