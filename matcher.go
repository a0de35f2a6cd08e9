package gridledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MatchRecord is the consumption of one lot by one sell.
type MatchRecord struct {
	SellID         string      `json:"sellId"`
	LotID          string      `json:"lotId"`
	AmountConsumed Quantity    `json:"amountConsumed"`
	BuyPrice       Money       `json:"buyPrice"`
	SellPrice      Money       `json:"sellPrice"`
	GrossProfit    Money       `json:"grossProfit"`
	AllocatedFees  Money       `json:"allocatedFees"`
	NetProfit      Money       `json:"netProfit"`
	Policy         MatchPolicy `json:"policy"`
}

// newMatchRecord computes the profit of selling amount of lot at the sell price.
//
// The buy fee is apportioned to the consumed part of the lot and the sell fee
// to the consumed part of the sell.
func newMatchRecord(sell Fill, lot Lot, amount Quantity, policy MatchPolicy) MatchRecord {
	gross := sell.Price.Sub(lot.Price).Mul(amount)
	fees := lot.Fee.Mul(amount).Div(lot.Amount).Add(sell.Fee.Mul(amount).Div(sell.Amount))
	return MatchRecord{
		SellID:         sell.ID,
		LotID:          lot.ID,
		AmountConsumed: amount,
		BuyPrice:       lot.Price,
		SellPrice:      sell.Price,
		GrossProfit:    gross,
		AllocatedFees:  fees,
		NetProfit:      gross.Sub(fees),
		Policy:         policy,
	}
}

// Matcher selects the lots consumed by a sell.
type Matcher struct {
	Policy       MatchPolicy
	GridSpacing  decimal.Decimal
	Tolerance    decimal.Decimal
	FIFOFallback bool
}

// NewMatcher creates the matcher of a pair.
func NewMatcher(cfg PairConfig) Matcher {
	return Matcher{
		Policy:       cfg.Policy,
		GridSpacing:  cfg.GridSpacing,
		Tolerance:    cfg.Tolerance,
		FIFOFallback: cfg.FIFOFallback,
	}
}

// ExpectedBuyPrice returns the buy price one grid step below the sell price.
func (m Matcher) ExpectedBuyPrice(sellPrice Money) Money {
	one := decimal.NewFromInt(1)
	return Money{value: sellPrice.value.Div(one.Add(m.GridSpacing)), cur: sellPrice.cur}
}

// Band returns the inclusive price band of spread-match candidates for a sell price.
func (m Matcher) Band(sellPrice Money) (low, high Money) {
	one := decimal.NewFromInt(1)
	e := m.ExpectedBuyPrice(sellPrice)
	return e.Scale(one.Sub(m.Tolerance)), e.Scale(one.Add(m.Tolerance))
}

// Plan returns the ledger entry a sell would produce against open lots,
// without modifying anything. open must be sorted oldest first.
func (m Matcher) Plan(open []Lot, sell SellEvent) LedgerEntry {
	entry := LedgerEntry{
		Kind:       SellEntry,
		SellID:     sell.ID,
		Timestamp:  sell.Timestamp,
		SellPrice:  sell.Price,
		SellAmount: sell.Amount,
	}
	entry.Matches, entry.Unmatched = m.plan(open, sell.Fill, sell.Amount)
	entry.Policy = policyOf(entry.Matches)
	entry.TotalProfit = sumProfit(entry.Matches, sell.Price.Currency())
	return entry
}

// plan matches up to amount of the sell, returns the matches and what is left.
func (m Matcher) plan(open []Lot, sell Fill, amount Quantity) ([]MatchRecord, Quantity) {
	avail := make([]Quantity, len(open))
	for i, l := range open {
		avail[i] = l.Remaining
	}
	left := amount
	var matches []MatchRecord
	take := func(i int, policy MatchPolicy) {
		q := left.Min(avail[i])
		avail[i] = avail[i].Sub(q)
		left = left.Sub(q)
		if open[i].Estimated {
			policy = Estimated
		}
		matches = append(matches, newMatchRecord(sell, open[i], q, policy))
	}

	if m.Policy == SpreadMatch {
		expected := m.ExpectedBuyPrice(sell.Price)
		low, high := m.Band(sell.Price)
		for left.IsPositive() {
			i := bestCandidate(open, avail, expected, low, high)
			if i < 0 {
				break
			}
			take(i, SpreadMatch)
		}
	}
	if m.Policy == FIFO || m.FIFOFallback {
		for i := range open {
			if !left.IsPositive() {
				break
			}
			if avail[i].IsPositive() {
				take(i, FIFO)
			}
		}
	}
	return matches, left
}

// bestCandidate returns the index of the available lot inside [low, high]
// with the price closest to expected, or -1. Ties go to the oldest lot, then
// to the smallest id, so the choice never depends on the input order.
func bestCandidate(open []Lot, avail []Quantity, expected, low, high Money) int {
	best := -1
	var bestDiff decimal.Decimal
	for i, l := range open {
		if !avail[i].IsPositive() || l.Price.LessThan(low) || l.Price.GreaterThan(high) {
			continue
		}
		diff := l.Price.value.Sub(expected.value).Abs()
		if best < 0 {
			best, bestDiff = i, diff
			continue
		}
		switch c := diff.Cmp(bestDiff); {
		case c < 0:
			best, bestDiff = i, diff
		case c == 0 && olderThan(l, open[best]):
			best = i
		}
	}
	return best
}

func olderThan(a, b Lot) bool {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c < 0
	}
	return strings.Compare(a.ID, b.ID) < 0
}

// policyOf derives the policy of an entry from its matches.
func policyOf(matches []MatchRecord) MatchPolicy {
	if len(matches) == 0 {
		return Unmatched
	}
	for _, mr := range matches {
		if mr.Policy == Estimated {
			return Estimated
		}
	}
	return matches[0].Policy
}

func sumProfit(matches []MatchRecord, currency string) Money {
	total := M(0, currency)
	for _, mr := range matches {
		total = total.Add(mr.NetProfit)
	}
	return total
}
