package gridledger

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/etnz/gridledger/exchange"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// drawTrades draws a chronological history of grid trades around 50000.
func drawTrades(t *rapid.T, n int) []exchange.Trade {
	var trades []exchange.Trade
	for i := range n {
		side := rapid.SampledFrom([]exchange.Side{exchange.Buy, exchange.Buy, exchange.Sell}).Draw(t, "side")
		step := rapid.IntRange(-6, 6).Draw(t, "step")
		units := rapid.IntRange(1, 10).Draw(t, "units")
		fee := rapid.IntRange(0, 50).Draw(t, "fee")
		price := decimal.NewFromInt(50000).Mul(decimal.NewFromInt(1).Add(decimal.New(int64(step)*5, -3)))
		trades = append(trades, exchange.Trade{
			ID:        fmt.Sprintf("T%03d", i),
			Pair:      "BTC/USDT",
			Side:      side,
			Price:     price,
			Amount:    decimal.New(int64(units), -3),
			Fee:       decimal.New(int64(fee), -2),
			Timestamp: at(i),
		})
	}
	return trades
}

func replay(t *rapid.T, cfg PairConfig, trades []exchange.Trade) *Book {
	b, err := NewBook(cfg)
	if err != nil {
		t.Fatalf("NewBook() error = %v", err)
	}
	for _, tr := range trades {
		if err := b.Process(tr); err != nil {
			t.Fatalf("Process(%s) error = %v", tr.ID, err)
		}
	}
	return b
}

func snapshotJSON(t *rapid.T, b *Book) string {
	data, err := json.Marshal(b.Snapshot())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return string(data)
}

func TestProperty_NoOverConsumption(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := drawTrades(t, rapid.IntRange(1, 40).Draw(t, "n"))
		b := replay(t, btcConfig(), trades)

		consumed := make(map[string]Quantity)
		for _, e := range b.Entries() {
			for _, m := range e.Matches {
				consumed[m.LotID] = consumed[m.LotID].Add(m.AmountConsumed)
			}
		}
		for _, l := range b.Lots() {
			if consumed[l.ID].GreaterThan(l.Amount) {
				t.Fatalf("lot %s: consumed %s of %s", l.ID, consumed[l.ID], l.Amount)
			}
			if !l.Amount.Sub(l.Remaining).Equal(consumed[l.ID]) {
				t.Fatalf("lot %s: remaining %s does not match the %s consumed", l.ID, l.Remaining, consumed[l.ID])
			}
			if l.Remaining.IsNegative() || l.Remaining.GreaterThan(l.Amount) {
				t.Fatalf("lot %s: remaining %s out of [0, %s]", l.ID, l.Remaining, l.Amount)
			}
		}
	})
}

func TestProperty_ProfitDerivation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := drawTrades(t, rapid.IntRange(1, 40).Draw(t, "n"))
		b := replay(t, btcConfig(), trades)

		sum := USDT(0)
		for _, e := range b.Entries() {
			matches := USDT(0)
			for _, m := range e.Matches {
				matches = matches.Add(m.NetProfit)
			}
			if !e.TotalProfit.Equal(matches) {
				t.Fatalf("entry %s: TotalProfit %s, matches sum to %s", e.SellID, e.TotalProfit, matches)
			}
			if e.Policy == Unmatched && !e.TotalProfit.IsZero() {
				t.Fatalf("unmatched entry %s has a profit %s", e.SellID, e.TotalProfit)
			}
			sum = sum.Add(e.TotalProfit)
		}
		if !b.TotalProfit().Equal(sum) {
			t.Fatalf("TotalProfit() = %s, entries sum to %s", b.TotalProfit(), sum)
		}
	})
}

func TestProperty_Idempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := drawTrades(t, rapid.IntRange(1, 30).Draw(t, "n"))
		b := replay(t, btcConfig(), trades)
		before := snapshotJSON(t, b)

		for _, i := range rapid.SliceOfDistinct(rapid.IntRange(0, len(trades)-1), rapid.ID).Draw(t, "redelivered") {
			if err := b.Process(trades[i]); err != nil {
				t.Fatalf("redelivery of %s error = %v", trades[i].ID, err)
			}
		}
		if after := snapshotJSON(t, b); after != before {
			t.Fatalf("redelivery changed the book")
		}
	})
}

func TestProperty_Determinism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := drawTrades(t, rapid.IntRange(1, 30).Draw(t, "n"))
		a := replay(t, btcConfig(), trades)
		b := replay(t, btcConfig(), trades)
		if snapshotJSON(t, a) != snapshotJSON(t, b) {
			t.Fatalf("the same history produced two books")
		}

		open := a.OpenLots()
		s := sell("S", rapid.Float64Range(49000, 51000).Draw(t, "price"), 0.02, 100)
		want := a.Matcher().Plan(open, s)
		perm := rapid.Permutation(open).Draw(t, "order")
		got := a.Matcher().Plan(perm, s)
		if !slices.EqualFunc(got.Matches, want.Matches, func(x, y MatchRecord) bool {
			return x.LotID == y.LotID && x.AmountConsumed.Equal(y.AmountConsumed)
		}) {
			t.Fatalf("Plan() depends on the lot order: %v vs %v", got.Matches, want.Matches)
		}
	})
}

func TestProperty_ConservationAfterReconciliation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := drawTrades(t, rapid.IntRange(1, 30).Draw(t, "n"))
		b := replay(t, btcConfig(), trades)
		b.now = func() time.Time { return at(24 * 60) }
		b.st.lots.now = b.now
		balance := decimal.New(int64(rapid.IntRange(0, 200).Draw(t, "balance")), -3)

		src := exchange.NewMemory()
		src.AddTrades(trades...)
		src.SetBalance("BTC", balance)
		rep, err := (&Reconciler{Trades: src, Balances: src, Now: b.now}).Reconcile(context.Background(), b)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if err := b.Apply(rep); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}

		repaired := !slices.ContainsFunc(rep.Findings, func(f Finding) bool {
			return f.Class == QuantityDrift && !f.Repairable
		})
		if repaired && !b.TotalRemaining().Within(Q(balance), DefaultEpsilon) {
			t.Fatalf("TotalRemaining() = %s, exchange balance is %s", b.TotalRemaining(), balance)
		}
	})
}

func TestProperty_FIFOAgreesOnFullLiquidation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "buys")
		var trades []exchange.Trade
		var amounts []int
		for i := range n {
			units := rapid.IntRange(1, 10).Draw(t, "units")
			amounts = append(amounts, units)
			trades = append(trades, exchange.Trade{
				ID:        fmt.Sprintf("B%d", i),
				Side:      exchange.Buy,
				Price:     decimal.NewFromInt(int64(rapid.IntRange(49000, 51000).Draw(t, "buy price"))),
				Amount:    decimal.New(int64(units), -3),
				Fee:       decimal.New(int64(rapid.IntRange(0, 100).Draw(t, "fee")), -2),
				Timestamp: at(i),
			})
		}
		for i, units := range rapid.Permutation(amounts).Draw(t, "sells") {
			trades = append(trades, exchange.Trade{
				ID:        fmt.Sprintf("S%d", i),
				Side:      exchange.Sell,
				Price:     decimal.NewFromInt(int64(rapid.IntRange(49000, 52000).Draw(t, "sell price"))),
				Amount:    decimal.New(int64(units), -3),
				Fee:       decimal.New(int64(rapid.IntRange(0, 100).Draw(t, "fee")), -2),
				Timestamp: at(n + i),
			})
		}
		cfg := btcConfig()
		cfg.FIFOFallback = true

		check, err := CrossCheck(cfg, trades)
		if err != nil {
			t.Fatalf("CrossCheck() error = %v", err)
		}
		if !check.Comparable() {
			t.Fatalf("history does not liquidate every lot: remaining %s, unmatched %v", check.Remaining, check.Unmatched)
		}
		if !check.Agree() {
			t.Fatalf("spread-match %s and FIFO %s disagree", check.Policy, check.FIFO)
		}
	})
}
