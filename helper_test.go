package gridledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// t0 is the time origin of the tests.
var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// at returns t0 plus some minutes.
func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

// USDT is a helper for test to create quote money from const
func USDT(v float64) Money { return M(v, "USDT") }

// btcConfig is the BTC/USDT pair with a 0.5% grid.
func btcConfig() PairConfig {
	return NewPairConfig("BTC/USDT", decimal.RequireFromString("0.005"))
}

func buy(id string, price, amount float64, minutes int) BuyFill {
	return NewBuy(id, USDT(price), Q(amount), Money{}, at(minutes))
}

func sell(id string, price, amount float64, minutes int) SellEvent {
	return NewSell(id, USDT(price), Q(amount), Money{}, at(minutes))
}

// newTestBook creates a book whose clock is frozen at t0 plus one day.
func newTestBook(t *testing.T, cfg PairConfig) *Book {
	t.Helper()
	b, err := NewBook(cfg)
	if err != nil {
		t.Fatalf("NewBook() error = %v", err)
	}
	b.now = func() time.Time { return at(24 * 60) }
	b.st.lots.now = b.now
	return b
}

func mustBuy(t *testing.T, b *Book, fills ...BuyFill) {
	t.Helper()
	for _, f := range fills {
		if err := b.Buy(f); err != nil {
			t.Fatalf("Buy(%q) error = %v", f.ID, err)
		}
	}
}

func mustSell(t *testing.T, b *Book, f SellEvent) LedgerEntry {
	t.Helper()
	e, err := b.Sell(f)
	if err != nil {
		t.Fatalf("Sell(%q) error = %v", f.ID, err)
	}
	return e
}
