package renderer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/etnz/gridledger"
	"github.com/etnz/gridledger/exchange"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newBook(t *testing.T, trades ...exchange.Trade) *gridledger.Book {
	t.Helper()
	b, err := gridledger.NewBook(gridledger.NewPairConfig("BTC/USDT", decimal.RequireFromString("0.005")))
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

func trade(id string, side exchange.Side, price string, minutes int) exchange.Trade {
	return exchange.Trade{
		ID:        id,
		Side:      side,
		Price:     decimal.RequireFromString(price),
		Amount:    decimal.RequireFromString("0.01"),
		Timestamp: t0.Add(time.Duration(minutes) * time.Minute),
	}
}

func assertContains(t *testing.T, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("missing %q in:\n%s", w, got)
		}
	}
}

func TestLotsMarkdown(t *testing.T) {
	b := newBook(t,
		trade("B1", exchange.Buy, "50000", 0),
		trade("B2", exchange.Buy, "49750", 1),
		trade("S1", exchange.Sell, "50000", 2),
	)
	got := LotsMarkdown("BTC/USDT", b.Lots())
	assertContains(t, got,
		"# BTC/USDT Lots",
		"| B1 | 2025-03-01 00:00 | 50000 | 0.01 | 0.01 | 0 | unverified |",
		"| B2 | 2025-03-01 00:01 | 49750 | 0.01 | 0 | 0 | closed, unverified |",
		"Total remaining: 0.01",
	)
	if strings.Contains(got, "Audit Trail") {
		t.Errorf("audit trail rendered without notes:\n%s", got)
	}

	if got := LotsMarkdown("BTC/USDT", nil); !strings.Contains(got, "No open lot.") {
		t.Errorf("LotsMarkdown(nil) = %q", got)
	}
}

func TestLotsMarkdown_AuditTrail(t *testing.T) {
	b := newBook(t)
	if err := b.AddEstimatedLot("9001", gridledger.M(50000, "USDT"), gridledger.Q(0.01), t0, "cold wallet transfer"); err != nil {
		t.Fatalf("AddEstimatedLot() error = %v", err)
	}
	assertContains(t, LotsMarkdown("BTC/USDT", b.Lots()), "## Audit Trail", "cold wallet transfer", "unverified, estimated")
}

func TestProfitMarkdown(t *testing.T) {
	b := newBook(t,
		trade("B1", exchange.Buy, "49750", 0),
		trade("S1", exchange.Sell, "50000", 1),
		trade("S2", exchange.Sell, "70000", 2),
	)
	got := ProfitMarkdown("BTC/USDT", b.Entries(), b.Flagged())
	assertContains(t, got,
		"# BTC/USDT Realized Profit",
		"| S1 | 2025-03-01 00:01 | 50000 | 0.01 | B1 (0.01) | SPREAD_MATCH |",
		"| S2 | 2025-03-01 00:02 | 70000 | 0.01 |  | UNMATCHED | - |",
		"**Total profit: $2.50**",
		"## Flagged Sells",
		"- S2 at 2025-03-01 00:02: 0.01 unmatched",
	)
}

func TestReportMarkdown(t *testing.T) {
	b := newBook(t, trade("B1", exchange.Buy, "50000", 0))
	src := exchange.NewMemory()
	src.AddTrades(trade("B1", exchange.Buy, "50000", 0))
	src.SetBalance("BTC", decimal.RequireFromString("0.008"))
	r := &gridledger.Reconciler{Trades: src, Balances: src, Now: func() time.Time { return t0.Add(time.Hour) }}
	rep, err := r.Reconcile(context.Background(), b)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	assertContains(t, ReportMarkdown(rep),
		"# BTC/USDT Reconciliation "+rep.ID,
		"- Balance: 0.008 exchange, 0.01 book",
		"| quantity | B1 |",
		"## Corrections",
	)
}

func TestHTML(t *testing.T) {
	got, err := HTML("| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	assertContains(t, got, "<table>", "<td>1</td>")
}
