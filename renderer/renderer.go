// Package renderer renders books, ledgers and reconciliation reports as
// markdown, and markdown for the terminal or the web.
package renderer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/gridledger"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// timeLayout is the layout of timestamps in tables.
const timeLayout = "2006-01-02 15:04"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

// LotsMarkdown renders lots as a table, with their totals.
func LotsMarkdown(pair string, lots []gridledger.Lot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Lots\n\n", pair)
	if len(lots) == 0 {
		fmt.Fprintln(&b, "No open lot.")
		return b.String()
	}
	t := newTable("Lot", "Bought", ">Price", ">Amount", ">Remaining", ">Fee", "Status")
	var remaining gridledger.Quantity
	var cost gridledger.Money
	for _, l := range lots {
		t.Row(&b,
			l.ID,
			formatTime(l.Timestamp),
			l.Price.Decimal().String(),
			l.Amount,
			l.Remaining,
			l.Fee.Decimal().String(),
			lotStatus(l),
		)
		remaining = remaining.Add(l.Remaining)
		cost = cost.Add(l.Cost())
	}
	fmt.Fprintf(&b, "\nTotal remaining: %s, cost: %s\n", remaining, cost)

	conditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintln(w, "\n## Audit Trail")
		fmt.Fprintln(w)
		t := newTable("Lot", "At", "Field", ">Before", ">After", "Reason")
		for _, l := range lots {
			for _, n := range l.Notes {
				t.Row(w, l.ID, formatTime(n.At), n.Field, n.Before, n.After, n.Reason)
			}
		}
		return !t.Empty()
	})
	return b.String()
}

func lotStatus(l gridledger.Lot) string {
	var flags []string
	if l.IsClosed() {
		flags = append(flags, "closed")
	}
	switch {
	case l.Historic:
		flags = append(flags, "historic")
	case l.Verified:
		flags = append(flags, "verified")
	default:
		flags = append(flags, "unverified")
	}
	if l.Estimated {
		flags = append(flags, "estimated")
	}
	return strings.Join(flags, ", ")
}

// ProfitMarkdown renders the ledger entries and the total realized profit,
// followed by the sells still flagged.
func ProfitMarkdown(pair string, entries, flagged []gridledger.LedgerEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Realized Profit\n\n", pair)

	var total gridledger.Money
	t := newTable("Sell", "At", ">Price", ">Amount", "Lots", "Policy", ">Profit")
	for _, e := range entries {
		lots := make([]string, len(e.Matches))
		for i, m := range e.Matches {
			lots[i] = fmt.Sprintf("%s (%s)", m.LotID, m.AmountConsumed)
		}
		sell := e.SellID
		if e.Kind == gridledger.ResolutionEntry {
			sell += " (resolution)"
		}
		t.Row(&b,
			sell,
			formatTime(e.Timestamp),
			e.SellPrice.Decimal().String(),
			e.SellAmount,
			strings.Join(lots, ", "),
			e.Policy,
			e.TotalProfit.SignedString(),
		)
		total = total.Add(e.TotalProfit)
	}
	if !t.Empty() {
		fmt.Fprintln(&b)
	}
	fmt.Fprintf(&b, "**Total profit: %s**\n", total)

	conditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintln(w, "\n## Flagged Sells")
		fmt.Fprintln(w)
		for _, e := range flagged {
			fmt.Fprintf(w, "- %s at %s: %s unmatched\n", e.SellID, formatTime(e.Timestamp), e.Unmatched)
		}
		return len(flagged) > 0
	})
	return b.String()
}

// ReportMarkdown renders a reconciliation report.
func ReportMarkdown(r *gridledger.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Reconciliation %s\n\n", r.Pair, r.ID)
	fmt.Fprintf(&b, "- Window: since %s, %d exchange trades\n", formatTime(r.Since), r.Trades)
	fmt.Fprintf(&b, "- Balance: %s exchange, %s book, %s once corrected\n", r.Balance, r.Remaining, r.Projected)
	fmt.Fprintf(&b, "- Profit: %s\n", r.Profit)
	if !r.Applied.IsZero() {
		fmt.Fprintf(&b, "- Applied: %s\n", formatTime(r.Applied))
	}
	fmt.Fprintln(&b)

	if r.Clean() {
		fmt.Fprintln(&b, "No drift found.")
		return b.String()
	}
	fmt.Fprintln(&b, "## Findings")
	fmt.Fprintln(&b)
	t := newTable("Class", "Lot", "Sell", ">Before", ">After", "^Repairable", "Detail")
	for _, f := range r.Findings {
		repairable := " "
		if f.Repairable {
			repairable = "X"
		}
		t.Row(&b, f.Class, f.LotID, f.SellID, f.Before, f.After, repairable, f.Detail)
	}

	conditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintln(w, "\n## Corrections")
		fmt.Fprintln(w)
		for i, c := range r.Corrections {
			fmt.Fprintf(w, "%d. %s\n", i+1, c)
		}
		return len(r.Corrections) > 0
	})
	return b.String()
}

// HTML converts markdown to HTML, with GitHub tables.
func HTML(md string) (string, error) {
	var buf bytes.Buffer
	conv := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := conv.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// Terminal renders markdown for a terminal of the given width.
func Terminal(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
