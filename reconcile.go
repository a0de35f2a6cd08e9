package gridledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/etnz/gridledger/exchange"
	"github.com/etnz/gridledger/id"
	"github.com/etnz/gridledger/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DriftClass names a kind of inconsistency between the book and the exchange.
type DriftClass int

const (
	// MissingFill is an exchange trade the book never recorded.
	MissingFill DriftClass = iota
	// IdentityDrift is a lot whose id is not, or no longer, in the exchange history.
	IdentityDrift
	// PriceDrift is a lot whose price differs from its exchange trade.
	PriceDrift
	// QuantityDrift is a difference between the open lots and the exchange balance.
	QuantityDrift
	// DuplicateIdentity is a set of lots sharing the same base trade id.
	DuplicateIdentity
	// ProfitDrift is a ledger total that differs from the last known good total.
	ProfitDrift
	// UnmatchedSell is a sell still waiting for a lot.
	UnmatchedSell
)

func (c DriftClass) String() string {
	switch c {
	case MissingFill:
		return "missing-fill"
	case IdentityDrift:
		return "identity"
	case PriceDrift:
		return "price"
	case QuantityDrift:
		return "quantity"
	case DuplicateIdentity:
		return "duplicate-identity"
	case ProfitDrift:
		return "profit"
	case UnmatchedSell:
		return "unmatched-sell"
	default:
		return "unknown"
	}
}

func (c DriftClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Finding is one inconsistency found by a reconciliation.
type Finding struct {
	Class  DriftClass `json:"class"`
	LotID  string     `json:"lotId,omitempty"`
	SellID string     `json:"sellId,omitempty"`
	Detail string     `json:"detail"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
	// Repairable findings come with a correction in the report.
	Repairable bool  `json:"repairable"`
	Err        error `json:"-"`
}

// Report is the outcome of a reconciliation: what was found and how to fix it.
// A report does not change the book until it is applied with Book.Apply.
type Report struct {
	ID       string
	Pair     string
	Started  time.Time
	Finished time.Time
	Applied  time.Time

	Since     time.Time // Since is the start of the trade history window.
	Trades    int       // Trades is the number of exchange trades fetched.
	Balance   Quantity  // Balance is the exchange total balance of the base asset.
	Remaining Quantity  // Remaining is the book total before corrections.
	Projected Quantity  // Projected is the book total once corrections are applied.

	Profit     Money      // Profit is the ledger total before corrections.
	Checkpoint Checkpoint // Checkpoint is the last known good total checked.

	Findings    []Finding
	Corrections []Correction
}

// Has reports whether the report has a finding of this class.
func (r *Report) Has(c DriftClass) bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Class == c })
}

// Clean returns true when nothing was found.
func (r *Report) Clean() bool { return len(r.Findings) == 0 }

// Err joins the errors of the findings that no correction repairs.
func (r *Report) Err() error {
	var errs []error
	for _, f := range r.Findings {
		if !f.Repairable && f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errors.Join(errs...)
}

// MarshalJSON implements the json.Marshaler interface for Report.
func (r *Report) MarshalJSON() ([]byte, error) {
	type correction struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	}
	corrections := make([]correction, len(r.Corrections))
	for i, c := range r.Corrections {
		corrections[i] = correction{Kind: c.Kind(), Detail: c.String()}
	}
	var w jsonObjectWriter
	w.Append("id", r.ID)
	w.Append("pair", r.Pair)
	w.Append("started", r.Started)
	w.Append("finished", r.Finished)
	w.Optional("applied", r.Applied)
	w.Optional("since", r.Since)
	w.Append("trades", r.Trades)
	w.Append("balance", r.Balance)
	w.Append("remaining", r.Remaining)
	w.Append("projected", r.Projected)
	w.Append("profit", r.Profit)
	w.Optional("checkpoint", r.Checkpoint)
	w.Optional("findings", r.Findings)
	w.Optional("corrections", corrections)
	return w.MarshalJSON()
}

// Reconciler compares books with the exchange trade history and balances.
type Reconciler struct {
	Trades   exchange.TradeSource
	Balances exchange.BalanceSource
	// Backoff of the fetches, DefaultBackoff when zero.
	Backoff exchange.Backoff
	// Now returns the current time, time.Now when nil.
	Now func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Reconcile fetches the exchange state of the book pair and diagnoses the drift
// of the book against it.
//
// The fetches run concurrently and are retried, they have no side effect:
// cancelling ctx aborts the run and leaves the book untouched. The returned
// report is not applied, see Book.Apply.
func (r *Reconciler) Reconcile(ctx context.Context, b *Book) (*Report, error) {
	cfg := b.Config()
	backoff := r.Backoff
	if backoff.Attempts == 0 {
		backoff = exchange.DefaultBackoff
	}
	start := r.now()
	var since time.Time
	if cfg.Lookback > 0 {
		since = start.Add(-cfg.Lookback)
	}

	var (
		trades  []exchange.Trade
		balance exchange.Balance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		trades, err = exchange.Retry(gctx, backoff, func(ctx context.Context) ([]exchange.Trade, error) {
			return r.Trades.FetchTrades(ctx, cfg.Pair, exchange.Cursor{Since: since})
		})
		return err
	})
	g.Go(func() (err error) {
		balance, err = exchange.Retry(gctx, backoff, func(ctx context.Context) (exchange.Balance, error) {
			return r.Balances.FetchBalance(ctx, cfg.Base)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: reconciliation fetch: %w", cfg.Pair, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := b.view()
	rep := &Report{
		ID:         id.At(start),
		Pair:       cfg.Pair,
		Started:    start,
		Since:      since,
		Trades:     len(trades),
		Balance:    Q(balance.Total),
		Remaining:  st.lots.TotalRemaining(),
		Profit:     M(0, cfg.Quote).Add(st.ledger.TotalProfit()),
		Checkpoint: st.checkpoint,
	}
	d := &diagnosis{book: b, st: st, rep: rep, since: since}
	d.missingFills(trades)
	d.identities(trades)
	d.duplicates()
	d.rematches()
	d.quantity(rep.Balance)
	d.profit()
	rep.Projected = st.lots.TotalRemaining()
	rep.Finished = r.now()

	for _, f := range rep.Findings {
		metrics.DriftFindingsTotal.WithLabelValues(cfg.Pair, f.Class.String(), fmt.Sprint(f.Repairable)).Inc()
	}
	metrics.ReconcileDuration.WithLabelValues(cfg.Pair).Observe(rep.Finished.Sub(rep.Started).Seconds())
	log().Info("reconciliation done",
		zap.String("pair", cfg.Pair),
		zap.String("report", rep.ID),
		zap.Int("trades", rep.Trades),
		zap.Int("findings", len(rep.Findings)),
		zap.Int("corrections", len(rep.Corrections)),
		zap.Stringer("balance", rep.Balance),
		zap.Stringer("remaining", rep.Remaining),
	)
	b.setLastReport(rep)
	return rep, nil
}

// diagnosis projects the corrections it proposes on a copy of the book state,
// so that each drift class is checked against the state the previous ones
// lead to.
type diagnosis struct {
	book  *Book
	st    *state
	rep   *Report
	since time.Time
}

func (d *diagnosis) find(f Finding) { d.rep.Findings = append(d.rep.Findings, f) }

// correct projects c and adds it to the report. A correction that does not
// apply turns the finding into a non repairable one.
func (d *diagnosis) correct(f Finding, c Correction) bool {
	if err := c.apply(d.book, d.st, d.rep.ID); err != nil {
		f.Repairable = false
		f.Err = err
		f.Detail = fmt.Sprintf("%s (cannot %s: %v)", f.Detail, c, err)
		d.find(f)
		return false
	}
	f.Repairable = true
	d.find(f)
	d.rep.Corrections = append(d.rep.Corrections, c)
	return true
}

func (d *diagnosis) drift(class DriftClass, detail, before, after string) *DriftDetectedError {
	return &DriftDetectedError{Pair: d.book.cfg.Pair, Class: class, Detail: detail, Before: before, After: after}
}

// missingFills ingests the exchange trades the book does not know.
func (d *diagnosis) missingFills(trades []exchange.Trade) {
	cfg := d.book.cfg
	for _, t := range trades {
		if t.Pair != "" && t.Pair != cfg.Pair {
			continue
		}
		known := false
		switch t.Side {
		case exchange.Buy:
			known = d.st.knownBuy(t.ID)
		case exchange.Sell:
			known = d.st.ledger.HasSell(t.ID)
		}
		if known {
			continue
		}
		finding := Finding{
			Class:  MissingFill,
			Detail: fmt.Sprintf("%s %s %s @ %s not recorded", t.Side, t.ID, t.Amount, t.Price),
		}
		if t.Side == exchange.Sell {
			finding.SellID = t.ID
		} else {
			finding.LotID = t.ID
		}
		f, err := fillFromTrade(cfg, t)
		if err != nil {
			finding.Err = err
			d.find(finding)
			continue
		}
		d.correct(finding, IngestFill{Side: t.Side, Fill: f})
	}
}

// identities checks every lot id and price against the exchange buys.
func (d *diagnosis) identities(trades []exchange.Trade) {
	cfg := d.book.cfg
	buys := make(map[string]exchange.Trade)
	for _, t := range trades {
		if t.Side == exchange.Buy && (t.Pair == "" || t.Pair == cfg.Pair) {
			buys[t.ID] = t
		}
	}
	shared := d.st.lots.BaseIDDuplicates()
	for _, l := range d.st.lots.All() {
		if l.Estimated {
			continue
		}
		if ValidateTradeID(l.ID) != nil {
			var ok bool
			if l, ok = d.syntheticID(l, buys, shared); !ok {
				continue
			}
		}
		t, found := buys[l.ID]
		switch {
		case found:
			if !l.Verified || l.Historic {
				d.correct(Finding{Class: IdentityDrift, LotID: l.ID, Detail: "found in exchange history", Before: status(l), After: "verified"},
					SetStatus{LotID: l.ID, FromVerified: l.Verified, FromHistoric: l.Historic, Verified: true})
			}
			d.price(l, M(t.Price, cfg.Quote))
		case l.Timestamp.Before(d.since):
			if !l.Verified || !l.Historic {
				d.correct(Finding{Class: IdentityDrift, LotID: l.ID, Detail: "older than the exchange history", Before: status(l), After: "historic"},
					SetStatus{LotID: l.ID, FromVerified: l.Verified, FromHistoric: l.Historic, Verified: true, Historic: true})
			}
		default:
			f := Finding{Class: IdentityDrift, LotID: l.ID, Detail: "not in exchange history", Before: status(l), After: "unverified"}
			if l.Verified || l.Historic {
				d.correct(f, SetStatus{LotID: l.ID, FromVerified: l.Verified, FromHistoric: l.Historic})
				continue
			}
			f.Err = d.drift(IdentityDrift, fmt.Sprintf("lot %s is not in the exchange history", l.ID), f.Before, f.After)
			d.find(f)
		}
	}
}

// syntheticID proposes to rename a lot recorded under a synthetic id after the
// exchange buy it stands for. It returns the renamed lot, or false when the
// lot cannot be checked any further.
//
// A synthetic id is never trusted: the lot is not marked historic, and stays
// unverified until its trade is found.
func (d *diagnosis) syntheticID(l Lot, buys map[string]exchange.Trade, shared map[string][]string) (Lot, bool) {
	base := BaseID(l.ID)
	if len(shared[base]) > 1 {
		// reported by duplicates, an operator merges them.
		return l, false
	}
	f := Finding{Class: IdentityDrift, LotID: l.ID, Detail: "synthetic lot id", Before: l.ID, After: base}
	_, found := buys[base]
	switch {
	case !found:
		f.Detail = fmt.Sprintf("synthetic lot id, trade %s not in exchange history", base)
	case d.st.inArchive(base):
		f.Detail = fmt.Sprintf("synthetic lot id, trade %s is an archived lot", base)
	default:
		if !d.correct(f, CorrectID{From: l.ID, To: base}) {
			return l, false
		}
		renamed, err := d.st.lots.Find(base)
		return renamed, err == nil
	}
	f.Err = d.drift(IdentityDrift, fmt.Sprintf("lot %s: %s", l.ID, f.Detail), f.Before, f.After)
	d.find(f)
	if l.Verified || l.Historic {
		d.correct(Finding{Class: IdentityDrift, LotID: l.ID, Detail: "synthetic lot id cannot be trusted", Before: status(l), After: "unverified"},
			SetStatus{LotID: l.ID, FromVerified: l.Verified, FromHistoric: l.Historic})
	}
	return l, false
}

// price corrects the price of a lot that no sell consumed yet.
func (d *diagnosis) price(l Lot, traded Money) {
	if l.Price.Equal(traded) {
		return
	}
	f := Finding{Class: PriceDrift, LotID: l.ID, Detail: "price differs from the exchange trade", Before: l.Price.String(), After: traded.String()}
	if l.Remaining.Equal(l.Amount) {
		d.correct(f, CorrectPrice{LotID: l.ID, From: l.Price, To: traded})
		return
	}
	f.Detail += ", lot already consumed"
	f.Err = d.drift(PriceDrift, fmt.Sprintf("lot %s price differs from the exchange trade and was already consumed", l.ID), f.Before, f.After)
	d.find(f)
}

// duplicates reports the lots sharing a base id. They are never merged here.
func (d *diagnosis) duplicates() {
	groups := d.st.lots.BaseIDDuplicates()
	for _, base := range slices.Sorted(maps.Keys(groups)) {
		ids := groups[base]
		d.find(Finding{
			Class:  DuplicateIdentity,
			LotID:  base,
			Detail: fmt.Sprintf("lots %s share the trade id %s, merge them explicitly", strings.Join(ids, ", "), base),
			Err:    &DuplicateIDError{ID: base, IDs: ids},
		})
	}
}

// rematches matches the flagged sells against the open lots.
func (d *diagnosis) rematches() {
	for _, e := range slices.Collect(d.st.ledger.Flagged()) {
		outstanding, _ := d.st.ledger.Outstanding(e.SellID)
		f := Finding{Class: UnmatchedSell, SellID: e.SellID, Detail: fmt.Sprintf("%s of %s not matched", outstanding, e.SellAmount)}
		matches, _ := d.book.matcher.plan(d.st.lots.Open(), e.Fill().Fill, outstanding)
		if len(matches) == 0 {
			f.Err = &UnmatchedSellError{SellID: e.SellID, Amount: e.SellAmount, Unmatched: outstanding}
			d.find(f)
			continue
		}
		d.correct(f, Rematch{SellID: e.SellID, Outstanding: outstanding})
	}
}

// quantity adjusts the most recently modified open lot to the exchange balance.
func (d *diagnosis) quantity(balance Quantity) {
	eps := d.book.cfg.Epsilon
	internal := d.st.lots.TotalRemaining()
	if balance.Within(internal, eps) {
		return
	}
	diff := balance.Sub(internal)
	f := Finding{
		Class:  QuantityDrift,
		Detail: fmt.Sprintf("open lots hold %s, exchange balance is %s", internal, balance),
		Before: internal.String(),
		After:  balance.String(),
	}
	l, ok := d.st.lots.MostRecentlyModified()
	if !ok {
		f.Err = d.drift(QuantityDrift, "no open lot to adjust", f.Before, f.After)
		d.find(f)
		return
	}
	f.LotID = l.ID
	to := l.Remaining.Add(diff)
	if to.IsNegative() || to.GreaterThan(l.Amount) {
		f.Err = d.drift(QuantityDrift, fmt.Sprintf("adjusting lot %s by %s leaves it out of [0, %s]", l.ID, diff, l.Amount), f.Before, f.After)
		d.find(f)
		return
	}
	d.correct(f, AdjustRemaining{LotID: l.ID, From: l.Remaining, To: to})
}

// profit compares the ledger with the last known good total. It never corrects.
func (d *diagnosis) profit() {
	cp := d.st.checkpoint
	if cp.At.IsZero() {
		return
	}
	n := d.st.ledger.Len()
	got := M(0, d.book.cfg.Quote).Add(d.st.ledger.ProfitOf(cp.Entries))
	if cp.Entries <= n && got.Equal(M(0, d.book.cfg.Quote).Add(cp.TotalProfit)) {
		return
	}
	detail := fmt.Sprintf("profit of the first %d entries differs from the checkpoint of %s", cp.Entries, cp.At.Format(time.RFC3339))
	if cp.Entries > n {
		detail = fmt.Sprintf("ledger has %d entries, the checkpoint counted %d", n, cp.Entries)
	}
	d.find(Finding{
		Class:  ProfitDrift,
		Detail: detail,
		Before: cp.TotalProfit.String(),
		After:  got.String(),
		Err:    d.drift(ProfitDrift, detail, cp.TotalProfit.String(), got.String()),
	})
}

func status(l Lot) string {
	switch {
	case l.Historic:
		return "historic"
	case l.Verified:
		return "verified"
	default:
		return "unverified"
	}
}
