package gridledger

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/etnz/gridledger/exchange"
	"github.com/etnz/gridledger/metrics"
	"go.uber.org/zap"
)

// Checkpoint is the last known good ledger total: the profit of the first
// Entries entries of the ledger.
type Checkpoint struct {
	Entries     int       `json:"entries"`
	TotalProfit Money     `json:"totalProfit"`
	At          time.Time `json:"at"`
}

// state is everything a Book owns. Corrections are applied to a clone.
type state struct {
	lots       *LotStore
	ledger     *Ledger
	archived   []Lot
	checkpoint Checkpoint
	cursor     exchange.Cursor
}

func newState() *state {
	return &state{lots: NewLotStore(), ledger: NewLedger()}
}

func (s *state) clone() *state {
	c := *s
	c.lots = s.lots.clone()
	c.ledger = s.ledger.clone()
	c.archived = slices.Clone(s.archived)
	return &c
}

// inArchive reports whether a lot id is in the archive.
func (s *state) inArchive(lotID string) bool {
	return slices.ContainsFunc(s.archived, func(l Lot) bool { return l.ID == lotID })
}

// knownBuy reports whether a buy trade id is already accounted as a lot, in
// the working set, in the archive, or behind a synthetic id.
func (s *state) knownBuy(tradeID string) bool {
	if s.lots.Has(tradeID) || s.inArchive(tradeID) {
		return true
	}
	for _, l := range s.lots.lots {
		if BaseID(l.ID) == tradeID {
			return true
		}
	}
	return false
}

// advance moves the trade cursor forward.
func (s *state) advance(f Fill) {
	if f.Timestamp.Before(s.cursor.Since) {
		return
	}
	s.cursor = exchange.Cursor{SinceID: f.ID, Since: f.Timestamp}
}

// Book owns the lots and the ledger of one pair.
//
// All mutations of a pair go through its Book, they are serialized by a
// single mutex so that a match always sees a consistent set of open lots.
// A Book is safe for concurrent use.
type Book struct {
	cfg     PairConfig
	matcher Matcher
	now     func() time.Time

	mu   sync.Mutex
	st   *state
	last *Report
}

// NewBook creates an empty book for a pair.
func NewBook(cfg PairConfig) (*Book, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Book{cfg: cfg, matcher: NewMatcher(cfg), now: time.Now, st: newState()}, nil
}

// Config returns the book pair configuration.
func (b *Book) Config() PairConfig { return b.cfg }

// Pair returns the pair symbol.
func (b *Book) Pair() string { return b.cfg.Pair }

// Matcher returns the matcher used by the book.
func (b *Book) Matcher() Matcher { return b.matcher }

// Buy records a buy fill as a new lot.
//
// Redelivering the same fill is a no-op. A different fill with an existing
// id is rejected with a *DuplicateIDError.
func (b *Book) Buy(f BuyFill) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	added, err := b.buy(b.st, f)
	if err != nil {
		metrics.FillErrorsTotal.WithLabelValues(b.cfg.Pair).Inc()
		return err
	}
	if !added {
		log().Debug("buy redelivered", zap.String("pair", b.cfg.Pair), zap.String("id", f.ID))
		return nil
	}
	metrics.FillsTotal.WithLabelValues(b.cfg.Pair, string(exchange.Buy)).Inc()
	log().Debug("lot added",
		zap.String("pair", b.cfg.Pair),
		zap.String("id", f.ID),
		zap.Stringer("price", f.Price),
		zap.Stringer("amount", f.Amount),
	)
	b.observe()
	return nil
}

// buy adds the lot of a fill to st. It returns false for a redelivered fill.
func (b *Book) buy(st *state, f BuyFill) (bool, error) {
	if err := b.checkCurrency(f.Fill); err != nil {
		return false, err
	}
	if _, err := st.lots.Add(f); err != nil {
		var dup *DuplicateIDError
		if errors.As(err, &dup) && dup.Redelivery {
			return false, nil
		}
		return false, fmt.Errorf("%s: buy %q: %w", b.cfg.Pair, f.ID, err)
	}
	st.advance(f.Fill)
	return true, nil
}

// Sell matches a sell against the open lots and records the ledger entry.
//
// A sell that cannot be fully matched is still recorded: its entry is
// flagged and the returned entry Err() describes the unmatched part.
// Redelivering the same sell returns the recorded entry and changes nothing.
func (b *Book) Sell(f SellEvent) (LedgerEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, added, err := b.sell(b.st, f)
	if err != nil {
		metrics.FillErrorsTotal.WithLabelValues(b.cfg.Pair).Inc()
		return e, err
	}
	if !added {
		log().Debug("sell redelivered", zap.String("pair", b.cfg.Pair), zap.String("id", f.ID))
		return e, nil
	}
	metrics.FillsTotal.WithLabelValues(b.cfg.Pair, string(exchange.Sell)).Inc()
	if e.Flagged() {
		metrics.UnmatchedSellsTotal.WithLabelValues(b.cfg.Pair).Inc()
		log().Warn("sell not fully matched",
			zap.String("pair", b.cfg.Pair),
			zap.String("sell", f.ID),
			zap.Stringer("price", f.Price),
			zap.Stringer("amount", f.Amount),
			zap.Stringer("unmatched", e.Unmatched),
		)
	}
	b.observe()
	return e, nil
}

// sell matches and records a sell in st. It returns false for a redelivered sell.
func (b *Book) sell(st *state, f SellEvent) (LedgerEntry, bool, error) {
	if err := f.Validate(); err != nil {
		return LedgerEntry{}, false, err
	}
	if err := b.checkCurrency(f.Fill); err != nil {
		return LedgerEntry{}, false, err
	}
	if e, exists := st.ledger.Sell(f.ID); exists {
		if e.Fill().Equal(f.Fill) {
			return e, false, nil
		}
		return LedgerEntry{}, false, fmt.Errorf("%s: %w", b.cfg.Pair, &DuplicateSellError{SellID: f.ID})
	}
	e := b.matcher.Plan(st.lots.Open(), f)
	e.SellFee = f.Fee
	if err := commit(st, e, f.Timestamp); err != nil {
		return LedgerEntry{}, false, fmt.Errorf("%s: sell %q: %w", b.cfg.Pair, f.ID, err)
	}
	st.advance(f.Fill)
	e, _ = st.ledger.Sell(f.ID)
	return e, true, nil
}

// commit consumes the lots of the entry matches and records it.
// Nothing is changed when any match does not fit the open lots.
func commit(st *state, e LedgerEntry, at time.Time) error {
	need := make(map[string]Quantity)
	for _, m := range e.Matches {
		need[m.LotID] = need[m.LotID].Add(m.AmountConsumed)
	}
	for lotID, q := range need {
		l, err := st.lots.Find(lotID)
		if err != nil {
			return err
		}
		if q.GreaterThan(l.Remaining) {
			return &InsufficientRemainingError{LotID: lotID, Requested: q, Remaining: l.Remaining}
		}
	}
	// validate the entry before touching the lots.
	if _, err := st.ledger.check(e); err != nil {
		return err
	}
	for _, m := range e.Matches {
		if err := st.lots.consume(m.LotID, m.AmountConsumed, at); err != nil {
			return err
		}
	}
	return st.ledger.Record(e)
}

// checkCurrency rejects fills whose price or fee is not in the pair quote
// currency. Fees in other currencies are converted by fillFromTrade.
func (b *Book) checkCurrency(f Fill) error {
	if c := f.Price.Currency(); c != "" && c != b.cfg.Quote {
		return fmt.Errorf("%s: fill %q priced in %s", b.cfg.Pair, f.ID, c)
	}
	if c := f.Fee.Currency(); c != "" && c != b.cfg.Quote {
		return fmt.Errorf("%s: fill %q fee in %s, expected %s", b.cfg.Pair, f.ID, c, b.cfg.Quote)
	}
	return nil
}

// Process records an exchange trade of the pair.
func (b *Book) Process(t exchange.Trade) error {
	if t.Pair != "" && t.Pair != b.cfg.Pair {
		return fmt.Errorf("%s: trade %q belongs to %s", b.cfg.Pair, t.ID, t.Pair)
	}
	f, err := fillFromTrade(b.cfg, t)
	if err != nil {
		return fmt.Errorf("%s: %w", b.cfg.Pair, err)
	}
	switch t.Side {
	case exchange.Buy:
		return b.Buy(BuyFill{f})
	default:
		_, err := b.Sell(SellEvent{f})
		return err
	}
}

// OpenLots returns the open lots, oldest first.
func (b *Book) OpenLots() []Lot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.lots.Open()
}

// Lots returns all the lots of the working set, oldest first.
func (b *Book) Lots() []Lot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.lots.All()
}

// Archived returns the archived lots.
func (b *Book) Archived() []Lot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.st.archived)
}

// FindLot returns a lot of the working set.
func (b *Book) FindLot(id string) (Lot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.lots.Find(id)
}

// TotalRemaining returns the sum of the remaining quantity of the open lots.
func (b *Book) TotalRemaining() Quantity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.lots.TotalRemaining()
}

// TotalProfit returns the ledger total profit in quote currency.
func (b *Book) TotalProfit() Money {
	b.mu.Lock()
	defer b.mu.Unlock()
	return M(0, b.cfg.Quote).Add(b.st.ledger.TotalProfit())
}

// Entries returns the ledger entries in record order.
func (b *Book) Entries() []LedgerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.ledger.Entries()
}

// EntriesSince returns the ledger entries whose timestamp is not before since.
func (b *Book) EntriesSince(since time.Time) []LedgerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Collect(b.st.ledger.EntriesSince(since))
}

// Flagged returns the sell entries still waiting for a match.
func (b *Book) Flagged() []LedgerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Collect(b.st.ledger.Flagged())
}

// Checkpoint returns the last known good ledger total.
func (b *Book) Checkpoint() Checkpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.checkpoint
}

// Cursor returns the position of the last fill recorded, to resume a trade fetch.
func (b *Book) Cursor() exchange.Cursor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.cursor
}

// LastReport returns the last reconciliation report, or nil.
func (b *Book) LastReport() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *Book) setLastReport(r *Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = r
}

// view returns a copy of the book state.
func (b *Book) view() *state {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.clone()
}

// Archive moves the lots closed for longer than the retention window out of
// the working set and returns them.
func (b *Book) Archive(now time.Time) []Lot {
	b.mu.Lock()
	defer b.mu.Unlock()
	archived := b.st.lots.archive(now.Add(-b.cfg.Retention))
	b.st.archived = append(b.st.archived, archived...)
	if len(archived) > 0 {
		log().Info("lots archived", zap.String("pair", b.cfg.Pair), zap.Int("count", len(archived)))
	}
	return archived
}

// AddEstimatedLot adds an operator supplied lot for a quantity whose buy is
// not in the exchange history. Profits made against it are ESTIMATED.
func (b *Book) AddEstimatedLot(lotID string, price Money, amount Quantity, at time.Time, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := NewBuy(lotID, price, amount, Money{}, at)
	if err := f.Validate(); err != nil {
		return err
	}
	if err := b.checkCurrency(f.Fill); err != nil {
		return err
	}
	work := b.st.clone()
	if err := work.lots.insert(Lot{ID: lotID, Price: price, Amount: amount, Remaining: amount, Timestamp: at, Estimated: true}); err != nil {
		return fmt.Errorf("%s: %w", b.cfg.Pair, err)
	}
	note := AuditNote{Field: "lot", After: fmt.Sprintf("%s @ %s", amount, price), Reason: reason}
	if err := work.lots.audit(lotID, note, func(*Lot) error { return nil }); err != nil {
		return err
	}
	b.st = work
	b.logNotes(lotID)
	b.observe()
	return nil
}

// MergeDuplicate closes the lot drop, a duplicate of keep sharing the same base
// id, and records the operation in the audit trail of both lots.
func (b *Book) MergeDuplicate(keep, drop, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	work := b.st.clone()
	if err := (MergeDuplicate{Keep: keep, Drop: drop, Reason: reason}).apply(b, work, ""); err != nil {
		return fmt.Errorf("%s: %w", b.cfg.Pair, err)
	}
	b.st = work
	b.logNotes(keep)
	b.logNotes(drop)
	b.observe()
	return nil
}

// Resolve records an operator match of a flagged sell against a lot.
//
// The resolution entry is ESTIMATED and the consumption is noted in the lot
// audit trail.
func (b *Book) Resolve(sellID, lotID string, amount Quantity, reason string) (LedgerEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sell, ok := b.st.ledger.Sell(sellID)
	if !ok {
		return LedgerEntry{}, fmt.Errorf("%s: %w: %q", b.cfg.Pair, ErrSellNotFound, sellID)
	}
	outstanding, _ := b.st.ledger.Outstanding(sellID)
	if !outstanding.IsPositive() {
		return LedgerEntry{}, fmt.Errorf("%s: %w", b.cfg.Pair, &DuplicateSellError{SellID: sellID})
	}
	if amount.IsZero() {
		amount = outstanding
	}
	work := b.st.clone()
	lot, err := work.lots.Find(lotID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if amount.GreaterThan(lot.Remaining) {
		return LedgerEntry{}, &InsufficientRemainingError{LotID: lotID, Requested: amount, Remaining: lot.Remaining}
	}
	now := b.now()
	e := LedgerEntry{
		Kind:       ResolutionEntry,
		SellID:     sellID,
		Timestamp:  now,
		SellPrice:  sell.SellPrice,
		SellAmount: sell.SellAmount,
		SellFee:    sell.SellFee,
		Matches:    []MatchRecord{newMatchRecord(sell.Fill().Fill, lot, amount, Estimated)},
		Policy:     Estimated,
		Note:       reason,
	}
	if err := commit(work, e, now); err != nil {
		return LedgerEntry{}, fmt.Errorf("%s: resolve %q: %w", b.cfg.Pair, sellID, err)
	}
	note := AuditNote{
		Field:  "remaining",
		Before: lot.Remaining.String(),
		After:  lot.Remaining.Sub(amount).String(),
		Reason: fmt.Sprintf("manual match of sell %s: %s", sellID, reason),
	}
	if err := work.lots.audit(lotID, note, func(*Lot) error { return nil }); err != nil {
		return LedgerEntry{}, err
	}
	b.st = work
	b.logNotes(lotID)
	b.observe()
	entries := work.ledger.Entries()
	return entries[len(entries)-1], nil
}

// Apply commits the corrections of a reconciliation report.
//
// Every correction re-checks its preconditions against the current state.
// Corrections are applied all or none: if one of them no longer applies,
// the book is unchanged and the error wraps ErrStaleReport.
// On success the profit checkpoint moves to the current ledger total, unless
// the report found a profit drift.
func (b *Book) Apply(r *Report) error {
	if r.Pair != b.cfg.Pair {
		return fmt.Errorf("%w: report %s is for %s, not %s", ErrUnknownPair, r.ID, r.Pair, b.cfg.Pair)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	work := b.st.clone()
	for _, c := range r.Corrections {
		if err := c.apply(b, work, r.ID); err != nil {
			return fmt.Errorf("%s: %w: %s: %w", b.cfg.Pair, ErrStaleReport, c, err)
		}
	}
	now := b.now()
	if !r.Has(ProfitDrift) {
		work.checkpoint = Checkpoint{Entries: work.ledger.Len(), TotalProfit: work.ledger.TotalProfit(), At: now}
	}
	b.st = work
	r.Applied = now
	b.last = r
	for _, c := range r.Corrections {
		metrics.CorrectionsAppliedTotal.WithLabelValues(b.cfg.Pair, c.Kind()).Inc()
	}
	for _, l := range work.lots.lots {
		for _, n := range l.Notes {
			if n.Report == r.ID {
				logNote(b.cfg.Pair, l.ID, n)
			}
		}
	}
	log().Info("reconciliation applied",
		zap.String("pair", b.cfg.Pair),
		zap.String("report", r.ID),
		zap.Int("corrections", len(r.Corrections)),
	)
	b.observe()
	return nil
}

// logNotes logs the last audit note of a lot. b.mu must be held.
func (b *Book) logNotes(lotID string) {
	if l, ok := b.st.lots.index[lotID]; ok && len(l.Notes) > 0 {
		logNote(b.cfg.Pair, lotID, l.Notes[len(l.Notes)-1])
	}
}

// observe publishes the book gauges. b.mu must be held.
func (b *Book) observe() {
	metrics.ObserveBook(b.cfg.Pair,
		len(b.st.lots.Open()),
		b.st.lots.TotalRemaining().InexactFloat64(),
		b.st.ledger.TotalProfit().Decimal().InexactFloat64(),
	)
}
