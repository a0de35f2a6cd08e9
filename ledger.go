package gridledger

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"
)

// EntryKind tells the variant of a LedgerEntry.
type EntryKind int

const (
	// SellEntry is recorded once per sell event.
	SellEntry EntryKind = iota
	// ResolutionEntry covers the unmatched part of an earlier sell entry.
	ResolutionEntry
)

func (k EntryKind) String() string {
	switch k {
	case SellEntry:
		return "sell"
	case ResolutionEntry:
		return "resolution"
	default:
		return "unknown"
	}
}

func (k EntryKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *EntryKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "sell", "":
		*k = SellEntry
	case "resolution":
		*k = ResolutionEntry
	default:
		return fmt.Errorf("unknown ledger entry kind: %q", s)
	}
	return nil
}

// LedgerEntry is the outcome of a sell: the lots it consumed and the profit made.
type LedgerEntry struct {
	Kind       EntryKind
	SellID     string
	Timestamp  time.Time
	SellPrice  Money
	SellAmount Quantity
	SellFee    Money

	Matches     []MatchRecord
	TotalProfit Money // TotalProfit is the sum of the matches net profit.
	Policy      MatchPolicy
	// Unmatched is the part of the sell no lot covered. For a resolution, it
	// is what is still uncovered after it.
	Unmatched Quantity
	Note      string
}

// Flagged returns true when part of the sell was not matched.
func (e LedgerEntry) Flagged() bool { return e.Unmatched.IsPositive() }

// Matched returns the quantity covered by the entry matches.
func (e LedgerEntry) Matched() Quantity {
	var q Quantity
	for _, m := range e.Matches {
		q = q.Add(m.AmountConsumed)
	}
	return q
}

// Err returns an *UnmatchedSellError for flagged entries, nil otherwise.
func (e LedgerEntry) Err() error {
	if !e.Flagged() {
		return nil
	}
	return &UnmatchedSellError{SellID: e.SellID, Amount: e.SellAmount, Unmatched: e.Unmatched}
}

// Fill returns the sell event the entry was made of.
func (e LedgerEntry) Fill() SellEvent {
	return NewSell(e.SellID, e.SellPrice, e.SellAmount, e.SellFee, e.Timestamp)
}

func (e LedgerEntry) clone() LedgerEntry {
	e.Matches = slices.Clone(e.Matches)
	return e
}

// MarshalJSON implements the json.Marshaler interface for LedgerEntry.
func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("kind", e.Kind)
	w.Append("sellId", e.SellID)
	w.Append("timestamp", e.Timestamp)
	w.Append("sellPrice", e.SellPrice)
	w.Append("sellAmount", e.SellAmount)
	w.Optional("sellFee", e.SellFee)
	w.Append("policy", e.Policy)
	w.Append("matches", e.Matches)
	w.Append("totalProfit", e.TotalProfit)
	if e.Flagged() {
		w.Append("unmatched", e.Unmatched)
	}
	w.Optional("note", e.Note)
	return w.MarshalJSON()
}

// UnmarshalJSON implements the json.Unmarshaler interface for LedgerEntry.
func (e *LedgerEntry) UnmarshalJSON(data []byte) error {
	var temp struct {
		Kind        EntryKind     `json:"kind"`
		SellID      string        `json:"sellId"`
		Timestamp   time.Time     `json:"timestamp"`
		SellPrice   Money         `json:"sellPrice"`
		SellAmount  Quantity      `json:"sellAmount"`
		SellFee     Money         `json:"sellFee"`
		Matches     []MatchRecord `json:"matches"`
		TotalProfit Money         `json:"totalProfit"`
		Policy      MatchPolicy   `json:"policy"`
		Unmatched   Quantity      `json:"unmatched"`
		Note        string        `json:"note"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	*e = LedgerEntry(temp)
	return nil
}

// Ledger is the append-only journal of the sells of a pair.
//
// Ledger is not safe for concurrent use, the Book serializes accesses.
type Ledger struct {
	entries []LedgerEntry
	sells   map[string]int      // index of the sell entry
	open    map[string]Quantity // outstanding unmatched quantity per sell
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{sells: make(map[string]int), open: make(map[string]Quantity)}
}

// Record appends an entry to the ledger.
//
// A sell id can be recorded once as a sell entry, otherwise a
// *DuplicateSellError is returned. Resolution entries must reference a sell
// that is still flagged and cannot cover more than what is outstanding.
// The entry TotalProfit is always recomputed from its matches.
func (l *Ledger) Record(e LedgerEntry) error {
	unmatched, err := l.check(e)
	if err != nil {
		return err
	}
	e = e.clone()
	e.Unmatched = unmatched
	e.TotalProfit = sumProfit(e.Matches, e.SellPrice.Currency())
	if e.Kind == SellEntry {
		l.sells[e.SellID] = len(l.entries)
	}
	if unmatched.IsPositive() {
		l.open[e.SellID] = unmatched
	} else {
		delete(l.open, e.SellID)
	}
	l.entries = append(l.entries, e)
	return nil
}

// check validates an entry against the ledger and returns the quantity of
// the sell left unmatched once it is recorded.
func (l *Ledger) check(e LedgerEntry) (Quantity, error) {
	if e.SellID == "" {
		return Quantity{}, fmt.Errorf("ledger entry without sell id")
	}
	matched := e.Matched()
	for _, m := range e.Matches {
		if m.SellID != e.SellID {
			return Quantity{}, fmt.Errorf("sell %q: match references sell %q", e.SellID, m.SellID)
		}
		if !m.AmountConsumed.IsPositive() {
			return Quantity{}, fmt.Errorf("sell %q: match on lot %q consumes %s", e.SellID, m.LotID, m.AmountConsumed)
		}
	}
	switch e.Kind {
	case SellEntry:
		if _, exists := l.sells[e.SellID]; exists {
			return Quantity{}, &DuplicateSellError{SellID: e.SellID}
		}
		if e.Unmatched.IsNegative() || matched.Add(e.Unmatched).GreaterThan(e.SellAmount) {
			return Quantity{}, fmt.Errorf("sell %q: matched %s and unmatched %s exceed amount %s", e.SellID, matched, e.Unmatched, e.SellAmount)
		}
		return e.Unmatched, nil
	case ResolutionEntry:
		if _, exists := l.sells[e.SellID]; !exists {
			return Quantity{}, fmt.Errorf("%w: %q", ErrSellNotFound, e.SellID)
		}
		outstanding := l.open[e.SellID]
		if !outstanding.IsPositive() {
			return Quantity{}, &DuplicateSellError{SellID: e.SellID}
		}
		if matched.GreaterThan(outstanding) {
			return Quantity{}, fmt.Errorf("sell %q: resolution covers %s but only %s is outstanding", e.SellID, matched, outstanding)
		}
		return outstanding.Sub(matched), nil
	default:
		return Quantity{}, fmt.Errorf("sell %q: unknown entry kind %d", e.SellID, e.Kind)
	}
}

// TotalProfit returns the sum of the profit of every entry.
func (l *Ledger) TotalProfit() Money { return l.ProfitOf(len(l.entries)) }

// ProfitOf returns the sum of the profit of the first n entries.
func (l *Ledger) ProfitOf(n int) Money {
	var total Money
	for _, e := range l.entries[:min(n, len(l.entries))] {
		total = total.Add(e.TotalProfit)
	}
	return total
}

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Entries returns a copy of all the entries in record order.
func (l *Ledger) Entries() []LedgerEntry {
	entries := make([]LedgerEntry, len(l.entries))
	for i, e := range l.entries {
		entries[i] = e.clone()
	}
	return entries
}

// EntriesSince yields, in record order, the entries whose timestamp is not
// before since.
func (l *Ledger) EntriesSince(since time.Time) iter.Seq[LedgerEntry] {
	return func(yield func(LedgerEntry) bool) {
		for _, e := range l.entries {
			if e.Timestamp.Before(since) {
				continue
			}
			if !yield(e.clone()) {
				return
			}
		}
	}
}

// Flagged yields the sell entries that still have an outstanding unmatched quantity.
func (l *Ledger) Flagged() iter.Seq[LedgerEntry] {
	return func(yield func(LedgerEntry) bool) {
		for _, e := range l.entries {
			if e.Kind != SellEntry {
				continue
			}
			if _, ok := l.open[e.SellID]; !ok {
				continue
			}
			if !yield(e.clone()) {
				return
			}
		}
	}
}

// Sell returns the sell entry of a sell id.
func (l *Ledger) Sell(sellID string) (LedgerEntry, bool) {
	i, ok := l.sells[sellID]
	if !ok {
		return LedgerEntry{}, false
	}
	return l.entries[i].clone(), true
}

// HasSell reports whether the sell was recorded.
func (l *Ledger) HasSell(sellID string) bool {
	_, ok := l.sells[sellID]
	return ok
}

// Outstanding returns the quantity of a sell not matched to any lot yet.
func (l *Ledger) Outstanding(sellID string) (Quantity, error) {
	if !l.HasSell(sellID) {
		return Quantity{}, fmt.Errorf("%w: %q", ErrSellNotFound, sellID)
	}
	return l.open[sellID], nil
}

// Consumed returns the quantity of a lot consumed by all the entries.
func (l *Ledger) Consumed(lotID string) Quantity {
	var q Quantity
	for _, e := range l.entries {
		for _, m := range e.Matches {
			if m.LotID == lotID {
				q = q.Add(m.AmountConsumed)
			}
		}
	}
	return q
}

func (l *Ledger) clone() *Ledger {
	c := &Ledger{
		entries: make([]LedgerEntry, len(l.entries)),
		sells:   make(map[string]int, len(l.sells)),
		open:    make(map[string]Quantity, len(l.open)),
	}
	for i, e := range l.entries {
		c.entries[i] = e.clone()
	}
	maps.Copy(c.sells, l.sells)
	maps.Copy(c.open, l.open)
	return c
}
