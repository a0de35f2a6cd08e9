package gridledger

import (
	"fmt"
	"time"

	"github.com/etnz/gridledger/exchange"
)

// Correction is a bounded change of a book proposed by a reconciliation.
//
// A correction holds the values it expects to find, and refuses to apply when
// the book changed in the meantime.
type Correction interface {
	// Kind is a short name of the correction.
	Kind() string
	String() string
	apply(b *Book, st *state, report string) error
}

// IngestFill records an exchange trade missing from the book.
type IngestFill struct {
	Side exchange.Side
	Fill Fill
}

func (c IngestFill) Kind() string { return "ingest" }

func (c IngestFill) String() string {
	return fmt.Sprintf("ingest %s %s %s @ %s", c.Side, c.Fill.ID, c.Fill.Amount, c.Fill.Price)
}

func (c IngestFill) apply(b *Book, st *state, report string) error {
	switch c.Side {
	case exchange.Buy:
		if st.knownBuy(c.Fill.ID) {
			return fmt.Errorf("buy %q already recorded", c.Fill.ID)
		}
		if _, err := b.buy(st, BuyFill{c.Fill}); err != nil {
			return err
		}
		// read from the exchange history.
		st.lots.index[c.Fill.ID].Verified = true
		return nil
	case exchange.Sell:
		if st.ledger.HasSell(c.Fill.ID) {
			return fmt.Errorf("sell %q already recorded", c.Fill.ID)
		}
		_, _, err := b.sell(st, SellEvent{c.Fill})
		return err
	default:
		return fmt.Errorf("unknown side %q", c.Side)
	}
}

// SetStatus changes the verification status of a lot.
type SetStatus struct {
	LotID        string
	FromVerified bool
	FromHistoric bool
	Verified     bool
	Historic     bool
}

func (c SetStatus) Kind() string { return "status" }

func (c SetStatus) String() string {
	return fmt.Sprintf("mark lot %s %s", c.LotID, status(Lot{Verified: c.Verified, Historic: c.Historic}))
}

func (c SetStatus) apply(b *Book, st *state, report string) error {
	note := AuditNote{
		Field:  "status",
		Before: status(Lot{Verified: c.FromVerified, Historic: c.FromHistoric}),
		After:  status(Lot{Verified: c.Verified, Historic: c.Historic}),
		Reason: "exchange history check",
		Report: report,
	}
	return st.lots.audit(c.LotID, note, func(l *Lot) error {
		if l.Verified != c.FromVerified || l.Historic != c.FromHistoric {
			return fmt.Errorf("lot %q status is %s, expected %s", l.ID, status(*l), note.Before)
		}
		l.Verified, l.Historic = c.Verified, c.Historic
		return nil
	})
}

// CorrectPrice sets the price of a lot no sell consumed yet to its exchange price.
type CorrectPrice struct {
	LotID string
	From  Money
	To    Money
}

func (c CorrectPrice) Kind() string { return "price" }

func (c CorrectPrice) String() string {
	return fmt.Sprintf("correct lot %s price %s -> %s", c.LotID, c.From, c.To)
}

func (c CorrectPrice) apply(b *Book, st *state, report string) error {
	note := AuditNote{Field: "price", Before: c.From.String(), After: c.To.String(), Reason: "exchange trade price", Report: report}
	return st.lots.audit(c.LotID, note, func(l *Lot) error {
		if !l.Price.Equal(c.From) {
			return fmt.Errorf("lot %q price is %s, expected %s", l.ID, l.Price, c.From)
		}
		if !l.Remaining.Equal(l.Amount) {
			return fmt.Errorf("lot %q was consumed, its price is part of the ledger", l.ID)
		}
		l.Price = c.To
		return nil
	})
}

// CorrectID gives back to a lot recorded under a synthetic id the id of the
// exchange trade it stands for.
type CorrectID struct {
	From string
	To   string
}

func (c CorrectID) Kind() string { return "id" }

func (c CorrectID) String() string {
	return fmt.Sprintf("correct lot %s id -> %s", c.From, c.To)
}

func (c CorrectID) apply(b *Book, st *state, report string) error {
	if err := ValidateTradeID(c.To); err != nil {
		return err
	}
	if BaseID(c.From) != c.To {
		return fmt.Errorf("lot %q does not stand for trade %q", c.From, c.To)
	}
	if st.lots.Has(c.To) || st.inArchive(c.To) {
		return &DuplicateIDError{ID: c.To, IDs: []string{c.From, c.To}}
	}
	note := AuditNote{Field: "id", Before: c.From, After: c.To, Reason: "exchange trade id", Report: report}
	return st.lots.rekey(c.From, c.To, note)
}

// AdjustRemaining sets the remaining quantity of one lot.
type AdjustRemaining struct {
	LotID string
	From  Quantity
	To    Quantity
}

func (c AdjustRemaining) Kind() string { return "adjust" }

func (c AdjustRemaining) String() string {
	return fmt.Sprintf("adjust lot %s remaining %s -> %s", c.LotID, c.From, c.To)
}

func (c AdjustRemaining) apply(b *Book, st *state, report string) error {
	note := AuditNote{Field: "remaining", Before: c.From.String(), After: c.To.String(), Reason: "exchange balance", Report: report}
	return st.lots.audit(c.LotID, note, func(l *Lot) error {
		if !l.Remaining.Equal(c.From) {
			return fmt.Errorf("lot %q remaining is %s, expected %s", l.ID, l.Remaining, c.From)
		}
		if c.To.IsNegative() || c.To.GreaterThan(l.Amount) {
			return fmt.Errorf("lot %q remaining %s out of [0, %s]", l.ID, c.To, l.Amount)
		}
		l.Remaining = c.To
		if l.IsClosed() {
			l.ClosedAt = b.now()
		} else {
			l.ClosedAt = time.Time{}
		}
		return nil
	})
}

// Rematch matches the outstanding part of a flagged sell against the open lots.
type Rematch struct {
	SellID      string
	Outstanding Quantity
}

func (c Rematch) Kind() string { return "rematch" }

func (c Rematch) String() string {
	return fmt.Sprintf("rematch %s of sell %s", c.Outstanding, c.SellID)
}

func (c Rematch) apply(b *Book, st *state, report string) error {
	sell, ok := st.ledger.Sell(c.SellID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSellNotFound, c.SellID)
	}
	outstanding, _ := st.ledger.Outstanding(c.SellID)
	if !outstanding.Equal(c.Outstanding) {
		return fmt.Errorf("sell %q outstanding is %s, expected %s", c.SellID, outstanding, c.Outstanding)
	}
	matches, _ := b.matcher.plan(st.lots.Open(), sell.Fill().Fill, outstanding)
	if len(matches) == 0 {
		return fmt.Errorf("sell %q: no lot available", c.SellID)
	}
	now := b.now()
	return commit(st, LedgerEntry{
		Kind:       ResolutionEntry,
		SellID:     c.SellID,
		Timestamp:  now,
		SellPrice:  sell.SellPrice,
		SellAmount: sell.SellAmount,
		SellFee:    sell.SellFee,
		Matches:    matches,
		Policy:     policyOf(matches),
		Note:       "rematched by report " + report,
	}, now)
}

// MergeDuplicate closes a lot duplicating another one. It is never proposed by
// a reconciliation, an operator decides which lot to keep.
type MergeDuplicate struct {
	Keep   string
	Drop   string
	Reason string
}

func (c MergeDuplicate) Kind() string { return "merge" }

func (c MergeDuplicate) String() string {
	return fmt.Sprintf("merge lot %s into %s", c.Drop, c.Keep)
}

func (c MergeDuplicate) apply(b *Book, st *state, report string) error {
	if c.Keep == c.Drop {
		return fmt.Errorf("cannot merge lot %q with itself", c.Keep)
	}
	if BaseID(c.Keep) != BaseID(c.Drop) {
		return fmt.Errorf("lots %q and %q do not share a trade id", c.Keep, c.Drop)
	}
	if !st.lots.Has(c.Keep) {
		return fmt.Errorf("%w: %q", ErrLotNotFound, c.Keep)
	}
	reason := c.Reason
	if reason == "" {
		reason = "duplicate lot"
	}
	drop, err := st.lots.Find(c.Drop)
	if err != nil {
		return err
	}
	if drop.IsClosed() {
		return fmt.Errorf("lot %q is already closed", c.Drop)
	}
	before := drop.Remaining.String()
	note := AuditNote{Field: "remaining", Before: before, After: "0", Reason: fmt.Sprintf("merged into %s: %s", c.Keep, reason), Report: report}
	err = st.lots.audit(c.Drop, note, func(l *Lot) error {
		l.Remaining = Q(0)
		l.ClosedAt = b.now()
		return nil
	})
	if err != nil {
		return err
	}
	return st.lots.audit(c.Keep, AuditNote{Field: "merged", Before: before, After: c.Drop, Reason: reason, Report: report}, func(*Lot) error { return nil })
}
