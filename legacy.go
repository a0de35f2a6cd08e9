package gridledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/gridledger/exchange"
	"github.com/shopspring/decimal"
)

// LegacyState is what can be trusted from a state file of the former bot:
// its lots, and the profit it claimed.
type LegacyState struct {
	Lots        []Lot
	TotalProfit Money // TotalProfit is the total the file recorded, never trusted.
}

// legacyLists are the places lots were stored in over time.
var legacyLists = []string{"$.inventory", "$.inventoryLots"}

// DecodeLegacyState reads the lots of a former bot state file.
//
// Lot ids are kept verbatim, including synthetic ones: a reconciliation
// renames them after the exchange trade they stand for. Amounts are taken from "original" when
// present, and prices are in the pair quote currency.
func DecodeLegacyState(r io.Reader, cfg PairConfig) (LegacyState, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var jobj any
	if err := dec.Decode(&jobj); err != nil {
		return LegacyState{}, fmt.Errorf("could not decode legacy state: %w", err)
	}

	var state LegacyState
	if total, err := exchange.Number(jobj, "$.totalProfit"); err == nil {
		state.TotalProfit = M(total, cfg.Quote)
	}
	var errs []error
	seen := make(map[string]bool)
	for _, path := range legacyLists {
		jval, err := jsonpath.Get(path, jobj)
		if err != nil {
			continue // missing list
		}
		items, ok := jval.([]any)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: not a list", path))
			continue
		}
		inList := make(map[string]bool)
		for i, item := range items {
			l, err := decodeLegacyLot(item, cfg)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", path, i, err))
				continue
			}
			if inList[l.ID] {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", path, i, &DuplicateIDError{ID: l.ID}))
				continue
			}
			inList[l.ID] = true
			if seen[l.ID] {
				continue // same lot in both lists
			}
			seen[l.ID] = true
			state.Lots = append(state.Lots, l)
		}
	}
	return state, errors.Join(errs...)
}

func decodeLegacyLot(item any, cfg PairConfig) (Lot, error) {
	var l Lot
	var err error
	if l.ID, err = exchange.Text(item, "$.id"); err != nil {
		return l, err
	}
	price, err := exchange.Number(item, "$.price")
	if err != nil {
		return l, err
	}
	amount, err := exchange.Number(item, "$.original")
	if err != nil {
		if amount, err = exchange.Number(item, "$.amount"); err != nil {
			return l, err
		}
	}
	remaining, err := exchange.Number(item, "$.remaining")
	if err != nil {
		remaining = amount
	}
	fee, err := exchange.Number(item, "$.fee")
	if err != nil {
		fee = decimal.Zero
	}
	if l.Timestamp, err = exchange.Timestamp(item, "$.timestamp"); err != nil {
		return l, err
	}
	l.Price, l.Amount, l.Remaining, l.Fee = M(price, cfg.Quote), Q(amount), Q(remaining), M(fee, cfg.Quote)
	if !l.Price.IsPositive() || !l.Amount.IsPositive() {
		return l, fmt.Errorf("lot %q: price and amount must be positive", l.ID)
	}
	if l.Remaining.IsNegative() || l.Remaining.GreaterThan(l.Amount) {
		return l, fmt.Errorf("lot %q: remaining %s out of [0, %s]", l.ID, l.Remaining, l.Amount)
	}
	return l, nil
}

// ImportLegacy creates a book with the lots of a legacy state. Lots are
// unverified until a reconciliation checks them, and the ones with a
// synthetic id keep it until the reconciliation corrects it.
func ImportLegacy(cfg PairConfig, legacy LegacyState) (*Book, error) {
	b, err := NewBook(cfg)
	if err != nil {
		return nil, err
	}
	for _, l := range legacy.Lots {
		l.Verified, l.Revision = false, 0
		if l.IsClosed() {
			l.ClosedAt = l.Timestamp
		}
		if err := b.st.lots.insert(l); err != nil {
			return nil, fmt.Errorf("import %s: %w", cfg.Pair, err)
		}
	}
	return b, nil
}
