package gridledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/etnz/gridledger/exchange"
)

// Fill is an execution reported by the exchange.
type Fill struct {
	ID        string    // ID is the exchange trade id.
	Price     Money     // Price per unit of base asset.
	Amount    Quantity  // Amount of base asset.
	Fee       Money     // Fee already converted into the quote currency.
	Timestamp time.Time // Timestamp of the execution.
}

// BuyFill is a buy execution, it creates a lot.
type BuyFill struct{ Fill }

// SellEvent is a sell execution, it consumes lots.
type SellEvent struct{ Fill }

// NewBuy creates a BuyFill.
func NewBuy(id string, price Money, amount Quantity, fee Money, at time.Time) BuyFill {
	return BuyFill{Fill{ID: id, Price: price, Amount: amount, Fee: fee, Timestamp: at}}
}

// NewSell creates a SellEvent.
func NewSell(id string, price Money, amount Quantity, fee Money, at time.Time) SellEvent {
	return SellEvent{Fill{ID: id, Price: price, Amount: amount, Fee: fee, Timestamp: at}}
}

// Equal reports whether two fills describe the same execution.
func (f Fill) Equal(g Fill) bool {
	return f.ID == g.ID &&
		f.Price.Equal(g.Price) &&
		f.Amount.Equal(g.Amount) &&
		f.Fee.Equal(g.Fee) &&
		f.Timestamp.Equal(g.Timestamp)
}

// Validate checks the fill fields and its identity.
func (f Fill) Validate() error {
	var errs error
	if err := ValidateTradeID(f.ID); err != nil {
		errs = errors.Join(errs, err)
	}
	if !f.Price.IsPositive() {
		errs = errors.Join(errs, fmt.Errorf("price must be positive, got %s", f.Price))
	}
	if !f.Amount.IsPositive() {
		errs = errors.Join(errs, fmt.Errorf("amount must be positive, got %s", f.Amount))
	}
	if f.Fee.IsNegative() {
		errs = errors.Join(errs, fmt.Errorf("fee must not be negative, got %s", f.Fee))
	}
	if f.Timestamp.IsZero() {
		errs = errors.Join(errs, errors.New("timestamp is missing"))
	}
	if errs != nil {
		return fmt.Errorf("invalid fill %q: %w", f.ID, errs)
	}
	return nil
}

// Markers that tools used to encode a reconciliation state into a trade id.
var (
	syntheticPrefixes = []string{"REC_", "SYNC_", "RECONCILE_", "EST_", "MANUAL_"}
	syntheticSuffixes = []string{"_recon", "_rec", "_sync", "_dup"}
)

// ValidateTradeID checks that id looks like an exchange issued trade id.
func ValidateTradeID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("trade id is missing")
	}
	if BaseID(id) != id {
		return fmt.Errorf("%w: %q", ErrSyntheticID, id)
	}
	return nil
}

// BaseID strips the synthetic markers from id.
func BaseID(id string) string {
	for changed := true; changed; {
		changed = false
		for _, p := range syntheticPrefixes {
			if len(id) > len(p) && strings.EqualFold(id[:len(p)], p) {
				id, changed = id[len(p):], true
			}
		}
		for _, s := range syntheticSuffixes {
			if len(id) > len(s) && strings.EqualFold(id[len(id)-len(s):], s) {
				id, changed = id[:len(id)-len(s)], true
			}
		}
	}
	return id
}

// fillFromTrade converts an exchange trade into a fill of the pair.
func fillFromTrade(cfg PairConfig, t exchange.Trade) (Fill, error) {
	if err := t.Validate(); err != nil {
		return Fill{}, err
	}
	fee, err := t.QuoteFee(cfg.Base, cfg.Quote, cfg.FeeRates)
	if err != nil {
		return Fill{}, err
	}
	return Fill{
		ID:        t.ID,
		Price:     M(t.Price, cfg.Quote),
		Amount:    Q(t.Amount),
		Fee:       M(fee, cfg.Quote),
		Timestamp: t.Timestamp,
	}, nil
}
