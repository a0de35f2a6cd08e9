package gridledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultEpsilon is the tolerance used to compare the lots with the exchange balance.
var DefaultEpsilon = Q(decimal.New(1, -8))

// PairConfig holds the accounting parameters of one trading pair.
type PairConfig struct {
	Pair  string // Pair is the exchange symbol, e.g. "BTC/USDT".
	Base  string // Base is the asset held in lots, e.g. "BTC".
	Quote string // Quote is the currency of prices, fees and profits, e.g. "USDT".

	// GridSpacing is the grid step as a fraction (0.005 for 0.5%).
	GridSpacing decimal.Decimal
	// Tolerance is the half width of the spread-match band as a fraction of the
	// expected buy price. It is one constant per pair.
	Tolerance decimal.Decimal
	// Policy is the primary matching policy, SpreadMatch or FIFO.
	Policy MatchPolicy
	// FIFOFallback covers the remainder of a sell oldest-first when the
	// spread-match runs out of candidates.
	FIFOFallback bool

	// FeeRates converts fees paid in other currencies into the quote currency,
	// e.g. {"BNB": 700}. Fees in the base asset use the trade price.
	FeeRates map[string]decimal.Decimal

	// Lookback is how far back the exchange trade history is available.
	Lookback time.Duration
	// Retention is how long closed lots stay in the working set.
	Retention time.Duration
	// Epsilon is the quantity tolerance for balance comparison.
	Epsilon Quantity
}

// DefaultToleranceFactor is the tolerance applied when none is configured, as a
// multiple of the grid spacing.
var DefaultToleranceFactor = decimal.RequireFromString("1.5")

// NewPairConfig creates a config for a "BASE/QUOTE" pair with defaults: spread
// match, tolerance of 1.5 grid spacing, 30 days lookback, 90 days retention.
func NewPairConfig(pair string, gridSpacing decimal.Decimal) PairConfig {
	base, quote, _ := strings.Cut(pair, "/")
	return PairConfig{
		Pair:        pair,
		Base:        base,
		Quote:       quote,
		GridSpacing: gridSpacing,
		Tolerance:   gridSpacing.Mul(DefaultToleranceFactor),
		Policy:      SpreadMatch,
		Lookback:    30 * 24 * time.Hour,
		Retention:   90 * 24 * time.Hour,
		Epsilon:     DefaultEpsilon,
	}
}

// Validate checks the config and fills the defaults.
func (c *PairConfig) Validate() error {
	var errs error
	if c.Pair == "" {
		errs = errors.Join(errs, errors.New("pair is missing"))
	}
	if c.Base == "" || c.Quote == "" {
		base, quote, ok := strings.Cut(c.Pair, "/")
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("pair %q: base and quote are missing", c.Pair))
		}
		if c.Base == "" {
			c.Base = base
		}
		if c.Quote == "" {
			c.Quote = quote
		}
	}
	if !c.GridSpacing.IsPositive() {
		errs = errors.Join(errs, fmt.Errorf("pair %q: grid spacing must be positive, got %s", c.Pair, c.GridSpacing))
	}
	if c.Tolerance.IsZero() {
		c.Tolerance = c.GridSpacing.Mul(DefaultToleranceFactor)
	}
	if c.Tolerance.IsNegative() || c.Tolerance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = errors.Join(errs, fmt.Errorf("pair %q: tolerance must be in [0, 1), got %s", c.Pair, c.Tolerance))
	}
	switch c.Policy {
	case Unmatched: // unset
		c.Policy = SpreadMatch
	case SpreadMatch, FIFO:
	default:
		errs = errors.Join(errs, fmt.Errorf("pair %q: %s is not a matching policy", c.Pair, c.Policy))
	}
	for cur, rate := range c.FeeRates {
		if !rate.IsPositive() {
			errs = errors.Join(errs, fmt.Errorf("pair %q: fee rate for %s must be positive", c.Pair, cur))
		}
	}
	if c.Epsilon.IsZero() {
		c.Epsilon = DefaultEpsilon
	}
	if c.Lookback < 0 || c.Retention < 0 {
		errs = errors.Join(errs, fmt.Errorf("pair %q: lookback and retention must not be negative", c.Pair))
	}
	return errs
}
