package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// Paths locates trade fields in a JSON trade dump using jsonpath expressions.
// Trades selects the list of trade objects, the other paths are evaluated on
// each trade object.
type Paths struct {
	Trades      string
	ID          string
	Pair        string
	Side        string
	Price       string
	Amount      string
	Fee         string // optional
	FeeCurrency string // optional
	Timestamp   string // unix milliseconds or RFC 3339
}

// CCXT is the layout of a dump of ccxt fetchMyTrades results.
var CCXT = Paths{
	Trades:      "$[*]",
	ID:          "$.id",
	Pair:        "$.symbol",
	Side:        "$.side",
	Price:       "$.price",
	Amount:      "$.amount",
	Fee:         "$.fee.cost",
	FeeCurrency: "$.fee.currency",
	Timestamp:   "$.timestamp",
}

// File is a TradeSource reading a JSON trade dump.
type File struct {
	Path  string
	Paths Paths
}

// NewFile creates a File source for a ccxt dump.
func NewFile(path string) *File { return &File{Path: path, Paths: CCXT} }

// FetchTrades implements TradeSource. The file is read on every call.
func (f *File) FetchTrades(ctx context.Context, pair string, cursor Cursor) ([]Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	all, err := DecodeTrades(r, f.Paths)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decoding %q: %w", f.Path, err))
	}
	var trades []Trade
	for _, t := range all {
		if pair == "" || t.Pair == "" || t.Pair == pair {
			trades = append(trades, t)
		}
	}
	SortTrades(trades)
	return cursor.Apply(trades), nil
}

// DecodeTrades decodes a JSON trade dump.
func DecodeTrades(r io.Reader, p Paths) ([]Trade, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var jobj any
	if err := dec.Decode(&jobj); err != nil {
		return nil, err
	}
	jval, err := jsonpath.Get(p.Trades, jobj)
	if err != nil {
		return nil, fmt.Errorf("selecting trades with %q: %w", p.Trades, err)
	}
	jlist, ok := jval.([]any)
	if !ok {
		return nil, fmt.Errorf("selecting trades with %q: not a list", p.Trades)
	}

	trades := make([]Trade, 0, len(jlist))
	for i, item := range jlist {
		t, err := decodeTrade(item, p)
		if err != nil {
			return nil, fmt.Errorf("trade #%d: %w", i, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func decodeTrade(item any, p Paths) (t Trade, err error) {
	if t.ID, err = Text(item, p.ID); err != nil {
		return t, err
	}
	if t.Pair, err = Text(item, p.Pair); err != nil {
		return t, err
	}
	side, err := Text(item, p.Side)
	if err != nil {
		return t, err
	}
	t.Side = Side(strings.ToLower(side))
	if t.Price, err = Number(item, p.Price); err != nil {
		return t, err
	}
	if t.Amount, err = Number(item, p.Amount); err != nil {
		return t, err
	}
	// a trade without fee is legit.
	if fee, err := Number(item, p.Fee); err == nil {
		t.Fee = fee
	}
	if cur, err := Text(item, p.FeeCurrency); err == nil {
		t.FeeCurrency = cur
	}
	if t.Timestamp, err = Timestamp(item, p.Timestamp); err != nil {
		return t, err
	}
	return t, t.Validate()
}

// get evaluates path on jobj. jsonpath is never clear about whether it returns
// a list of 1 answer, or a single answer: the first one is kept.
func get(jobj any, path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("no path")
	}
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return nil, fmt.Errorf("%q: no value", path)
		}
		jval = jlist[0]
	}
	if jval == nil {
		return nil, fmt.Errorf("%q: null value", path)
	}
	return jval, nil
}

// Text returns the value at path as a string.
func Text(jobj any, path string) (string, error) {
	jval, err := get(jobj, path)
	if err != nil {
		return "", err
	}
	switch v := jval.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Number returns the value at path as a decimal. Numbers must be decoded
// with json.Decoder.UseNumber to keep every digit.
func Number(jobj any, path string) (decimal.Decimal, error) {
	jval, err := get(jobj, path)
	if err != nil {
		return decimal.Zero, err
	}
	switch v := jval.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("%q: not a number: %v", path, v)
	}
}

// Timestamp returns the value at path as a time: unix milliseconds or RFC 3339.
func Timestamp(jobj any, path string) (time.Time, error) {
	jval, err := get(jobj, path)
	if err != nil {
		return time.Time{}, err
	}
	switch v := jval.(type) {
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%q: %w", path, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, v)
	default:
		return time.Time{}, fmt.Errorf("%q: not a timestamp: %v", path, v)
	}
}

// Balances is a fixed set of balances, indexed by asset. It implements BalanceSource.
type Balances map[string]Balance

// FetchBalance implements BalanceSource. Unknown assets have a zero balance.
func (b Balances) FetchBalance(ctx context.Context, asset string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	if bal, ok := b[strings.ToUpper(asset)]; ok {
		return bal, nil
	}
	return Balance{Asset: asset}, nil
}
