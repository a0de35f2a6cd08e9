package exchange

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Memory is an in-memory exchange account. It implements TradeSource and
// BalanceSource and is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	trades   map[string][]Trade // by pair, sorted
	balances map[string]Balance // by asset
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		trades:   make(map[string][]Trade),
		balances: make(map[string]Balance),
	}
}

// AddTrades appends trades to the history of their pair.
func (m *Memory) AddTrades(trades ...Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range trades {
		m.trades[t.Pair] = append(m.trades[t.Pair], t)
	}
	for pair := range m.trades {
		SortTrades(m.trades[pair])
	}
}

// SetBalance sets the total balance of an asset, entirely free.
func (m *Memory) SetBalance(asset string, total decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[strings.ToUpper(asset)] = Balance{Asset: asset, Free: total, Total: total}
}

// FetchTrades implements TradeSource.
func (m *Memory) FetchTrades(ctx context.Context, pair string, cursor Cursor) ([]Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(cursor.Apply(m.trades[pair])), nil
}

// FetchBalance implements BalanceSource. Unknown assets have a zero balance.
func (m *Memory) FetchBalance(ctx context.Context, asset string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	if asset == "" {
		return Balance{}, fmt.Errorf("asset is missing")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[strings.ToUpper(asset)]
	if !ok {
		return Balance{Asset: asset}, nil
	}
	return b, nil
}
