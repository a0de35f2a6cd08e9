package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/etnz/gridledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
store:
  db_path: books.db
exchange:
  trades_file: trades.json
  balances:
    btc: "0.0123"
pairs:
  - pair: BTC/USDT
    grid_spacing: "0.005"
    fee_rates:
      bnb: "600"
    lookback: 720h
  - pair: eth/usdt
    grid_spacing: "0.01"
    tolerance: "0.02"
    policy: fifo
    fifo_fallback: true
    epsilon: "0.000001"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromFile(writeFile(t, "gridledger.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, "books.db", cfg.Store.DBPath)

	pairs, err := cfg.PairConfigs()
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	btc := pairs[0]
	assert.Equal(t, "BTC", btc.Base)
	assert.Equal(t, "USDT", btc.Quote)
	assert.True(t, btc.Tolerance.Equal(decimal.RequireFromString("0.0075")), "tolerance %s", btc.Tolerance)
	assert.Equal(t, gridledger.SpreadMatch, btc.Policy)
	assert.True(t, btc.FeeRates["BNB"].Equal(decimal.NewFromInt(600)))
	assert.Equal(t, 720*time.Hour, btc.Lookback)

	eth := pairs[1]
	assert.Equal(t, "ETH/USDT", eth.Pair)
	assert.Equal(t, gridledger.FIFO, eth.Policy)
	assert.True(t, eth.FIFOFallback)
	assert.True(t, eth.Epsilon.Equal(gridledger.Q(0.000001)))

	balances, err := cfg.Balances()
	require.NoError(t, err)
	assert.True(t, balances["BTC"].Equal(decimal.RequireFromString("0.0123")))
}

func TestLoadFromFile_JSON(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromFile(writeFile(t, "gridledger.json", `{"pairs": [{"pair": "BTC/USDT", "grid_spacing": "0.005"}]}`))
	require.NoError(t, err)
	btc, err := cfg.Pair("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", btc.Pair)

	_, err = cfg.Pair("ETH/USDT")
	assert.ErrorIs(t, err, gridledger.ErrUnknownPair)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no pairs", Config{}},
		{"bad spacing", Config{Pairs: []PairConfig{{Pair: "BTC/USDT", GridSpacing: "half"}}}},
		{"bad policy", Config{Pairs: []PairConfig{{Pair: "BTC/USDT", GridSpacing: "0.005", Policy: "lifo"}}}},
		{"twice", Config{Pairs: []PairConfig{{Pair: "BTC/USDT", GridSpacing: "0.005"}, {Pair: "btc/usdt", GridSpacing: "0.01"}}}},
		{"bad balance", Config{Pairs: []PairConfig{{Pair: "BTC/USDT", GridSpacing: "0.005"}}, Exchange: ExchangeConfig{Balances: map[string]string{"BTC": "lots"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestSaveToFile(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		path := filepath.Join(t.TempDir(), name)
		cfg := Default()
		cfg.Pairs[0].Retention = 48 * time.Hour
		require.NoError(t, cfg.SaveToFile(path))

		loaded, err := LoadFromFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}
