package gridledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPairConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PairConfig
		wantErr bool
	}{
		{"defaults", PairConfig{Pair: "BTC/USDT", GridSpacing: decimal.RequireFromString("0.005")}, false},
		{"no pair", PairConfig{GridSpacing: decimal.RequireFromString("0.005")}, true},
		{"no quote", PairConfig{Pair: "BTCUSDT", GridSpacing: decimal.RequireFromString("0.005")}, true},
		{"no spacing", PairConfig{Pair: "BTC/USDT"}, true},
		{"wide tolerance", PairConfig{Pair: "BTC/USDT", GridSpacing: decimal.RequireFromString("0.005"), Tolerance: decimal.NewFromInt(1)}, true},
		{"bad policy", PairConfig{Pair: "BTC/USDT", GridSpacing: decimal.RequireFromString("0.005"), Policy: Estimated}, true},
		{"bad rate", PairConfig{Pair: "BTC/USDT", GridSpacing: decimal.RequireFromString("0.005"), FeeRates: map[string]decimal.Decimal{"BNB": decimal.Zero}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPairConfig_Defaults(t *testing.T) {
	cfg := PairConfig{Pair: "ETH/USDT", GridSpacing: decimal.RequireFromString("0.01")}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Base != "ETH" || cfg.Quote != "USDT" {
		t.Errorf("Base, Quote = %q, %q, want ETH, USDT", cfg.Base, cfg.Quote)
	}
	if want := decimal.RequireFromString("0.015"); !cfg.Tolerance.Equal(want) {
		t.Errorf("Tolerance = %s, want %s", cfg.Tolerance, want)
	}
	if cfg.Policy != SpreadMatch {
		t.Errorf("Policy = %s, want %s", cfg.Policy, SpreadMatch)
	}
	if !cfg.Epsilon.Equal(DefaultEpsilon) {
		t.Errorf("Epsilon = %s, want %s", cfg.Epsilon, DefaultEpsilon)
	}
}
