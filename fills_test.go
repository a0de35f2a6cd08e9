package gridledger

import (
	"errors"
	"testing"
	"time"

	"github.com/etnz/gridledger/exchange"
	"github.com/shopspring/decimal"
)

func TestFill_Validate(t *testing.T) {
	tests := []struct {
		name    string
		fill    Fill
		wantErr bool
	}{
		{"valid", buy("1001", 50000, 0.01, 0).Fill, false},
		{"synthetic id", buy("SYNC_1001", 50000, 0.01, 0).Fill, true},
		{"no id", buy(" ", 50000, 0.01, 0).Fill, true},
		{"zero price", buy("1001", 0, 0.01, 0).Fill, true},
		{"negative amount", buy("1001", 50000, -0.01, 0).Fill, true},
		{"negative fee", NewBuy("1001", USDT(50000), Q(0.01), USDT(-1), at(0)).Fill, true},
		{"no timestamp", NewBuy("1001", USDT(50000), Q(0.01), USDT(0), time.Time{}).Fill, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fill.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTradeID(t *testing.T) {
	for _, id := range []string{"REC_1", "1_dup", "est_1", "MANUAL_1_sync"} {
		if err := ValidateTradeID(id); !errors.Is(err, ErrSyntheticID) {
			t.Errorf("ValidateTradeID(%q) error = %v, want %v", id, err, ErrSyntheticID)
		}
	}
	if err := ValidateTradeID("28457"); err != nil {
		t.Errorf("ValidateTradeID(28457) error = %v", err)
	}
}

func TestFillFromTrade(t *testing.T) {
	cfg := btcConfig()
	cfg.FeeRates = map[string]decimal.Decimal{"BNB": decimal.NewFromInt(600)}

	tests := []struct {
		name        string
		fee         string
		feeCurrency string
		want        Money
		wantErr     error
	}{
		{"quote", "0.5", "USDT", USDT(0.5), nil},
		{"default", "0.5", "", USDT(0.5), nil},
		{"base", "0.00001", "btc", USDT(0.5), nil},
		{"rate", "0.001", "BNB", USDT(0.6), nil},
		{"unknown", "0.001", "ETH", Money{}, exchange.ErrUnknownFeeCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := trade("1001", exchange.Buy, "50000", "0.01", 0)
			tr.Fee, tr.FeeCurrency = decimal.RequireFromString(tt.fee), tt.feeCurrency
			f, err := fillFromTrade(cfg, tr)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("fillFromTrade() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("fillFromTrade() error = %v", err)
			}
			if !f.Fee.Equal(tt.want) {
				t.Errorf("Fee = %s, want %s", f.Fee, tt.want)
			}
			if got := f.Price.Currency(); got != "USDT" {
				t.Errorf("Price currency = %q, want USDT", got)
			}
		})
	}
}
