package gridledger

import (
	"errors"
	"strings"
	"testing"
)

const legacyState = `{
  "totalProfit": 1234.5,
  "inventory": [
    {"id": "1001", "price": 50000, "amount": 0.01, "remaining": 0.004, "fee": 0.5, "timestamp": 1740787200000},
    {"id": "REC_1002", "price": 49750, "original": 0.02, "amount": 0.01, "timestamp": "2025-03-01T01:00:00Z"}
  ],
  "inventoryLots": [
    {"id": "1001", "price": 50000, "amount": 0.01, "remaining": 0.004, "timestamp": 1740787200000},
    {"id": "1003", "price": 49500, "amount": 0.01, "remaining": 0, "timestamp": 1740794400000}
  ]
}`

func TestDecodeLegacyState(t *testing.T) {
	state, err := DecodeLegacyState(strings.NewReader(legacyState), btcConfig())
	if err != nil {
		t.Fatalf("DecodeLegacyState() error = %v", err)
	}
	if got, want := state.TotalProfit, USDT(1234.5); !got.Equal(want) {
		t.Errorf("TotalProfit = %s, want %s", got, want)
	}
	var ids []string
	for _, l := range state.Lots {
		ids = append(ids, l.ID)
	}
	if got, want := strings.Join(ids, ","), "1001,REC_1002,1003"; got != want {
		t.Fatalf("lots = %s, want %s", got, want)
	}

	tests := []struct {
		lot       Lot
		amount    Quantity
		remaining Quantity
		fee       Money
	}{
		{state.Lots[0], Q(0.01), Q(0.004), USDT(0.5)},
		{state.Lots[1], Q(0.02), Q(0.02), USDT(0)},
		{state.Lots[2], Q(0.01), Q(0), USDT(0)},
	}
	for _, tt := range tests {
		t.Run(tt.lot.ID, func(t *testing.T) {
			if !tt.lot.Amount.Equal(tt.amount) {
				t.Errorf("Amount = %s, want %s", tt.lot.Amount, tt.amount)
			}
			if !tt.lot.Remaining.Equal(tt.remaining) {
				t.Errorf("Remaining = %s, want %s", tt.lot.Remaining, tt.remaining)
			}
			if !tt.lot.Fee.Equal(tt.fee) {
				t.Errorf("Fee = %s, want %s", tt.lot.Fee, tt.fee)
			}
		})
	}
}

func TestDecodeLegacyState_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"duplicate", `{"inventory": [{"id": "1", "price": 1, "amount": 1, "timestamp": 1}, {"id": "1", "price": 1, "amount": 1, "timestamp": 1}]}`, ErrDuplicateID},
		{"over consumed", `{"inventory": [{"id": "1", "price": 1, "amount": 1, "remaining": 2, "timestamp": 1}]}`, nil},
		{"no price", `{"inventory": [{"id": "1", "amount": 1, "timestamp": 1}]}`, nil},
		{"not a list", `{"inventory": {"id": "1"}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLegacyState(strings.NewReader(tt.input), btcConfig())
			if err == nil {
				t.Fatal("DecodeLegacyState() should fail")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("DecodeLegacyState() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestImportLegacy(t *testing.T) {
	state, err := DecodeLegacyState(strings.NewReader(legacyState), btcConfig())
	if err != nil {
		t.Fatalf("DecodeLegacyState() error = %v", err)
	}
	b, err := ImportLegacy(btcConfig(), state)
	if err != nil {
		t.Fatalf("ImportLegacy() error = %v", err)
	}
	if got, want := b.TotalRemaining(), Q(0.024); !got.Equal(want) {
		t.Errorf("TotalRemaining() = %s, want %s", got, want)
	}
	if !b.TotalProfit().IsZero() {
		t.Errorf("TotalProfit() = %s, the legacy total must not be trusted", b.TotalProfit())
	}
	for _, l := range b.Lots() {
		if l.Verified {
			t.Errorf("lot %s is verified before any reconciliation", l.ID)
		}
	}
	closed, err := b.FindLot("1003")
	if err != nil {
		t.Fatalf("FindLot(1003) error = %v", err)
	}
	if !closed.ClosedAt.Equal(closed.Timestamp) {
		t.Errorf("ClosedAt = %v, want %v", closed.ClosedAt, closed.Timestamp)
	}
}
