package gridledger

import (
	"slices"
	"testing"

	"github.com/shopspring/decimal"
)

func lot(id string, price, amount float64, minutes int) Lot {
	return Lot{ID: id, Price: USDT(price), Amount: Q(amount), Remaining: Q(amount), Timestamp: at(minutes)}
}

func TestMatcher_Band(t *testing.T) {
	m := NewMatcher(btcConfig())
	e := m.ExpectedBuyPrice(USDT(50300))
	if got := e.StringFixed(2); got != "50049.75" {
		t.Errorf("ExpectedBuyPrice(50300) = %s, want 50049.75", got)
	}
	low, high := m.Band(USDT(50300))
	if got := low.StringFixed(1); got != "49674.4" {
		t.Errorf("Band(50300) low = %s, want 49674.4", got)
	}
	if got := high.StringFixed(1); got != "50425.1" {
		t.Errorf("Band(50300) high = %s, want 50425.1", got)
	}
	if b1 := USDT(50000); b1.LessThan(low) || b1.GreaterThan(high) {
		t.Errorf("50000 is outside [%s, %s]", low, high)
	}
}

func TestMatcher_Plan(t *testing.T) {
	type consumed struct {
		lot    string
		amount float64
	}
	estimated := lot("E1", 50000, 0.01, 1)
	estimated.Estimated = true

	testCases := []struct {
		name      string
		policy    MatchPolicy
		fallback  bool
		lots      []Lot
		sell      SellEvent
		want      []consumed
		unmatched float64
		policyOut MatchPolicy
	}{
		{
			name:      "closest to expected price wins",
			lots:      []Lot{lot("A", 49800, 0.01, 1), lot("B", 50000, 0.01, 2), lot("C", 50040, 0.01, 3)},
			sell:      sell("S1", 50300, 0.01, 10),
			want:      []consumed{{"C", 0.01}},
			policyOut: SpreadMatch,
		},
		{
			name:      "tie goes to the oldest lot",
			lots:      []Lot{lot("B", 50000, 0.01, 1), lot("A", 50000, 0.01, 2)},
			sell:      sell("S1", 50300, 0.01, 10),
			want:      []consumed{{"B", 0.01}},
			policyOut: SpreadMatch,
		},
		{
			name:      "tie at the same time goes to the smallest id",
			lots:      []Lot{lot("B", 50000, 0.01, 1), lot("A", 50000, 0.01, 1)},
			sell:      sell("S1", 50300, 0.01, 10),
			want:      []consumed{{"A", 0.01}},
			policyOut: SpreadMatch,
		},
		{
			name:      "spills over the next best lot",
			lots:      []Lot{lot("B", 50000, 0.01, 1), lot("C", 50040, 0.01, 2)},
			sell:      sell("S1", 50300, 0.015, 10),
			want:      []consumed{{"C", 0.01}, {"B", 0.005}},
			policyOut: SpreadMatch,
		},
		{
			name:      "no lot in band",
			lots:      []Lot{lot("A", 45000, 0.01, 1)},
			sell:      sell("S1", 50300, 0.01, 10),
			unmatched: 0.01,
			policyOut: Unmatched,
		},
		{
			name:      "no lot at all",
			sell:      sell("S1", 50300, 0.01, 10),
			unmatched: 0.01,
			policyOut: Unmatched,
		},
		{
			name:      "partially matched",
			lots:      []Lot{lot("B", 50000, 0.004, 1)},
			sell:      sell("S1", 50300, 0.01, 10),
			want:      []consumed{{"B", 0.004}},
			unmatched: 0.006,
			policyOut: SpreadMatch,
		},
		{
			name:      "fifo fallback covers the rest",
			fallback:  true,
			lots:      []Lot{lot("A", 45000, 0.01, 1), lot("B", 50000, 0.004, 2)},
			sell:      sell("S1", 50300, 0.01, 10),
			want:      []consumed{{"B", 0.004}, {"A", 0.006}},
			policyOut: SpreadMatch,
		},
		{
			name:      "fifo fallback only",
			fallback:  true,
			lots:      []Lot{lot("A", 45000, 0.01, 1)},
			sell:      sell("S1", 50300, 0.01, 10),
			want:      []consumed{{"A", 0.01}},
			policyOut: FIFO,
		},
		{
			name:      "fifo policy ignores the band",
			policy:    FIFO,
			lots:      []Lot{lot("A", 45000, 0.01, 1), lot("B", 50000, 0.01, 2)},
			sell:      sell("S1", 50300, 0.015, 10),
			want:      []consumed{{"A", 0.01}, {"B", 0.005}},
			policyOut: FIFO,
		},
		{
			name:      "estimated lot",
			lots:      []Lot{estimated},
			sell:      sell("S1", 50300, 0.01, 10),
			want:      []consumed{{"E1", 0.01}},
			policyOut: Estimated,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := btcConfig()
			if tc.policy != Unmatched {
				cfg.Policy = tc.policy
			}
			cfg.FIFOFallback = tc.fallback
			m := NewMatcher(cfg)
			before := slices.Clone(tc.lots)

			e := m.Plan(tc.lots, tc.sell)

			if len(e.Matches) != len(tc.want) {
				t.Fatalf("Plan() got %d matches %v, want %v", len(e.Matches), e.Matches, tc.want)
			}
			for i, w := range tc.want {
				if e.Matches[i].LotID != w.lot || !e.Matches[i].AmountConsumed.Equal(Q(w.amount)) {
					t.Errorf("match #%d = %s %s, want %s %v", i, e.Matches[i].LotID, e.Matches[i].AmountConsumed, w.lot, w.amount)
				}
			}
			if !e.Unmatched.Equal(Q(tc.unmatched)) {
				t.Errorf("Unmatched = %s, want %v", e.Unmatched, tc.unmatched)
			}
			if e.Flagged() != (tc.unmatched > 0) {
				t.Errorf("Flagged() = %v, want %v", e.Flagged(), tc.unmatched > 0)
			}
			if e.Policy != tc.policyOut {
				t.Errorf("Policy = %s, want %s", e.Policy, tc.policyOut)
			}
			if !slices.EqualFunc(before, tc.lots, func(a, b Lot) bool { return a.Remaining.Equal(b.Remaining) }) {
				t.Errorf("Plan() modified the open lots")
			}
		})
	}
}

func TestMatcher_Profit(t *testing.T) {
	m := NewMatcher(btcConfig())
	l := lot("B1", 50000, 0.02, 1)
	l.Fee = USDT(1)
	s := NewSell("S1", USDT(50300), Q(0.01), USDT(0.5), at(10))

	e := m.Plan([]Lot{l}, s)

	if len(e.Matches) != 1 {
		t.Fatalf("Plan() got %d matches, want 1", len(e.Matches))
	}
	mr := e.Matches[0]
	if !mr.GrossProfit.Equal(USDT(3)) {
		t.Errorf("GrossProfit = %s, want 3", mr.GrossProfit)
	}
	// half of the buy fee, all of the sell fee.
	if !mr.AllocatedFees.Equal(USDT(1)) {
		t.Errorf("AllocatedFees = %s, want 1", mr.AllocatedFees)
	}
	if !mr.NetProfit.Equal(USDT(2)) {
		t.Errorf("NetProfit = %s, want 2", mr.NetProfit)
	}
	if !e.TotalProfit.Equal(USDT(2)) {
		t.Errorf("TotalProfit = %s, want 2", e.TotalProfit)
	}
}

func TestMatcher_Deterministic(t *testing.T) {
	m := NewMatcher(btcConfig())
	lots := []Lot{
		lot("D", 50010, 0.003, 1),
		lot("C", 50010, 0.003, 1),
		lot("B", 50090, 0.003, 2),
		lot("A", 49990, 0.003, 3),
	}
	s := sell("S1", 50300, 0.008, 10)
	want := m.Plan(lots, s)

	for i := 0; i < 5; i++ {
		shuffled := slices.Clone(lots)
		slices.Reverse(shuffled)
		if i%2 == 0 {
			shuffled[0], shuffled[2] = shuffled[2], shuffled[0]
		}
		got := m.Plan(shuffled, s)
		if !slices.EqualFunc(got.Matches, want.Matches, func(a, b MatchRecord) bool {
			return a.LotID == b.LotID && a.AmountConsumed.Equal(b.AmountConsumed)
		}) {
			t.Fatalf("Plan() = %v, want %v", got.Matches, want.Matches)
		}
	}
}

func TestMatcher_ToleranceIsPerPair(t *testing.T) {
	cfg := btcConfig()
	cfg.Tolerance = decimal.RequireFromString("0.0025")
	m := NewMatcher(cfg)
	// 50000 is 0.1% away from the expected 50049.75: inside a 0.25% band.
	if e := m.Plan([]Lot{lot("B1", 50000, 0.01, 1)}, sell("S1", 50300, 0.01, 10)); e.Flagged() {
		t.Errorf("lot inside a 0.25%% band not matched")
	}
	// 49800 is 0.5% away.
	if e := m.Plan([]Lot{lot("B1", 49800, 0.01, 1)}, sell("S1", 50300, 0.01, 10)); !e.Flagged() {
		t.Errorf("lot outside a 0.25%% band matched")
	}
}
