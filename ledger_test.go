package gridledger

import (
	"errors"
	"slices"
	"testing"
)

func entry(sellID string, minutes int, profits ...float64) LedgerEntry {
	e := LedgerEntry{
		Kind:       SellEntry,
		SellID:     sellID,
		Timestamp:  at(minutes),
		SellPrice:  USDT(50300),
		SellAmount: Q(0.01 * float64(len(profits))),
		Policy:     SpreadMatch,
	}
	for i, p := range profits {
		e.Matches = append(e.Matches, MatchRecord{
			SellID:         sellID,
			LotID:          sellID + "-lot" + string(rune('A'+i)),
			AmountConsumed: Q(0.01),
			NetProfit:      USDT(p),
		})
	}
	if len(profits) == 0 {
		e.SellAmount = Q(0.01)
		e.Unmatched = Q(0.01)
		e.Policy = Unmatched
	}
	return e
}

func TestLedger_Record(t *testing.T) {
	l := NewLedger()
	if err := l.Record(entry("S1", 1, 3)); err != nil {
		t.Fatalf("Record(S1) error = %v", err)
	}

	err := l.Record(entry("S1", 2, 5))
	var dup *DuplicateSellError
	if !errors.As(err, &dup) || dup.SellID != "S1" {
		t.Fatalf("Record(S1) again error = %v, want *DuplicateSellError", err)
	}
	if !errors.Is(err, ErrDuplicateSell) {
		t.Errorf("errors.Is(err, ErrDuplicateSell) = false")
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
	if !l.TotalProfit().Equal(USDT(3)) {
		t.Errorf("TotalProfit() = %s, want 3", l.TotalProfit())
	}
}

func TestLedger_RecordRecomputesProfit(t *testing.T) {
	l := NewLedger()
	e := entry("S1", 1, 1, 2)
	e.TotalProfit = USDT(1000) // wrong on purpose
	if err := l.Record(e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got := l.Entries()[0].TotalProfit; !got.Equal(USDT(3)) {
		t.Errorf("entry TotalProfit = %s, want 3", got)
	}
}

func TestLedger_RecordInvalid(t *testing.T) {
	testCases := []struct {
		name  string
		entry LedgerEntry
	}{
		{"no sell id", LedgerEntry{SellAmount: Q(1)}},
		{"over matched", func() LedgerEntry { e := entry("S1", 1, 1, 1); e.SellAmount = Q(0.01); return e }()},
		{"foreign match", func() LedgerEntry { e := entry("S1", 1, 1); e.Matches[0].SellID = "S2"; return e }()},
		{"resolution of unknown sell", LedgerEntry{Kind: ResolutionEntry, SellID: "S9"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLedger()
			if err := l.Record(tc.entry); err == nil {
				t.Errorf("Record() error = nil, want an error")
			}
			if l.Len() != 0 {
				t.Errorf("Len() = %d, want 0", l.Len())
			}
		})
	}
}

func TestLedger_TotalProfitIsTheSum(t *testing.T) {
	l := NewLedger()
	var want Money
	for i, p := range []float64{3, -1.25, 0, 7.5, 0.01} {
		e := entry(string(rune('a'+i)), i, p)
		if err := l.Record(e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		want = want.Add(USDT(p))
		var sum Money
		for _, e := range l.Entries() {
			sum = sum.Add(e.TotalProfit)
		}
		if !l.TotalProfit().Equal(sum) || !sum.Equal(want) {
			t.Fatalf("after %d entries TotalProfit() = %s, sum = %s, want %s", i+1, l.TotalProfit(), sum, want)
		}
	}
	if got := l.ProfitOf(2); !got.Equal(USDT(1.75)) {
		t.Errorf("ProfitOf(2) = %s, want 1.75", got)
	}
	if got := l.ProfitOf(100); !got.Equal(l.TotalProfit()) {
		t.Errorf("ProfitOf(100) = %s, want %s", got, l.TotalProfit())
	}
}

func TestLedger_EntriesSince(t *testing.T) {
	l := NewLedger()
	for i, id := range []string{"S1", "S2", "S3", "S4"} {
		if err := l.Record(entry(id, i*10, 1)); err != nil {
			t.Fatal(err)
		}
	}
	var got []string
	for e := range l.EntriesSince(at(15)) {
		got = append(got, e.SellID)
	}
	if want := []string{"S3", "S4"}; !slices.Equal(got, want) {
		t.Errorf("EntriesSince() = %v, want %v", got, want)
	}

	// the sequence is lazy and can be stopped.
	for e := range l.EntriesSince(at(0)) {
		if e.SellID != "S1" {
			t.Errorf("first entry = %s, want S1", e.SellID)
		}
		break
	}
}

func TestLedger_Resolution(t *testing.T) {
	l := NewLedger()
	if err := l.Record(entry("S1", 1)); err != nil {
		t.Fatal(err)
	}
	if got := slices.Collect(l.Flagged()); len(got) != 1 || got[0].SellID != "S1" {
		t.Fatalf("Flagged() = %v, want S1", got)
	}
	if err := l.Record(entry("S1", 2, 4)); !errors.Is(err, ErrDuplicateSell) {
		t.Fatalf("Record() of the same sell error = %v, want ErrDuplicateSell", err)
	}

	half := LedgerEntry{
		Kind:       ResolutionEntry,
		SellID:     "S1",
		Timestamp:  at(3),
		SellPrice:  USDT(50300),
		SellAmount: Q(0.01),
		Matches:    []MatchRecord{{SellID: "S1", LotID: "B1", AmountConsumed: Q(0.004), NetProfit: USDT(1.2)}},
	}
	if err := l.Record(half); err != nil {
		t.Fatalf("Record(resolution) error = %v", err)
	}
	if q, _ := l.Outstanding("S1"); !q.Equal(Q(0.006)) {
		t.Errorf("Outstanding() = %s, want 0.006", q)
	}

	tooMuch := half
	tooMuch.Matches = []MatchRecord{{SellID: "S1", LotID: "B2", AmountConsumed: Q(0.007)}}
	if err := l.Record(tooMuch); err == nil {
		t.Errorf("Record() of a resolution beyond the outstanding quantity error = nil")
	}

	rest := half
	rest.Matches = []MatchRecord{{SellID: "S1", LotID: "B2", AmountConsumed: Q(0.006), NetProfit: USDT(1.8)}}
	if err := l.Record(rest); err != nil {
		t.Fatalf("Record(resolution) error = %v", err)
	}
	if got := slices.Collect(l.Flagged()); len(got) != 0 {
		t.Errorf("Flagged() = %v, want none", got)
	}
	if err := l.Record(rest); !errors.Is(err, ErrDuplicateSell) {
		t.Errorf("Record() of a resolution for a covered sell error = %v, want ErrDuplicateSell", err)
	}
	if !l.TotalProfit().Equal(USDT(3)) {
		t.Errorf("TotalProfit() = %s, want 3", l.TotalProfit())
	}
	if got := l.Consumed("B2"); !got.Equal(Q(0.006)) {
		t.Errorf("Consumed(B2) = %s, want 0.006", got)
	}
}
