package gridledger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	b := newTestBook(t, btcConfig())
	mustBuy(t, b, buy("B1", 50000, 0.01, 0), buy("B2", 49700, 0.02, 1))
	mustSell(t, b, sell("S1", 50300, 0.015, 2))
	mustSell(t, b, sell("S2", 70000, 0.001, 3)) // out of band

	var buf bytes.Buffer
	if err := EncodeSnapshot(&buf, b.Snapshot()); err != nil {
		t.Fatalf("EncodeSnapshot() error = %v", err)
	}
	snap, err := DecodeSnapshot(&buf)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}
	restored, err := RestoreBook(btcConfig(), snap)
	if err != nil {
		t.Fatalf("RestoreBook() error = %v", err)
	}

	if got, want := restored.TotalRemaining(), b.TotalRemaining(); !got.Equal(want) {
		t.Errorf("TotalRemaining() = %s, want %s", got, want)
	}
	if got, want := restored.TotalProfit(), b.TotalProfit(); !got.Equal(want) {
		t.Errorf("TotalProfit() = %s, want %s", got, want)
	}
	if got, want := len(restored.Flagged()), 1; got != want {
		t.Errorf("len(Flagged()) = %d, want %d", got, want)
	}
	if got, want := restored.Cursor(), b.Cursor(); got.SinceID != want.SinceID || !got.Since.Equal(want.Since) {
		t.Errorf("Cursor() = %v, want %v", got, want)
	}

	// the restored book goes on from where the original stopped.
	e := mustSell(t, restored, sell("S1", 50300, 0.015, 2))
	if got, want := len(restored.Entries()), 2; got != want {
		t.Errorf("redelivered sell recorded again: %d entries, want %d (entry %v)", got, want, e.SellID)
	}
}

func TestSnapshot_File(t *testing.T) {
	b := newTestBook(t, btcConfig())
	mustBuy(t, b, buy("B1", 50000, 0.01, 0))

	path := filepath.Join(t.TempDir(), "books", "BTC-USDT.json")
	if err := SaveSnapshotFile(path, b.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshotFile() error = %v", err)
	}
	snap, err := LoadSnapshotFile(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFile() error = %v", err)
	}
	if len(snap.Lots) != 1 || snap.Lots[0].ID != "B1" {
		t.Errorf("LoadSnapshotFile() lots = %v, want [B1]", snap.Lots)
	}
}

func TestSnapshot_Version(t *testing.T) {
	_, err := DecodeSnapshot(strings.NewReader(`{"version": 7, "pair": "BTC/USDT"}`))
	if err == nil {
		t.Fatal("DecodeSnapshot() with an unknown version should fail")
	}
	if _, err := RestoreBook(btcConfig(), Snapshot{Version: SnapshotVersion, Pair: "ETH/USDT"}); err == nil {
		t.Error("RestoreBook() of another pair should fail")
	}
}

func TestRestoreBook_Invalid(t *testing.T) {
	lot := Lot{ID: "B1", Price: USDT(50000), Amount: Q(0.01), Remaining: Q(0.01), Timestamp: at(0)}
	match := MatchRecord{
		SellID: "S1", LotID: "B1", AmountConsumed: Q(0.02),
		BuyPrice: USDT(50000), SellPrice: USDT(50250), Policy: SpreadMatch,
	}
	entry := LedgerEntry{
		Kind: SellEntry, SellID: "S1", Timestamp: at(1),
		SellPrice: USDT(50250), SellAmount: Q(0.02),
		Matches: []MatchRecord{match}, Policy: SpreadMatch,
	}

	tests := []struct {
		name string
		snap Snapshot
		want error
	}{
		{
			name: "over consumption",
			snap: Snapshot{Version: SnapshotVersion, Pair: "BTC/USDT", Lots: []Lot{lot}, Entries: []LedgerEntry{entry}},
			want: ErrInsufficientRemaining,
		},
		{
			name: "duplicate lot",
			snap: Snapshot{Version: SnapshotVersion, Pair: "BTC/USDT", Lots: []Lot{lot}, Archived: []Lot{lot}},
			want: ErrDuplicateID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RestoreBook(btcConfig(), tt.snap)
			if !errors.Is(err, tt.want) {
				t.Errorf("RestoreBook() error = %v, want %v", err, tt.want)
			}
		})
	}
}
