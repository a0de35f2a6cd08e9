package gridledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/etnz/gridledger/exchange"
)

// SnapshotVersion is the version of the snapshot format written by EncodeSnapshot.
const SnapshotVersion = 1

// Snapshot is the durable form of a book.
type Snapshot struct {
	Version    int             `json:"version"`
	Pair       string          `json:"pair"`
	Lots       []Lot           `json:"lots"`
	Archived   []Lot           `json:"archived,omitempty"`
	Entries    []LedgerEntry   `json:"entries"`
	Checkpoint Checkpoint      `json:"checkpoint"`
	Cursor     exchange.Cursor `json:"cursor"`
}

// Snapshot returns the durable state of the book.
func (b *Book) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Version:    SnapshotVersion,
		Pair:       b.cfg.Pair,
		Lots:       b.st.lots.All(),
		Archived:   append([]Lot(nil), b.st.archived...),
		Entries:    b.st.ledger.Entries(),
		Checkpoint: b.st.checkpoint,
		Cursor:     b.st.cursor,
	}
}

// RestoreBook creates a book from a snapshot.
//
// Lots keep their ids as they are, even synthetic ones: the reconciliation
// reports them. The ledger profits are recomputed from the matches.
func RestoreBook(cfg PairConfig, snap Snapshot) (*Book, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Pair != cfg.Pair {
		return nil, fmt.Errorf("snapshot of %q cannot be restored as %q", snap.Pair, cfg.Pair)
	}
	b, err := NewBook(cfg)
	if err != nil {
		return nil, err
	}
	st := b.st
	for _, l := range snap.Lots {
		if err := st.lots.insert(l.clone()); err != nil {
			return nil, fmt.Errorf("restore %s: %w", cfg.Pair, err)
		}
	}
	st.archived = append(st.archived, snap.Archived...)
	for i, e := range snap.Entries {
		if err := st.ledger.Record(e); err != nil {
			return nil, fmt.Errorf("restore %s: entry %d: %w", cfg.Pair, i, err)
		}
	}
	if err := st.validate(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", cfg.Pair, err)
	}
	st.checkpoint = snap.Checkpoint
	st.cursor = snap.Cursor
	return b, nil
}

// validate checks that no lot was consumed beyond its amount.
func (s *state) validate() error {
	amounts := make(map[string]Quantity)
	// matches recorded before an id correction refer to a former id.
	renamed := make(map[string]string)
	for _, l := range s.archived {
		amounts[l.ID] = l.Amount
	}
	for _, l := range s.lots.lots {
		if _, dup := amounts[l.ID]; dup {
			return &DuplicateIDError{ID: l.ID}
		}
		amounts[l.ID] = l.Amount
	}
	for _, l := range append(slices.Clone(s.archived), s.lots.All()...) {
		for _, former := range l.FormerIDs {
			renamed[former] = l.ID
		}
	}
	var errs []error
	consumed := make(map[string]Quantity)
	for _, e := range s.ledger.entries {
		for _, m := range e.Matches {
			lotID := m.LotID
			if to, ok := renamed[lotID]; ok {
				lotID = to
			}
			if _, ok := amounts[lotID]; !ok {
				errs = append(errs, fmt.Errorf("sell %q consumes unknown lot %q", e.SellID, m.LotID))
				continue
			}
			consumed[lotID] = consumed[lotID].Add(m.AmountConsumed)
		}
	}
	for lotID, q := range consumed {
		if q.GreaterThan(amounts[lotID]) {
			errs = append(errs, &InsufficientRemainingError{LotID: lotID, Requested: q, Remaining: amounts[lotID]})
		}
	}
	return errors.Join(errs...)
}

// EncodeSnapshot writes a snapshot as indented JSON.
func EncodeSnapshot(w io.Writer, snap Snapshot) error {
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot of %q: %w", snap.Pair, err)
	}
	return nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("could not decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}

// SaveSnapshotFile writes a snapshot to a file, creating its directory.
func SaveSnapshotFile(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create directory for snapshot %q: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error opening snapshot file %q for writing: %w", path, err)
	}
	defer file.Close()
	return EncodeSnapshot(file, snap)
}

// LoadSnapshotFile reads a snapshot file.
func LoadSnapshotFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("could not open snapshot file %q: %w", path, err)
	}
	defer f.Close()
	snap, err := DecodeSnapshot(f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("could not decode snapshot file %q: %w", path, err)
	}
	return snap, nil
}
