package gridledger

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/etnz/gridledger/id"
	"go.uber.org/zap"
)

// AuditNote records an explicit change of a lot outside of matching.
type AuditNote struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Field  string    `json:"field"`
	Before string    `json:"before"`
	After  string    `json:"after"`
	Reason string    `json:"reason,omitempty"`
	Report string    `json:"report,omitempty"` // Report is the reconciliation report that made the change.
}

// Lot is a quantity of base asset acquired at a known price.
type Lot struct {
	ID        string    // ID is the exchange trade id of the buy.
	FormerIDs []string  // FormerIDs are the ids the lot was recorded under before an id correction.
	Price     Money     // Price of acquisition.
	Amount    Quantity  // Amount acquired.
	Remaining Quantity  // Remaining is the part not consumed by sells yet.
	Fee       Money     // Fee of the buy, in quote currency.
	Timestamp time.Time // Timestamp of the buy.

	Verified  bool // Verified is true once the id was found in the exchange history.
	Historic  bool // Historic lots are older than the exchange history: trusted, not auditable.
	Estimated bool // Estimated lots are operator supplied, profits against them are estimates.

	ClosedAt time.Time   // ClosedAt is the time the lot was fully consumed.
	Revision uint64      // Revision of the store when the lot was last modified.
	Notes    []AuditNote // Notes is the audit trail of explicit corrections.
}

// IsClosed returns true when nothing remains of the lot.
func (l Lot) IsClosed() bool { return !l.Remaining.IsPositive() }

// Consumed returns the quantity already sold from this lot.
func (l Lot) Consumed() Quantity { return l.Amount.Sub(l.Remaining) }

// Cost returns the price paid for the remaining quantity.
func (l Lot) Cost() Money { return l.Price.Mul(l.Remaining) }

func (l Lot) sameFill(f Fill) bool {
	return l.Price.Equal(f.Price) && l.Amount.Equal(f.Amount) && l.Fee.Equal(f.Fee) && l.Timestamp.Equal(f.Timestamp)
}

func (l Lot) clone() Lot {
	l.FormerIDs = slices.Clone(l.FormerIDs)
	l.Notes = slices.Clone(l.Notes)
	return l
}

// compareLots orders lots oldest first, then by id.
func compareLots(a, b *Lot) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// MarshalJSON implements the json.Marshaler interface for Lot.
func (l Lot) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("id", l.ID)
	w.Optional("formerIds", l.FormerIDs)
	w.Append("price", l.Price)
	w.Append("amount", l.Amount)
	w.Append("remaining", l.Remaining)
	w.Optional("fee", l.Fee)
	w.Append("timestamp", l.Timestamp)
	w.Optional("verified", l.Verified)
	w.Optional("historic", l.Historic)
	w.Optional("estimated", l.Estimated)
	w.Optional("closedAt", l.ClosedAt)
	w.Optional("revision", l.Revision)
	w.Optional("notes", l.Notes)
	return w.MarshalJSON()
}

// UnmarshalJSON implements the json.Unmarshaler interface for Lot.
func (l *Lot) UnmarshalJSON(data []byte) error {
	var temp struct {
		ID        string      `json:"id"`
		FormerIDs []string    `json:"formerIds"`
		Price     Money       `json:"price"`
		Amount    Quantity    `json:"amount"`
		Remaining Quantity    `json:"remaining"`
		Fee       Money       `json:"fee"`
		Timestamp time.Time   `json:"timestamp"`
		Verified  bool        `json:"verified"`
		Historic  bool        `json:"historic"`
		Estimated bool        `json:"estimated"`
		ClosedAt  time.Time   `json:"closedAt"`
		Revision  uint64      `json:"revision"`
		Notes     []AuditNote `json:"notes"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	*l = Lot(temp)
	return nil
}

// LotStore holds the lots of one pair.
//
// LotStore is not safe for concurrent use, the Book serializes accesses.
type LotStore struct {
	lots     []*Lot // sorted by compareLots
	index    map[string]*Lot
	revision uint64
	now      func() time.Time
}

// NewLotStore creates an empty store.
func NewLotStore() *LotStore {
	return &LotStore{index: make(map[string]*Lot), now: time.Now}
}

// Add creates a lot from a buy fill and returns its id.
//
// If a lot with the same id exists, the store is unchanged and a
// *DuplicateIDError is returned. Its Redelivery field tells whether the
// fill is the one already recorded.
func (s *LotStore) Add(f BuyFill) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	if l, exists := s.index[f.ID]; exists {
		return f.ID, &DuplicateIDError{ID: f.ID, Redelivery: l.sameFill(f.Fill)}
	}
	return f.ID, s.insert(Lot{
		ID:        f.ID,
		Price:     f.Price,
		Amount:    f.Amount,
		Remaining: f.Amount,
		Fee:       f.Fee,
		Timestamp: f.Timestamp,
	})
}

// insert adds a lot, keeping the store order.
func (s *LotStore) insert(l Lot) error {
	if _, exists := s.index[l.ID]; exists {
		return &DuplicateIDError{ID: l.ID}
	}
	if l.Remaining.IsNegative() || l.Remaining.GreaterThan(l.Amount) {
		return fmt.Errorf("lot %q: remaining %s out of [0, %s]", l.ID, l.Remaining, l.Amount)
	}
	p := &l
	i, _ := slices.BinarySearchFunc(s.lots, p, compareLots)
	s.lots = slices.Insert(s.lots, i, p)
	s.index[l.ID] = p
	if l.Revision > 0 {
		// restored lots keep their revision.
		s.revision = max(s.revision, l.Revision)
	} else {
		s.touch(p)
	}
	return nil
}

// touch marks the lot as the most recently modified.
func (s *LotStore) touch(l *Lot) {
	s.revision++
	l.Revision = s.revision
}

// Open returns the lots with a positive remaining quantity, oldest first.
func (s *LotStore) Open() []Lot {
	var open []Lot
	for _, l := range s.lots {
		if !l.IsClosed() {
			open = append(open, l.clone())
		}
	}
	return open
}

// All returns all the lots in the working set, oldest first.
func (s *LotStore) All() []Lot {
	all := make([]Lot, 0, len(s.lots))
	for _, l := range s.lots {
		all = append(all, l.clone())
	}
	return all
}

// Len returns the number of lots in the working set.
func (s *LotStore) Len() int { return len(s.lots) }

// Revision returns the store revision, it changes on every modification.
func (s *LotStore) Revision() uint64 { return s.revision }

// Find returns the lot with this id.
func (s *LotStore) Find(id string) (Lot, error) {
	l, ok := s.index[id]
	if !ok {
		return Lot{}, fmt.Errorf("%w: %q", ErrLotNotFound, id)
	}
	return l.clone(), nil
}

// Consume decrements the remaining quantity of a lot.
func (s *LotStore) Consume(id string, amount Quantity) error {
	return s.consume(id, amount, s.now())
}

func (s *LotStore) consume(id string, amount Quantity, at time.Time) error {
	l, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLotNotFound, id)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("lot %q: consumed amount must be positive, got %s", id, amount)
	}
	if amount.GreaterThan(l.Remaining) {
		return &InsufficientRemainingError{LotID: id, Requested: amount, Remaining: l.Remaining}
	}
	l.Remaining = l.Remaining.Sub(amount)
	if l.IsClosed() {
		l.ClosedAt = at
	}
	s.touch(l)
	return nil
}

// TotalRemaining returns the sum of the remaining quantity of open lots.
func (s *LotStore) TotalRemaining() Quantity {
	var total Quantity
	for _, l := range s.lots {
		if !l.IsClosed() {
			total = total.Add(l.Remaining)
		}
	}
	return total
}

// MostRecentlyModified returns the open lot modified last.
func (s *LotStore) MostRecentlyModified() (Lot, bool) {
	var last *Lot
	for _, l := range s.lots {
		if l.IsClosed() {
			continue
		}
		if last == nil || l.Revision > last.Revision {
			last = l
		}
	}
	if last == nil {
		return Lot{}, false
	}
	return last.clone(), true
}

// BaseIDDuplicates returns the groups of lot ids sharing the same base id.
func (s *LotStore) BaseIDDuplicates() map[string][]string {
	groups := make(map[string][]string)
	for _, l := range s.lots {
		base := BaseID(l.ID)
		groups[base] = append(groups[base], l.ID)
	}
	for base, ids := range groups {
		if len(ids) < 2 {
			delete(groups, base)
		}
	}
	return groups
}

// audit applies change to the lot and records it in the lot audit trail.
func (s *LotStore) audit(lotID string, note AuditNote, change func(*Lot) error) error {
	l, ok := s.index[lotID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLotNotFound, lotID)
	}
	if err := change(l); err != nil {
		return err
	}
	if note.ID == "" {
		note.ID = id.New()
	}
	if note.At.IsZero() {
		note.At = s.now()
	}
	l.Notes = append(l.Notes, note)
	s.touch(l)
	return nil
}

// rekey renames a lot and records the change in its audit trail.
func (s *LotStore) rekey(from, to string, note AuditNote) error {
	l, ok := s.index[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLotNotFound, from)
	}
	if _, exists := s.index[to]; exists {
		return &DuplicateIDError{ID: to, IDs: []string{from, to}}
	}
	delete(s.index, from)
	l.ID = to
	l.FormerIDs = append(l.FormerIDs, from)
	s.index[to] = l
	slices.SortFunc(s.lots, compareLots)
	return s.audit(to, note, func(*Lot) error { return nil })
}

// logNote writes an audit note to the log.
func logNote(pair, lotID string, note AuditNote) {
	log().Info("lot corrected",
		zap.String("pair", pair),
		zap.String("lot", lotID),
		zap.String("field", note.Field),
		zap.String("before", note.Before),
		zap.String("after", note.After),
		zap.String("reason", note.Reason),
		zap.String("report", note.Report),
	)
}

// archive removes closed lots closed before the cutoff from the working set
// and returns them.
func (s *LotStore) archive(cutoff time.Time) []Lot {
	var archived []Lot
	kept := s.lots[:0]
	for _, l := range s.lots {
		closedAt := l.ClosedAt
		if closedAt.IsZero() {
			closedAt = l.Timestamp
		}
		if l.IsClosed() && closedAt.Before(cutoff) {
			archived = append(archived, *l)
			delete(s.index, l.ID)
			continue
		}
		kept = append(kept, l)
	}
	clear(s.lots[len(kept):])
	s.lots = kept
	return archived
}

// clone returns a deep copy of the store.
func (s *LotStore) clone() *LotStore {
	c := &LotStore{
		lots:     make([]*Lot, len(s.lots)),
		index:    make(map[string]*Lot, len(s.index)),
		revision: s.revision,
		now:      s.now,
	}
	for i, l := range s.lots {
		cl := l.clone()
		c.lots[i] = &cl
		c.index[cl.ID] = &cl
	}
	return c
}

// Has reports whether a lot with this id is in the working set.
func (s *LotStore) Has(lotID string) bool {
	_, ok := s.index[lotID]
	return ok
}
