// Package store persists books and reconciliation reports in SQLite.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/etnz/gridledger"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a pair has no saved book.
var ErrNotFound = errors.New("no saved book")

// SQLite is a store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// Revision describes a saved snapshot.
type Revision struct {
	Revision    int64
	Pair        string
	SavedAt     time.Time
	Lots        int
	Entries     int
	TotalProfit string
}

// ReportRecord describes a saved reconciliation report.
type ReportRecord struct {
	ID       string
	Pair     string
	Finished time.Time
	Applied  bool
	Findings int
	Data     json.RawMessage // Data is the report as JSON.
}

// NewSQLite opens, and creates if needed, the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema of %q: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// Save stores a new revision of a book and returns it.
func (s *SQLite) Save(ctx context.Context, snap gridledger.Snapshot, at time.Time) (int64, error) {
	var buf bytes.Buffer
	if err := gridledger.EncodeSnapshot(&buf, snap); err != nil {
		return 0, err
	}
	total := gridledger.Money{}
	for _, e := range snap.Entries {
		total = total.Add(e.TotalProfit)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (pair, saved_at, lots, entries, total_profit, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Pair, at.UTC(), len(snap.Lots), len(snap.Entries), total.Decimal().String(), buf.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", snap.Pair, err)
	}
	return res.LastInsertId()
}

// Load returns the latest revision of a book.
func (s *SQLite) Load(ctx context.Context, pair string) (gridledger.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM snapshots WHERE pair = ? ORDER BY revision DESC LIMIT 1`, pair)
	return scanSnapshot(row, pair)
}

// LoadRevision returns a given revision of a book.
func (s *SQLite) LoadRevision(ctx context.Context, pair string, revision int64) (gridledger.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM snapshots WHERE pair = ? AND revision = ?`, pair, revision)
	return scanSnapshot(row, pair)
}

func scanSnapshot(row *sql.Row, pair string) (gridledger.Snapshot, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gridledger.Snapshot{}, fmt.Errorf("%s: %w", pair, ErrNotFound)
		}
		return gridledger.Snapshot{}, fmt.Errorf("load %s: %w", pair, err)
	}
	snap, err := gridledger.DecodeSnapshot(bytes.NewBufferString(data))
	if err != nil {
		return gridledger.Snapshot{}, fmt.Errorf("load %s: %w", pair, err)
	}
	return snap, nil
}

// History lists the revisions of a book, latest first.
func (s *SQLite) History(ctx context.Context, pair string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision, pair, saved_at, lots, entries, total_profit
		FROM snapshots WHERE pair = ? ORDER BY revision DESC`, pair)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Revision
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.Revision, &r.Pair, &r.SavedAt, &r.Lots, &r.Entries, &r.TotalProfit); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// Pairs lists the pairs with a saved book.
func (s *SQLite) Pairs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT pair FROM snapshots ORDER BY pair`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// SaveReport stores a reconciliation report. Saving a report again, once
// applied, updates it.
func (s *SQLite) SaveReport(ctx context.Context, r *gridledger.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (report_id, pair, finished, applied, findings, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO UPDATE SET applied = excluded.applied, data = excluded.data`,
		r.ID, r.Pair, r.Finished.UTC(), !r.Applied.IsZero(), len(r.Findings), string(data),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

// Reports lists the reports of a pair, latest first.
func (s *SQLite) Reports(ctx context.Context, pair string, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, pair, finished, applied, findings, data
		FROM reports WHERE pair = ? ORDER BY finished DESC, report_id DESC LIMIT ?`, pair, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ReportRecord
	for rows.Next() {
		var r ReportRecord
		var data string
		if err := rows.Scan(&r.ID, &r.Pair, &r.Finished, &r.Applied, &r.Findings, &data); err != nil {
			return nil, err
		}
		r.Data = json.RawMessage(data)
		res = append(res, r)
	}
	return res, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
