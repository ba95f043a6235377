// Package store provides the SQLite persistence layer for seltrust: selector
// and category reliability counters plus the stored capture events.
//
// Every counter write is a single INSERT ... ON CONFLICT DO UPDATE statement,
// so concurrent observations of the same key are never lost.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/seltrust/dbopen"
	"github.com/hazyhaar/seltrust/idgen"
)

// ErrNotFound is returned by admin operations addressing a missing record.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidKey is returned when a record key is blank or outside its
// vocabulary. No row is written.
var ErrInvalidKey = errors.New("store: invalid record key")

// Thresholds gate which records may be recommended.
type Thresholds struct {
	// MinSamples and MinConfidence gate the any-method tier.
	MinSamples    int
	MinConfidence float64
	// DiscoveredMinConfidence gates the discovered tier, which needs only
	// one sample.
	DiscoveredMinConfidence float64
}

// DefaultThresholds returns the standard gates: 2 samples at 0.5 for any
// method, 1 sample at 0.4 for discovered selectors.
func DefaultThresholds() Thresholds {
	return Thresholds{MinSamples: 2, MinConfidence: 0.5, DiscoveredMinConfidence: 0.4}
}

// Store is the seltrust database handle.
type Store struct {
	DB      *sql.DB
	tx      *sql.Tx
	newID   idgen.Generator
	nowFunc func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for capture event ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock overrides time.Now for last_seen_at and created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// New wraps an open database that already carries Schema.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, newID: idgen.Capture, nowFunc: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (or creates) the seltrust database at path and applies Schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// InTx runs fn against a Store whose counter writes (RecordSuccess,
// RecordFailure, RecordDiscovered, RecordResult) share one transaction:
// nothing persists unless fn returns nil. fn is rerun from the start when
// the transaction hits SQLITE_BUSY. Other methods of the tx Store still
// use the database directly.
func (s *Store) InTx(ctx context.Context, fn func(*Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		ts := *s
		ts.tx = tx
		return fn(&ts)
	})
}

// queryRow runs a single-row write such as INSERT ... RETURNING. Inside
// InTx it joins the transaction; otherwise it commits on its own and is
// retried on SQLITE_BUSY.
func (s *Store) queryRow(ctx context.Context, query string, args []any, dest ...any) error {
	if s.tx != nil {
		return s.tx.QueryRowContext(ctx, query, args...).Scan(dest...)
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// scanFunc adapts a closure to the scanner interface.
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) now() int64 {
	return s.nowFunc().UnixMilli()
}

// Counts is a snapshot of table sizes.
type Counts struct {
	Domains    int `json:"domains"`
	Selectors  int `json:"selectors"`
	Categories int `json:"categories"`
	Events     int `json:"events"`
}

// Count returns current table sizes.
func (s *Store) Count(ctx context.Context) (*Counts, error) {
	var c Counts
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM (SELECT domain FROM selector_records UNION SELECT domain FROM category_records)),
			(SELECT COUNT(*) FROM selector_records),
			(SELECT COUNT(*) FROM category_records),
			(SELECT COUNT(*) FROM capture_events)`).Scan(&c.Domains, &c.Selectors, &c.Categories, &c.Events)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// inClause returns "?,?,..." for n placeholders.
func inClause(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := range n {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
