package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/confidence"
	"github.com/hazyhaar/seltrust/dbopen"
	"github.com/hazyhaar/seltrust/domainkey"
)

// SelectorRecord is the reliability record of one selector for one field of
// one domain.
type SelectorRecord struct {
	ID           int64          `json:"id"`
	Domain       string         `json:"domain"`
	Field        capture.Field  `json:"field"`
	Selector     string         `json:"selector"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	Method       capture.Method `json:"discovery_method"`
	Score        *float64       `json:"discovery_score,omitempty"`
	LastSeenAt   int64          `json:"last_seen_at,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	Confidence   float64        `json:"confidence"`
}

// Samples is the total number of observations.
func (r *SelectorRecord) Samples() int {
	return confidence.Samples(r.SuccessCount, r.FailureCount)
}

const selectorColumns = `id, domain, field, selector, success_count, failure_count,
	discovery_method, discovery_score, COALESCE(last_seen_at, 0), created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSelector(row scanner) (*SelectorRecord, error) {
	var r SelectorRecord
	var field, method string
	var score sql.NullFloat64
	if err := row.Scan(&r.ID, &r.Domain, &field, &r.Selector, &r.SuccessCount, &r.FailureCount,
		&method, &score, &r.LastSeenAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Field = capture.Field(field)
	r.Method = capture.Method(method)
	if score.Valid {
		r.Score = &score.Float64
	}
	r.Confidence = confidence.Wilson(r.SuccessCount, r.FailureCount)
	return &r, nil
}

func selectorKey(domain string, field capture.Field, selector string) (string, error) {
	d := domainkey.Normalize(domain)
	if d == "" || !field.Valid() || strings.TrimSpace(selector) == "" {
		return "", ErrInvalidKey
	}
	return d, nil
}

func methodOrDefault(m capture.Method) capture.Method {
	return capture.ParseMethod(string(m))
}

func nullScore(score *float64) sql.NullFloat64 {
	if score == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *score, Valid: true}
}

func (s *Store) upsertSelector(ctx context.Context, op, query string, args ...any) (*SelectorRecord, error) {
	rec, err := scanSelector(scanFunc(func(dest ...any) error {
		return s.queryRow(ctx, query, args, dest...)
	}))
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	return rec, nil
}

// RecordSuccess counts one success for (domain, field, selector), creating
// the record with method and score when absent. When method is discovered
// and the stored record is heuristic, the record is upgraded to discovered
// and its score replaced if score is non-nil.
func (s *Store) RecordSuccess(ctx context.Context, domain string, field capture.Field, selector string, method capture.Method, score *float64) (*SelectorRecord, error) {
	d, err := selectorKey(domain, field, selector)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return s.upsertSelector(ctx, "record success", `
		INSERT INTO selector_records
			(domain, field, selector, success_count, failure_count, discovery_method, discovery_score, last_seen_at, created_at)
		VALUES (?, ?, ?, 1, 0, ?, ?, ?, ?)
		ON CONFLICT(domain, field, selector) DO UPDATE SET
			success_count = success_count + 1,
			last_seen_at = excluded.last_seen_at,
			discovery_method = CASE
				WHEN excluded.discovery_method = 'discovered' AND discovery_method = 'heuristic'
				THEN 'discovered' ELSE discovery_method END,
			discovery_score = CASE
				WHEN excluded.discovery_method = 'discovered' AND discovery_method = 'heuristic'
				     AND excluded.discovery_score IS NOT NULL
				THEN excluded.discovery_score ELSE discovery_score END
		RETURNING `+selectorColumns,
		d, string(field), selector, string(methodOrDefault(method)), nullScore(score), now, now)
}

// RecordFailure counts one failure for (domain, field, selector), creating
// the record with method and score when absent. It never changes the
// method of an existing record.
func (s *Store) RecordFailure(ctx context.Context, domain string, field capture.Field, selector string, method capture.Method, score *float64) (*SelectorRecord, error) {
	d, err := selectorKey(domain, field, selector)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return s.upsertSelector(ctx, "record failure", `
		INSERT INTO selector_records
			(domain, field, selector, success_count, failure_count, discovery_method, discovery_score, last_seen_at, created_at)
		VALUES (?, ?, ?, 0, 1, ?, ?, ?, ?)
		ON CONFLICT(domain, field, selector) DO UPDATE SET
			failure_count = failure_count + 1,
			last_seen_at = excluded.last_seen_at
		RETURNING `+selectorColumns,
		d, string(field), selector, string(methodOrDefault(method)), nullScore(score), now, now)
}

// RecordDiscovered counts a selector revealed by a user correction as one
// success and sets its method to discovered with the given score.
func (s *Store) RecordDiscovered(ctx context.Context, domain string, field capture.Field, selector string, score *float64) (*SelectorRecord, error) {
	d, err := selectorKey(domain, field, selector)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return s.upsertSelector(ctx, "record discovered", `
		INSERT INTO selector_records
			(domain, field, selector, success_count, failure_count, discovery_method, discovery_score, last_seen_at, created_at)
		VALUES (?, ?, ?, 1, 0, 'discovered', ?, ?, ?)
		ON CONFLICT(domain, field, selector) DO UPDATE SET
			success_count = success_count + 1,
			discovery_method = 'discovered',
			discovery_score = excluded.discovery_score,
			last_seen_at = excluded.last_seen_at
		RETURNING `+selectorColumns,
		d, string(field), selector, nullScore(score), now, now)
}

// ListForDomain returns every selector record stored under the domain or its
// www. variant, ordered by field then confidence.
func (s *Store) ListForDomain(ctx context.Context, domain string) ([]*SelectorRecord, error) {
	keys := domainkey.Variants(domain)
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+selectorColumns+`
		FROM selector_records WHERE domain IN (`+inClause(len(keys))+`)
		ORDER BY field, selector, domain`, toArgs(keys)...)
	if err != nil {
		return nil, fmt.Errorf("store: list selectors: %w", err)
	}
	defer rows.Close()

	var out []*SelectorRecord
	for rows.Next() {
		r, err := scanSelector(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan selector: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *SelectorRecord) int {
		return cmp.Or(
			cmp.Compare(a.Field, b.Field),
			cmp.Compare(b.Confidence, a.Confidence),
		)
	})
	return out, nil
}

// BestForDomain picks at most one selector per field:
//
//  1. discovered records with at least one sample and confidence >=
//     th.DiscoveredMinConfidence, highest (confidence, score) first;
//  2. otherwise any record with at least th.MinSamples samples and
//     confidence >= th.MinConfidence, highest confidence first;
//  3. otherwise the field is omitted.
//
// Remaining ties go to the lexicographically smallest selector.
func (s *Store) BestForDomain(ctx context.Context, domain string, th Thresholds) (map[capture.Field]string, error) {
	recs, err := s.ListForDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	return pickBest(recs, th), nil
}

func pickBest(recs []*SelectorRecord, th Thresholds) map[capture.Field]string {
	best := make(map[capture.Field]string)
	for _, f := range capture.Fields {
		var discovered, fallback *SelectorRecord
		for _, r := range recs {
			if r.Field != f {
				continue
			}
			if r.Method == capture.MethodDiscovered && r.Samples() >= 1 && r.Confidence >= th.DiscoveredMinConfidence {
				if discovered == nil || compareDiscovered(r, discovered) < 0 {
					discovered = r
				}
			}
			if r.Samples() >= th.MinSamples && r.Confidence >= th.MinConfidence {
				if fallback == nil || compareFallback(r, fallback) < 0 {
					fallback = r
				}
			}
		}
		switch {
		case discovered != nil:
			best[f] = discovered.Selector
		case fallback != nil:
			best[f] = fallback.Selector
		}
	}
	return best
}

// compareDiscovered orders by confidence desc, score desc (missing lowest),
// selector asc.
func compareDiscovered(a, b *SelectorRecord) int {
	return cmp.Or(
		cmp.Compare(b.Confidence, a.Confidence),
		compareScore(b.Score, a.Score),
		strings.Compare(a.Selector, b.Selector),
	)
}

func compareFallback(a, b *SelectorRecord) int {
	return cmp.Or(
		cmp.Compare(b.Confidence, a.Confidence),
		strings.Compare(a.Selector, b.Selector),
	)
}

func compareScore(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

// GetSelector returns a record by id, or nil if absent.
func (s *Store) GetSelector(ctx context.Context, id int64) (*SelectorRecord, error) {
	r, err := scanSelector(s.DB.QueryRowContext(ctx,
		`SELECT `+selectorColumns+` FROM selector_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get selector: %w", err)
	}
	return r, nil
}

// AddManual registers an admin-entered selector with zero counters. An
// existing record for the same key is returned unchanged with created=false.
func (s *Store) AddManual(ctx context.Context, domain string, field capture.Field, selector string) (rec *SelectorRecord, created bool, err error) {
	d, err := selectorKey(domain, field, selector)
	if err != nil {
		return nil, false, err
	}
	res, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO selector_records
			(domain, field, selector, success_count, failure_count, discovery_method, created_at)
		VALUES (?, ?, ?, 0, 0, 'manual', ?)
		ON CONFLICT(domain, field, selector) DO NOTHING`,
		d, string(field), selector, s.now())
	if err != nil {
		return nil, false, fmt.Errorf("store: add manual: %w", err)
	}
	n, _ := res.RowsAffected()

	rec, err = scanSelector(s.DB.QueryRowContext(ctx,
		`SELECT `+selectorColumns+` FROM selector_records WHERE domain = ? AND field = ? AND selector = ?`,
		d, string(field), selector))
	if err != nil {
		return nil, false, fmt.Errorf("store: add manual: %w", err)
	}
	return rec, n > 0, nil
}

// DeleteSelector removes a record. Returns ErrNotFound if absent.
func (s *Store) DeleteSelector(ctx context.Context, id int64) error {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM selector_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete selector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetSelector zeroes both counters of a record. Returns ErrNotFound if absent.
func (s *Store) ResetSelector(ctx context.Context, id int64) (*SelectorRecord, error) {
	var rec *SelectorRecord
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var err error
		rec, err = scanSelector(tx.QueryRowContext(ctx, `
			UPDATE selector_records SET success_count = 0, failure_count = 0
			WHERE id = ?
			RETURNING `+selectorColumns, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reset selector: %w", err)
	}
	return rec, nil
}

// DomainStat aggregates the selector records of one domain.
type DomainStat struct {
	Domain       string  `json:"domain"`
	Records      int     `json:"records"`
	Discovered   int     `json:"discovered"`
	Manual       int     `json:"manual"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
	SuccessShare float64 `json:"success_share"`
	LastSeenAt   int64   `json:"last_seen_at"`
}

// DomainLeaderboard ranks domains by total observations.
func (s *Store) DomainLeaderboard(ctx context.Context, limit int) ([]*DomainStat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT domain,
		       COUNT(*),
		       SUM(CASE WHEN discovery_method = 'discovered' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN discovery_method = 'manual' THEN 1 ELSE 0 END),
		       SUM(success_count),
		       SUM(failure_count),
		       COALESCE(MAX(last_seen_at), 0)
		FROM selector_records
		GROUP BY domain
		ORDER BY SUM(success_count) + SUM(failure_count) DESC, domain ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: domain leaderboard: %w", err)
	}
	defer rows.Close()

	var out []*DomainStat
	for rows.Next() {
		var d DomainStat
		if err := rows.Scan(&d.Domain, &d.Records, &d.Discovered, &d.Manual,
			&d.Successes, &d.Failures, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("store: scan domain stat: %w", err)
		}
		if n := d.Successes + d.Failures; n > 0 {
			d.SuccessShare = float64(d.Successes) / float64(n)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
