package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/confidence"
	"github.com/hazyhaar/seltrust/domainkey"
)

// CategoryRecord is the reliability record of one category suggestion for
// one domain.
type CategoryRecord struct {
	ID           int64            `json:"id"`
	Domain       string           `json:"domain"`
	Category     capture.Category `json:"category"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	LastSeenAt   int64            `json:"last_seen_at,omitempty"`
	CreatedAt    int64            `json:"created_at"`
	Confidence   float64          `json:"confidence"`
}

// Samples is the total number of observations.
func (r *CategoryRecord) Samples() int {
	return confidence.Samples(r.SuccessCount, r.FailureCount)
}

const categoryColumns = `id, domain, category, success_count, failure_count,
	COALESCE(last_seen_at, 0), created_at`

func scanCategory(row scanner) (*CategoryRecord, error) {
	var r CategoryRecord
	var cat string
	if err := row.Scan(&r.ID, &r.Domain, &cat, &r.SuccessCount, &r.FailureCount,
		&r.LastSeenAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Category = capture.Category(cat)
	r.Confidence = confidence.Wilson(r.SuccessCount, r.FailureCount)
	return &r, nil
}

// RecordResult counts one success or failure for (domain, category).
// Categories outside capture.Categories and blank domains are discarded:
// no row is written and recorded is false.
func (s *Store) RecordResult(ctx context.Context, domain, category string, success bool) (recorded bool, err error) {
	d := domainkey.Normalize(domain)
	cat, ok := capture.ParseCategory(category)
	if d == "" || !ok {
		return false, nil
	}

	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}
	now := s.now()
	var id int64
	err = s.queryRow(ctx, `
		INSERT INTO category_records (domain, category, success_count, failure_count, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain, category) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			last_seen_at = excluded.last_seen_at
		RETURNING id`,
		[]any{d, string(cat), succ, fail, now, now}, &id)
	if err != nil {
		return false, fmt.Errorf("store: record category: %w", err)
	}
	return true, nil
}

// ListCategories returns the category records of a domain and its www.
// variant, highest confidence first.
func (s *Store) ListCategories(ctx context.Context, domain string) ([]*CategoryRecord, error) {
	keys := domainkey.Variants(domain)
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM category_records WHERE domain IN (`+inClause(len(keys))+`)`, toArgs(keys)...)
	if err != nil {
		return nil, fmt.Errorf("store: list categories: %w", err)
	}
	defer rows.Close()

	var out []*CategoryRecord
	for rows.Next() {
		r, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan category: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(out, compareCategory)
	return out, nil
}

// BestCategory returns the most confident category with at least
// th.MinSamples samples and confidence >= th.MinConfidence. Ties go to the
// lexicographically smallest category.
func (s *Store) BestCategory(ctx context.Context, domain string, th Thresholds) (capture.Category, bool, error) {
	recs, err := s.ListCategories(ctx, domain)
	if err != nil {
		return "", false, err
	}
	for _, r := range recs {
		if r.Samples() >= th.MinSamples && r.Confidence >= th.MinConfidence {
			return r.Category, true, nil
		}
	}
	return "", false, nil
}

func compareCategory(a, b *CategoryRecord) int {
	return cmp.Or(
		cmp.Compare(b.Confidence, a.Confidence),
		strings.Compare(string(a.Category), string(b.Category)),
		strings.Compare(a.Domain, b.Domain),
	)
}
