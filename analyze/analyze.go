// Package analyze turns one capture event into reliability observations.
//
// An event carries what the page selectors extracted (raw payload), what the
// user finally kept (final payload) and which selectors produced each value.
// The analyzer compares the two payloads field by field and feeds the
// outcome to the selector and category stores:
//
//  1. discovered pass: the top discovery candidate of each field is
//     recorded as a discovered success;
//  2. heuristic pass: each used selector scores a success when its raw value
//     matches the final value under the field's equivalence rule, a failure
//     otherwise;
//  3. category pass: the suggested category scores against the final one.
//
// Malformed payload entries are skipped and listed in the Report, never
// returned as errors. Store errors are returned so the caller can retry;
// with WithTx the three passes commit together, so a failed attempt leaves
// no counts behind.
package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/domainkey"
)

// SelectorSink receives selector observations.
type SelectorSink interface {
	RecordSuccess(ctx context.Context, domain string, field capture.Field, selector string, method capture.Method, score *float64) error
	RecordFailure(ctx context.Context, domain string, field capture.Field, selector string, method capture.Method, score *float64) error
	RecordDiscovered(ctx context.Context, domain string, field capture.Field, selector string, score *float64) error
}

// CategorySink receives category observations. recorded is false when the
// category is outside the known set.
type CategorySink interface {
	RecordResult(ctx context.Context, domain, category string, success bool) (recorded bool, err error)
}

// EventSource loads stored capture events. A missing event is nil, nil.
type EventSource interface {
	GetEvent(ctx context.Context, id string) (*capture.Event, error)
}

// CategoryResult is one category observation.
type CategoryResult struct {
	Category string `json:"category"`
	Success  bool   `json:"success"`
}

// Report lists what one analysis did.
type Report struct {
	EventID string `json:"event_id,omitempty"`
	Domain  string `json:"domain"`
	// Absent is set when the event id matched no stored event.
	Absent bool `json:"absent,omitempty"`

	Discovered []capture.Field `json:"discovered,omitempty"`
	Successes  []capture.Field `json:"successes,omitempty"`
	Failures   []capture.Field `json:"failures,omitempty"`
	// Skipped fields had a selector but nothing to compare, or a blank
	// selector.
	Skipped []capture.Field `json:"skipped,omitempty"`
	// Unknown holds context keys that map to no trackable field.
	Unknown []string `json:"unknown,omitempty"`

	Categories          []CategoryResult `json:"categories,omitempty"`
	DiscardedCategories []string         `json:"discarded_categories,omitempty"`
}

// Mutations is the number of store writes the analysis performed.
func (r *Report) Mutations() int {
	return len(r.Discovered) + len(r.Successes) + len(r.Failures) + len(r.Categories)
}

// Analyzer applies capture events to the stores.
type Analyzer struct {
	selectors  SelectorSink
	categories CategorySink
	events     EventSource
	tx         TxFunc
	logger     *slog.Logger
}

// TxFunc runs fn with sinks whose writes commit together when fn returns
// nil and are discarded otherwise. It may rerun fn.
type TxFunc func(ctx context.Context, fn func(SelectorSink, CategorySink) error) error

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithTx makes every Analyze call all-or-nothing.
func WithTx(tx TxFunc) Option {
	return func(a *Analyzer) { a.tx = tx }
}

// New creates an Analyzer. events may be nil if only Analyze is used.
func New(selectors SelectorSink, categories CategorySink, events EventSource, opts ...Option) *Analyzer {
	a := &Analyzer{
		selectors:  selectors,
		categories: categories,
		events:     events,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AnalyzeEvent loads event id and analyzes it. A missing event is logged
// and yields an empty report with no error.
func (a *Analyzer) AnalyzeEvent(ctx context.Context, id string) (*Report, error) {
	if a.events == nil {
		return nil, fmt.Errorf("analyze: no event source")
	}
	ev, err := a.events.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("analyze: load event %s: %w", id, err)
	}
	if ev == nil {
		a.logger.Warn("analyze: event not found, skipping", "event_id", id)
		return &Report{EventID: id, Absent: true}, nil
	}
	return a.Analyze(ctx, ev)
}

// Analyze runs the three passes over ev. It does not deduplicate: analyzing
// the same event twice counts it twice.
func (a *Analyzer) Analyze(ctx context.Context, ev *capture.Event) (*Report, error) {
	domain := domainkey.Normalize(ev.Domain)
	rep := &Report{EventID: ev.ID, Domain: domain}
	log := a.logger.With("event_id", ev.ID, "domain", domain)

	if domain == "" {
		log.Warn("analyze: blank domain, skipping")
		return rep, nil
	}

	run := func(sels SelectorSink, cats CategorySink) error {
		// A rerun starts from a clean report.
		*rep = Report{EventID: ev.ID, Domain: domain}
		if err := discoveredPass(ctx, sels, domain, ev, rep); err != nil {
			return err
		}
		if err := heuristicPass(ctx, sels, domain, ev, rep); err != nil {
			return err
		}
		return categoryPass(ctx, cats, domain, ev, rep)
	}
	var err error
	if a.tx != nil {
		err = a.tx(ctx, run)
	} else {
		err = run(a.selectors, a.categories)
	}
	if err != nil {
		return rep, err
	}

	log.Debug("analyze: done",
		"discovered", len(rep.Discovered),
		"successes", len(rep.Successes),
		"failures", len(rep.Failures),
		"unknown", len(rep.Unknown))
	return rep, nil
}

// discoveredPass records the first candidate of each field. A field is
// visited once even if several keys map to it; keys are taken in lexical
// order so engine names ("price") win over payload aliases ("unit_price").
func discoveredPass(ctx context.Context, sels SelectorSink, domain string, ev *capture.Event, rep *Report) error {
	disc := ev.Context.DiscoveredSelectors
	seen := make(map[capture.Field]bool)
	for _, key := range capture.SortedKeys(disc) {
		cands := disc[key].Candidates
		if len(cands) == 0 {
			continue
		}
		field, ok := capture.ParseField(key)
		if !ok {
			rep.Unknown = append(rep.Unknown, key)
			continue
		}
		if seen[field] {
			continue
		}
		top := cands[0]
		sel := strings.TrimSpace(top.Selector)
		if sel == "" {
			continue
		}
		seen[field] = true
		if err := sels.RecordDiscovered(ctx, domain, field, sel, top.Score); err != nil {
			return fmt.Errorf("analyze: record discovered %s: %w", field, err)
		}
		rep.Discovered = append(rep.Discovered, field)
	}
	return nil
}

func heuristicPass(ctx context.Context, sels SelectorSink, domain string, ev *capture.Event, rep *Report) error {
	used := ev.Context.Selectors
	seen := make(map[capture.Field]bool)
	var blank []capture.Field
	for _, key := range capture.SortedKeys(used) {
		field, ok := capture.ParseField(key)
		if !ok {
			rep.Unknown = append(rep.Unknown, key)
			continue
		}
		if seen[field] {
			continue
		}
		sel := strings.TrimSpace(used[key])
		if sel == "" {
			// Another key of the same field may still carry a selector.
			blank = append(blank, field)
			continue
		}
		seen[field] = true

		var err error
		switch capture.Compare(field, ev.RawPayload, ev.FinalPayload) {
		case capture.Match:
			err = sels.RecordSuccess(ctx, domain, field, sel, capture.MethodHeuristic, nil)
			if err == nil {
				rep.Successes = append(rep.Successes, field)
			}
		case capture.Mismatch:
			err = sels.RecordFailure(ctx, domain, field, sel, capture.MethodHeuristic, nil)
			if err == nil {
				rep.Failures = append(rep.Failures, field)
			}
		default:
			rep.Skipped = append(rep.Skipped, field)
		}
		if err != nil {
			return fmt.Errorf("analyze: record %s: %w", field, err)
		}
	}
	for _, f := range blank {
		if !seen[f] && !slices.Contains(rep.Skipped, f) {
			rep.Skipped = append(rep.Skipped, f)
		}
	}
	return nil
}

func categoryPass(ctx context.Context, cats CategorySink, domain string, ev *capture.Event, rep *Report) error {
	suggested := strings.TrimSpace(ev.Context.SuggestedCategory)
	final := ev.FinalCategoryValue()

	record := func(cat string, success bool) error {
		ok, err := cats.RecordResult(ctx, domain, cat, success)
		if err != nil {
			return fmt.Errorf("analyze: record category %s: %w", cat, err)
		}
		if !ok {
			rep.DiscardedCategories = append(rep.DiscardedCategories, cat)
			return nil
		}
		rep.Categories = append(rep.Categories, CategoryResult{Category: strings.ToLower(cat), Success: success})
		return nil
	}

	same := suggested != "" && strings.EqualFold(suggested, final)
	if suggested != "" {
		if err := record(suggested, same); err != nil {
			return err
		}
	}
	if final != "" && !same {
		return record(final, true)
	}
	return nil
}
