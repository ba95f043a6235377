// Package selectors is the seltrust engine: it learns which extraction
// selectors can be trusted on each shop domain from what users keep or
// correct in their captures, and recommends the best one per field.
//
// The pipeline:
//
//	capture → store event → vtq job → analyze → selector/category counters
//	BestSelectors(domain) → thresholds over Wilson confidence
//
// Usage:
//
//	e, err := selectors.New(cfg, logger, selectors.WithRouter(router))
//	defer e.Close()
//	e.RegisterMCP(mcpServer)
//	e.RegisterConnectivity(router)
//	e.Start(ctx)
//	http.ListenAndServe(cfg.HTTPAddr, e.Handler())
package selectors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/seltrust/analyze"
	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/connectivity"
	"github.com/hazyhaar/seltrust/dbopen"
	"github.com/hazyhaar/seltrust/domainkey"
	"github.com/hazyhaar/seltrust/idgen"
	"github.com/hazyhaar/seltrust/observability"
	"github.com/hazyhaar/seltrust/selectors/internal/store"
	"github.com/hazyhaar/seltrust/shield"
	"github.com/hazyhaar/seltrust/vtq"
)

// ErrInvalidInput is returned for malformed API input.
var ErrInvalidInput = errors.New("seltrust: invalid input")

// ErrNotFound is returned by admin operations on a missing record.
var ErrNotFound = store.ErrNotFound

// QueueName is the vtq queue carrying analysis jobs.
const QueueName = "seltrust_analyze"

// Engine is the seltrust orchestrator.
type Engine struct {
	store     *store.Store
	analyzer  *analyze.Analyzer
	queue     *vtq.Q
	metrics   *observability.MetricsManager
	events    *observability.EventLogger
	metricsDB *sql.DB
	router    *connectivity.Router
	stack     []func(http.Handler) http.Handler
	mm        *shield.MaintenanceMode
	rl        *shield.RateLimiter
	logger    *slog.Logger
	config    *Config
	newJobID  idgen.Generator
	ep        endpointSet

	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithRouter exposes the router on POST /v1/services/{service}.
func WithRouter(r *connectivity.Router) Option {
	return func(e *Engine) { e.router = r }
}

// WithJobIDGenerator overrides the analysis job id generator.
func WithJobIDGenerator(gen idgen.Generator) Option {
	return func(e *Engine) { e.newJobID = gen }
}

// New opens the databases, applies every schema and wires the analyzer,
// queue and metrics.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(s, cfg, logger, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return e, nil
}

func newEngine(s *store.Store, cfg *Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	ctx := context.Background()
	if err := connectivity.Init(ctx, s.DB); err != nil {
		return nil, fmt.Errorf("seltrust: routes schema: %w", err)
	}
	if err := shield.Init(ctx, s.DB); err != nil {
		return nil, fmt.Errorf("seltrust: shield schema: %w", err)
	}

	metricsDB := s.DB
	if cfg.MetricsDBPath != "" {
		db, err := dbopen.Open(cfg.MetricsDBPath, dbopen.WithMkdirAll())
		if err != nil {
			return nil, fmt.Errorf("seltrust: metrics db: %w", err)
		}
		metricsDB = db
	}
	if err := observability.Init(ctx, metricsDB); err != nil {
		return nil, fmt.Errorf("seltrust: observability schema: %w", err)
	}

	e := &Engine{
		store:     s,
		metricsDB: metricsDB,
		logger:    logger,
		config:    cfg,
		newJobID:  idgen.Job,
	}
	for _, o := range opts {
		o(e)
	}

	e.analyzer = analyze.New(selectorSink{s}, s, s,
		analyze.WithLogger(logger),
		analyze.WithTx(func(ctx context.Context, fn func(analyze.SelectorSink, analyze.CategorySink) error) error {
			return s.InTx(ctx, func(ts *store.Store) error {
				return fn(selectorSink{ts}, ts)
			})
		}))
	e.ep = e.buildEndpoints()
	e.metrics = observability.NewMetricsManager(metricsDB, cfg.Metrics.BufferSize, cfg.Metrics.FlushInterval, logger)
	e.events = observability.NewEventLogger(metricsDB, observability.WithEventLogger(logger))
	e.stack, e.mm, e.rl = shield.DefaultStack(s.DB, cfg.MaxBodyBytes, "/health", "/v1/admin/")

	e.queue = vtq.New(s.DB, vtq.Options{
		Queue:        QueueName,
		Visibility:   cfg.Worker.Visibility,
		PollInterval: cfg.Worker.PollInterval,
		Backoff:      cfg.Worker.Backoff,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		OnDiscard:    e.onDiscard,
		Logger:       logger,
	})
	if err := e.queue.EnsureTable(ctx); err != nil {
		e.metrics.Close()
		return nil, fmt.Errorf("seltrust: queue table: %w", err)
	}
	return e, nil
}

// Start launches the analysis worker, the shield reloaders and the
// retention sweeper. They stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.queue.RunBatch(ctx, e.config.Worker.BatchSize, e.config.Worker.Concurrency, e.handleJob)
	e.mm.StartReloader(ctx.Done())
	e.rl.StartReloader(ctx.Done())
	go e.sweep(ctx)
	e.logger.Info("seltrust: started",
		"db", e.config.DBPath,
		"concurrency", e.config.Worker.Concurrency)
}

// Close flushes metrics and closes the databases.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.metrics.Close()
		if e.metricsDB != e.store.DB {
			e.metricsDB.Close()
		}
		err = e.store.Close()
	})
	return err
}

// DB returns the main database (routes table, queue, counters).
func (e *Engine) DB() *sql.DB {
	return e.store.DB
}

// SubmitCapture stores ev and enqueues it for analysis. The event id is
// generated when blank and returned.
func (e *Engine) SubmitCapture(ctx context.Context, ev *capture.Event) (string, error) {
	if ev == nil || strings.TrimSpace(ev.Domain) == "" {
		return "", fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	if err := e.store.InsertEvent(ctx, ev); err != nil {
		if dbopen.IsConstraint(err) {
			return "", fmt.Errorf("%w: duplicate event id %s", ErrInvalidInput, ev.ID)
		}
		return "", err
	}
	if err := e.Enqueue(ctx, ev.ID); err != nil {
		return ev.ID, err
	}
	return ev.ID, nil
}

// Enqueue publishes an analysis job for a stored event.
func (e *Engine) Enqueue(ctx context.Context, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if err := e.queue.Publish(ctx, e.newJobID(), []byte(eventID)); err != nil {
		return fmt.Errorf("seltrust: enqueue %s: %w", eventID, err)
	}
	return nil
}

// AnalyzeEvent runs the analysis of one stored event synchronously and
// records its metrics.
func (e *Engine) AnalyzeEvent(ctx context.Context, eventID string) (*analyze.Report, error) {
	start := time.Now()
	rep, err := e.analyzer.AnalyzeEvent(ctx, eventID)
	e.metrics.Observe(observability.MetricAnalysisMs, time.Since(start), nil)

	switch {
	case err != nil:
		e.metrics.Add(observability.MetricAnalyses, 1, map[string]string{"outcome": "failed"})
		return rep, err
	case rep.Absent:
		e.metrics.Add(observability.MetricAnalyses, 1, map[string]string{"outcome": "absent"})
		return rep, nil
	}

	e.metrics.Add(observability.MetricAnalyses, 1, map[string]string{"outcome": "done"})
	if n := len(rep.Unknown); n > 0 {
		e.metrics.Add(observability.MetricDiscarded, float64(n), map[string]string{"reason": "unknown_field"})
	}
	if n := len(rep.DiscardedCategories); n > 0 {
		e.metrics.Add(observability.MetricDiscarded, float64(n), map[string]string{"reason": "invalid_category"})
	}
	e.logger.Info("seltrust: analysis done",
		"event_id", eventID,
		"domain", rep.Domain,
		"mutations", rep.Mutations(),
		"unknown", len(rep.Unknown),
		"discarded_categories", len(rep.DiscardedCategories))
	return rep, nil
}

// DrainQueue analyses every pending job and returns once the queue is empty.
func (e *Engine) DrainQueue(ctx context.Context) error {
	return e.queue.Drain(ctx, e.config.Worker.BatchSize, e.config.Worker.Concurrency, e.handleJob)
}

func (e *Engine) thresholds() store.Thresholds {
	return store.Thresholds{
		MinSamples:              e.config.Thresholds.MinSamples,
		MinConfidence:           e.config.Thresholds.MinConfidence,
		DiscoveredMinConfidence: e.config.Thresholds.DiscoveredMinConfidence,
	}
}

// BestSelectors returns the recommended selector per field name for a
// domain. Fields with no trustworthy selector are absent.
func (e *Engine) BestSelectors(ctx context.Context, domain string) (map[string]string, error) {
	if domainkey.Normalize(domain) == "" {
		return nil, fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	best, err := e.store.BestForDomain(ctx, domain, e.thresholds())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(best))
	for f, sel := range best {
		out[string(f)] = sel
	}
	return out, nil
}

// BestCategory returns the recommended category for a domain.
func (e *Engine) BestCategory(ctx context.Context, domain string) (string, bool, error) {
	if domainkey.Normalize(domain) == "" {
		return "", false, fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	cat, ok, err := e.store.BestCategory(ctx, domain, e.thresholds())
	return string(cat), ok, err
}

// DomainRecords lists every record of a domain with its confidence.
type DomainRecords struct {
	Domain     string                  `json:"domain"`
	Selectors  []*store.SelectorRecord `json:"selectors"`
	Categories []*store.CategoryRecord `json:"categories"`
}

// DomainRecords returns the selector and category records of a domain.
func (e *Engine) DomainRecords(ctx context.Context, domain string) (*DomainRecords, error) {
	d := domainkey.Normalize(domain)
	if d == "" {
		return nil, fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	sels, err := e.store.ListForDomain(ctx, d)
	if err != nil {
		return nil, err
	}
	cats, err := e.store.ListCategories(ctx, d)
	if err != nil {
		return nil, err
	}
	if sels == nil {
		sels = []*store.SelectorRecord{}
	}
	if cats == nil {
		cats = []*store.CategoryRecord{}
	}
	return &DomainRecords{Domain: d, Selectors: sels, Categories: cats}, nil
}

// Stats summarises the engine state.
type Stats struct {
	Domains    int                `json:"domains"`
	Selectors  int                `json:"selectors"`
	Categories int                `json:"categories"`
	Events     int                `json:"events"`
	QueueReady int                `json:"queue_ready"`
	QueueBusy  int                `json:"queue_in_flight"`
	Analyses   map[string]float64 `json:"analyses"`
	Discarded  map[string]float64 `json:"discarded"`
	Dropped    float64            `json:"jobs_dropped"`
}

// Stats returns table sizes, queue depth and metric totals.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	c, err := e.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	ready, hidden, err := e.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	analyses, err := e.metrics.Totals(ctx, observability.MetricAnalyses, "outcome")
	if err != nil {
		return nil, err
	}
	discarded, err := e.metrics.Totals(ctx, observability.MetricDiscarded, "reason")
	if err != nil {
		return nil, err
	}
	dropped, err := e.metrics.Totals(ctx, observability.MetricJobsDropped, "queue")
	if err != nil {
		return nil, err
	}
	var total float64
	for _, v := range dropped {
		total += v
	}
	return &Stats{
		Domains:    c.Domains,
		Selectors:  c.Selectors,
		Categories: c.Categories,
		Events:     c.Events,
		QueueReady: ready,
		QueueBusy:  hidden,
		Analyses:   analyses,
		Discarded:  discarded,
		Dropped:    total,
	}, nil
}

// sweep drops metrics and admin events older than the retention period.
func (e *Engine) sweep(ctx context.Context) {
	tick := time.NewTicker(time.Hour)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n, err := e.metrics.Cleanup(ctx, e.config.Metrics.Retention); err != nil {
				e.logger.Warn("seltrust: metrics cleanup failed", "error", err)
			} else if n > 0 {
				e.logger.Info("seltrust: metrics cleaned", "deleted", n)
			}
			if _, err := e.events.CleanupEvents(ctx, e.config.Metrics.Retention); err != nil {
				e.logger.Warn("seltrust: event cleanup failed", "error", err)
			}
		}
	}
}

// selectorSink adapts the store to analyze.SelectorSink.
type selectorSink struct{ s *store.Store }

func (k selectorSink) RecordSuccess(ctx context.Context, domain string, f capture.Field, sel string, m capture.Method, score *float64) error {
	_, err := k.s.RecordSuccess(ctx, domain, f, sel, m, score)
	return err
}

func (k selectorSink) RecordFailure(ctx context.Context, domain string, f capture.Field, sel string, m capture.Method, score *float64) error {
	_, err := k.s.RecordFailure(ctx, domain, f, sel, m, score)
	return err
}

func (k selectorSink) RecordDiscovered(ctx context.Context, domain string, f capture.Field, sel string, score *float64) error {
	_, err := k.s.RecordDiscovered(ctx, domain, f, sel, score)
	return err
}
