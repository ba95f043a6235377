// Package vtq implements a visibility-timeout job queue backed by SQLite.
//
// A claimed job is hidden from other consumers for Options.Visibility. The
// consumer acks it on success; on failure it is nacked and becomes visible
// again after Options.Backoff multiplied by its attempt count. A consumer that
// crashes mid-job simply lets the timeout expire and the job reappears.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS vtq_jobs (
//	    id          TEXT PRIMARY KEY,
//	    queue       TEXT NOT NULL DEFAULT '',
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- unix ms
//	    created_at  INTEGER NOT NULL,             -- unix ms
//	    attempts    INTEGER NOT NULL DEFAULT 0
//	);
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/seltrust/dbopen"
)

// Schema is the DDL for the job table.
const Schema = `
CREATE TABLE IF NOT EXISTS vtq_jobs (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL DEFAULT '',
	payload     BLOB,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_vtq_visible ON vtq_jobs (queue, visible_at);
`

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name. Several queues share one table.
	Queue string
	// Visibility is how long a claimed job stays hidden. Default: 30s.
	Visibility time.Duration
	// PollInterval is the delay between claim rounds in RunBatch. Default: 1s.
	PollInterval time.Duration
	// Backoff delays redelivery of a nacked job by Backoff*attempts.
	// Zero redelivers immediately.
	Backoff time.Duration
	// MaxAttempts bounds deliveries; a job claimed more often is dropped and
	// handed to OnDiscard. 0 means unlimited.
	MaxAttempts int
	// OnDiscard is called for every job dropped by MaxAttempts.
	OnDiscard func(ctx context.Context, job *Job)
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// Name returns the logical queue name.
func (q *Q) Name() string { return q.opts.Queue }

// EnsureTable creates the vtq_jobs table and index if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

// Publish inserts a job that is immediately visible.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, q.db,
		`INSERT INTO vtq_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, q.opts.Queue, payload, now, now,
	)
	return err
}

const claimReturning = `RETURNING id, queue, payload, visible_at, created_at, attempts`

// Claim atomically picks the oldest visible job, hides it for the visibility
// duration and returns it. Returns nil, nil when nothing is visible.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	jobs, err := q.BatchClaim(ctx, 1)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// BatchClaim atomically claims up to n visible jobs. It returns an empty
// (non-nil) slice when no jobs are available.
func (q *Q) BatchClaim(ctx context.Context, n int) ([]*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE vtq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM vtq_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT ?
		)
		`+claimReturning,
		hideUntil, q.opts.Queue, now.UnixMilli(), n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		var j Job
		var visAt, creAt int64
		if err := rows.Scan(&j.ID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts); err != nil {
			return nil, err
		}
		j.VisibleAt = time.UnixMilli(visAt)
		j.CreatedAt = time.UnixMilli(creAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// Ack deletes a successfully processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, q.db,
		`DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Nack releases a job for redelivery after Backoff*attempts.
func (q *Q) Nack(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, q.db,
		`UPDATE vtq_jobs SET visible_at = ? + attempts * ? WHERE id = ? AND queue = ?`,
		now, q.opts.Backoff.Milliseconds(), id, q.opts.Queue,
	)
	return err
}

// Len returns the total number of jobs (visible + hidden) in the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vtq_jobs WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// Counts splits the queue into jobs ready to claim and jobs currently hidden.
func (q *Q) Counts(ctx context.Context) (ready, hidden int, err error) {
	err = q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visible_at >  ? THEN 1 ELSE 0 END), 0)
		FROM vtq_jobs WHERE queue = ?`,
		time.Now().UnixMilli(), time.Now().UnixMilli(), q.opts.Queue,
	).Scan(&ready, &hidden)
	return ready, hidden, err
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// ErrStopped is returned by Drain when ctx ends before the queue empties.
var ErrStopped = errors.New("vtq: stopped before queue drained")

// RunBatch polls in batches and processes jobs with bounded concurrency.
// It blocks until ctx is cancelled, draining in-flight handlers before
// returning.
func (q *Q) RunBatch(ctx context.Context, batchSize, maxConcurrency int, handler Handler) {
	if batchSize <= 0 {
		batchSize = 1
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	log := q.opts.Logger
	log.Info("vtq: batch consumer started",
		"queue", q.opts.Queue,
		"batch_size", batchSize,
		"max_concurrency", maxConcurrency,
		"visibility", q.opts.Visibility,
	)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info("vtq: batch consumer stopped", "queue", q.opts.Queue)
			return
		case <-ticker.C:
			if !q.round(ctx, batchSize, sem, &wg, handler) {
				wg.Wait()
				return
			}
		}
	}
}

// Drain processes jobs until none is visible, then waits for in-flight
// handlers. Used by one-shot commands and tests.
func (q *Q) Drain(ctx context.Context, batchSize, maxConcurrency int, handler Handler) error {
	if batchSize <= 0 {
		batchSize = 1
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for {
		ready, _, err := q.Counts(ctx)
		if err != nil {
			wg.Wait()
			return err
		}
		if ready == 0 {
			wg.Wait()
			if ready, _, err = q.Counts(ctx); err != nil || ready == 0 {
				return err
			}
		}
		if !q.round(ctx, batchSize, sem, &wg, handler) {
			wg.Wait()
			return ErrStopped
		}
	}
}

// round claims one batch and dispatches it. It returns false when ctx ended.
func (q *Q) round(ctx context.Context, batchSize int, sem chan struct{}, wg *sync.WaitGroup, handler Handler) bool {
	log := q.opts.Logger
	jobs, err := q.BatchClaim(ctx, batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn("vtq: batch claim failed", "error", err, "queue", q.opts.Queue)
		return true
	}

	for _, job := range jobs {
		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("vtq: job exceeded max attempts, discarding",
				"id", job.ID, "attempts", job.Attempts, "queue", q.opts.Queue)
			_ = q.Ack(ctx, job.ID)
			if q.opts.OnDiscard != nil {
				q.opts.OnDiscard(ctx, job)
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = q.Nack(context.Background(), job.ID)
			return false
		}

		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := handler(ctx, j); err != nil {
				log.Warn("vtq: handler failed, nacking", "id", j.ID, "attempts", j.Attempts, "error", err, "queue", q.opts.Queue)
				_ = q.Nack(context.Background(), j.ID)
			} else {
				_ = q.Ack(context.Background(), j.ID)
			}
		}(job)
	}
	return true
}
