package selectors

import (
	"context"

	"github.com/hazyhaar/seltrust/observability"
	"github.com/hazyhaar/seltrust/vtq"
)

// handleJob analyses the event whose id is the job payload. A store error
// rolls the whole analysis back and nacks the job, so the redelivered job
// counts the event once.
func (e *Engine) handleJob(ctx context.Context, job *vtq.Job) error {
	_, err := e.AnalyzeEvent(ctx, string(job.Payload))
	return err
}

// onDiscard runs for jobs that exhausted worker.max_attempts.
func (e *Engine) onDiscard(ctx context.Context, job *vtq.Job) {
	e.metrics.Add(observability.MetricJobsDropped, 1, map[string]string{"queue": job.Queue})
	e.logger.Error("seltrust: analysis job dropped",
		"job_id", job.ID,
		"event_id", string(job.Payload),
		"attempts", job.Attempts)
}
