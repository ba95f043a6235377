package connectivity

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/seltrust/watch"
)

// routesQuery selects every column Reload depends on.
const routesQuery = `SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}')
	FROM routes ORDER BY service_name`

// Watch loads the routes table, then reloads it whenever its content
// changes. It blocks until ctx is cancelled.
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: initial reload failed", "error", err)
	}
	w := watch.New(db, watch.Options{
		Interval: interval,
		Detector: watch.QueryDetector(routesQuery),
		Logger:   r.logger,
	})
	w.OnChange(ctx, func(ctx context.Context) error {
		return r.Reload(ctx, db)
	})
	r.logger.Info("connectivity: watcher stopped", "reloads", w.Stats().Reloads)
}
