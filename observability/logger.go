package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/seltrust/idgen"
)

// BusinessEvent is one admin-visible action, e.g. a manual selector added
// or counters reset.
type BusinessEvent struct {
	EventType   string    `json:"event_type"`
	ServiceName string    `json:"service_name"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Action      string    `json:"action"`
	Details     string    `json:"details,omitempty"` // optional JSON
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventLogger writes business events.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger used to report write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a logger backed by the given database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.UUIDv7()),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Failures are logged, not returned.
func (l *EventLogger) LogEvent(ctx context.Context, ev BusinessEvent) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			actor, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.EventType, ev.ServiceName, ev.EntityType, ev.EntityID,
		ev.Actor, ev.Action, ev.Details, ev.Success, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.EventType)
	}
}

// Recent returns the latest events of one type, newest first.
func (l *EventLogger) Recent(ctx context.Context, eventType string, limit int) ([]BusinessEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, service_name, COALESCE(entity_type, ''), COALESCE(entity_id, ''),
		       COALESCE(actor, ''), action, COALESCE(details, ''), success, created_at
		FROM business_event_logs WHERE event_type = ?
		ORDER BY created_at DESC, event_id DESC LIMIT ?`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent events: %w", err)
	}
	defer rows.Close()

	var out []BusinessEvent
	for rows.Next() {
		var ev BusinessEvent
		var ts int64
		if err := rows.Scan(&ev.EventType, &ev.ServiceName, &ev.EntityType, &ev.EntityID,
			&ev.Actor, &ev.Action, &ev.Details, &ev.Success, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.CreatedAt = time.Unix(ts, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CleanupEvents deletes events older than retention.
func (l *EventLogger) CleanupEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM business_event_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup events: %w", err)
	}
	return res.RowsAffected()
}
