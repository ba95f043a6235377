package selectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/observability"
	"github.com/hazyhaar/seltrust/selectors/internal/store"
)

// AdminEventType tags admin actions in business_event_logs.
const AdminEventType = "seltrust_admin"

// SelectorRecord is a stored selector with its derived confidence.
type SelectorRecord = store.SelectorRecord

// DomainStat is one row of the domain leaderboard.
type DomainStat = store.DomainStat

// AddManualSelector registers an operator-supplied selector for a domain
// field. An existing record is returned unchanged with created=false.
func (e *Engine) AddManualSelector(ctx context.Context, actor, domain, field, selector string) (*SelectorRecord, bool, error) {
	f, ok := capture.ParseField(field)
	if !ok {
		return nil, false, fmt.Errorf("%w: unknown field %q", ErrInvalidInput, field)
	}
	rec, created, err := e.store.AddManual(ctx, domain, f, selector)
	if errors.Is(err, store.ErrInvalidKey) {
		return nil, false, fmt.Errorf("%w: domain and selector are required", ErrInvalidInput)
	}
	e.audit(ctx, actor, "add_manual", rec, err, map[string]any{"created": created})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

// DeleteSelector removes a selector record.
func (e *Engine) DeleteSelector(ctx context.Context, actor string, id int64) error {
	rec, err := e.store.GetSelector(ctx, id)
	if err == nil && rec == nil {
		err = store.ErrNotFound
	}
	if err == nil {
		err = e.store.DeleteSelector(ctx, id)
	}
	if rec == nil {
		rec = &store.SelectorRecord{ID: id}
	}
	e.audit(ctx, actor, "delete", rec, err, nil)
	return err
}

// ResetSelector zeroes the counters of a selector record.
func (e *Engine) ResetSelector(ctx context.Context, actor string, id int64) (*SelectorRecord, error) {
	before, err := e.store.GetSelector(ctx, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		e.audit(ctx, actor, "reset", &store.SelectorRecord{ID: id}, store.ErrNotFound, nil)
		return nil, store.ErrNotFound
	}
	rec, err := e.store.ResetSelector(ctx, id)
	e.audit(ctx, actor, "reset", before, err, map[string]any{
		"success_count": before.SuccessCount,
		"failure_count": before.FailureCount,
	})
	return rec, err
}

// Leaderboard ranks domains by observation volume.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]*DomainStat, error) {
	return e.store.DomainLeaderboard(ctx, limit)
}

// AdminEvents returns recent admin actions, newest first.
func (e *Engine) AdminEvents(ctx context.Context, limit int) ([]observability.BusinessEvent, error) {
	return e.events.Recent(ctx, AdminEventType, limit)
}

// SetMaintenance toggles the maintenance switch of the HTTP API.
func (e *Engine) SetMaintenance(ctx context.Context, actor string, active bool, message string) error {
	err := e.mm.Set(ctx, active, message)
	details, _ := json.Marshal(map[string]any{"active": active, "message": message})
	e.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   AdminEventType,
		ServiceName: "seltrust",
		EntityType:  "maintenance",
		Actor:       actor,
		Action:      "set_maintenance",
		Details:     string(details),
		Success:     err == nil,
	})
	return err
}

func (e *Engine) audit(ctx context.Context, actor, action string, rec *SelectorRecord, opErr error, extra map[string]any) {
	details := map[string]any{}
	for k, v := range extra {
		details[k] = v
	}
	var id string
	if rec != nil {
		id = strconv.FormatInt(rec.ID, 10)
		if rec.Domain != "" {
			details["domain"] = rec.Domain
			details["field"] = rec.Field
			details["selector"] = rec.Selector
		}
	}
	if opErr != nil {
		details["error"] = opErr.Error()
	}
	b, _ := json.Marshal(details)
	e.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   AdminEventType,
		ServiceName: "seltrust",
		EntityType:  "selector",
		EntityID:    id,
		Actor:       actor,
		Action:      action,
		Details:     string(b),
		Success:     opErr == nil,
	})
}
