package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/dbopen"
)

// InsertEvent stores a capture event. A blank ID is filled from the store's
// generator and a zero CreatedAt with the current time. The domain is
// stored as submitted; normalization happens at analysis.
func (s *Store) InsertEvent(ctx context.Context, ev *capture.Event) error {
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = s.newID()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = s.now()
	}
	raw, err := marshalObject(ev.RawPayload)
	if err != nil {
		return fmt.Errorf("store: marshal raw payload: %w", err)
	}
	final, err := marshalObject(ev.FinalPayload)
	if err != nil {
		return fmt.Errorf("store: marshal final payload: %w", err)
	}
	evCtx, err := json.Marshal(ev.Context)
	if err != nil {
		return fmt.Errorf("store: marshal context: %w", err)
	}

	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO capture_events (id, domain, raw_payload, final_payload, context, final_category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Domain, raw, final, string(evCtx), ev.FinalCategory, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// GetEvent loads a capture event by id. Returns nil, nil if absent.
// Payload columns that do not decode to JSON objects load as empty.
func (s *Store) GetEvent(ctx context.Context, id string) (*capture.Event, error) {
	var ev capture.Event
	var raw, final, evCtx string
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, domain, raw_payload, final_payload, context, final_category, created_at
		FROM capture_events WHERE id = ?`, id).Scan(
		&ev.ID, &ev.Domain, &raw, &final, &evCtx, &ev.FinalCategory, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get event: %w", err)
	}
	ev.RawPayload = unmarshalObject(raw)
	ev.FinalPayload = unmarshalObject(final)
	_ = json.Unmarshal([]byte(evCtx), &ev.Context)
	return &ev, nil
}

func marshalObject(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalObject(s string) map[string]any {
	var m map[string]any
	if json.Unmarshal([]byte(s), &m) != nil || m == nil {
		return map[string]any{}
	}
	return m
}
