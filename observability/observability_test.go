package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/seltrust/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_CreatesTables(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"metrics_timeseries", "business_event_logs"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()

	mm.Add(MetricDiscarded, 1, map[string]string{"reason": "unknown_field"})
	mm.Observe(MetricAnalysisMs, 1500*time.Microsecond, nil)
	mm.Flush()

	ctx := context.Background()
	got, err := mm.Query(ctx, MetricDiscarded, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("discarded count: got %d", len(got))
	}
	if got[0].Labels["reason"] != "unknown_field" || got[0].Unit != "count" {
		t.Fatalf("metric: %+v", got[0])
	}

	dur, err := mm.Query(ctx, MetricAnalysisMs, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dur) != 1 || dur[0].Value != 1.5 {
		t.Fatalf("duration metric: %+v", dur)
	}

	all, _ := mm.Query(ctx, "", time.Time{}, 0)
	if len(all) != 2 {
		t.Fatalf("all metrics count: got %d", len(all))
	}
}

func TestMetricsManager_Totals(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()

	mm.Add(MetricDiscarded, 2, map[string]string{"reason": "unknown_field"})
	mm.Add(MetricDiscarded, 1, map[string]string{"reason": "invalid_category"})
	mm.Add(MetricDiscarded, 3, map[string]string{"reason": "unknown_field"})
	mm.Add(MetricDiscarded, 1, nil)
	mm.Add(MetricAnalyses, 1, map[string]string{"outcome": "done"})

	// Totals flushes pending metrics itself.
	totals, err := mm.Totals(context.Background(), MetricDiscarded, "reason")
	if err != nil {
		t.Fatal(err)
	}
	if totals["unknown_field"] != 5 || totals["invalid_category"] != 1 || totals[""] != 1 {
		t.Fatalf("totals: %v", totals)
	}
	if len(totals) != 3 {
		t.Fatalf("unexpected groups: %v", totals)
	}
}

func TestMetricsManager_BufferFlushesWhenFull(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour, nil)
	defer mm.Close()

	mm.Add("m", 1, nil)
	mm.Add("m", 1, nil)

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 2 {
		t.Fatalf("rows after full buffer: got %d, want 2", n)
	}
}

func TestMetricsManager_CloseFlushes(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	mm.Add("m", 1, nil)
	mm.Close()
	mm.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 1 {
		t.Fatalf("rows after close: got %d, want 1", n)
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()

	mm.Record(&Metric{Name: "old", Timestamp: time.Now().Add(-40 * 24 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: "new", Value: 2})
	mm.Flush()

	deleted, err := mm.Cleanup(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: got %d", deleted)
	}
}

func TestEventLogger_LogAndRecent(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)
	ctx := context.Background()

	el.LogEvent(ctx, BusinessEvent{
		EventType:   "selector_admin",
		ServiceName: "seltrust",
		EntityType:  "selector",
		EntityID:    "42",
		Actor:       "admin",
		Action:      "reset",
		Success:     true,
	})
	el.LogEvent(ctx, BusinessEvent{EventType: "other", ServiceName: "seltrust", Action: "x", Success: true})

	got, err := el.Recent(ctx, "selector_admin", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("recent: got %d events", len(got))
	}
	if got[0].Action != "reset" || got[0].EntityID != "42" || !got[0].Success {
		t.Fatalf("event: %+v", got[0])
	}
}

func TestEventLogger_WithIDGenerator(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db, WithEventIDGenerator(func() string { return "evt_custom" }))

	el.LogEvent(context.Background(), BusinessEvent{EventType: "t", ServiceName: "t", Action: "t", Success: true})

	var id string
	db.QueryRow("SELECT event_id FROM business_event_logs LIMIT 1").Scan(&id)
	if id != "evt_custom" {
		t.Fatalf("custom event_id: got %q", id)
	}
}

func TestEventLogger_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)

	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec(`INSERT INTO business_event_logs (event_id, event_type, service_name, action, success, created_at)
		VALUES ('e1', 't', 'seltrust', 'a', 1, ?)`, old)

	n, err := el.CleanupEvents(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted: got %d", n)
	}
}
