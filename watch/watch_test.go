package watch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// One connection so every caller sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func setUserVersion(t *testing.T, db *sql.DB, v int) {
	t.Helper()
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPragmaUserVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if v, err := PragmaUserVersion(ctx, db); err != nil || v != 0 {
		t.Fatalf("initial = %d, %v", v, err)
	}
	setUserVersion(t, db, 42)
	if v, err := PragmaUserVersion(ctx, db); err != nil || v != 42 {
		t.Fatalf("after bump = %d, %v", v, err)
	}
}

func TestMaxColumnDetector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.Exec(`CREATE TABLE routes (service_name TEXT, updated_at INTEGER)`); err != nil {
		t.Fatal(err)
	}

	det := MaxColumnDetector("routes", "updated_at")
	if v, err := det(ctx, db); err != nil || v != 0 {
		t.Fatalf("empty = %d, %v", v, err)
	}
	db.Exec(`INSERT INTO routes VALUES ('seltrust_analyze', 100)`)
	if v, err := det(ctx, db); err != nil || v != 100 {
		t.Fatalf("after insert = %d, %v", v, err)
	}
}

func TestQueryDetector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.Exec(`CREATE TABLE routes (service_name TEXT PRIMARY KEY, endpoint TEXT)`); err != nil {
		t.Fatal(err)
	}
	det := QueryDetector(`SELECT service_name, endpoint FROM routes ORDER BY service_name`)

	tok := func() int64 {
		t.Helper()
		v, err := det(ctx, db)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	empty := tok()
	db.Exec(`INSERT INTO routes VALUES ('seltrust_analyze', 'https://a.example')`)
	inserted := tok()
	if inserted == empty {
		t.Fatal("insert not detected")
	}
	if tok() != inserted {
		t.Fatal("token not stable without writes")
	}

	db.Exec(`UPDATE routes SET endpoint = 'https://b.example'`)
	updated := tok()
	if updated == inserted {
		t.Fatal("update not detected")
	}

	db.Exec(`UPDATE routes SET endpoint = NULL`)
	if tok() == updated {
		t.Fatal("NULL not distinguished from a value")
	}

	db.Exec(`DELETE FROM routes`)
	if tok() != empty {
		t.Fatal("empty table should hash like the initial state")
	}
}

func TestOnChange_FiresOnVersionChange(t *testing.T) {
	db := testDB(t)
	var reloads atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: PragmaUserVersion})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func(context.Context) error {
		reloads.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	setUserVersion(t, db, 1)
	waitFor(t, "first reload", func() bool { return reloads.Load() == 1 })

	setUserVersion(t, db, 2)
	waitFor(t, "second reload", func() bool { return reloads.Load() == 2 })

	time.Sleep(80 * time.Millisecond)
	if got := reloads.Load(); got != 2 {
		t.Fatalf("reloads = %d without a change, want 2", got)
	}
	if w.Version() != 2 {
		t.Fatalf("Version = %d, want 2", w.Version())
	}
}

func TestOnChange_Debounce(t *testing.T) {
	db := testDB(t)
	var reloads atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Debounce: 150 * time.Millisecond,
		Detector: PragmaUserVersion,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func(context.Context) error {
		reloads.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	for i := 1; i <= 5; i++ {
		setUserVersion(t, db, i)
		time.Sleep(15 * time.Millisecond)
	}
	if got := reloads.Load(); got != 0 {
		t.Fatalf("reloads = %d inside the debounce window", got)
	}

	waitFor(t, "debounced reload", func() bool { return reloads.Load() == 1 })
	time.Sleep(200 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d, want exactly 1", got)
	}
	if w.Version() != 5 {
		t.Fatalf("Version = %d, want 5", w.Version())
	}
}

func TestOnChange_FailedActionRetries(t *testing.T) {
	db := testDB(t)
	var calls atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: PragmaUserVersion})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("routes locked")
		}
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	setUserVersion(t, db, 1)
	waitFor(t, "retry", func() bool { return w.Version() == 1 })

	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want a failure then a success", calls.Load())
	}
	s := w.Stats()
	if s.Errors == 0 || s.Reloads == 0 || s.Checks == 0 || s.ChangesDetected == 0 {
		t.Fatalf("stats = %+v", s)
	}
}
