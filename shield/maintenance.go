package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/seltrust/dbopen"
)

// MaintenanceMode answers 503 to every request while the maintenance flag is
// set. Operators use it to stop capture intake during a database migration.
// A missing table or row means maintenance is off.
type MaintenanceMode struct {
	db      *sql.DB
	active  atomic.Bool
	message atomic.Value // string
	exclude []string
}

// NewMaintenanceMode creates a checker and loads the flag once. Paths under
// excludePrefixes are never blocked.
func NewMaintenanceMode(db *sql.DB, excludePrefixes ...string) *MaintenanceMode {
	m := &MaintenanceMode{
		db:      db,
		exclude: excludePrefixes,
	}
	m.message.Store("seltrust is under maintenance")
	m.reload()
	return m
}

// Active reports whether maintenance mode is currently on.
func (m *MaintenanceMode) Active() bool {
	return m.active.Load()
}

// Message returns the current maintenance message.
func (m *MaintenanceMode) Message() string {
	s, _ := m.message.Load().(string)
	return s
}

// Set writes the flag and applies it immediately. An empty message keeps
// the stored one.
func (m *MaintenanceMode) Set(ctx context.Context, active bool, message string) error {
	flag := 0
	if active {
		flag = 1
	}
	_, err := dbopen.Exec(ctx, m.db, `
		INSERT INTO maintenance (id, active, message) VALUES (1, ?, COALESCE(NULLIF(?, ''), 'seltrust is under maintenance'))
		ON CONFLICT(id) DO UPDATE SET
			active = excluded.active,
			message = COALESCE(NULLIF(?, ''), message)`,
		flag, message, message)
	if err != nil {
		return err
	}
	m.reload()
	return nil
}

// StartReloader reloads the flag every 5 seconds until done is closed.
func (m *MaintenanceMode) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.reload()
			}
		}
	}()
}

func (m *MaintenanceMode) reload() {
	var active int
	var message string
	err := m.db.QueryRow(`SELECT active, message FROM maintenance WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		if m.active.Load() {
			slog.Info("maintenance: flag cleared (table missing or empty)")
		}
		m.active.Store(false)
		return
	}

	was := m.active.Load()
	m.active.Store(active == 1)
	if message != "" {
		m.message.Store(message)
	}

	switch {
	case active == 1 && !was:
		slog.Warn("maintenance: mode enabled", "message", message)
	case active != 1 && was:
		slog.Info("maintenance: mode disabled")
	}
}

// Middleware blocks requests with a JSON 503 while maintenance is active.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.active.Load() {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range m.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Retry-After", "300")
		writeJSONError(w, http.StatusServiceUnavailable, m.Message())
	})
}
