// Package shield holds the HTTP middleware in front of the seltrust API:
// security headers, body limits, request ids, per-IP rate limiting and a
// maintenance switch. Rate limit rules and the maintenance flag live in
// SQLite so an operator can change them without a restart.
//
// Usage:
//
//	stack, mm, rl := shield.DefaultStack(db, "/health")
//	mm.StartReloader(done)
//	rl.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// DefaultStack returns the middleware stack of the seltrust API, ordered
// Maintenance → SecurityHeaders → MaxBody → RequestID → RateLimiter.
// Paths under exclude bypass maintenance and rate limiting.
func DefaultStack(db *sql.DB, maxBody int64, exclude ...string) ([]func(http.Handler) http.Handler, *MaintenanceMode, *RateLimiter) {
	mm := NewMaintenanceMode(db, exclude...)
	rl := NewRateLimiter(db, exclude...)
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		RequestID,
		rl.Middleware,
	}, mm, rl
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
