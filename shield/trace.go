package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/seltrust/horosafe"
	"github.com/hazyhaar/seltrust/idgen"
	"github.com/hazyhaar/seltrust/kit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

var newRequestID = idgen.Prefixed("req_", idgen.UUIDv7())

// RequestID reuses a well-formed incoming X-Request-ID or mints one, and
// stores it in the context (kit.RequestIDKey), the response headers and a
// per-request logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if horosafe.ValidateIdentifier(id) != nil {
			id = newRequestID()
		}

		ctx := kit.WithRequestID(r.Context(), id)
		w.Header().Set(RequestIDHeader, id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
