package kit

import "context"

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp", "connectivity"
	RequestIDKey contextKey = "kit_request_id"
	RoleKey      contextKey = "kit_role"
)

// Transport names.
const (
	TransportHTTP         = "http"
	TransportMCP          = "mcp"
	TransportConnectivity = "connectivity"
)

// RoleAdmin marks a caller that presented the admin token.
const RoleAdmin = "admin"

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return TransportHTTP
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

// IsAdmin reports whether the caller authenticated as admin.
func IsAdmin(ctx context.Context) bool {
	return GetRole(ctx) == RoleAdmin
}
