package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/seltrust/dbopen"
	"github.com/hazyhaar/seltrust/kit"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMaintenance_Off(t *testing.T) {
	mm := NewMaintenanceMode(setupDB(t))
	w := serve(mm.Middleware(okHandler()), "POST", "/v1/captures")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestMaintenance_On(t *testing.T) {
	db := setupDB(t)
	mm := NewMaintenanceMode(db, "/health", "/v1/admin/")
	if err := mm.Set(context.Background(), true, "migrating"); err != nil {
		t.Fatal(err)
	}

	w := serve(mm.Middleware(okHandler()), "POST", "/v1/captures")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "migrating" {
		t.Errorf("body: %v", body)
	}
	if ra := w.Header().Get("Retry-After"); ra != "300" {
		t.Errorf("Retry-After: %q", ra)
	}

	for _, path := range []string{"/health", "/v1/admin/maintenance"} {
		if w := serve(mm.Middleware(okHandler()), "GET", path); w.Code != http.StatusOK {
			t.Errorf("%s should bypass maintenance, got %d", path, w.Code)
		}
	}
}

func TestMaintenance_SetKeepsMessage(t *testing.T) {
	mm := NewMaintenanceMode(setupDB(t))
	ctx := context.Background()
	mm.Set(ctx, true, "first")
	mm.Set(ctx, false, "")
	if mm.Active() {
		t.Fatal("expected off")
	}
	if mm.Message() != "first" {
		t.Errorf("Message: got %q", mm.Message())
	}
}

func TestMaintenance_NoTable(t *testing.T) {
	mm := NewMaintenanceMode(dbopen.OpenMemory(t))
	if mm.Active() {
		t.Error("expected maintenance off when table missing")
	}
	if w := serve(mm.Middleware(okHandler()), "GET", "/"); w.Code != http.StatusOK {
		t.Errorf("expected 200 when no table, got %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	db := setupDB(t)
	rl := NewRateLimiter(db, "/health")
	if err := rl.SetRule(context.Background(), "POST /v1/captures", RateLimitConfig{MaxRequests: 2, WindowSeconds: 60, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	for i, want := range []int{200, 200, 429} {
		if w := serve(h, "POST", "/v1/captures"); w.Code != want {
			t.Fatalf("request %d: got %d, want %d", i, w.Code, want)
		}
	}
	if w := serve(h, "GET", "/v1/selectors/shop.example"); w.Code != 200 {
		t.Errorf("unruled endpoint limited: %d", w.Code)
	}

	now = now.Add(61 * time.Second)
	if w := serve(h, "POST", "/v1/captures"); w.Code != 200 {
		t.Errorf("after window: got %d", w.Code)
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(setupDB(t))
	rl.SetRule(context.Background(), "GET /x", RateLimitConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: true})
	h := rl.Middleware(okHandler())

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("X-Forwarded-For", ip+", 192.168.0.1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Errorf("first request from %s: %d", ip, w.Code)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = kit.GetRequestID(r.Context())
	}))

	w := serve(h, "GET", "/")
	if !strings.HasPrefix(seen, "req_") || w.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("minted id %q, header %q", seen, w.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "client-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-42" {
		t.Errorf("incoming id not reused: %q", seen)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\n")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "bad id\n" || !strings.HasPrefix(seen, "req_") {
		t.Errorf("malformed id accepted: %q", seen)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"domain":"shop.example"}`))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Fatal("expected body limit error")
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders(DefaultHeaders())(okHandler()), "GET", "/")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if !strings.Contains(w.Header().Get("Content-Security-Policy"), "default-src 'none'") {
		t.Errorf("CSP: %q", w.Header().Get("Content-Security-Policy"))
	}
}
