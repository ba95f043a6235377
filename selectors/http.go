package selectors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/seltrust/capture"
	"github.com/hazyhaar/seltrust/connectivity"
	"github.com/hazyhaar/seltrust/horosafe"
	"github.com/hazyhaar/seltrust/kit"
	"github.com/hazyhaar/seltrust/observability"
	"github.com/hazyhaar/seltrust/shield"
)

// Handler returns the HTTP API behind the shield middleware stack.
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range e.stack {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/selectors/{domain}", e.handleBestSelectors)
		r.Get("/categories/{domain}", e.handleBestCategory)
		r.Get("/domains/{domain}/records", e.handleDomainRecords)
		r.Post("/captures", e.handleSubmitCapture)
		r.Post("/captures/{id}/analyze", e.handleAnalyze)

		r.Route("/admin", func(r chi.Router) {
			r.Use(e.requireAdmin)
			r.Post("/selectors", e.handleAddManual)
			r.Delete("/selectors/{id}", e.handleDeleteSelector)
			r.Post("/selectors/{id}/reset", e.handleResetSelector)
			r.Get("/leaderboard", e.handleLeaderboard)
			r.Get("/stats", e.handleStats)
			r.Get("/events", e.handleAdminEvents)
			r.Post("/maintenance", e.handleMaintenance)
		})

		r.With(e.requireAdmin).Post("/services/{service}", e.handleService)
	})
	return r
}

// requireAdmin checks the bearer token against the configured bcrypt hash.
func (e *Engine) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.config.AdminTokenHash == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin API disabled"})
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" ||
			bcrypt.CompareHashAndPassword([]byte(e.config.AdminTokenHash), []byte(token)) != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid admin token"})
			return
		}
		ctx := kit.WithRole(r.Context(), kit.RoleAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminActor(r *http.Request) string {
	return "admin@" + shield.ExtractIP(r)
}

func (e *Engine) handleBestSelectors(w http.ResponseWriter, r *http.Request) {
	domain, ok := pathDomain(w, r)
	if !ok {
		return
	}
	sels, err := e.BestSelectors(r.Context(), domain)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sels)
}

func (e *Engine) handleBestCategory(w http.ResponseWriter, r *http.Request) {
	domain, ok := pathDomain(w, r)
	if !ok {
		return
	}
	cat, found, err := e.BestCategory(r.Context(), domain)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"category": cat})
}

func (e *Engine) handleDomainRecords(w http.ResponseWriter, r *http.Request) {
	domain, ok := pathDomain(w, r)
	if !ok {
		return
	}
	recs, err := e.DomainRecords(r.Context(), domain)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (e *Engine) handleSubmitCapture(w http.ResponseWriter, r *http.Request) {
	var ev capture.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if ev.ID != "" && horosafe.ValidateIdentifier(ev.ID) != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid event id"))
		return
	}
	id, err := e.SubmitCapture(r.Context(), &ev)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id})
}

func (e *Engine) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIdent(w, r, "id")
	if !ok {
		return
	}
	if err := e.Enqueue(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AnalyzeResponse{EventID: id, Queued: true})
}

func (e *Engine) handleAddManual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain   string `json:"domain"`
		Field    string `json:"field"`
		Selector string `json:"selector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	rec, created, err := e.AddManualSelector(r.Context(), adminActor(r), req.Domain, req.Field, req.Selector)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, rec)
}

func (e *Engine) handleDeleteSelector(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := e.DeleteSelector(r.Context(), adminActor(r), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleResetSelector(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	rec, err := e.ResetSelector(r.Context(), adminActor(r), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *Engine) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	page, err := e.LeaderboardHTML(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (e *Engine) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := e.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (e *Engine) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	events, err := e.AdminEvents(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []observability.BusinessEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (e *Engine) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active  bool   `json:"active"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if err := e.SetMaintenance(r.Context(), adminActor(r), req.Active, req.Message); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": e.mm.Active(), "message": e.mm.Message()})
}

// handleService bridges an HTTP call onto the connectivity router, so peers
// without a Go client can reach any registered service.
func (e *Engine) handleService(w http.ResponseWriter, r *http.Request) {
	service, ok := pathIdent(w, r, "service")
	if !ok {
		return
	}
	if e.router == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no service router"))
		return
	}
	payload, err := horosafe.LimitedReadAll(r.Body, e.config.MaxBodyBytes)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	resp, err := e.router.Call(r.Context(), service, payload)
	if err != nil {
		var nf *connectivity.ErrServiceNotFound
		switch {
		case errors.As(err, &nf):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusBadGateway, err)
		}
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

// pathDomain reads the {domain} segment. chi matches on the escaped path
// when the request carried one, so the segment is unescaped here.
func pathDomain(w http.ResponseWriter, r *http.Request) (string, bool) {
	v := chi.URLParam(r, "domain")
	if r.URL.RawPath != "" {
		u, err := url.PathUnescape(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("domain: %w", err))
			return "", false
		}
		v = u
	}
	if err := horosafe.ValidateDomain(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("domain: %w", err))
		return "", false
	}
	return v, true
}

func pathIdent(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if err := horosafe.ValidateIdentifier(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", name, err))
		return "", false
	}
	return v, true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s must be a positive integer", name))
		return 0, false
	}
	return v, true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
