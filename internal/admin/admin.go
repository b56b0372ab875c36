// Package admin exposes the gateway's read-only status API under
// /admin/*: health, circuit-breaker snapshots, active sessions, and a
// paginated request-log read. It is deliberately not the catalog editor
// excluded by the spec's Non-goals — there is no write path here, only
// observation of state the request plane already maintains.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cligateway/hub/internal/circuitbreaker"
	"github.com/cligateway/hub/internal/requestlog"
	"github.com/cligateway/hub/internal/session"
)

// ProviderCounter reports how many providers the catalog currently knows
// about, for /admin/health.
type ProviderCounter interface {
	ProviderCount() int
}

// Handlers holds the dependencies the admin API reads from. Every field
// is a read path into state owned by another package; Handlers never
// mutates any of it.
type Handlers struct {
	Token     string
	Providers ProviderCounter
	Breaker   *circuitbreaker.Breaker
	Sessions  *session.Manager
	Logs      requestlog.Reader
	BoundPort int
	Now       func() time.Time
}

// Routes builds the chi router for the admin API, gated by bearerAuth.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.bearerAuth)
	r.Get("/health", h.health)
	r.Get("/circuits", h.circuits)
	r.Get("/sessions", h.sessions)
	r.Get("/logs", h.logs)
	return r
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// bearerAuth rejects any request whose Authorization header does not
// carry the configured admin token. An empty configured token disables
// the admin API entirely (every request is rejected) rather than
// defaulting to open access.
func (h *Handlers) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Token == "" {
			writeJSONError(w, http.StatusForbidden, "admin API disabled: no admin token configured")
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.Token {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

type healthResponse struct {
	Status        string `json:"status"`
	BoundPort     int    `json:"bound_port"`
	ProviderCount int    `json:"provider_count"`
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	count := 0
	if h.Providers != nil {
		count = h.Providers.ProviderCount()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		BoundPort:     h.BoundPort,
		ProviderCount: count,
	})
}

func (h *Handlers) circuits(w http.ResponseWriter, _ *http.Request) {
	var snapshots []circuitbreaker.Snapshot
	if h.Breaker != nil {
		snapshots = h.Breaker.SnapshotAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"circuits": snapshots})
}

type sessionView struct {
	CLIKey     string    `json:"cli_key"`
	SessionID  string    `json:"session_id"`
	ProviderID string    `json:"provider_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *Handlers) sessions(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var views []sessionView
	if h.Sessions != nil {
		for _, b := range h.Sessions.ActiveSessions(h.now(), limit) {
			views = append(views, sessionView{
				CLIKey:     b.CLIKey,
				SessionID:  b.SessionID,
				ProviderID: b.ProviderID,
				ExpiresAt:  b.ExpiresAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_sessions": views})
}

func (h *Handlers) logs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeJSON(w, http.StatusOK, requestlog.ListResult{})
		return
	}

	q := requestlog.Query{Limit: 50}
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			q.Limit = n
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			q.Offset = n
		}
	}
	q.CLIKey = query.Get("cli_key")
	q.Status = query.Get("status")
	q.Provider = query.Get("provider")

	result, err := h.Logs.List(r.Context(), q)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read request logs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
