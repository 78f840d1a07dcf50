package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parlo-app/parlo/internal/config"
	"github.com/parlo-app/parlo/internal/livesession"
	"github.com/parlo-app/parlo/internal/observability"
	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/store"
)

// Server exposes the voice session over HTTP: a websocket that carries the
// live session and a few REST endpoints around it.
type Server struct {
	cfg      config.Config
	facade   *livesession.Facade
	store    store.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, facade *livesession.Facade, st store.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		facade:  facade,
		store:   st,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the user's mic session
				// unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/voice/personas", s.handleListPersonas)
	r.Get("/v1/voice/session", s.handleSessionStatus)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Post("/v1/voice/session/end", s.handleEndSession)
	r.Post("/v1/voice/session/cancel", s.handleCancelSession)
	r.Get("/v1/voice/recaps", s.handleRecentRecaps)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"session_active": s.facade.IsActive(),
	})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	profiles := persona.DefaultProfiles()
	out := make([]persona.Ref, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": out})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"active":     s.facade.IsActive(),
		"session_id": s.facade.SessionID(),
		"muted":      s.facade.IsMuted(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.EndSession(r.Context()); err != nil {
		if errors.Is(err, livesession.ErrNoSession) {
			respondError(w, http.StatusNotFound, "no_session", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "end_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ended"})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, _ *http.Request) {
	switch err := s.facade.CancelPendingSession(); {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
	case errors.Is(err, livesession.ErrNoSession):
		respondError(w, http.StatusNotFound, "no_session", err.Error())
	case errors.Is(err, livesession.ErrCancelTooLate):
		respondError(w, http.StatusConflict, "cancel_too_late", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
	}
}

func (s *Server) handleRecentRecaps(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be 1..100")
			return
		}
		limit = n
	}
	sessions, err := s.store.RecentSessions(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.CompletedSession{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Latency.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
