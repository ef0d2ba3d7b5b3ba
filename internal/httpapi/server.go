package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tmarchini/personaforge/internal/config"
	"github.com/tmarchini/personaforge/internal/inference"
	"github.com/tmarchini/personaforge/internal/observability"
	"github.com/tmarchini/personaforge/internal/persona"
	"github.com/tmarchini/personaforge/internal/profile"
	"github.com/tmarchini/personaforge/internal/prompt"
	"github.com/tmarchini/personaforge/internal/session"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	runner   *session.Runner
	personas *persona.Registry
	analyzer *profile.Analyzer
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, runner *session.Runner, personas *persona.Registry, analyzer *profile.Analyzer, metrics *observability.Metrics, latency *observability.LatencyWindow) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		runner:   runner,
		personas: personas,
		analyzer: analyzer,
		metrics:  metrics,
		latency:  latency,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// often omit Origin and are let through.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
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

	r.Get("/v1/personas", s.handleListPersonas)
	r.Post("/v1/personas", s.handleSavePersona)
	r.Get("/v1/personas/{name}", s.handleGetPersona)
	r.Delete("/v1/personas/{name}", s.handleDeletePersona)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/sessions/{id}/turn", s.handleTurn)
	r.Get("/v1/sessions/{id}/history", s.handleHistory)
	r.Get("/v1/sessions/{id}/profile", s.handleProfile)

	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"personas": len(s.personas.List()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"default_persona": s.cfg.DefaultPersona,
	})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"personas": s.personas.List()})
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, err := s.personas.Get(name)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			respondError(w, http.StatusNotFound, "persona_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "persona_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSavePersona(w http.ResponseWriter, r *http.Request) {
	var cfg persona.Config
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.personas.Save(&cfg); err != nil {
		var cfgErr *persona.ConfigError
		if errors.As(err, &cfgErr) {
			respondError(w, http.StatusBadRequest, "invalid_persona", cfgErr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "persona_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.personas.Delete(name); err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			respondError(w, http.StatusNotFound, "persona_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "persona_delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.Persona) == "" {
		req.Persona = s.cfg.DefaultPersona
	}
	if _, err := s.personas.Get(req.Persona); err != nil {
		respondError(w, http.StatusNotFound, "persona_not_found", err.Error())
		return
	}

	var sess *session.Session
	if strings.TrimSpace(req.SessionID) != "" {
		sess = s.sessions.Resume(req.SessionID, req.UserID, req.Persona)
	} else {
		sess = s.sessions.Create(req.UserID, req.Persona)
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Persona:         sess.Persona,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req session.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "text must not be empty")
		return
	}

	reply, err := s.runner.RunTurn(r.Context(), id, req.Text, nil)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, session.TurnResponse{
		SessionID: sess.ID,
		Text:      reply,
		TurnCount: sess.TurnCount,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns, err := s.runner.History(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "profile analyzer not configured")
		return
	}
	id := chi.URLParam(r, "id")
	turns, err := s.runner.History(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	summary, err := s.analyzer.Analyze(r.Context(), turns)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.latency == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{})
		return
	}
	respondJSON(w, http.StatusOK, s.latency.Snapshot())
}

// respondTurnError maps turn failures onto HTTP statuses. Retryable tells
// the caller whether resending the same message can help.
func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
		return
	case errors.Is(err, persona.ErrNotFound):
		respondError(w, http.StatusNotFound, "persona_not_found", err.Error())
		return
	}

	var asmErr *prompt.AssemblyError
	if errors.As(err, &asmErr) {
		respondError(w, http.StatusBadRequest, "prompt_too_large", asmErr.Error())
		return
	}

	var infErr *inference.Error
	if errors.As(err, &infErr) {
		status := http.StatusBadGateway
		switch infErr.Kind {
		case inference.KindInvalidParams:
			status = http.StatusBadRequest
		case inference.KindRateLimited:
			status = http.StatusTooManyRequests
		case inference.KindTimeout:
			status = http.StatusGatewayTimeout
		}
		s.metrics.InferenceErrors.WithLabelValues(string(infErr.Kind)).Inc()
		respondJSON(w, status, errorResponse{
			Error:     infErr.Message,
			Code:      string(infErr.Kind),
			Retryable: infErr.Retryable(),
		})
		return
	}

	respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
