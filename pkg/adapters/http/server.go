package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/aretw0/guardrail/pkg/runner"
	"github.com/aretw0/guardrail/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Watcher is implemented by engines that can report source reloads.
type Watcher interface {
	Watch(ctx context.Context) (<-chan string, error)
}

// Server exposes an Engine over HTTP.
//
// The stateless surface (POST /advance) round-trips the encoded state with
// the client. When a session Manager is configured, /sessions keeps the
// state server-side and every turn is broadcast to SSE subscribers as a
// domain.StateDiff.
type Server struct {
	Engine   ports.Engine
	Sessions *session.Manager
	Streams  *StreamManager
	Logger   *slog.Logger

	Version      string
	MaxInputSize int

	metrics http.Handler
}

// Option configures the Server.
type Option func(*Server)

// WithSessions enables the /sessions routes. SSE clients only see the
// manager's turns when it was built with session.WithObserver(streams.Observe)
// and the same streams is passed with WithStreams.
func WithSessions(m *session.Manager) Option {
	return func(s *Server) { s.Sessions = m }
}

// WithStreams shares a StreamManager, e.g. with the session observer.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.Streams = sm }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.Logger = l }
}

// WithVersion sets the version reported by GET /info.
func WithVersion(v string) Option {
	return func(s *Server) { s.Version = v }
}

// WithMetricsHandler mounts h (usually promhttp.Handler()) at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMaxInputSize bounds utterance text accepted from clients.
func WithMaxInputSize(n int) Option {
	return func(s *Server) { s.MaxInputSize = n }
}

// NewServer creates a Server for engine.
func NewServer(engine ports.Engine, opts ...Option) *Server {
	s := &Server{
		Engine:  engine,
		Logger:  logging.NewNop(),
		Version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.Logger)
	}
	return s
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine ports.Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Routes()
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/flows", s.GetFlows)
	r.Post("/advance", s.Advance)
	r.Get("/events", s.SubscribeEvents)

	if s.Sessions != nil {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.ListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetSession)
				r.Post("/", s.StartSession)
				r.Delete("/", s.DeleteSession)
				r.Post("/events", s.PostEvents)
			})
		})
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdvanceRequest is the body of POST /advance and POST /sessions/{id}/events.
// Text is shorthand for a trailing UserUtterance.
type AdvanceRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Text      string          `json:"text,omitempty"`
	Events    []domain.Event  `json:"events,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (AdvanceRequest, []domain.Event, bool) {
	var body AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.Logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		return body, nil, false
	}
	if bytes.Equal(bytes.TrimSpace(body.State), []byte("null")) {
		body.State = nil
	}
	events := body.Events
	if body.Text != "" {
		events = append(events, domain.Event{Payload: domain.UserUtterance{Text: body.Text}})
	}
	clean, err := runner.SanitizeEvents(events, s.MaxInputSize)
	if err != nil {
		s.fail(w, r, err)
		return body, nil, false
	}
	return body, clean, true
}

// Advance handles POST /advance: one stateless turn over the client's state.
func (s *Server) Advance(w http.ResponseWriter, r *http.Request) {
	body, events, ok := s.decode(w, r)
	if !ok {
		return
	}
	sessionID := body.SessionID
	if sessionID == "" && len(body.State) == 0 {
		http.Error(w, "session_id is required to start a session", http.StatusBadRequest)
		return
	}

	resp, err := runner.AdvanceAndRender(r.Context(), s.Engine, sessionID, body.State, events)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Debug("advanced", "session_id", resp.SessionID, "turn", resp.Turn, "events", len(resp.Events))
	s.writeJSON(w, http.StatusOK, resp)
}

// PostEvents handles POST /sessions/{id}/events, starting the session if needed.
func (s *Server) PostEvents(w http.ResponseWriter, r *http.Request) {
	_, events, ok := s.decode(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	state, out, err := s.Sessions.Advance(r.Context(), id, events)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, state, out)
}

// StartSession handles POST /sessions/{id}.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Sessions.Load(r.Context(), id); err == nil {
		http.Error(w, fmt.Sprintf("session %q already exists", id), http.StatusConflict)
		return
	}
	state, out, err := s.Sessions.Start(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusCreated, state, out)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.Sessions.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, state, nil)
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Sessions.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	s.writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

// GetFlows handles GET /flows.
func (s *Server) GetFlows(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Engine.Program().Summaries())
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"app":      "guardrail-http",
		"version":  s.Version,
		"flows":    len(s.Engine.Program().Flows),
		"sessions": s.Sessions != nil,
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, state *domain.State, out []domain.Event) {
	resp, err := runner.NewRichResponse(s.Engine.Program(), state, out)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		s.Logger.Warn("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

// StatusFor maps engine and session errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		decodeErr *domain.DecodeError
		ambiguous *domain.AmbiguousMatchError
	)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &decodeErr):
		return http.StatusConflict
	case errors.Is(err, runner.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, runner.ErrInvalidUTF8), errors.Is(err, runner.ErrOutboundEvent),
		errors.Is(err, domain.ErrNonFinite):
		return http.StatusBadRequest
	case errors.As(err, &ambiguous), errors.Is(err, domain.ErrTooManyEvents):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
