package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/dvail/porterd/internal/config"
	"github.com/dvail/porterd/internal/job"
	"github.com/dvail/porterd/internal/observability"
	"github.com/dvail/porterd/internal/orchestrator"
	"github.com/dvail/porterd/internal/stream"
)

type Server struct {
	cfg      config.Config
	store    job.Store
	orch     *orchestrator.Orchestrator
	streams  *stream.Broadcaster
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, store job.Store, orch *orchestrator.Orchestrator, streams *stream.Broadcaster, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		orch:    orch,
		streams: streams,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// often omit Origin; allow them.
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

	r.Post("/v1/jobs", s.handleCreateJob)
	r.Get("/v1/jobs", s.handleListJobs)
	r.Get("/v1/jobs/{id}", s.handleGetJob)
	r.Delete("/v1/jobs/{id}", s.handleDeleteJob)
	r.Get("/v1/jobs/{id}/logs", s.handleJobLogs)
	r.Get("/v1/jobs/{id}/messages", s.handleJobMessages)
	r.Delete("/v1/jobs/{id}/messages", s.handleClearMessages)
	r.Post("/v1/jobs/{id}/plan", s.handleStartPlan)
	r.Post("/v1/jobs/{id}/execute", s.handleStartExecute)
	r.Post("/v1/jobs/{id}/chat", s.handleChat)
	r.Get("/v1/jobs/{id}/stream", s.handleStream)
	r.Get("/v1/jobs/{id}/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
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
