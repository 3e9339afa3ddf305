package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dvail/porterd/internal/job"
)

type createJobRequest struct {
	Name   string        `json:"name"`
	Config configPayload `json:"config"`
}

type configPayload struct {
	RepoURL     string `json:"repoUrl"`
	Branch      string `json:"branch"`
	PostgresURL string `json:"postgresUrl"`
	MongoURL    string `json:"mongoUrl"`
	GitHubToken string `json:"githubToken"`
}

// maskedConfig is the config shape returned by the API. Connection string
// credentials are replaced and the GitHub token is reduced to a presence flag.
type maskedConfig struct {
	RepoURL        string `json:"repoUrl"`
	Branch         string `json:"branch"`
	PostgresURL    string `json:"postgresUrl"`
	MongoURL       string `json:"mongoUrl"`
	HasGitHubToken bool   `json:"hasGithubToken"`
}

type jobResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Config       maskedConfig   `json:"config"`
	Status       job.Status     `json:"status"`
	CurrentPhase job.Phase      `json:"currentPhase"`
	Plan         map[string]any `json:"plan,omitempty"`
	Result       *job.Result    `json:"result,omitempty"`
	Logs         []job.LogEntry `json:"logs,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func toJobResponse(j job.Job, withLogs bool) jobResponse {
	resp := jobResponse{
		ID:   j.ID,
		Name: j.Name,
		Config: maskedConfig{
			RepoURL:        j.Config.RepoURL,
			Branch:         j.Config.Branch,
			PostgresURL:    maskDSN(j.Config.PostgresURL),
			MongoURL:       maskDSN(j.Config.MongoURL),
			HasGitHubToken: j.Config.GitHubToken != "",
		},
		Status:       j.Status,
		CurrentPhase: j.CurrentPhase,
		Plan:         j.Plan,
		Result:       j.Result,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if withLogs {
		resp.Logs = j.Logs
	}
	return resp
}

// maskDSN hides the password component of a connection string.
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); !has {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "****")
	// url.UserPassword escapes; the literal asterisks survive either way.
	return strings.Replace(u.String(), "%2A%2A%2A%2A", "****", 1)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if strings.TrimSpace(req.Config.RepoURL) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "config.repoUrl is required")
		return
	}
	if strings.TrimSpace(req.Config.PostgresURL) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "config.postgresUrl is required")
		return
	}
	if strings.TrimSpace(req.Config.MongoURL) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "config.mongoUrl is required")
		return
	}
	branch := strings.TrimSpace(req.Config.Branch)
	if branch == "" {
		branch = "main"
	}

	id := uuid.NewString()
	j := job.Job{
		ID:   id,
		Name: strings.TrimSpace(req.Name),
		Config: job.Config{
			RepoURL:     strings.TrimSpace(req.Config.RepoURL),
			Branch:      branch,
			PostgresURL: strings.TrimSpace(req.Config.PostgresURL),
			MongoURL:    strings.TrimSpace(req.Config.MongoURL),
			GitHubToken: strings.TrimSpace(req.Config.GitHubToken),
		},
		RepoPath: filepath.Join(s.cfg.WorkspaceDir, id),
	}

	created, err := s.store.Create(r.Context(), j)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.metrics.JobEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusCreated, toJobResponse(created, false))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j, false))
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(j, true))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_job_id", "missing job id")
		return
	}
	res := s.orch.DeleteJob(r.Context(), id)
	if !res.Success {
		if res.Error == "job not found" {
			respondError(w, http.StatusNotFound, "job_not_found", res.Error)
			return
		}
		respondError(w, http.StatusInternalServerError, "delete_failed", res.Error)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	logs := j.Logs
	if logs == nil {
		logs = []job.LogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleJobMessages(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), j.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if msgs == nil {
		msgs = []job.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.store.ClearMessages(r.Context(), j.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) jobFromRequest(w http.ResponseWriter, r *http.Request) (job.Job, bool) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_job_id", "missing job id")
		return job.Job{}, false
	}
	j, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			respondError(w, http.StatusNotFound, "job_not_found", "job not found")
		} else {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		}
		return job.Job{}, false
	}
	return j, true
}
