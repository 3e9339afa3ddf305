package httpapi

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/dvail/porterd/internal/job"
	"github.com/dvail/porterd/internal/orchestrator"
)

const maxChatMessageLen = 10000

// handleStartPlan clones the repository if the job is still pending, then
// kicks off the planning turn in the background. Progress is observable on
// the job's event stream and durable log.
func (s *Server) handleStartPlan(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	if j.Status.Terminal() {
		respondError(w, http.StatusConflict, "job_finished", "job already "+string(j.Status))
		return
	}
	if j.Status.InProgress() {
		respondError(w, http.StatusConflict, "job_busy", "job already in progress")
		return
	}

	if j.Status == job.StatusPending {
		if res := s.orch.CloneRepository(r.Context(), j.ID); !res.Success {
			respondError(w, http.StatusInternalServerError, "clone_failed", res.Error)
			return
		}
	}

	go func(id string) {
		if res := s.orch.RunTurn(context.Background(), id, orchestrator.TurnPlan, nil); !res.Success {
			log.Printf("httpapi: planning turn for job %s: %s", id, res.Error)
		}
	}(j.ID)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Planning started",
	})
}

func (s *Server) handleStartExecute(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	if j.Status != job.StatusPlanReady {
		if j.Plan == nil {
			respondError(w, http.StatusConflict, "no_plan", "No plan found. Run planning agent first.")
			return
		}
		respondError(w, http.StatusConflict, "job_not_ready", "job is not ready for execution")
		return
	}

	go func(id string) {
		if res := s.orch.RunTurn(context.Background(), id, orchestrator.TurnExecute, nil); !res.Success {
			log.Printf("httpapi: execution turn for job %s: %s", id, res.Error)
		}
	}(j.ID)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Execution started",
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleChat relays a user message into the job's agent conversation and
// waits for the turn to finish. Incremental output flows over the event
// stream; the full response is also returned here.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if len(message) > maxChatMessageLen {
		respondError(w, http.StatusBadRequest, "message_too_long", "message too long (max 10000 characters)")
		return
	}

	res := s.orch.SendChatMessage(r.Context(), j.ID, message, nil)
	if !res.Success {
		if strings.HasPrefix(res.Error, "no active session") {
			respondError(w, http.StatusConflict, "no_session", res.Error)
			return
		}
		respondError(w, http.StatusInternalServerError, "chat_failed", res.Error)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"response": res.Output,
	})
}
