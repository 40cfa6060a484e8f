package control

import (
	"net/http"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/fleet"
)

// statusForErr maps a Fleet Manager error to an HTTP status: 400 for
// validation-shaped errors (bad state, unknown agent/job/schedule), 500
// for everything else, matching spec §6.4's 2-vs-1 CLI exit-code split.
func statusForErr(err error) int {
	switch err.(type) {
	case *fleet.InvalidStateError, *fleet.JobNotFoundError, *fleet.ScheduleNotFoundError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type triggerRequest struct {
	Agent    string `json:"agent"`
	Schedule string `json:"schedule,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.mgr.Trigger(r.Context(), req.Agent, req.Schedule, fleet.TriggerOptions{Prompt: req.Prompt})
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	JobID     string `json:"job_id"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts := fleet.CancelOptions{}
	if req.TimeoutMS > 0 {
		opts.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	result, err := s.mgr.CancelJob(r.Context(), req.JobID, opts)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type forkRequest struct {
	JobID    string `json:"job_id"`
	Prompt   string `json:"prompt,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

func (s *Server) handleFork(w http.ResponseWriter, r *http.Request) {
	var req forkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.mgr.ForkJob(r.Context(), req.JobID, fleet.ForkOptions{Prompt: req.Prompt, ScheduleName: req.Schedule})
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	changes, err := s.mgr.Reload()
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

type statusResponse struct {
	State  fleet.State         `json:"state"`
	Agents []fleet.AgentStatus `json:"agents"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, agents := s.mgr.Status()
	writeJSON(w, http.StatusOK, statusResponse{State: state, Agents: agents})
}

func (s *Server) handleValidateTools(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	statuses, err := s.mgr.ValidateToolServers(r.Context(), agent)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}
