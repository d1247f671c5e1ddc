package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sessiond/sessiond/internal/manager"
	"github.com/sessiond/sessiond/pkg/types"
)

// handleList implements the list operation: no ownership check, filters
// by optional cwd/provider query params.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := manager.ListFilter{
		Cwd:      r.URL.Query().Get("cwd"),
		Provider: r.URL.Query().Get("provider"),
	}
	writeJSON(w, http.StatusOK, s.manager.List(filter))
}

type spawnRequest struct {
	Provider       string              `json:"provider"`
	Cwd            string              `json:"cwd"`
	Task           string              `json:"task"`
	Mode           types.Mode          `json:"mode"`
	PermissionMode types.PermissionMode `json:"permissionMode"`
	Model          string              `json:"model"`
}

// handleSpawn implements the spawn operation: no ownership check
// (there's nothing to own yet), the caller id becomes the new owner.
func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	rec, err := s.manager.Spawn(r.Context(), manager.SpawnOptions{
		Provider:       req.Provider,
		Cwd:            req.Cwd,
		Mode:           req.Mode,
		PermissionMode: req.PermissionMode,
		Model:          req.Model,
		Task:           req.Task,
	}, callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type resumeRequest struct {
	Task           string              `json:"task"`
	Mode           types.Mode          `json:"mode"`
	PermissionMode types.PermissionMode `json:"permissionMode"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	rec, err := s.manager.Resume(r.Context(), sid, manager.ResumeOptions{
		Mode:           req.Mode,
		PermissionMode: req.PermissionMode,
	}, callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type sendRequest struct {
	Input string `json:"input"`
}

type sendResponse struct {
	Handled  bool   `json:"handled"`
	Response string `json:"response,omitempty"`
}

// handleSend implements the send operation's slash-command interception
// contract: input is offered to the Dispatcher first, and only reaches
// the session if it comes back unhandled.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	handled, response, err := s.dispatcher.Dispatch(r.Context(), sid, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	if handled {
		writeJSON(w, http.StatusOK, sendResponse{Handled: true, Response: response})
		return
	}

	if err := s.manager.Send(r.Context(), sid, req.Input, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Handled: false})
}

type readResponse struct {
	MessageCount int                    `json:"messageCount"`
	NextCursor   string                 `json:"nextCursor"`
	Output       []types.SessionMessage `json:"output"`
	TimedOut     bool                   `json:"timedOut,omitempty"`
	Ended        bool                   `json:"ended,omitempty"`
}

// handleRead implements the read operation, including the optional
// blocking wait.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	q := r.URL.Query()

	cursor := q.Get("cursor")
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	wait := q.Get("wait") == "true"
	timeoutMs := 0
	if v := q.Get("timeout"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			timeoutMs = n
		}
	}

	owner := callerID(r)
	var result manager.ReadResult
	var err error

	if wait {
		result, err = s.manager.WaitForMessages(r.Context(), sid, cursor, limit, timeoutMs, owner)
	} else {
		result, err = s.manager.ReadMessages(sid, cursor, limit, owner)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, readResponse{
		MessageCount: len(result.Messages),
		NextCursor:   result.NextCursor,
		Output:       result.Messages,
		TimedOut:     result.TimedOut,
		Ended:        result.Ended,
	})
}

type respondRequest struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	if err := s.manager.RespondToPermission(sid, req.RequestID, req.Approved, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "permission resolved"})
}

type switchRequest struct {
	Mode types.Mode `json:"mode"`
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	if err := s.manager.SwitchMode(r.Context(), sid, req.Mode, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "mode switched to " + string(req.Mode)})
}

type stopRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")

	var req stopRequest
	// force is optional; an empty body is fine.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.manager.Stop(r.Context(), sid, req.Force, callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "session stopped"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")

	summary, err := s.manager.GetSummary(sid, callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
