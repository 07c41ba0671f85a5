package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/clawncil/clawncil/internal/tasks"
)

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleTaskList(w, r)
	case http.MethodPost:
		s.handleTaskCreate(w, r)
	case http.MethodPut:
		s.handleTaskUpdate(w, r)
	case http.MethodDelete:
		s.handleTaskDelete(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	status := r.URL.Query().Get("status")
	limit := parseInt(r.URL.Query().Get("limit"), 200)
	items, err := s.Tasks.List(r.Context(), tasks.ListFilter{
		ProjectID: projectID,
		Status:    tasks.Status(status),
		Limit:     limit,
	})
	if err != nil {
		writeInternalError(w, "failed to fetch tasks", err)
		return
	}
	if items == nil {
		items = []tasks.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Status      string   `json:"status"`
		Priority    string   `json:"priority"`
		Assignee    string   `json:"assignee"`
		Tags        []string `json:"tags"`
		ProjectID   string   `json:"projectId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.ProjectID == "" {
		writeMessage(w, http.StatusBadRequest, "Project ID required")
		return
	}
	task, err := s.Tasks.Create(r.Context(), tasks.Spec{
		ProjectID:   payload.ProjectID,
		Title:       payload.Title,
		Description: payload.Description,
		Status:      tasks.Status(payload.Status),
		Priority:    tasks.Priority(payload.Priority),
		Assignee:    payload.Assignee,
		Tags:        payload.Tags,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

// handleTaskUpdate accepts the whole task object from the board but applies
// only status, title, description, priority and assignee. Tags and project_id
// are never written by this path, and absent fields keep their stored values.
func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID          string          `json:"id"`
		Title       *string         `json:"title"`
		Description *string         `json:"description"`
		Status      *tasks.Status   `json:"status"`
		Priority    *tasks.Priority `json:"priority"`
		Assignee    *string         `json:"assignee"`

		// Sent by the board but deliberately ignored.
		Tags      []string  `json:"tags"`
		ProjectID string    `json:"project_id"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.ID == "" {
		writeMessage(w, http.StatusBadRequest, "Task ID required")
		return
	}
	task, err := s.Tasks.Update(r.Context(), payload.ID, tasks.Patch{
		Title:       payload.Title,
		Description: payload.Description,
		Status:      payload.Status,
		Priority:    payload.Priority,
		Assignee:    payload.Assignee,
	})
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.ID == "" {
		writeMessage(w, http.StatusBadRequest, "Task ID required")
		return
	}
	if err := s.Tasks.Delete(r.Context(), payload.ID); err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "task not found")
			return
		}
		writeInternalError(w, "failed to delete task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
