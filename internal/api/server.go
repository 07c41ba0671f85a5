package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clawncil/clawncil/internal/eventbus"
	"github.com/clawncil/clawncil/internal/lifecycle"
	"github.com/clawncil/clawncil/internal/state"
	"github.com/clawncil/clawncil/internal/tasks"
)

type Server struct {
	Store        *state.Store
	Tasks        *tasks.Manager
	Bus          *eventbus.Bus
	Orchestrator *lifecycle.Orchestrator
	StartedAt    time.Time
	Info         DiagnosticsInfo
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/agents/update", s.handleAgentUpdate)
	mux.HandleFunc("/api/agents/status", s.handleAgentStatus)
	mux.HandleFunc("/api/chat/save", s.handleChatSave)
	mux.HandleFunc("/api/spawn", s.handleSpawn)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/streams/subscribe", s.handleStreamSubscribe)
	mux.HandleFunc("/api/streams/ws", s.handleStreamWS)
	mux.HandleFunc("/api/streams/", s.handleStreams)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := s.Store.ListAgents(r.Context())
		if err != nil {
			writeInternalError(w, "failed to read agents", err)
			return
		}
		if agents == nil {
			agents = []state.Agent{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
	case http.MethodPost:
		var payload struct {
			Name         string `json:"name"`
			Model        string `json:"model"`
			SystemPrompt string `json:"systemPrompt"`
			ParentID     string `json:"parentId"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Name == "" || payload.Model == "" {
			writeMessage(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		agent, err := s.Orchestrator.CreateAgent(r.Context(), lifecycle.CreateInput{
			Name:         payload.Name,
			Model:        payload.Model,
			SystemPrompt: payload.SystemPrompt,
			ParentID:     payload.ParentID,
		})
		if err != nil {
			if state.IsValidation(err) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeInternalError(w, "failed to create agent", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "agent": agent})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleAgentUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		AgentID      string `json:"agentId"`
		Bio          string `json:"bio"`
		SystemPrompt string `json:"systemPrompt"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.AgentID == "" || payload.SystemPrompt == "" {
		writeMessage(w, http.StatusBadRequest, "Missing fields")
		return
	}
	if err := s.Orchestrator.UpdatePrompt(r.Context(), payload.AgentID, payload.Bio, payload.SystemPrompt); err != nil {
		writeInternalError(w, "failed to update agent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		AgentID string `json:"agentId"`
		Status  string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.AgentID == "" || payload.Status == "" {
		writeMessage(w, http.StatusBadRequest, "Missing fields")
		return
	}
	// Status is an advisory flag set by the caller; it is never derived from
	// gateway session state.
	_, err := s.Store.UpdateAgent(r.Context(), payload.AgentID, state.AgentPatch{Status: &payload.Status})
	if err != nil {
		if state.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if errors.Is(err, state.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "agent not found")
			return
		}
		writeInternalError(w, "failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleChatSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		AgentID  string `json:"agentId"`
		Message  string `json:"message"`
		Response string `json:"response"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.AgentID == "" || payload.Message == "" {
		writeMessage(w, http.StatusBadRequest, "Missing fields")
		return
	}
	if err := s.Orchestrator.SaveExchange(r.Context(), payload.AgentID, payload.Message, payload.Response); err != nil {
		if state.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeInternalError(w, "failed to save", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		AgentID      string `json:"agentId"`
		AgentName    string `json:"agentName"`
		Model        string `json:"model"`
		SystemPrompt string `json:"systemPrompt"`
		Message      string `json:"message"`
		RoomID       string `json:"roomId"`
		SessionKey   string `json:"sessionKey"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Message == "" || (payload.SystemPrompt == "" && payload.SessionKey == "") {
		writeMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	result, err := s.Orchestrator.RunChatTurn(r.Context(), lifecycle.TurnInput{
		AgentID:      payload.AgentID,
		Model:        payload.Model,
		SystemPrompt: payload.SystemPrompt,
		Message:      payload.Message,
		RoomID:       payload.RoomID,
		SessionKey:   payload.SessionKey,
	})
	if err != nil {
		if state.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeInternalError(w, "Internal server error", err)
		return
	}
	// A gateway failure never reaches the transcript: the result already
	// carries the fallback reply and the real error went to gateway_errors.
	writeJSON(w, http.StatusOK, map[string]any{
		"response":   result.Reply,
		"sessionKey": result.SessionKey,
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.Store.ListProjects(r.Context())
		if err != nil {
			writeInternalError(w, "failed to fetch projects", err)
			return
		}
		if projects == nil {
			projects = []state.Project{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Name == "" {
			writeMessage(w, http.StatusBadRequest, "Project name required")
			return
		}
		project, err := s.Store.CreateProject(r.Context(), payload.Name, payload.Description)
		if err != nil {
			writeInternalError(w, "failed to create project", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": project})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roomID := r.URL.Query().Get("roomId")
		if roomID == "" {
			writeMessage(w, http.StatusBadRequest, "roomId required")
			return
		}
		limit := parseInt(r.URL.Query().Get("limit"), 200)
		messages, err := s.Store.ListMessages(r.Context(), roomID, limit)
		if err != nil {
			writeInternalError(w, "failed to fetch messages", err)
			return
		}
		if messages == nil {
			messages = []state.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
	case http.MethodPost:
		var payload struct {
			RoomID     string `json:"roomId"`
			SenderID   string `json:"senderId"`
			SenderType string `json:"senderType"`
			Content    string `json:"content"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		msg, err := s.Orchestrator.PostMessage(r.Context(), payload.RoomID, payload.SenderID, payload.SenderType, payload.Content)
		if err != nil {
			if state.IsValidation(err) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeInternalError(w, "failed to send message", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": msg})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	stream := strings.Trim(path, "/")
	if stream == "" {
		writeMessage(w, http.StatusNotFound, "stream not found")
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	order := r.URL.Query().Get("order")
	items, err := s.Bus.List(r.Context(), stream, eventbus.ListOptions{
		Limit: limit,
		Order: order,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if items == nil {
		items = []eventbus.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

func (s *Server) handleStreamSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	streamsParam := r.URL.Query().Get("streams")
	if streamsParam == "" {
		streamsParam = eventbus.StreamMessages + "," + eventbus.StreamTaskUpdates
	}
	streamList := splitComma(streamsParam)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	ctx := r.Context()
	sub := s.Bus.Subscribe(ctx, streamList)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			payload, _ := json.Marshal(evt)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeInternalError logs the real error server-side and returns only a
// sanitized message to the client.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	log.Printf("%s: %v", msg, err)
	writeMessage(w, http.StatusInternalServerError, msg)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
