package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr     string `json:"http_addr"`
	DataDir      string `json:"data_dir"`
	DBPath       string `json:"db_path"`
	WorkspaceDir string `json:"workspace_dir"`
	WebDir       string `json:"web_dir"`
	GatewayURL   string `json:"gateway_url"`
	DefaultModel string `json:"default_model"`
}

type DiagnosticsResponse struct {
	Time              time.Time       `json:"time"`
	StartedAt         time.Time       `json:"started_at"`
	UptimeSeconds     int64           `json:"uptime_seconds"`
	GoVersion         string          `json:"go_version"`
	GatewayConfigured bool            `json:"gateway_configured"`
	Info              DiagnosticsInfo `json:"info"`
	EventBus          map[string]any  `json:"eventbus"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:              now,
		StartedAt:         started,
		UptimeSeconds:     int64(now.Sub(started).Seconds()),
		GoVersion:         runtime.Version(),
		GatewayConfigured: s.Info.GatewayURL != "" && s.Orchestrator != nil && s.Orchestrator.Gateway != nil,
		Info:              s.Info,
		EventBus:          map[string]any{},
	}
	if s.Bus != nil {
		resp.EventBus["subscribers"] = s.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
