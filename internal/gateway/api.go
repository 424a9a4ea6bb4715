// ABOUTME: HTTP API handlers for command execution, agent inventory, and history.
// ABOUTME: Maps dispatch outcomes and errors onto JSON responses and status codes.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/warden-hq/warden-gateway/internal/dispatch"
	"github.com/warden-hq/warden-gateway/internal/mock"
	"github.com/warden-hq/warden-gateway/internal/store"
)

// ExecuteRequest is the JSON request body for POST /api/execute.
type ExecuteRequest struct {
	AgentID        string `json:"agent_id"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	RunAsAdmin     bool   `json:"run_as_admin,omitempty"`
}

// ExecuteResponse is the JSON response for POST /api/execute.
type ExecuteResponse struct {
	CommandID  string `json:"command_id"`
	AgentID    string `json:"agent_id"`
	Status     string `json:"status"`
	Source     string `json:"source"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// AgentResponse is one entry in GET /api/agents.
type AgentResponse struct {
	AgentID     string `json:"agent_id"`
	Hostname    string `json:"hostname"`
	OS          string `json:"os"`
	Version     string `json:"version,omitempty"`
	Status      string `json:"status"`
	Mock        bool   `json:"mock"`
	ConnectedAt string `json:"connected_at,omitempty"`
	LastActive  string `json:"last_active,omitempty"`
}

// ListAgentsResponse is the JSON response for GET /api/agents.
type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// MockAgentRequest is the JSON request body for POST /api/mock-agents.
type MockAgentRequest struct {
	AgentID  string            `json:"agent_id"`
	Hostname string            `json:"hostname,omitempty"`
	Platform string            `json:"platform,omitempty"`
	Online   *bool             `json:"online,omitempty"`
	Canned   map[string]string `json:"canned,omitempty"`
}

// CommandResponse is one entry in GET /api/commands.
type CommandResponse struct {
	CommandID  string `json:"command_id"`
	AgentID    string `json:"agent_id"`
	Command    string `json:"command"`
	RunAsAdmin bool   `json:"run_as_admin"`
	Status     string `json:"status"`
	Source     string `json:"source"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	FinishedAt string `json:"finished_at"`
}

// ListCommandsResponse is the JSON response for GET /api/commands.
type ListCommandsResponse struct {
	Commands []CommandResponse `json:"commands"`
}

type errorResponse struct {
	Error           string   `json:"error"`
	ConnectedAgents []string `json:"connected_agents,omitempty"`
	MockAgents      []string `json:"mock_agents,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusCodeFor maps a terminal dispatch status to the HTTP status of the
// execute response. Remote command failure is still a successful dispatch.
func statusCodeFor(s dispatch.Status) int {
	switch s {
	case dispatch.StatusTimedOut:
		return http.StatusGatewayTimeout
	case dispatch.StatusTransportFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// handleExecute handles POST /api/execute requests.
func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := g.orch.Execute(r.Context(), dispatch.Request{
		AgentID:        req.AgentID,
		Command:        req.Command,
		TimeoutSeconds: req.TimeoutSeconds,
		RunAsAdmin:     req.RunAsAdmin,
	})
	if err != nil {
		var notConnected *dispatch.NotConnectedError
		switch {
		case errors.Is(err, dispatch.ErrEmptyAgentID), errors.Is(err, dispatch.ErrEmptyCommand):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &notConnected):
			writeJSON(w, http.StatusNotFound, errorResponse{
				Error:           notConnected.Error(),
				ConnectedAgents: notConnected.ConnectedAgents,
				MockAgents:      notConnected.MockAgents,
			})
		case errors.Is(err, context.Canceled):
			// Client went away; nobody is reading the response.
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, statusCodeFor(res.Status), ExecuteResponse{
		CommandID:  res.CommandID,
		AgentID:    res.AgentID,
		Status:     string(res.Status),
		Source:     string(res.Source),
		Success:    res.Success,
		Output:     res.Output,
		Error:      res.Error,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// handleListAgents handles GET /api/agents requests.
// Live connections come first, then mock profiles, each sorted by id.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agents := make([]AgentResponse, 0)
	for _, info := range g.registry.Snapshot() {
		agents = append(agents, AgentResponse{
			AgentID:     info.ID,
			Hostname:    info.Hostname,
			OS:          info.OS,
			Version:     info.Version,
			Status:      string(info.Status),
			ConnectedAt: info.ConnectedAt.UTC().Format(time.RFC3339),
			LastActive:  info.LastActive.UTC().Format(time.RFC3339),
		})
	}
	for _, p := range g.mocks.List() {
		status := "online"
		if !p.Online {
			status = "offline"
		}
		agents = append(agents, AgentResponse{
			AgentID:  p.AgentID,
			Hostname: p.Hostname,
			OS:       p.Platform,
			Status:   status,
			Mock:     true,
		})
	}

	writeJSON(w, http.StatusOK, ListAgentsResponse{Agents: agents})
}

// handleMockAgents handles POST and GET /api/mock-agents.
func (g *Gateway) handleMockAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.createMockAgent(w, r)
	case http.MethodGet:
		agents := make([]AgentResponse, 0)
		for _, p := range g.mocks.List() {
			status := "online"
			if !p.Online {
				status = "offline"
			}
			agents = append(agents, AgentResponse{
				AgentID:  p.AgentID,
				Hostname: p.Hostname,
				OS:       p.Platform,
				Status:   status,
				Mock:     true,
			})
		}
		writeJSON(w, http.StatusOK, ListAgentsResponse{Agents: agents})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) createMockAgent(w http.ResponseWriter, r *http.Request) {
	var req MockAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	online := true
	if req.Online != nil {
		online = *req.Online
	}
	profile := &mock.Profile{
		AgentID:  req.AgentID,
		Hostname: req.Hostname,
		Platform: req.Platform,
		Online:   online,
		Canned:   req.Canned,
	}
	g.mocks.RegisterProfile(profile)

	if err := g.store.SaveMockAgent(r.Context(), profile); err != nil {
		g.logger.Error("persisting mock agent", "agent_id", profile.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "saving mock agent: "+err.Error())
		return
	}

	status := "online"
	if !profile.Online {
		status = "offline"
	}
	writeJSON(w, http.StatusCreated, AgentResponse{
		AgentID:  profile.AgentID,
		Hostname: profile.Hostname,
		OS:       profile.Platform,
		Status:   status,
		Mock:     true,
	})
}

// handleMockAgentByID handles DELETE /api/mock-agents/{id}.
func (g *Gateway) handleMockAgentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agentID := strings.TrimPrefix(r.URL.Path, "/api/mock-agents/")
	if agentID == "" || strings.Contains(agentID, "/") {
		writeError(w, http.StatusBadRequest, "agent id missing from path")
		return
	}

	removed := g.mocks.RemoveProfile(agentID)
	deleted, err := g.store.DeleteMockAgent(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deleting mock agent: "+err.Error())
		return
	}
	if !removed && !deleted {
		writeError(w, http.StatusNotFound, "no mock agent with id "+agentID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListCommands handles GET /api/commands requests.
// Supports ?agent_id=X, ?status=Y, and ?limit=N filters.
func (g *Gateway) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filter := store.CommandFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Status:  r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		filter.Limit = n
	}

	records, err := g.store.ListCommands(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing commands: "+err.Error())
		return
	}

	commands := make([]CommandResponse, 0, len(records))
	for _, rec := range records {
		commands = append(commands, CommandResponse{
			CommandID:  rec.CommandID,
			AgentID:    rec.AgentID,
			Command:    rec.Command,
			RunAsAdmin: rec.RunAsAdmin,
			Status:     rec.Status,
			Source:     rec.Source,
			Output:     rec.Output,
			Error:      rec.Error,
			DurationMS: rec.Duration.Milliseconds(),
			FinishedAt: rec.FinishedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, ListCommandsResponse{Commands: commands})
}
