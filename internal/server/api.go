// ABOUTME: REST endpoints: agent/task/log intake plus health, scan, config, and reset.
// ABOUTME: These mirror the hook surface for clients that cannot install hooks.

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/swarmdeck/swarmdeck/internal/config"
	"github.com/swarmdeck/swarmdeck/internal/registry"
)

// AgentRequest is the JSON body for POST /api/agent.
type AgentRequest struct {
	Type        string         `json:"type,omitempty"`
	ID          string         `json:"id,omitempty"`
	AgentID     string         `json:"agentId,omitempty"`
	Name        string         `json:"name,omitempty"`
	Status      string         `json:"status,omitempty"`
	CurrentTool *string        `json:"currentTool,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// TaskRequest is the JSON body for POST /api/task.
type TaskRequest struct {
	AgentID string `json:"agentId"`
	Task    string `json:"task,omitempty"`
	Status  string `json:"status,omitempty"`
}

// LogRequest is the JSON body for POST /api/log.
type LogRequest struct {
	AgentID   string `json:"agentId"`
	Level     string `json:"level,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ConfigRequest is the JSON body for POST /config. The interval is in
// milliseconds to match the dashboard's units.
type ConfigRequest struct {
	CleanupInterval int64 `json:"cleanupInterval"`
}

// handleHealth is GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"agents":    s.registry.Count(),
		"taskQueue": s.counters.Snapshot(),
	}
	if s.sweep != nil {
		body["cleanupInterval"] = s.sweep.Interval().Milliseconds()
	}
	s.sendJSON(w, http.StatusOK, body)
}

// handleScan is POST /scan: one-shot process discovery.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	found := 0
	if s.scanner != nil {
		found = s.scanner.Scan()
	}
	if found > 0 {
		s.broadcastAgents()
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"found":   found,
		"total":   s.registry.Count(),
	})
}

// handleConfig is POST /config: adjusts the sweep cadence at runtime.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	interval := time.Duration(req.CleanupInterval) * time.Millisecond
	if err := config.ValidateCleanupInterval(interval); err != nil {
		s.sendJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "cleanupInterval must be between 1000ms (1s) and 300000ms (5min)",
		})
		return
	}
	if s.sweep == nil {
		s.sendJSON(w, http.StatusOK, map[string]any{"success": false, "message": "sweep not running"})
		return
	}
	if err := s.sweep.Restart(interval); err != nil {
		s.sendJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	s.logger.Info("cleanup interval updated", "interval", interval)
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"cleanupInterval": interval.Milliseconds(),
		"message":         "Cleanup interval updated",
	})
}

// handleReset is POST /reset: zeroes the task counters.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.counters.Reset()
	s.broadcastCounters()
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":    "reset",
		"taskQueue": s.counters.Snapshot(),
	})
}

// handleListAgents is GET /api/agents: the current registry snapshot.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleAgent is POST /api/agent: create/update, disconnect, and clear-all.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Type {
	case "disconnect":
		if a, _, ok := s.registry.FindByID(req.AgentID); ok {
			s.counters.Decrement(string(a.Status))
		}
		s.registry.RemoveByID(req.AgentID)
		s.broadcastAgents()
		s.broadcastCounters()
		s.sendJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	case "clear-all":
		s.registry.ClearAll()
		s.counters.Reset()
		s.broadcastAgents()
		s.broadcastCounters()
		s.sendJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	// Hook-style events relayed through the agent endpoint.
	hookEventName := dataString(req.Data, "hook_event_name")
	if hookEventName == "" {
		hookEventName = req.Type
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = req.ID
	}
	if hookEventName != "" && agentID != "" {
		if s.applyRelayedHook(hookEventName, agentID, req.Data) {
			s.sendJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}

	if req.ID == "" {
		s.sendJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Missing agent id"})
		return
	}

	if _, _, ok := s.registry.FindByID(req.ID); !ok {
		name := req.Name
		if name == "" {
			name = "Agent"
		}
		status := registry.Status(req.Status)
		if status == "" {
			status = registry.StatusIdle
		}
		agent := s.registry.Create(registry.Agent{
			ID:     req.ID,
			Name:   name,
			Status: status,
		})
		if req.CurrentTool != nil {
			agent.CurrentTool = *req.CurrentTool
		}
		s.registry.Upsert(agent.ChannelID, agent)
	} else {
		now := s.now()
		s.registry.Mutate(req.ID, func(a *registry.Agent) {
			if req.Name != "" {
				a.Name = req.Name
			}
			if req.Status != "" {
				if a.Status != registry.Status(req.Status) {
					a.StatusChangedAt = now
				}
				a.Status = registry.Status(req.Status)
			}
			if req.CurrentTool != nil {
				a.CurrentTool = *req.CurrentTool
			}
			if a.Status == registry.StatusIdle {
				a.CurrentTask = ""
				a.CurrentTool = ""
			}
			a.LastActivity = now
		})
	}

	s.broadcastAgents()
	s.sendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// applyRelayedHook handles the subset of hook events accepted via /api/agent.
// Returns false when the agent is unknown so the caller falls through to the
// regular update path.
func (s *Server) applyRelayedHook(event, agentID string, data map[string]any) bool {
	if _, _, ok := s.registry.FindByID(agentID); !ok {
		return false
	}

	switch event {
	case "PreToolUse":
		toolName := dataString(data, "tool_name")
		if toolName == "" {
			return true
		}
		toolInput, _ := data["tool_input"].(map[string]any)
		toolDesc := dataString(toolInput, "description")
		s.registry.UpdateTool(agentID, toolName, toolDesc)
		msg := toolDesc
		if msg == "" {
			msg = "Using " + toolName
		}
		s.emitLog(agentID, "info", msg, "")
		s.broadcastAgents()
	case "PostToolUse":
		s.registry.ClearTool(agentID)
		s.broadcastAgents()
	case "UserPromptSubmit":
		prompt := dataString(data, "prompt")
		if prompt == "" {
			prompt = "New prompt received"
		}
		s.registry.UpdateTask(agentID, truncate(prompt, promptTruncateLen))
		s.counters.Increment("inProgress")
		s.emitLog(agentID, "info", "User prompt: "+truncate(prompt, 50), "")
		s.broadcastAgents()
	case "Stop", "SubagentStop":
		if a, _, ok := s.registry.FindByID(agentID); ok && a.Status.IsActive() {
			s.counters.Transition(string(a.Status), "completed")
		}
		s.registry.UpdateStatus(agentID, registry.StatusCompleted)
		s.registry.ClearTool(agentID)
		msg := "Task completed"
		if event == "SubagentStop" {
			msg = "Subagent completed task"
		}
		s.emitLog(agentID, "info", msg, "")
		s.broadcastAgents()
	default:
		return false
	}
	return true
}

// handleTask is POST /api/task: task/status updates with counter side effects.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		s.sendJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Missing agentId"})
		return
	}

	status := registry.Status(req.Status)
	if status == "" {
		status = registry.StatusWorking
	}

	if _, _, ok := s.registry.FindByID(req.AgentID); !ok {
		name := "Agent"
		if req.Task != "" {
			name = "Task: " + truncate(req.Task, 50)
		}
		agent := s.registry.Create(registry.Agent{
			ID:          req.AgentID,
			Name:        name,
			Status:      status,
			CurrentTask: req.Task,
		})
		s.registry.Upsert(agent.ChannelID, agent)
	} else {
		now := s.now()
		s.registry.Mutate(req.AgentID, func(a *registry.Agent) {
			a.CurrentTask = req.Task
			if a.Status != status {
				a.StatusChangedAt = now
			}
			a.Status = status
			a.LastActivity = now
		})
	}

	switch req.Status {
	case "working":
		s.counters.Increment("inProgress")
	case "completed":
		s.counters.Transition("inProgress", "completed")
	case "failed":
		s.counters.Transition("inProgress", "failed")
	}

	s.broadcastAgents()
	s.broadcastCounters()
	s.sendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLog is POST /api/log: log intake with keyword status inference.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req LogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		s.sendJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Missing agentId"})
		return
	}
	if req.Level == "" {
		req.Level = "info"
	}

	if _, _, ok := s.registry.FindByID(req.AgentID); !ok {
		agent := s.registry.Create(registry.Agent{
			ID:     req.AgentID,
			Status: registry.StatusWorking,
		})
		s.registry.Upsert(agent.ChannelID, agent)
	}

	if req.Message != "" {
		s.inferStatusFromLog(req.AgentID, req.Message)
	}

	s.emitLog(req.AgentID, req.Level, req.Message, req.Timestamp)
	s.sendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// inferStatusFromLog applies the keyword heuristics used by clients that only
// report free-form log lines.
func (s *Server) inferStatusFromLog(agentID, message string) {
	now := s.now()
	s.registry.Mutate(agentID, func(a *registry.Agent) {
		set := func(status registry.Status) {
			if a.Status != status {
				a.StatusChangedAt = now
			}
			a.Status = status
		}
		switch {
		case strings.Contains(message, "Using tool:"):
			a.ToolCalls++
			set(registry.StatusWorking)
		case strings.Contains(message, "completed"):
			set(registry.StatusCompleted)
		case strings.Contains(message, "error"):
			set(registry.StatusFailed)
		case strings.Contains(message, "prompt"):
			set(registry.StatusWorking)
		case strings.Contains(message, "Claude is wa"):
			set(registry.StatusIdle)
			a.CurrentTask = "Waiting for input"
		}
		a.LastActivity = now
	})
}
