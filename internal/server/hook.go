// ABOUTME: Hook event intake: POST /api/hook with a per-event-type handler table.
// ABOUTME: Creates the agent on first sight, enriches on later events, broadcasts once per request.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/swarmdeck/swarmdeck/internal/registry"
)

// subagentRemovalDelay keeps a finished subagent visible before removal.
const subagentRemovalDelay = 5 * time.Second

// sessionEndRemovalDelay keeps an ended session visible before removal.
const sessionEndRemovalDelay = 10 * time.Second

// promptTruncateLen bounds the task text extracted from a user prompt.
const promptTruncateLen = 100

// HookEvent is the JSON body posted by agent lifecycle hooks.
type HookEvent struct {
	AgentID   string         `json:"agentId"`
	AgentName string         `json:"agentName,omitempty"`
	EventType string         `json:"eventType"`
	Timestamp string         `json:"timestamp,omitempty"`
	PID       int            `json:"pid,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// hookHandler applies one event type's mutations. The surrounding endpoint
// owns the find-or-create, the final last-activity touch, and the broadcasts.
type hookHandler func(s *Server, ev *HookEvent)

var hookHandlers = map[string]hookHandler{
	"SessionStart":       handleSessionStart,
	"UserPromptSubmit":   handleUserPromptSubmit,
	"PreToolUse":         handlePreToolUse,
	"PostToolUse":        handlePostToolUse,
	"PostToolUseFailure": handlePostToolUseFailure,
	"SubagentStart":      handleSubagentStart,
	"SubagentStop":       handleSubagentStop,
	"Stop":               handleStop,
	"PermissionRequest":  handlePermissionRequest,
	"SessionEnd":         handleSessionEnd,
	"PreCompact":         handlePreCompact,
	"Notification":       handleNotification,
	"TaskCompleted":      handleTaskCompleted,
	"TeammateIdle":       handleTeammateIdle,
	"ConfigChange":       handleConfigChange,
	"WorktreeCreate":     handleWorktreeCreate,
	"WorktreeRemove":     handleWorktreeRemove,
}

// handleHook is POST /api/hook.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var ev HookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.AgentID == "" || ev.EventType == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agentId and eventType are required")
		return
	}

	s.persistEvent("hook", ev.AgentID, dataString(ev.Data, "session_id"), ev.EventType, ev.Data)

	cwd := dataString(ev.Data, "cwd")
	if _, _, ok := s.registry.FindByID(ev.AgentID); !ok {
		name := ev.AgentName
		if name == "" {
			name = registry.FallbackName(cwd, ev.PID)
		}
		agent := s.registry.Create(registry.Agent{
			ID:               ev.AgentID,
			ChannelID:        "hook-" + ev.AgentID,
			Name:             name,
			Type:             registry.TypePrimary,
			Status:           registry.StatusIdle,
			WorkingDirectory: cwd,
			PID:              ev.PID,
		})
		s.registry.Upsert(agent.ChannelID, agent)
	} else {
		// Enrichment: fill missing identity fields, never clobber.
		s.registry.Mutate(ev.AgentID, func(a *registry.Agent) {
			if cwd != "" && a.WorkingDirectory == "" {
				a.WorkingDirectory = cwd
			}
			if ev.PID != 0 && a.PID == 0 {
				a.PID = ev.PID
			}
			if ev.AgentName != "" && a.Name != ev.AgentName {
				a.Name = ev.AgentName
			}
		})
	}

	handler, ok := hookHandlers[ev.EventType]
	if !ok {
		handler = handleUnknownHook
	}
	handler(s, &ev)

	now := s.now()
	s.registry.Mutate(ev.AgentID, func(a *registry.Agent) {
		a.LastActivity = now
	})

	s.broadcastAgents()
	s.broadcastCounters()

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"eventType": ev.EventType,
		"agentId":   ev.AgentID,
	})
}

func handleSessionStart(s *Server, ev *HookEvent) {
	s.registry.UpdateStatus(ev.AgentID, registry.StatusIdle)
	s.registry.Mutate(ev.AgentID, func(a *registry.Agent) {
		if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
			a.StartTime = ts
		}
		if sid := dataString(ev.Data, "session_id"); sid != "" && a.Session == nil {
			a.Session = &registry.SessionMeta{SessionID: sid}
		}
	})
	s.emitLog(ev.AgentID, "info", fmt.Sprintf("Session started - Agent ID: %s", ev.AgentID), ev.Timestamp)
}

func handleUserPromptSubmit(s *Server, ev *HookEvent) {
	prompt := dataString(ev.Data, "prompt")
	if prompt == "" {
		prompt = "New task"
	}
	truncated := truncate(prompt, promptTruncateLen)
	s.registry.UpdateTask(ev.AgentID, truncated)
	s.counters.Increment("inProgress")
	s.emitLog(ev.AgentID, "info", "User: "+truncated, ev.Timestamp)
}

func handlePreToolUse(s *Server, ev *HookEvent) {
	toolName := dataString(ev.Data, "tool_name")
	if toolName == "" {
		toolName = "Unknown"
	}
	toolInput, _ := ev.Data["tool_input"].(map[string]any)
	toolDescription := dataString(toolInput, "description")
	s.registry.UpdateTool(ev.AgentID, toolName, toolDescription)

	if toolName == "TodoWrite" {
		if task := inProgressTodo(toolInput); task != "" {
			s.registry.Mutate(ev.AgentID, func(a *registry.Agent) {
				a.CurrentTask = task
			})
			s.emitLog(ev.AgentID, "info", task, ev.Timestamp)
		}
	}

	msg := toolDescription
	if msg == "" {
		msg = "Using " + toolName
		if target := toolTarget(toolInput); target != "" {
			msg = toolName + ": " + target
		}
	}
	s.emitLog(ev.AgentID, "info", msg, ev.Timestamp)
}

func handlePostToolUse(s *Server, ev *HookEvent) {
	s.registry.ClearTool(ev.AgentID)

	tool := dataString(ev.Data, "tool_name")
	if tool == "" {
		tool = "Unknown"
	}
	toolInput, _ := ev.Data["tool_input"].(map[string]any)
	suffix := ""
	if target := toolTarget(toolInput); target != "" {
		suffix = ": " + target
	}

	if errMsg := dataString(ev.Data, "error"); errMsg != "" {
		s.emitLog(ev.AgentID, "error", fmt.Sprintf("Failed %s%s: %s", tool, suffix, errMsg), ev.Timestamp)
		return
	}
	s.emitLog(ev.AgentID, "info", "Completed "+tool+suffix, ev.Timestamp)
}

func handlePostToolUseFailure(s *Server, ev *HookEvent) {
	s.registry.ClearTool(ev.AgentID)

	failedTool := dataString(ev.Data, "tool_name")
	if failedTool == "" {
		failedTool = "Unknown"
	}
	failErr := dataString(ev.Data, "error")
	if failErr == "" {
		failErr = "Unknown error"
	}
	isInterrupt, _ := ev.Data["is_interrupt"].(bool)

	if isInterrupt && s.counters.Get("inProgress") > 0 {
		s.counters.Decrement("inProgress")
		s.counters.Increment("failed")
	}

	suffix := ""
	if isInterrupt {
		suffix = " (interrupted)"
	}
	s.emitLog(ev.AgentID, "error", fmt.Sprintf("%s failed: %s%s", failedTool, failErr, suffix), ev.Timestamp)
}

func handleSubagentStart(s *Server, ev *HookEvent) {
	description := dataString(ev.Data, "description")
	if description == "" {
		description = "Subagent Task"
	}
	subID := fmt.Sprintf("%s-sub-%d", ev.AgentID, s.now().UnixMilli())
	sub := s.registry.Create(registry.Agent{
		ID:          subID,
		ChannelID:   "hook-" + subID,
		Name:        "Subagent: " + description,
		Type:        registry.TypeSubagent,
		ParentID:    ev.AgentID,
		Status:      registry.StatusWorking,
		CurrentTask: description,
	})
	s.registry.Upsert(sub.ChannelID, sub)
	s.counters.Increment("inProgress")
	s.emitLog(ev.AgentID, "info", "Subagent started: "+description, ev.Timestamp)
}

func handleSubagentStop(s *Server, ev *HookEvent) {
	now := s.now()
	for _, a := range s.registry.Snapshot() {
		if a.Type != registry.TypeSubagent || a.ParentID != ev.AgentID {
			continue
		}
		subID := a.ID
		if a.Status != registry.StatusOffline {
			s.counters.Transition(string(a.Status), "completed")
		}
		// Subagents keep their task text through completion for audit.
		s.registry.Mutate(subID, func(sub *registry.Agent) {
			if sub.Status != registry.StatusCompleted {
				sub.StatusChangedAt = now
			}
			sub.Status = registry.StatusCompleted
			sub.LastActivity = now
		})
		s.schedule(subagentRemovalDelay, func() {
			s.registry.RemoveByID(subID)
			s.broadcastAgents()
		})
	}
	s.emitLog(ev.AgentID, "info", "Subagent completed", ev.Timestamp)
}

func handleStop(s *Server, ev *HookEvent) {
	s.registry.Mutate(ev.AgentID, func(a *registry.Agent) {
		if a.Status != registry.StatusCompleted {
			a.StatusChangedAt = s.now()
		}
		a.Status = registry.StatusCompleted
		// Task and tool are cleared for primaries only; subagents keep the
		// task text visible until their deferred removal.
		if a.Type != registry.TypeSubagent {
			a.CurrentTask = ""
			a.CurrentTool = ""
		}
	})
	if s.counters.Get("inProgress") > 0 {
		s.counters.Decrement("inProgress")
	}
	s.counters.Increment("completed")
	s.emitLog(ev.AgentID, "info", "Session completed", ev.Timestamp)
}

func handlePermissionRequest(s *Server, ev *HookEvent) {
	toolName := dataString(ev.Data, "tool_name")
	if toolName == "" {
		toolName = "Unknown"
	}
	s.registry.UpdateStatus(ev.AgentID, registry.StatusWaiting)
	s.emitLog(ev.AgentID, "warning", "Permission requested for "+toolName, ev.Timestamp)
}

func handleSessionEnd(s *Server, ev *HookEvent) {
	reason := dataString(ev.Data, "reason")
	if reason == "" {
		reason = "unknown"
	}
	if s.counters.Get("inProgress") > 0 {
		s.counters.Decrement("inProgress")
	}
	s.registry.UpdateStatus(ev.AgentID, registry.StatusOffline)
	s.emitLog(ev.AgentID, "info", fmt.Sprintf("Session ended (%s)", reason), ev.Timestamp)

	agentID := ev.AgentID
	s.schedule(sessionEndRemovalDelay, func() {
		s.registry.RemoveByID(agentID)
		s.broadcastAgents()
	})
}

func handlePreCompact(s *Server, ev *HookEvent) {
	s.emitLog(ev.AgentID, "debug", "Compacting context...", ev.Timestamp)
}

func handleNotification(s *Server, ev *HookEvent) {
	level := dataString(ev.Data, "level")
	if level == "" {
		level = "info"
	}
	message := dataString(ev.Data, "message")
	if message == "" {
		message = "Notification"
	}
	s.emitLog(ev.AgentID, level, message, ev.Timestamp)
}

func handleTaskCompleted(s *Server, ev *HookEvent) {
	subject := dataString(ev.Data, "task_subject")
	if subject == "" {
		subject = "Unknown task"
	}
	s.counters.Increment("completed")
	if s.counters.Get("inProgress") > 0 {
		s.counters.Decrement("inProgress")
	}
	s.emitLog(ev.AgentID, "info", "Task completed: "+subject, ev.Timestamp)
}

func handleTeammateIdle(s *Server, ev *HookEvent) {
	teammate := dataString(ev.Data, "teammate_name")
	if teammate == "" {
		teammate = "Unknown"
	}
	message := "Teammate idle: " + teammate
	if team := dataString(ev.Data, "team_name"); team != "" {
		message += " (" + team + ")"
	}
	s.emitLog(ev.AgentID, "info", message, ev.Timestamp)
}

func handleConfigChange(s *Server, ev *HookEvent) {
	source := dataString(ev.Data, "source")
	if source == "" {
		source = "unknown"
	}
	message := "Config changed: " + source
	if filePath := dataString(ev.Data, "file_path"); filePath != "" {
		message += " (" + filePath + ")"
	}
	s.emitLog(ev.AgentID, "debug", message, ev.Timestamp)
}

func handleWorktreeCreate(s *Server, ev *HookEvent) {
	name := dataString(ev.Data, "name")
	if name == "" {
		name = "unnamed"
	}
	s.emitLog(ev.AgentID, "info", "Worktree created: "+name, ev.Timestamp)
}

func handleWorktreeRemove(s *Server, ev *HookEvent) {
	path := dataString(ev.Data, "worktree_path")
	if path == "" {
		path = "unknown"
	}
	s.emitLog(ev.AgentID, "info", "Worktree removed: "+path, ev.Timestamp)
}

func handleUnknownHook(s *Server, ev *HookEvent) {
	raw, _ := json.Marshal(ev.Data)
	s.emitLog(ev.AgentID, "debug", ev.EventType+": "+truncate(string(raw), 100), ev.Timestamp)
}

// dataString reads a string field out of a hook data map.
func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}

// inProgressTodo extracts the active task text from a TodoWrite tool input.
func inProgressTodo(toolInput map[string]any) string {
	todos, _ := toolInput["todos"].([]any)
	for _, raw := range todos {
		todo, ok := raw.(map[string]any)
		if !ok || todo["status"] != "in_progress" {
			continue
		}
		if f := dataString(todo, "activeForm"); f != "" {
			return f
		}
		return dataString(todo, "content")
	}
	return ""
}

// toolTarget derives a short human-readable target from a tool input: the
// base name of a file path, or the command text.
func toolTarget(toolInput map[string]any) string {
	for _, key := range []string{"file_path", "path", "command"} {
		if v := dataString(toolInput, key); v != "" {
			if idx := strings.LastIndex(v, "/"); idx >= 0 && key != "command" {
				return v[idx+1:]
			}
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
