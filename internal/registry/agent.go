// ABOUTME: Agent record type, status enum, and the serialization contract for the dashboard.
// ABOUTME: One Agent per logical coding-agent session, primary or subagent.

package registry

import (
	"fmt"
	"time"
)

// Agent types.
const (
	TypePrimary  = "primary-agent"
	TypeSubagent = "subagent"
)

// Status is the lifecycle state of an agent.
type Status string

// Agent statuses.
const (
	StatusIdle               Status = "idle"
	StatusWorking            Status = "working"
	StatusWaiting            Status = "waiting"
	StatusAwaitingPermission Status = "awaiting-permission"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusPaused             Status = "paused"
	StatusOffline            Status = "offline"
)

// activeStatuses are the states during which activeDurationSeconds advances.
// Failed still counts as active pending operator attention.
var activeStatuses = map[Status]bool{
	StatusWorking:            true,
	StatusWaiting:            true,
	StatusAwaitingPermission: true,
	StatusPaused:             true,
	StatusFailed:             true,
}

// IsActive reports whether the status accrues active duration.
func (s Status) IsActive() bool {
	return activeStatuses[s]
}

// Metrics holds runtime telemetry reported by an agent.
type Metrics struct {
	CPUUsage            float64 `json:"cpuUsage"`
	MemoryUsage         float64 `json:"memoryUsage"`
	RequestsPerSecond   float64 `json:"requestsPerSecond"`
	AverageResponseTime float64 `json:"averageResponseTime"`
}

// SessionMeta is filesystem-discovered session metadata attached to an agent.
// Fields are only ever filled in, never overwritten once set.
type SessionMeta struct {
	SessionID string `json:"sessionId"`
	GitBranch string `json:"gitBranch,omitempty"`
	Model     string `json:"model,omitempty"`
}

// LogRecord is one entry in an agent's bounded in-memory log ring.
type LogRecord struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	AgentID   string `json:"agentId"`
}

// maxRecentTools bounds the recentTools sequence.
const maxRecentTools = 5

// maxAgentLogs bounds the per-agent log ring.
const maxAgentLogs = 100

// Agent is one tracked coding-agent session. The JSON tags are the stable
// field-name contract consumed by the dashboard.
type Agent struct {
	ID                     string       `json:"id"`
	ChannelID              string       `json:"socketId"`
	Name                   string       `json:"name"`
	Type                   string       `json:"type"`
	ParentID               string       `json:"parentId,omitempty"`
	Status                 Status       `json:"status"`
	CurrentTask            string       `json:"currentTask,omitempty"`
	CurrentTool            string       `json:"currentTool,omitempty"`
	CurrentToolDescription string       `json:"currentToolDescription,omitempty"`
	StartTime              time.Time    `json:"startTime"`
	LastActivity           time.Time    `json:"lastActivity"`
	StatusChangedAt        time.Time    `json:"-"`
	Progress               int          `json:"progress"`
	TokensUsed             int          `json:"tokensUsed"`
	ToolCalls              int          `json:"toolCalls"`
	Metrics                Metrics      `json:"metrics"`
	RecentTools            []string     `json:"recentTools"`
	LastToolUsed           string       `json:"lastToolUsed,omitempty"`
	LastToolTime           *time.Time   `json:"lastToolTime,omitempty"`
	PID                    int          `json:"pid,omitempty"`
	WorkingDirectory       string       `json:"workingDirectory,omitempty"`
	Session                *SessionMeta `json:"sessionData,omitempty"`
	ActiveDurationSeconds  int64        `json:"activeDurationSeconds"`

	Logs []LogRecord `json:"-"`
}

// Clone returns a deep copy so that stored records never share slice or
// pointer backing with copies handed to callers.
func (a Agent) Clone() Agent {
	c := a
	if a.RecentTools != nil {
		c.RecentTools = make([]string, len(a.RecentTools))
		copy(c.RecentTools, a.RecentTools)
	}
	if a.Logs != nil {
		c.Logs = append([]LogRecord(nil), a.Logs...)
	}
	if a.LastToolTime != nil {
		t := *a.LastToolTime
		c.LastToolTime = &t
	}
	if a.Session != nil {
		s := *a.Session
		c.Session = &s
	}
	return c
}

// pushRecentTool appends a tool name, skipping consecutive duplicates and
// truncating from the front at maxRecentTools.
func (a *Agent) pushRecentTool(name string) {
	if n := len(a.RecentTools); n > 0 && a.RecentTools[n-1] == name {
		return
	}
	a.RecentTools = append(a.RecentTools, name)
	if len(a.RecentTools) > maxRecentTools {
		a.RecentTools = a.RecentTools[len(a.RecentTools)-maxRecentTools:]
	}
}

// FallbackName derives a display name from a working directory, or a
// pid-based placeholder when no directory is known.
func FallbackName(workingDir string, pid int) string {
	if workingDir != "" {
		return baseName(workingDir)
	}
	return fmt.Sprintf("Agent (%d)", pid)
}

// baseName returns the last path segment, tolerating trailing slashes.
func baseName(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
