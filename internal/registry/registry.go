// ABOUTME: In-memory registry of live agent records keyed by channel ID.
// ABOUTME: Pure state container; broadcasting after mutation is the caller's job.

package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry owns the map of live agent records. All access goes through its
// lock; methods hand out deep copies so callers can never mutate shared state
// without an explicit Upsert.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent

	// recentLogs tracks message hashes per agent for duplicate suppression.
	recentLogs map[string]map[string]time.Time

	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:     make(map[string]*Agent),
		recentLogs: make(map[string]map[string]time.Time),
		now:        time.Now,
		logger:     logger.With("component", "registry"),
	}
}

// SetClock overrides the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Create returns a new agent with defaults filled in from seed. It does NOT
// insert into the map; the caller must call Upsert so that a batch of field
// edits results in exactly one insertion.
func (r *Registry) Create(seed Agent) Agent {
	r.mu.RLock()
	now := r.now()
	r.mu.RUnlock()

	a := seed
	if a.ID == "" {
		a.ID = fmt.Sprintf("agent-%d", now.UnixMilli())
	}
	if a.ChannelID == "" {
		a.ChannelID = "rest-" + a.ID
	}
	if a.Name == "" {
		a.Name = "Agent"
	}
	if a.Type == "" {
		a.Type = TypePrimary
	}
	if a.Status == "" {
		a.Status = StatusIdle
	}
	if a.RecentTools == nil {
		// Dashboard contract: recentTools is always an array, never null.
		a.RecentTools = []string{}
	}
	if a.StartTime.IsZero() {
		a.StartTime = now
	}
	if a.LastActivity.IsZero() {
		a.LastActivity = now
	}
	if a.StatusChangedAt.IsZero() {
		a.StatusChangedAt = now
	}
	return a
}

// Upsert inserts or replaces the record under key. No I/O happens here.
func (r *Registry) Upsert(key string, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := a.Clone()
	stored.ChannelID = key
	r.agents[key] = &stored
}

// Get returns the agent bound to the given channel key.
func (r *Registry) Get(key string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[key]
	if !ok {
		return Agent{}, false
	}
	return a.Clone(), true
}

// FindByID returns the agent with the given identity and its channel key.
func (r *Registry) FindByID(id string) (Agent, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, a := range r.agents {
		if a.ID == id {
			return a.Clone(), key, true
		}
	}
	return Agent{}, "", false
}

// FindByPID returns the agent bound to the given OS process id.
func (r *Registry) FindByPID(pid int) (Agent, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, a := range r.agents {
		if a.PID == pid && pid != 0 {
			return a.Clone(), key, true
		}
	}
	return Agent{}, "", false
}

// Remove deletes the record under key. Reports whether anything was removed.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[key]; !ok {
		return false
	}
	delete(r.agents, key)
	return true
}

// RemoveByID deletes the record with the given identity.
func (r *Registry) RemoveByID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, a := range r.agents {
		if a.ID == id {
			delete(r.agents, key)
			return true
		}
	}
	return false
}

// ClearAll drops every record.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*Agent)
	r.recentLogs = make(map[string]map[string]time.Time)
}

// Count returns the number of tracked agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Snapshot returns a consistent copy of every agent record. Ordering is not
// specified; the dashboard re-sorts.
func (r *Registry) Snapshot() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	return out
}

// UpdateTool records a tool-use start: bumps toolCalls, sets the current tool
// fields, and appends to recentTools (no consecutive duplicates, max 5).
func (r *Registry) UpdateTool(id, toolName, description string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findLocked(id)
	if a == nil {
		return false
	}
	now := r.now()
	a.ToolCalls++
	a.CurrentTool = toolName
	a.CurrentToolDescription = description
	a.LastToolUsed = toolName
	a.LastToolTime = &now
	a.LastActivity = now
	a.pushRecentTool(toolName)
	return true
}

// ClearTool nulls the current-tool fields without touching telemetry counters.
func (r *Registry) ClearTool(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findLocked(id)
	if a == nil {
		return false
	}
	a.CurrentTool = ""
	a.CurrentToolDescription = ""
	a.LastActivity = r.now()
	return true
}

// UpdateStatus sets the agent's status. StatusChangedAt moves only when the
// value actually differs, which the timed completed→offline transition relies
// on. Entering idle or offline clears the current task and tool.
func (r *Registry) UpdateStatus(id string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findLocked(id)
	if a == nil {
		return false
	}
	now := r.now()
	if a.Status != status {
		a.StatusChangedAt = now
	}
	a.Status = status
	a.LastActivity = now
	if status == StatusIdle || status == StatusOffline {
		a.CurrentTask = ""
		a.CurrentTool = ""
	}
	return true
}

// UpdateTask sets the current task and marks the agent working.
func (r *Registry) UpdateTask(id, task string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findLocked(id)
	if a == nil {
		return false
	}
	a.CurrentTask = task
	if a.Status != StatusWorking {
		a.StatusChangedAt = r.now()
	}
	a.Status = StatusWorking
	a.LastActivity = r.now()
	return true
}

// Mutate applies fn to the live record for id under the lock. Used by event
// handlers for field edits that have no dedicated mutation method, so a batch
// of edits stays linearized with every other mutation path.
func (r *Registry) Mutate(id string, fn func(*Agent)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findLocked(id)
	if a == nil {
		return false
	}
	fn(a)
	return true
}

// AccrueActive adds the given number of seconds to every agent whose status is
// in the active set. Returns the number of agents touched.
func (r *Registry) AccrueActive(seconds int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	touched := 0
	for _, a := range r.agents {
		if a.Status.IsActive() {
			a.ActiveDurationSeconds += seconds
			touched++
		}
	}
	return touched
}

// AppendLog adds an entry to the agent's log ring, truncating at maxAgentLogs.
func (r *Registry) AppendLog(id string, rec LogRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.findLocked(id)
	if a == nil {
		return false
	}
	a.Logs = append(a.Logs, rec)
	if len(a.Logs) > maxAgentLogs {
		a.Logs = a.Logs[len(a.Logs)-maxAgentLogs:]
	}
	return true
}

// logDedupWindow suppresses identical messages arriving within this window.
const logDedupWindow = 5 * time.Second

// logDedupRetention prunes dedup entries older than this.
const logDedupRetention = 30 * time.Second

// IsDuplicateLog reports whether an identical (message, level) pair was seen
// for this agent within the dedup window, recording the current sighting.
func (r *Registry) IsDuplicateLog(id, message, level string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	hash := id + "-" + message + "-" + level
	recent, ok := r.recentLogs[id]
	if !ok {
		recent = make(map[string]time.Time)
		r.recentLogs[id] = recent
	}
	if seen, ok := recent[hash]; ok && now.Sub(seen) < logDedupWindow {
		return true
	}
	recent[hash] = now
	for h, ts := range recent {
		if now.Sub(ts) > logDedupRetention {
			delete(recent, h)
		}
	}
	return false
}

// findLocked returns the live record for id. Callers must hold the write lock.
func (r *Registry) findLocked(id string) *Agent {
	for _, a := range r.agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}
