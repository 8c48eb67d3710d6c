// ABOUTME: Tests for the hook intake endpoint and its handler table.
// ABOUTME: Verifies creation-on-first-sight, enrichment, status transitions, and counter effects.

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmdeck/swarmdeck/internal/broadcast"
	"github.com/swarmdeck/swarmdeck/internal/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Options{
		Registry: registry.New(nil),
		Counters: registry.NewTaskCounters(),
		Bus:      broadcast.New(nil),
	})
	// Deferred removals run inline so tests see the end state.
	s.schedule = func(d time.Duration, fn func()) { fn() }
	return s
}

func postHook(t *testing.T, s *Server, ev HookEvent) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/hook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handleHook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

func TestHandleHook_CreatesAgentOnFirstSight(t *testing.T) {
	s := newTestServer(t)

	postHook(t, s, HookEvent{
		AgentID:   "501",
		EventType: "SessionStart",
		PID:       501,
		Data:      map[string]any{"cwd": "/repo/app"},
	})

	a, key, ok := s.registry.FindByID("501")
	require.True(t, ok)
	assert.Equal(t, "hook-501", key)
	assert.Equal(t, registry.StatusIdle, a.Status)
	assert.Equal(t, "app", a.Name)
	assert.Equal(t, 501, a.PID)
	assert.Equal(t, "/repo/app", a.WorkingDirectory)
}

func TestHandleHook_UserPromptTransitionsToWorking(t *testing.T) {
	s := newTestServer(t)

	// Scan-style discovery first, then a prompt for the same identity.
	agent := s.registry.Create(registry.Agent{ID: "501", Status: registry.StatusIdle, Name: "app"})
	s.registry.Upsert(agent.ChannelID, agent)

	postHook(t, s, HookEvent{
		AgentID:   "501",
		EventType: "UserPromptSubmit",
		Data:      map[string]any{"prompt": "fix the login bug"},
	})

	a, _, ok := s.registry.FindByID("501")
	require.True(t, ok)
	assert.Equal(t, registry.StatusWorking, a.Status)
	assert.Equal(t, "fix the login bug", a.CurrentTask)
	assert.Equal(t, 1, s.counters.Get("inProgress"))
}

func TestHandleHook_LongPromptTruncated(t *testing.T) {
	s := newTestServer(t)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "UserPromptSubmit",
		Data:      map[string]any{"prompt": string(long)},
	})

	a, _, _ := s.registry.FindByID("a1")
	assert.Len(t, a.CurrentTask, promptTruncateLen+3)
}

func TestHandleHook_PreToolUseRecordsTool(t *testing.T) {
	s := newTestServer(t)

	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "PreToolUse",
		Data: map[string]any{
			"tool_name":  "Edit",
			"tool_input": map[string]any{"file_path": "/repo/app/main.go"},
		},
	})

	a, _, _ := s.registry.FindByID("a1")
	assert.Equal(t, "Edit", a.CurrentTool)
	assert.Equal(t, 1, a.ToolCalls)
	assert.Equal(t, []string{"Edit"}, a.RecentTools)
}

func TestHandleHook_TodoWriteExtractsTask(t *testing.T) {
	s := newTestServer(t)

	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "PreToolUse",
		Data: map[string]any{
			"tool_name": "TodoWrite",
			"tool_input": map[string]any{
				"todos": []any{
					map[string]any{"status": "completed", "content": "old thing"},
					map[string]any{"status": "in_progress", "activeForm": "Refactoring the parser"},
				},
			},
		},
	})

	a, _, _ := s.registry.FindByID("a1")
	assert.Equal(t, "Refactoring the parser", a.CurrentTask)
}

func TestHandleHook_PostToolUseClearsTool(t *testing.T) {
	s := newTestServer(t)

	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "PreToolUse",
		Data:      map[string]any{"tool_name": "Bash"},
	})
	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "PostToolUse",
		Data:      map[string]any{"tool_name": "Bash"},
	})

	a, _, _ := s.registry.FindByID("a1")
	assert.Empty(t, a.CurrentTool)
	assert.Equal(t, 1, a.ToolCalls)
}

func TestHandleHook_StopCompletesAndCounts(t *testing.T) {
	s := newTestServer(t)

	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "UserPromptSubmit",
		Data:      map[string]any{"prompt": "do a thing"},
	})
	postHook(t, s, HookEvent{AgentID: "a1", EventType: "Stop"})

	a, _, _ := s.registry.FindByID("a1")
	assert.Equal(t, registry.StatusCompleted, a.Status)
	assert.Empty(t, a.CurrentTask)
	assert.Equal(t, 0, s.counters.Get("inProgress"))
	assert.Equal(t, 1, s.counters.Get("completed"))
}

func TestHandleHook_PermissionRequestSetsWaiting(t *testing.T) {
	s := newTestServer(t)

	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "PermissionRequest",
		Data:      map[string]any{"tool_name": "Bash"},
	})

	a, _, _ := s.registry.FindByID("a1")
	assert.Equal(t, registry.StatusWaiting, a.Status)
}

func TestHandleHook_SubagentLifecycle(t *testing.T) {
	s := newTestServer(t)

	// Removal must not fire inline here; capture it instead.
	var removals []func()
	s.schedule = func(d time.Duration, fn func()) {
		assert.Equal(t, subagentRemovalDelay, d)
		removals = append(removals, fn)
	}

	postHook(t, s, HookEvent{AgentID: "parent", EventType: "SessionStart"})
	postHook(t, s, HookEvent{
		AgentID:   "parent",
		EventType: "SubagentStart",
		Data:      map[string]any{"description": "run the tests"},
	})

	var sub registry.Agent
	found := false
	for _, a := range s.registry.Snapshot() {
		if a.Type == registry.TypeSubagent {
			sub, found = a, true
		}
	}
	require.True(t, found)
	assert.Equal(t, "parent", sub.ParentID)
	assert.Equal(t, registry.StatusWorking, sub.Status)
	assert.Equal(t, "run the tests", sub.CurrentTask)
	assert.Equal(t, 1, s.counters.Get("inProgress"))

	postHook(t, s, HookEvent{AgentID: "parent", EventType: "SubagentStop"})

	got, _, ok := s.registry.FindByID(sub.ID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusCompleted, got.Status)
	// Subagents keep the task text through completion.
	assert.Equal(t, "run the tests", got.CurrentTask)
	assert.Equal(t, 0, s.counters.Get("inProgress"))
	assert.Equal(t, 1, s.counters.Get("completed"))

	// Deferred removal takes the subagent out.
	require.Len(t, removals, 1)
	removals[0]()
	_, _, ok = s.registry.FindByID(sub.ID)
	assert.False(t, ok)
}

func TestHandleHook_SessionEndGoesOfflineAndRemovesLater(t *testing.T) {
	s := newTestServer(t)

	var removals []func()
	s.schedule = func(d time.Duration, fn func()) {
		assert.Equal(t, sessionEndRemovalDelay, d)
		removals = append(removals, fn)
	}

	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "UserPromptSubmit",
		Data:      map[string]any{"prompt": "task"},
	})
	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "SessionEnd",
		Data:      map[string]any{"reason": "exit"},
	})

	a, _, ok := s.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusOffline, a.Status)
	assert.Empty(t, a.CurrentTask)
	assert.Equal(t, 0, s.counters.Get("inProgress"))

	require.Len(t, removals, 1)
	removals[0]()
	_, _, ok = s.registry.FindByID("a1")
	assert.False(t, ok)
}

func TestHandleHook_EnrichesExistingAgent(t *testing.T) {
	s := newTestServer(t)

	agent := s.registry.Create(registry.Agent{ID: "a1", Name: "app"})
	s.registry.Upsert(agent.ChannelID, agent)

	postHook(t, s, HookEvent{
		AgentID:   "a1",
		EventType: "Notification",
		PID:       42,
		Data:      map[string]any{"cwd": "/repo/app", "message": "hi"},
	})

	a, _, _ := s.registry.FindByID("a1")
	assert.Equal(t, 42, a.PID)
	assert.Equal(t, "/repo/app", a.WorkingDirectory)
}

func TestHandleHook_UnknownEventTypeLogsOnly(t *testing.T) {
	s := newTestServer(t)

	postHook(t, s, HookEvent{AgentID: "a1", EventType: "SomethingNew"})

	a, _, ok := s.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusIdle, a.Status)
}

func TestHandleHook_InfrastructureEventsLogFormatted(t *testing.T) {
	tests := []struct {
		eventType string
		data      map[string]any
		level     string
		message   string
	}{
		{"TeammateIdle", map[string]any{"teammate_name": "ada", "team_name": "core"}, "info", "Teammate idle: ada (core)"},
		{"TeammateIdle", nil, "info", "Teammate idle: Unknown"},
		{"ConfigChange", map[string]any{"source": "settings", "file_path": "/repo/.claude/settings.json"}, "debug", "Config changed: settings (/repo/.claude/settings.json)"},
		{"WorktreeCreate", map[string]any{"name": "feature-x"}, "info", "Worktree created: feature-x"},
		{"WorktreeRemove", map[string]any{"worktree_path": "/repo/wt/feature-x"}, "info", "Worktree removed: /repo/wt/feature-x"},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			s := newTestServer(t)

			postHook(t, s, HookEvent{AgentID: "a1", EventType: tt.eventType, Data: tt.data})

			a, _, ok := s.registry.FindByID("a1")
			require.True(t, ok)
			require.NotEmpty(t, a.Logs)
			last := a.Logs[len(a.Logs)-1]
			assert.Equal(t, tt.level, last.Level)
			assert.Equal(t, tt.message, last.Message)
		})
	}
}

func TestHandleHook_RejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(HookEvent{EventType: "Stop"})
	req := httptest.NewRequest(http.MethodPost, "/api/hook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleHook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
