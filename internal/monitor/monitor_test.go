// ABOUTME: Tests for the liveness sweep.
// ABOUTME: Covers grace-window aging, dead-pid detection, corrupt-record removal, and accrual.

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmdeck/swarmdeck/internal/broadcast"
	"github.com/swarmdeck/swarmdeck/internal/discovery"
	"github.com/swarmdeck/swarmdeck/internal/registry"
	"github.com/swarmdeck/swarmdeck/internal/sessionwatch"
)

// fakeLister returns no processes from enumeration but answers Find for the
// configured alive pids, so Cleanup exercises liveness without creating agents.
type fakeLister struct {
	alive map[int]bool
}

func (f fakeLister) Processes() ([]discovery.Process, error) { return nil, nil }

func (f fakeLister) Find(pid int) (discovery.Process, bool) {
	if f.alive[pid] {
		return discovery.Process{PID: pid}, true
	}
	return discovery.Process{}, false
}

type testHarness struct {
	registry *registry.Registry
	counters *registry.TaskCounters
	bus      *broadcast.Broadcaster
	svc      *Service
	now      time.Time
}

func newHarness(t *testing.T, alive map[int]bool) *testHarness {
	t.Helper()
	h := &testHarness{
		registry: registry.New(nil),
		counters: registry.NewTaskCounters(),
		bus:      broadcast.New(nil),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	scanner := discovery.NewScanner(h.registry, "claude", nil)
	scanner.SetLister(fakeLister{alive: alive})

	h.svc = New(h.registry, h.counters, scanner, h.bus, nil, nil, 5*time.Second, nil)
	clock := func() time.Time { return h.now }
	h.registry.SetClock(clock)
	h.svc.SetClock(clock)
	return h
}

func (h *testHarness) addAgent(a registry.Agent) registry.Agent {
	created := h.registry.Create(a)
	h.registry.Upsert(created.ChannelID, created)
	return created
}

func TestCleanup_CompletedAgesOutAfterGrace(t *testing.T) {
	h := newHarness(t, map[int]bool{501: true})
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusCompleted, PID: 501})
	h.counters.Increment("completed")

	// Still inside the grace window: nothing moves.
	h.now = h.now.Add(10 * time.Second)
	h.svc.Cleanup()
	a, _, ok := h.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusCompleted, a.Status)
	assert.Equal(t, 1, h.counters.Get("completed"))

	// Past the grace window: completed ages out to offline.
	h.now = h.now.Add(21 * time.Second)
	h.svc.Cleanup()
	a, _, ok = h.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusOffline, a.Status)
	assert.Equal(t, 0, h.counters.Get("completed"))
}

func TestCleanup_DeadPIDGoesOffline(t *testing.T) {
	h := newHarness(t, map[int]bool{})
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusWorking, PID: 777})
	h.counters.Increment("working")
	require.Equal(t, 1, h.counters.Get("inProgress"))

	h.svc.Cleanup()

	a, _, ok := h.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusOffline, a.Status)

	// The prior status's bucket is decremented and nothing else is incremented.
	snap := h.counters.Snapshot()
	for bucket, n := range snap {
		assert.Zero(t, n, "bucket %s", bucket)
	}
}

func TestCleanup_LivePIDStays(t *testing.T) {
	h := newHarness(t, map[int]bool{42: true})
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusWorking, PID: 42})

	h.svc.Cleanup()

	a, _, ok := h.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusWorking, a.Status)
}

func TestCleanup_RemovesCorruptRecords(t *testing.T) {
	h := newHarness(t, nil)
	// Bypass Create so the record really has no identity.
	h.registry.Upsert("broken", registry.Agent{Status: registry.StatusWorking})
	require.Equal(t, 1, h.registry.Count())

	h.svc.Cleanup()

	assert.Zero(t, h.registry.Count())
}

func TestCleanup_OfflineIsTerminal(t *testing.T) {
	h := newHarness(t, map[int]bool{})
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusOffline, PID: 777})
	h.counters.Reset()

	h.svc.Cleanup()

	// Still present, still offline, counters untouched.
	a, _, ok := h.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusOffline, a.Status)
	for bucket, n := range h.counters.Snapshot() {
		assert.Zero(t, n, "bucket %s", bucket)
	}
}

func TestCleanup_AgentWithoutPIDIsNotSwept(t *testing.T) {
	h := newHarness(t, map[int]bool{})
	// Hook-created agents may have no pid; liveness cannot judge them.
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusWorking})

	h.svc.Cleanup()

	a, _, ok := h.registry.FindByID("a1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusWorking, a.Status)
}

func TestTick_AccruesActiveDurationOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.addAgent(registry.Agent{ID: "busy", Status: registry.StatusWorking})
	h.addAgent(registry.Agent{ID: "lazy", Status: registry.StatusIdle})

	h.svc.Tick()
	h.svc.Tick()
	h.svc.Tick()

	busy, _, _ := h.registry.FindByID("busy")
	lazy, _, _ := h.registry.FindByID("lazy")
	assert.Equal(t, int64(3), busy.ActiveDurationSeconds)
	assert.Zero(t, lazy.ActiveDurationSeconds)
}

func TestTick_BroadcastsAgentList(t *testing.T) {
	h := newHarness(t, nil)
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusWorking})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := h.bus.Subscribe(ctx)

	h.svc.Tick()

	select {
	case ev := <-events:
		assert.Equal(t, broadcast.TopicAgentUpdate, ev.Topic)
		agents, ok := ev.Payload.([]registry.Agent)
		require.True(t, ok)
		assert.Len(t, agents, 1)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received after tick")
	}
}

func TestCleanup_BroadcastsCountersOnChange(t *testing.T) {
	h := newHarness(t, map[int]bool{})
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusWorking, PID: 777})
	h.counters.Increment("working")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := h.bus.Subscribe(ctx)

	h.svc.Cleanup()

	var topics []string
	for {
		select {
		case ev := <-events:
			topics = append(topics, ev.Topic)
			if ev.Topic == broadcast.TopicTaskUpdate {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("no task_update broadcast, saw %v", topics)
		}
	}
}

func TestCleanup_NoBroadcastWithoutChange(t *testing.T) {
	h := newHarness(t, map[int]bool{42: true})
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusWorking, PID: 42})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := h.bus.Subscribe(ctx)

	h.svc.Cleanup()

	select {
	case ev := <-events:
		t.Fatalf("unexpected broadcast %q", ev.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApply_EnrichesMatchingAgent(t *testing.T) {
	h := newHarness(t, nil)
	h.addAgent(registry.Agent{ID: "a1", Status: registry.StatusIdle, WorkingDirectory: "/repo/app"})

	h.svc.Apply(sessionwatch.Observation{
		SessionID:        "sess-1",
		WorkingDirectory: "/repo/app",
		GitBranch:        "main",
		InferredStatus:   registry.StatusWorking,
		LastActivity:     h.now,
	})

	a, _, ok := h.registry.FindByID("a1")
	require.True(t, ok)
	require.NotNil(t, a.Session)
	assert.Equal(t, "sess-1", a.Session.SessionID)
	assert.Equal(t, "main", a.Session.GitBranch)
}

func TestApply_NeverCreates(t *testing.T) {
	h := newHarness(t, nil)

	h.svc.Apply(sessionwatch.Observation{
		SessionID:        "sess-1",
		WorkingDirectory: "/repo/app",
		InferredStatus:   registry.StatusWorking,
	})

	assert.Zero(t, h.registry.Count())
}

func TestRestart_RejectsOutOfRangeInterval(t *testing.T) {
	h := newHarness(t, nil)

	assert.Error(t, h.svc.Restart(500*time.Millisecond))
	assert.Error(t, h.svc.Restart(301*time.Second))
	assert.Equal(t, 5*time.Second, h.svc.Interval())
}

func TestRestart_ReplacesRunningLoop(t *testing.T) {
	h := newHarness(t, nil)

	h.svc.Start()
	h.svc.Start() // second Start is a no-op

	require.NoError(t, h.svc.Restart(10*time.Second))
	assert.Equal(t, 10*time.Second, h.svc.Interval())

	h.svc.Stop()
	h.svc.Stop() // idempotent
}
