// ABOUTME: Tests for the process scanner using a fake process lister.
// ABOUTME: Covers exact-name matching, ancestor exclusion, and idempotence.

package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmdeck/swarmdeck/internal/registry"
)

type fakeLister struct {
	procs []Process
	err   error
}

func (f *fakeLister) Processes() ([]Process, error) {
	return f.procs, f.err
}

func (f *fakeLister) Find(pid int) (Process, bool) {
	for _, p := range f.procs {
		if p.PID == pid {
			return p, true
		}
	}
	return Process{}, false
}

type fakeMetadata struct {
	cwds   map[int]string
	starts map[int]time.Time
}

func (f fakeMetadata) WorkingDir(pid int) string {
	return f.cwds[pid]
}

func (f fakeMetadata) StartTime(pid int) time.Time {
	return f.starts[pid]
}

func newTestScanner(t *testing.T, reg *registry.Registry, lister *fakeLister, meta fakeMetadata) *Scanner {
	t.Helper()
	s := NewScanner(reg, "claude", nil)
	s.SetLister(lister)
	s.SetMetadata(meta)
	s.SetSelfPID(900)
	return s
}

func TestScanCreatesIdleAgents(t *testing.T) {
	reg := registry.New(nil)
	start := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	lister := &fakeLister{procs: []Process{
		{PID: 501, PPID: 1, Executable: "claude"},
		{PID: 502, PPID: 1, Executable: "vim"},
	}}
	meta := fakeMetadata{
		cwds:   map[int]string{501: "/repo/app"},
		starts: map[int]time.Time{501: start},
	}

	s := newTestScanner(t, reg, lister, meta)
	assert.Equal(t, 1, s.Scan())

	a, key, ok := reg.FindByID("501")
	require.True(t, ok)
	assert.Equal(t, "scan-501", key)
	assert.Equal(t, registry.StatusIdle, a.Status)
	assert.Equal(t, "app", a.Name)
	assert.Equal(t, "/repo/app", a.WorkingDirectory)
	assert.Equal(t, 501, a.PID)
	assert.Equal(t, start, a.StartTime)
}

func TestScanExactNameMatchOnly(t *testing.T) {
	reg := registry.New(nil)
	lister := &fakeLister{procs: []Process{
		// Mentions the keyword but is not the agent binary.
		{PID: 601, PPID: 1, Executable: "claude-helper"},
		{PID: 602, PPID: 1, Executable: "grep-claude-logs"},
	}}
	s := newTestScanner(t, reg, lister, fakeMetadata{})
	assert.Zero(t, s.Scan())
	assert.Zero(t, reg.Count())
}

func TestScanExcludesOwnAncestorChain(t *testing.T) {
	reg := registry.New(nil)
	// 900 (self) -> 700 (claude, our launcher) -> 1
	lister := &fakeLister{procs: []Process{
		{PID: 900, PPID: 700, Executable: "swarmdeck"},
		{PID: 700, PPID: 1, Executable: "claude"},
		{PID: 501, PPID: 1, Executable: "claude"},
	}}
	s := newTestScanner(t, reg, lister, fakeMetadata{})
	assert.Equal(t, 1, s.Scan())
	_, _, ok := reg.FindByID("700")
	assert.False(t, ok, "ancestor agent process must not be tracked")
	_, _, ok = reg.FindByID("501")
	assert.True(t, ok)
}

func TestScanIdempotent(t *testing.T) {
	reg := registry.New(nil)
	lister := &fakeLister{procs: []Process{
		{PID: 501, PPID: 1, Executable: "claude"},
	}}
	s := newTestScanner(t, reg, lister, fakeMetadata{})

	assert.Equal(t, 1, s.Scan())
	assert.Zero(t, s.Scan(), "second scan with no process changes must create nothing")
	assert.Equal(t, 1, reg.Count())
}

func TestScanSkipsKnownPIDUnderDifferentIdentity(t *testing.T) {
	reg := registry.New(nil)
	// A hook-created agent already tracks pid 501 under its own session id.
	a := reg.Create(registry.Agent{ID: "session-abc", PID: 501})
	reg.Upsert("hook-session-abc", a)

	lister := &fakeLister{procs: []Process{
		{PID: 501, PPID: 1, Executable: "claude"},
	}}
	s := newTestScanner(t, reg, lister, fakeMetadata{})
	assert.Zero(t, s.Scan())
	assert.Equal(t, 1, reg.Count())
}

func TestScanEnumerationFailure(t *testing.T) {
	reg := registry.New(nil)
	lister := &fakeLister{err: assert.AnError}
	s := newTestScanner(t, reg, lister, fakeMetadata{})
	assert.Zero(t, s.Scan())
}

func TestAlive(t *testing.T) {
	reg := registry.New(nil)
	lister := &fakeLister{procs: []Process{{PID: 777, PPID: 1, Executable: "claude"}}}
	s := newTestScanner(t, reg, lister, fakeMetadata{})

	assert.True(t, s.Alive(777))
	assert.False(t, s.Alive(778))
}
