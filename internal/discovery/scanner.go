// ABOUTME: One-shot enumeration of OS processes running the agent executable.
// ABOUTME: Creates idle registry entries for untracked processes; races are skipped.

package discovery

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/swarmdeck/swarmdeck/internal/registry"
)

// Process is one enumerated OS process. Executable is the base filename of
// argv[0], not the raw command line.
type Process struct {
	PID        int
	PPID       int
	Executable string
}

// Lister enumerates OS processes. The default implementation wraps go-ps;
// tests supply fakes.
type Lister interface {
	// Processes returns all live processes. Processes vanishing mid-iteration
	// must be tolerated, not surfaced.
	Processes() ([]Process, error)
	// Find looks up one process by pid.
	Find(pid int) (Process, bool)
}

// Metadata resolves per-process details that go-ps does not carry.
type Metadata interface {
	// WorkingDir returns the process working directory, or "" when unknown.
	WorkingDir(pid int) string
	// StartTime returns the process creation time, or the zero time when
	// unknown.
	StartTime(pid int) time.Time
}

// Scanner discovers running agent processes and registers them.
type Scanner struct {
	registry   *registry.Registry
	lister     Lister
	meta       Metadata
	executable string
	selfPID    int
	logger     *slog.Logger
}

// NewScanner creates a scanner matching processes whose executable base name
// equals executable exactly. Substring matching against the command line is
// deliberately not supported: it false-positives on unrelated processes that
// merely mention the name.
func NewScanner(reg *registry.Registry, executable string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		registry:   reg,
		lister:     psLister{},
		meta:       platformMetadata{},
		executable: executable,
		selfPID:    os.Getpid(),
		logger:     logger.With("component", "discovery"),
	}
}

// SetLister overrides process enumeration. Test hook.
func (s *Scanner) SetLister(l Lister) { s.lister = l }

// SetMetadata overrides per-process metadata resolution. Test hook.
func (s *Scanner) SetMetadata(m Metadata) { s.meta = m }

// SetSelfPID overrides the pid used as the root of the ancestor walk. Test hook.
func (s *Scanner) SetSelfPID(pid int) { s.selfPID = pid }

// Scan enumerates processes and creates a new idle agent for each matching
// process not already tracked. Returns the number of agents created.
func (s *Scanner) Scan() int {
	procs, err := s.lister.Processes()
	if err != nil {
		s.logger.Warn("process enumeration failed", "error", err)
		return 0
	}

	ancestors := s.ancestorPIDs()

	found := 0
	for _, p := range procs {
		if p.Executable != s.executable {
			continue
		}
		// The shell session that launched this server often sits inside an
		// agent process; tracking our own ancestry would make the server
		// monitor itself.
		if ancestors[p.PID] {
			continue
		}
		if _, _, ok := s.registry.FindByPID(p.PID); ok {
			continue
		}
		id := strconv.Itoa(p.PID)
		if _, _, ok := s.registry.FindByID(id); ok {
			continue
		}

		cwd := s.meta.WorkingDir(p.PID)
		agent := s.registry.Create(registry.Agent{
			ID:               id,
			ChannelID:        "scan-" + id,
			Name:             registry.FallbackName(cwd, p.PID),
			Type:             registry.TypePrimary,
			Status:           registry.StatusIdle,
			WorkingDirectory: cwd,
			PID:              p.PID,
			StartTime:        s.meta.StartTime(p.PID),
		})
		s.registry.Upsert(agent.ChannelID, agent)
		found++

		s.logger.Info("discovered agent process",
			"pid", p.PID,
			"working_dir", cwd,
		)
	}
	return found
}

// Alive reports whether the given pid still exists. Used by the liveness
// sweep to detect exited processes.
func (s *Scanner) Alive(pid int) bool {
	_, ok := s.lister.Find(pid)
	return ok
}

// ancestorPIDs walks parent links from this process up to pid 1 (or lookup
// failure) and returns the set of pids on the chain. Computed once per scan.
func (s *Scanner) ancestorPIDs() map[int]bool {
	pids := make(map[int]bool)
	pid := s.selfPID
	for pid > 1 {
		if pids[pid] {
			break // cycle guard
		}
		pids[pid] = true
		p, ok := s.lister.Find(pid)
		if !ok {
			break
		}
		pid = p.PPID
	}
	return pids
}

// psLister is the production Lister backed by go-ps.
type psLister struct{}

func (psLister) Processes() ([]Process, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		out = append(out, Process{
			PID:        p.Pid(),
			PPID:       p.PPid(),
			Executable: p.Executable(),
		})
	}
	return out, nil
}

func (psLister) Find(pid int) (Process, bool) {
	p, err := ps.FindProcess(pid)
	if err != nil || p == nil {
		return Process{}, false
	}
	return Process{PID: p.Pid(), PPID: p.PPid(), Executable: p.Executable()}, true
}
