// ABOUTME: Liveness sweep and observation drain for the agent registry.
// ABOUTME: One background loop; restart cancels the previous loop before starting a new one.

package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmdeck/swarmdeck/internal/broadcast"
	"github.com/swarmdeck/swarmdeck/internal/config"
	"github.com/swarmdeck/swarmdeck/internal/discovery"
	"github.com/swarmdeck/swarmdeck/internal/registry"
	"github.com/swarmdeck/swarmdeck/internal/sessionwatch"
	"github.com/swarmdeck/swarmdeck/internal/store"
)

// tickInterval is the cadence for active-duration accrual and agent-list broadcast.
const tickInterval = time.Second

// completedGrace is how long a completed agent stays visible before the sweep
// moves it to offline. Immediate removal would hide the completion from the
// dashboard; indefinite retention would leak memory.
const completedGrace = 30 * time.Second

// Service runs the liveness sweep and applies session observations. It is the
// only writer for filesystem-derived enrichment.
type Service struct {
	registry *registry.Registry
	counters *registry.TaskCounters
	scanner  *discovery.Scanner
	bus      *broadcast.Broadcaster
	db       store.Store
	obs      <-chan sessionwatch.Observation
	logger   *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	now func() time.Time
}

// New creates a sweep service. db and obs may be nil. interval must already be
// validated by config; New falls back to the default when it is zero.
func New(reg *registry.Registry, counters *registry.TaskCounters, scanner *discovery.Scanner, bus *broadcast.Broadcaster, db store.Store, obs <-chan sessionwatch.Observation, interval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Service{
		registry: reg,
		counters: counters,
		scanner:  scanner,
		bus:      bus,
		db:       db,
		obs:      obs,
		interval: interval,
		logger:   logger.With("component", "monitor"),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Interval returns the current cleanup interval.
func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start launches the sweep loop. Calling Start while a loop is running is a
// no-op; use Restart to change cadence.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	interval := s.interval
	s.wg.Add(1)
	go s.run(ctx, interval)
	s.logger.Info("sweep started", "cleanup_interval", interval)
}

// Restart applies a new cleanup interval, cancelling the previous loop before
// starting its replacement. At most one sweep loop runs at a time.
func (s *Service) Restart(interval time.Duration) error {
	if err := config.ValidateCleanupInterval(interval); err != nil {
		return err
	}
	s.stop()
	s.mu.Lock()
	s.interval = interval
	s.startLocked()
	s.mu.Unlock()
	return nil
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Service) Stop() {
	s.stop()
}

func (s *Service) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("sweep stopped")
}

func (s *Service) run(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	observations := s.obs
	var sinceCleanup time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-observations:
			if !ok {
				observations = nil
				continue
			}
			s.Apply(obs)
		case <-ticker.C:
			s.Tick()
			sinceCleanup += tickInterval
			if sinceCleanup >= interval {
				sinceCleanup = 0
				s.Cleanup()
			}
		}
	}
}

// Apply merges one session observation into the registry and broadcasts when
// it changed anything.
func (s *Service) Apply(obs sessionwatch.Observation) {
	if !sessionwatch.Enrich(s.registry, obs) {
		return
	}
	s.logger.Debug("applied session observation", "session_id", obs.SessionID, "status", obs.InferredStatus)
	s.broadcastAgents()
}

// Tick advances activeDurationSeconds for every active agent and broadcasts
// the full agent list.
func (s *Service) Tick() {
	s.registry.AccrueActive(int64(tickInterval / time.Second))
	s.broadcastAgents()
}

// Cleanup re-runs the process scan and the liveness/timeout pass, broadcasting
// task counters when anything changed.
func (s *Service) Cleanup() {
	changed := false
	if s.scanner != nil && s.scanner.Scan() > 0 {
		changed = true
	}
	if s.sweep() {
		changed = true
	}
	if changed {
		s.broadcastAgents()
		if s.bus != nil {
			s.bus.Emit(broadcast.TopicTaskUpdate, s.counters.Snapshot())
		}
	}
}

// sweep applies the timed and pid-liveness transitions. Offline agents are
// terminal and never re-examined; records with no identity are corrupt and
// removed outright.
func (s *Service) sweep() bool {
	s.mu.Lock()
	now := s.now()
	s.mu.Unlock()

	changed := false
	for _, a := range s.registry.Snapshot() {
		if a.ID == "" {
			s.registry.Remove(a.ChannelID)
			s.logger.Warn("removed corrupt agent record", "channel", a.ChannelID)
			changed = true
			continue
		}
		if a.Status == registry.StatusOffline {
			continue
		}

		if a.Status == registry.StatusCompleted {
			if now.Sub(a.StatusChangedAt) > completedGrace {
				s.transitionOffline(a, now)
				changed = true
			}
			continue
		}

		if a.PID != 0 && s.scanner != nil && !s.scanner.Alive(a.PID) {
			s.logger.Info("agent process gone", "agent_id", a.ID, "pid", a.PID)
			s.transitionOffline(a, now)
			changed = true
		}
	}
	return changed
}

// transitionOffline moves one agent to offline, decrementing the counter
// bucket its prior status mapped to without incrementing any other bucket.
func (s *Service) transitionOffline(a registry.Agent, now time.Time) {
	prior := a.Status
	s.registry.UpdateStatus(a.ID, registry.StatusOffline)
	s.counters.Decrement(string(prior))

	if s.db != nil && a.Session != nil {
		end := now
		if err := s.db.UpdateSessionStatus(context.Background(), a.Session.SessionID, string(registry.StatusOffline), &end); err != nil && err != store.ErrNotFound {
			s.logger.Warn("persisting session status failed", "session_id", a.Session.SessionID, "error", err)
		}
	}
}

func (s *Service) broadcastAgents() {
	if s.bus == nil {
		return
	}
	s.bus.Emit(broadcast.TopicAgentUpdate, s.registry.Snapshot())
}
