// ABOUTME: HTTP server exposing the registry API, hook intake, and SSE stream.
// ABOUTME: Owns route registration and lifecycle; handlers live in api.go, hook.go, sse.go.

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/swarmdeck/swarmdeck/internal/broadcast"
	"github.com/swarmdeck/swarmdeck/internal/discovery"
	"github.com/swarmdeck/swarmdeck/internal/monitor"
	"github.com/swarmdeck/swarmdeck/internal/registry"
	"github.com/swarmdeck/swarmdeck/internal/store"
)

// Server is the HTTP surface over the agent registry.
type Server struct {
	registry *registry.Registry
	counters *registry.TaskCounters
	scanner  *discovery.Scanner
	sweep    *monitor.Service
	bus      *broadcast.Broadcaster
	db       store.Store
	logger   *slog.Logger

	httpSrv *http.Server

	now func() time.Time
	// schedule defers a callback; tests replace it to run removals inline.
	schedule func(d time.Duration, fn func())
}

// Options carries the collaborators a Server needs. DB may be nil to run
// without persistence.
type Options struct {
	Registry *registry.Registry
	Counters *registry.TaskCounters
	Scanner  *discovery.Scanner
	Sweep    *monitor.Service
	Bus      *broadcast.Broadcaster
	DB       store.Store
	Logger   *slog.Logger
}

// New creates a server. Call Start (or serve Handler yourself) to accept traffic.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: opts.Registry,
		counters: opts.Counters,
		scanner:  opts.Scanner,
		sweep:    opts.Sweep,
		bus:      opts.Bus,
		db:       opts.DB,
		logger:   logger.With("component", "server"),
		now:      time.Now,
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/reset", s.handleReset)

	mux.HandleFunc("/api/hook", s.handleHook)
	mux.HandleFunc("/api/agent", s.handleAgent)
	mux.HandleFunc("/api/task", s.handleTask)
	mux.HandleFunc("/api/log", s.handleLog)
	mux.HandleFunc("/api/agents", s.handleListAgents)
	mux.HandleFunc("/api/events", s.handleEvents)

	return mux
}

// Start begins serving on addr. Returns once the listener is running; serve
// errors other than graceful shutdown are logged.
func (s *Server) Start(addr string) {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// sendJSON writes a JSON response body.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// broadcastAgents pushes the full agent list. Called once per request after
// all mutations so each logical event produces one push.
func (s *Server) broadcastAgents() {
	if s.bus != nil {
		s.bus.Emit(broadcast.TopicAgentUpdate, s.registry.Snapshot())
	}
}

// broadcastCounters pushes the task counter snapshot.
func (s *Server) broadcastCounters() {
	if s.bus != nil {
		s.bus.Emit(broadcast.TopicTaskUpdate, s.counters.Snapshot())
	}
}

// emitLog appends to the agent's log ring (with duplicate suppression),
// broadcasts it, and persists it fire-and-forget.
func (s *Server) emitLog(agentID, level, message, timestamp string) {
	if timestamp == "" {
		timestamp = s.now().UTC().Format(time.RFC3339)
	}
	if s.registry.IsDuplicateLog(agentID, message, level) {
		return
	}

	rec := registry.LogRecord{
		Timestamp: timestamp,
		Level:     level,
		Message:   message,
		AgentID:   agentID,
	}
	s.registry.AppendLog(agentID, rec)
	if s.bus != nil {
		s.bus.Emit(broadcast.TopicLog, rec)
	}
	if s.db != nil {
		ts, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			ts = s.now().UTC()
		}
		if err := s.db.StoreLog(context.Background(), &store.Log{
			AgentID:   agentID,
			Level:     level,
			Message:   message,
			Timestamp: ts,
		}); err != nil {
			s.logger.Warn("persisting log failed", "error", err)
		}
	}
}

func newEventID() string { return uuid.New().String() }

// persistEvent stores one discovery event fire-and-forget.
func (s *Server) persistEvent(eventType, agentID, sessionID, message string, metadata map[string]any) {
	if s.db == nil {
		return
	}
	ev := &store.Event{
		ID:        newEventID(),
		EventType: eventType,
		AgentID:   agentID,
		SessionID: sessionID,
		Timestamp: s.now().UTC(),
		Message:   message,
		Metadata:  metadata,
	}
	if err := s.db.StoreEvent(context.Background(), ev); err != nil {
		s.logger.Warn("persisting event failed", "error", err)
	}
}
