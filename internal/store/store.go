// ABOUTME: Store interface and data types for swarmdeck persistence.
// ABOUTME: Events, sessions, and logs; all writes are fire-and-forget from the core's perspective.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Event is one discovery or hook event kept for history queries.
type Event struct {
	ID        string
	EventType string
	AgentID   string
	SessionID string
	Timestamp time.Time
	Message   string
	Metadata  map[string]any
}

// Session is the durable record of one agent session.
type Session struct {
	ID               string
	AgentName        string
	Status           string
	WorkingDirectory string
	StartTime        time.Time
	EndTime          *time.Time
	PID              int
	Metadata         map[string]any
}

// Log is one persisted activity log line.
type Log struct {
	ID        int64
	AgentID   string
	Level     string
	Message   string
	ToolName  string
	Timestamp time.Time
}

// EventFilter narrows RecentEvents queries. Zero values mean "any".
type EventFilter struct {
	EventType string
	AgentID   string
	SessionID string
	Limit     int
}

// Store is the persistence service consumed by the core. Failures are logged
// by callers, never allowed to block registry mutation.
type Store interface {
	StoreEvent(ctx context.Context, event *Event) error
	RecentEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	UpsertSession(ctx context.Context, session *Session) error
	UpdateSessionStatus(ctx context.Context, id, status string, endTime *time.Time) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, status string) ([]*Session, error)

	StoreLog(ctx context.Context, log *Log) error
	RecentLogs(ctx context.Context, agentID string, limit int) ([]*Log, error)

	// Close releases any resources held by the store.
	Close() error
}
