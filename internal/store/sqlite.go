// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides event/session/log persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			agent_id TEXT,
			session_id TEXT,
			timestamp DATETIME NOT NULL,
			message TEXT,
			metadata_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_events_timestamp
			ON events(timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_events_agent
			ON events(agent_id, timestamp);

		CREATE INDEX IF NOT EXISTS idx_events_session
			ON events(session_id, timestamp);

		CREATE INDEX IF NOT EXISTS idx_events_type
			ON events(event_type);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			status TEXT NOT NULL,
			working_directory TEXT,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			pid INTEGER,
			metadata_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status
			ON sessions(status);

		CREATE INDEX IF NOT EXISTS idx_sessions_start
			ON sessions(start_time DESC);

		CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			tool_name TEXT,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_logs_agent
			ON logs(agent_id, timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_logs_timestamp
			ON logs(timestamp DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// StoreEvent persists a single event row.
func (s *SQLiteStore) StoreEvent(ctx context.Context, event *Event) error {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return fmt.Errorf("encoding event metadata: %w", err)
	}

	query := `
		INSERT INTO events (id, event_type, agent_id, session_id, timestamp, message, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.AgentID),
		nullString(event.SessionID),
		event.Timestamp.UTC().Format(time.RFC3339),
		nullString(event.Message),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("stored event", "id", event.ID, "type", event.EventType)
	return nil
}

// RecentEvents returns events matching the filter, newest first.
// A zero-value filter returns the most recent 100 events.
func (s *SQLiteStore) RecentEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, event_type, agent_id, session_id, timestamp, message, metadata_json
		FROM events
		WHERE 1=1
	`
	var args []any
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var agentID, sessionID, message, metadata sql.NullString
		var timestampStr string

		if err := rows.Scan(&ev.ID, &ev.EventType, &agentID, &sessionID, &timestampStr, &message, &metadata); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		ev.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}

		ev.AgentID = agentID.String
		ev.SessionID = sessionID.String
		ev.Message = message.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decoding event metadata: %w", err)
			}
		}

		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}

// UpsertSession inserts or replaces a session row by ID.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *Session) error {
	metadata, err := marshalMetadata(session.Metadata)
	if err != nil {
		return fmt.Errorf("encoding session metadata: %w", err)
	}

	query := `
		INSERT INTO sessions (id, agent_name, status, working_directory, start_time, end_time, pid, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_name = excluded.agent_name,
			status = excluded.status,
			working_directory = excluded.working_directory,
			end_time = excluded.end_time,
			pid = excluded.pid,
			metadata_json = excluded.metadata_json
	`

	var endTime any
	if session.EndTime != nil {
		endTime = session.EndTime.UTC().Format(time.RFC3339)
	}

	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		session.AgentName,
		session.Status,
		nullString(session.WorkingDirectory),
		session.StartTime.UTC().Format(time.RFC3339),
		endTime,
		session.PID,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	s.logger.Debug("upserted session", "id", session.ID, "status", session.Status)
	return nil
}

// UpdateSessionStatus updates the status (and optionally end time) of a session.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status string, endTime *time.Time) error {
	var endVal any
	if endTime != nil {
		endVal = endTime.UTC().Format(time.RFC3339)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, end_time = COALESCE(?, end_time) WHERE id = ?
	`, status, endVal, id)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated session status", "id", id, "status", status)
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_name, status, working_directory, start_time, end_time, pid, metadata_json
		FROM sessions
		WHERE id = ?
	`, id)

	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions ordered by most recent start time.
// If status is empty, all sessions are returned.
func (s *SQLiteStore) ListSessions(ctx context.Context, status string) ([]*Session, error) {
	query := `
		SELECT id, agent_name, status, working_directory, start_time, end_time, pid, metadata_json
		FROM sessions
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY start_time DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var sess Session
	var workingDir, endTimeStr, metadata sql.NullString
	var pid sql.NullInt64
	var startTimeStr string

	if err := scan(&sess.ID, &sess.AgentName, &sess.Status, &workingDir, &startTimeStr, &endTimeStr, &pid, &metadata); err != nil {
		return nil, err
	}

	startTime, err := time.Parse(time.RFC3339, startTimeStr)
	if err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}
	sess.StartTime = startTime

	if endTimeStr.Valid {
		t, err := time.Parse(time.RFC3339, endTimeStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing end_time: %w", err)
		}
		sess.EndTime = &t
	}

	sess.WorkingDirectory = workingDir.String
	sess.PID = int(pid.Int64)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decoding session metadata: %w", err)
		}
	}

	return &sess, nil
}

// StoreLog persists a single activity log line.
func (s *SQLiteStore) StoreLog(ctx context.Context, log *Log) error {
	query := `
		INSERT INTO logs (agent_id, level, message, tool_name, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		log.AgentID,
		log.Level,
		log.Message,
		nullString(log.ToolName),
		log.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		log.ID = id
	}
	return nil
}

// RecentLogs returns the most recent logs for an agent, newest first.
// If agentID is empty, logs for all agents are returned.
func (s *SQLiteStore) RecentLogs(ctx context.Context, agentID string, limit int) ([]*Log, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, agent_id, level, message, tool_name, timestamp
		FROM logs
	`
	var args []any
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		var l Log
		var toolName sql.NullString
		var timestampStr string

		if err := rows.Scan(&l.ID, &l.AgentID, &l.Level, &l.Message, &toolName, &timestampStr); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}

		l.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing log timestamp: %w", err)
		}
		l.ToolName = toolName.String

		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log rows: %w", err)
	}

	return logs, nil
}

// marshalMetadata encodes a metadata map as JSON, returning nil for empty maps
func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// nullString returns nil for empty strings, otherwise the string value
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
