// ABOUTME: Tail-parsing of append-only JSONL session logs into observations.
// ABOUTME: Reads a bounded window from the end of the file; malformed lines are skipped.

package sessionwatch

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swarmdeck/swarmdeck/internal/registry"
)

// tailBytes bounds how far back the parser reads from the end of a session
// log. The files grow without bound over a session's lifetime.
const tailBytes = 8 * 1024

// Age thresholds for inferring status from the last record's timestamp.
// Age always wins over record-type heuristics: a stale "working" record must
// never be reported as working.
const (
	idleThreshold    = 5 * time.Minute
	offlineThreshold = time.Hour
)

// Observation is the ephemeral result of parsing one session log tail. It is
// consumed immediately to enrich a matching agent and discarded otherwise.
type Observation struct {
	SessionID        string
	WorkingDirectory string
	GitBranch        string
	Model            string
	CurrentTool      string
	InferredStatus   registry.Status
	LastActivity     time.Time
	DerivedName      string
}

// record is one JSONL line of a session log. Only the fields the watcher
// cares about are decoded.
type record struct {
	Type      string     `json:"type"`
	SessionID string     `json:"sessionId"`
	CWD       string     `json:"cwd"`
	GitBranch string     `json:"gitBranch"`
	Version   string     `json:"version"`
	Model     string     `json:"model"`
	Slug      string     `json:"slug"`
	Timestamp string     `json:"timestamp"`
	Data      recordData `json:"data"`
}

type recordData struct {
	HookEvent string `json:"hookEvent"`
	Type      string `json:"type"`
	HookName  string `json:"hookName"`
	ToolName  string `json:"tool_name"`
}

func (d recordData) event() string {
	if d.HookEvent != "" {
		return d.HookEvent
	}
	return d.Type
}

// parseSessionFile reads the tail of a JSONL session log and derives an
// observation. Returns false when the file is unreadable, has no well-formed
// records, or yields no session identifier.
func parseSessionFile(path string, now time.Time) (Observation, bool) {
	lines, ok := readTailLines(path)
	if !ok {
		return Observation{}, false
	}

	var records []record
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return Observation{}, false
	}

	// Walk all records for the most recent value of each metadata field.
	var obs Observation
	var slug string
	for _, rec := range records {
		if rec.SessionID != "" {
			obs.SessionID = rec.SessionID
		}
		if rec.CWD != "" {
			obs.WorkingDirectory = rec.CWD
		}
		if rec.GitBranch != "" {
			obs.GitBranch = rec.GitBranch
		}
		if rec.Version != "" {
			if rec.Model != "" {
				obs.Model = rec.Model
			} else {
				obs.Model = rec.Version
			}
		}
		if rec.Slug != "" {
			slug = rec.Slug
		}
	}
	if obs.SessionID == "" {
		return Observation{}, false
	}

	last := records[len(records)-1]
	obs.InferredStatus = deriveStatus(last, now)
	obs.CurrentTool = currentTool(records)

	obs.LastActivity = now
	if ts, ok := parseTimestamp(last.Timestamp); ok {
		obs.LastActivity = ts
	}

	switch {
	case slug != "":
		obs.DerivedName = slug
	case obs.WorkingDirectory != "":
		obs.DerivedName = filepath.Base(strings.TrimRight(obs.WorkingDirectory, "/"))
	default:
		id := obs.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		obs.DerivedName = "session-" + id
	}
	return obs, true
}

// deriveStatus infers an agent status from the last record. Timestamp age is
// checked first; record-type heuristics apply only to recent records.
func deriveStatus(last record, now time.Time) registry.Status {
	if ts, ok := parseTimestamp(last.Timestamp); ok {
		age := now.Sub(ts)
		if age > offlineThreshold {
			return registry.StatusOffline
		}
		if age > idleThreshold {
			return registry.StatusIdle
		}
	}

	switch last.Type {
	case "progress":
		switch last.Data.event() {
		case "PreToolUse", "PostToolUse", "hook_progress":
			return registry.StatusWorking
		}
	case "user":
		return registry.StatusWorking
	case "assistant":
		return registry.StatusIdle
	}
	return registry.StatusIdle
}

// currentTool returns the tool named by the most recent PreToolUse progress
// record, or "" when the latest tool activity already finished.
func currentTool(records []record) string {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Type != "progress" {
			continue
		}
		switch rec.Data.event() {
		case "PreToolUse":
			if rec.Data.HookName != "" {
				return rec.Data.HookName
			}
			return rec.Data.ToolName
		case "PostToolUse":
			return ""
		}
	}
	return ""
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// readTailLines reads the last tailBytes of the file and splits into lines.
// When the window starts mid-file the first, possibly truncated, line is
// discarded.
func readTailLines(path string) ([]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false
	}

	size := info.Size()
	truncated := false
	if size > tailBytes {
		if _, err := f.Seek(-tailBytes, io.SeekEnd); err != nil {
			return nil, false
		}
		truncated = true
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, false
	}
	if truncated {
		if idx := strings.IndexByte(string(raw), '\n'); idx >= 0 {
			raw = raw[idx+1:]
		} else {
			return nil, false
		}
	}
	return strings.Split(string(raw), "\n"), true
}
