// Package sessionwatch discovers agent session state from append-only JSONL
// session logs on disk.
//
// # Pipeline
//
// File-change notifications arrive on the fsnotify goroutine and feed a
// debouncer: a single re-armed timer over a pending path set, so a burst of
// notifications for one log line costs one parse. When a burst settles the
// changed files are tail-read (last 8KB, discarding a possibly truncated
// first line), split into JSON records, and reduced to an Observation: the
// most recent session id, working directory, git branch and model, plus a
// status inferred from the final record.
//
// Status inference is age-first: a last record older than an hour means
// offline and older than five minutes means idle, regardless of record type.
// Only recent records fall through to type heuristics (tool-use progress and
// user records mean working, assistant records mean idle).
//
// # Enrichment only
//
// Observations never create agents. Stale files and multiple sessions
// sharing a directory make the filesystem signal too ambiguous for identity,
// so it is trusted only to fill in metadata on agents discovered by the
// process scanner or by hook/REST traffic. Matching is by recorded session
// id first, then by exact working-directory match when the candidate has no
// session metadata yet.
//
// Observations are handed to the monitor loop over a buffered channel; the
// watch goroutine itself never touches the registry after the one-time
// startup reconciliation pass.
package sessionwatch
