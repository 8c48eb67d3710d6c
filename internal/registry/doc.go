// Package registry holds the in-memory map of live agent records and the
// task counters derived from their status transitions.
//
// # Registry
//
// The Registry is a pure state container. Four discovery sources write into
// it through the same mutation API: hook events, REST updates, the process
// scanner, and the session file watcher. Lookups go by identity (FindByID),
// by OS process (FindByPID), or by channel key (Get). Create fills defaults
// but does not insert; callers follow with Upsert so a batch of field edits
// produces exactly one insertion and one broadcast.
//
// Mutations perform no I/O. Broadcasting the updated agent list after a
// batch of mutations is the caller's responsibility, which bounds external
// pushes to one per logical event.
//
// # Invariants
//
//   - Exactly one record per logical session identity: sources must look up
//     before creating.
//   - recentTools never exceeds five entries and never holds two consecutive
//     identical names.
//   - StatusChangedAt moves only when the status value actually changes; the
//     timed completed-to-offline transition in the liveness sweep depends on
//     this.
//
// # TaskCounters
//
// TaskCounters is the pending/inProgress/completed/failed aggregate. Raw
// status strings are normalized through a frozen table (for example both
// "working" and "in_progress" land in inProgress). Decrement saturates at
// zero and unknown names are ignored, so a recount of registry statuses and
// the counters can never diverge into negatives.
package registry
