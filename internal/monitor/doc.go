// Package monitor runs the liveness sweep over the agent registry.
//
// One background loop with two cadences: every second it advances the
// active-duration accumulator for agents in an active status and broadcasts
// the full agent list; every cleanup interval (configurable, 1s to 300s) it
// additionally re-runs the process scanner, ages completed agents out to
// offline after a 30 second grace window, marks agents whose backing process
// has exited as offline, removes corrupt records, and broadcasts task
// counters when anything changed.
//
// Offline is terminal for the sweep: offline agents are never re-examined or
// removed automatically.
//
// The loop also drains session observations from the file watcher, making the
// monitor the single writer for filesystem-derived enrichment. Restarting the
// sweep after a cadence change cancels the previous loop first; at most one
// loop is ever active.
package monitor
