// ABOUTME: Package documentation for the broadcast package
// ABOUTME: Describes the in-process fanout between mutation paths and SSE clients

// Package broadcast provides the in-process event bus between the parts of
// the system that mutate agent state and the clients streaming it.
//
// Emit never blocks the caller: each subscriber has a buffered channel and
// events are dropped, not queued, when a subscriber falls behind. Subscribers
// are scoped to a context and are removed when it is cancelled.
package broadcast
