// Package store provides durable persistence for discovery events, agent
// sessions, and activity logs.
//
// The Store interface decouples the core from the database. The SQLite
// implementation (modernc.org/sqlite, pure Go) creates its schema on first
// open and runs in WAL mode. Writes are issued fire-and-forget by callers:
// a persistence failure is logged and never blocks registry mutation or
// event broadcast.
package store
